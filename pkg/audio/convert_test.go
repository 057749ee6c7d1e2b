package audio_test

import (
	"encoding/binary"
	"slices"
	"testing"

	"github.com/MrWong99/uplink/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, -200, 300})))
	want := []int16{100, 100, -200, -200, 300, 300}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   []int16
		want []int16
	}{
		{name: "average", in: []int16{100, 200, -100, -200}, want: []int16{150, -150}},
		{name: "full scale does not overflow", in: []int16{32767, 32767}, want: []int16{32767}},
		{name: "partial frame dropped", in: []int16{10, 20, 30}, want: []int16{15}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.StereoToMono(samplesToBytes(tc.in)))
			if !slices.Equal(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{0, 100, 200, 300, 400, 500})

	t.Run("same rate is identity", func(t *testing.T) {
		if out := audio.ResampleMono16(pcm, 24000, 24000); len(out) != len(pcm) {
			t.Errorf("len = %d, want %d", len(out), len(pcm))
		}
	})
	t.Run("invalid rate is identity", func(t *testing.T) {
		if out := audio.ResampleMono16(pcm, 0, 16000); len(out) != len(pcm) {
			t.Errorf("len = %d, want %d", len(out), len(pcm))
		}
	})
	t.Run("upsample doubles length and interpolates", func(t *testing.T) {
		got := bytesToSamples(audio.ResampleMono16(pcm, 24000, 48000))
		if len(got) != 12 {
			t.Fatalf("len = %d, want 12", len(got))
		}
		if got[1] != 50 {
			t.Errorf("interpolated sample = %d, want 50", got[1])
		}
	})
	t.Run("downsample 24k to 16k", func(t *testing.T) {
		got := bytesToSamples(audio.ResampleMono16(pcm, 24000, 16000))
		if len(got) != 4 {
			t.Fatalf("len = %d, want 4", len(got))
		}
	})
}

func TestConverter(t *testing.T) {
	t.Parallel()

	t.Run("matching format is returned unchanged", func(t *testing.T) {
		c := &audio.Converter{Target: audio.Format{SampleRate: 24000, Channels: 1}}
		in := audio.AudioFrame{Data: samplesToBytes([]int16{1, 2}), SampleRate: 24000, Channels: 1}
		out := c.Convert(in)
		if &out.Data[0] != &in.Data[0] {
			t.Error("expected the same backing array")
		}
	})
	t.Run("mono 24k to stereo 48k", func(t *testing.T) {
		c := &audio.Converter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
		in := audio.AudioFrame{Data: samplesToBytes([]int16{100, 100, 100}), SampleRate: 24000, Channels: 1}
		out := c.Convert(in)
		if out.SampleRate != 48000 || out.Channels != 2 {
			t.Fatalf("format = %d/%d", out.SampleRate, out.Channels)
		}
		if got := out.Samples(); got != 6 {
			t.Errorf("samples per channel = %d, want 6", got)
		}
	})
	t.Run("odd byte count dropped", func(t *testing.T) {
		c := &audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
		out := c.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
		if out.Data != nil {
			t.Errorf("Data = %v, want nil", out.Data)
		}
	})
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	if got := (audio.Format{SampleRate: 24000, Channels: 1}).String(); got != "24000Hz mono" {
		t.Errorf("got %q", got)
	}
	if got := (audio.Format{SampleRate: 48000, Channels: 2}).String(); got != "48000Hz stereo" {
		t.Errorf("got %q", got)
	}
}
