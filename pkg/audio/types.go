// Package audio holds the PCM primitives shared by capture and playback:
// frame types, float-to-int16 conversion, little-endian packing, sample-rate
// parsing and simple format conversion.
package audio

import "time"

// Wire constants of the realtime voice pipeline.
const (
	// CaptureRate is the sample rate of outbound microphone audio.
	CaptureRate = 16000

	// PlaybackRate is the sample rate of synthesised speech from the model.
	PlaybackRate = 24000

	// FrameSamples is the number of samples per captured AudioFrame.
	FrameSamples = 4096
)

// AudioFrame is one block of 16-bit signed little-endian PCM. Captured frames
// are produced by the capture framer, handed to the encoder immediately and
// never retained afterwards.
type AudioFrame struct {
	// Data is little-endian int16 PCM, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Channels is 1 for every frame on the wire.
	Channels int

	// Timestamp is the frame's offset from the start of the stream.
	Timestamp time.Duration
}

// Samples returns the number of samples per channel in the frame.
func (f AudioFrame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.Data) / 2 / ch
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	return Duration(f.Samples(), f.SampleRate)
}
