package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrOddLength is returned when a PCM16 buffer has an odd byte count.
var ErrOddLength = errors.New("audio: odd byte count in PCM16 data")

// FloatToPCM16 converts normalised float samples to little-endian int16 PCM.
//
// Each sample is scaled by 32768 and truncated toward zero. Values outside
// [-1, 1) are not clamped: they wrap around the int16 range exactly like a
// typed-array store would, so a full-scale +1.0 becomes -32768.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, f := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(int32(f*32768))))
	}
	return out
}

// PCM16ToFloat converts little-endian int16 PCM to float samples in [-1, 1).
// A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// Float32LEToFloat decodes little-endian IEEE-754 float32 samples. A trailing
// partial sample is ignored.
func Float32LEToFloat(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

// CheckPCM16 validates that pcm is a non-empty, even-length PCM16 buffer.
func CheckPCM16(pcm []byte) error {
	if len(pcm) == 0 {
		return errors.New("audio: empty PCM16 data")
	}
	if len(pcm)%2 != 0 {
		return ErrOddLength
	}
	return nil
}

// Duration returns the playback time of n samples at rate Hz. A
// non-positive rate yields zero.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// ParseRate extracts the rate parameter from a MIME type such as
// "audio/pcm;rate=24000". It reports false when no valid rate is present.
func ParseRate(mime string) (int, bool) {
	_, params, _ := strings.Cut(mime, ";")
	for p := range strings.SplitSeq(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return 0, false
		}
		return rate, true
	}
	return 0, false
}

// PCMMime returns the MIME type of mono PCM16 audio at rate Hz.
func PCMMime(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}
