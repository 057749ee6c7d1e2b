// Package capture turns microphone samples into realtime audio chunks.
//
// A Source yields normalised float samples. The Pipeline frames them into
// fixed 4096-sample blocks at 16 kHz, converts each block to little-endian
// PCM16, base64-encodes it and submits it to an Outbox, which forwards it to
// the remote session once one is attached.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/MrWong99/uplink/pkg/audio"
)

// ErrNotOpen is returned by ChannelSource.Push before Open or after Close.
var ErrNotOpen = errors.New("capture: source not open")

// Source is a microphone-like producer of mono float samples in [-1, 1).
type Source interface {
	// Open acquires the device and starts producing sample blocks. Failures
	// here are device-acquisition failures. The channel is closed when the
	// device stops or ctx ends.
	Open(ctx context.Context) (<-chan []float32, error)

	// SampleRate returns the rate of the produced samples in Hz.
	SampleRate() int

	// Close releases the device. It is safe to call multiple times.
	Close() error
}

// SampleFormat names the raw encoding read by a ReaderSource.
type SampleFormat string

const (
	// F32LE is little-endian IEEE-754 float32.
	F32LE SampleFormat = "f32le"
	// S16LE is little-endian signed 16-bit.
	S16LE SampleFormat = "s16le"
)

// IsValid reports whether f is a known format.
func (f SampleFormat) IsValid() bool { return f == F32LE || f == S16LE }

func (f SampleFormat) width() int {
	if f == S16LE {
		return 2
	}
	return 4
}

// ErrInputEnded is returned by ReaderSource.Open once its stream has hit
// end of file or a read error.
var ErrInputEnded = errors.New("capture: input stream ended")

// readerBuffer is the per-stream block buffer of a ReaderSource, about 8 s
// of 16 kHz audio.
const readerBuffer = 32

// ReaderSource reads raw mono samples from a stream such as stdin, a FIFO
// fed by arecord/ffmpeg, or a file.
//
// A file source reopens its path on every Open. A stream source reads its
// reader from a single goroutine for its whole life: Open attaches a
// consumer, Close detaches it, and the reader itself is never closed, so a
// later Open keeps reading where the stream is. Blocks read while nobody is
// attached, or while the consumer lags, are dropped like a live microphone.
type ReaderSource struct {
	path   string    // file mode
	stream io.Reader // stream mode
	format SampleFormat
	rate   int

	mu      sync.Mutex
	rc      io.ReadCloser  // open file in file mode
	sub     chan []float32 // attached consumer in stream mode
	pumping bool
	ended   error
	dropped uint64
}

var _ Source = (*ReaderSource)(nil)

// NewReaderSource reads from r. r is shared across sessions and never
// closed by the source.
func NewReaderSource(r io.Reader, format SampleFormat, rate int) *ReaderSource {
	return &ReaderSource{stream: r, format: format, rate: rate}
}

// NewFileSource opens path on every Open. The path "-" selects stdin.
func NewFileSource(path string, format SampleFormat, rate int) *ReaderSource {
	if path == "-" {
		return NewReaderSource(os.Stdin, format, rate)
	}
	return &ReaderSource{path: path, format: format, rate: rate}
}

// SampleRate returns the configured input rate.
func (s *ReaderSource) SampleRate() int { return s.rate }

// Dropped returns how many stream blocks found no consumer.
func (s *ReaderSource) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Open starts producing blocks of FrameSamples samples.
func (s *ReaderSource) Open(ctx context.Context) (<-chan []float32, error) {
	if !s.format.IsValid() {
		return nil, fmt.Errorf("capture: unsupported sample format %q", s.format)
	}
	if s.stream == nil {
		return s.openFile(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended != nil {
		return nil, fmt.Errorf("%w: %w", ErrInputEnded, s.ended)
	}
	if s.sub != nil {
		close(s.sub)
	}
	ch := make(chan []float32, readerBuffer)
	s.sub = ch
	context.AfterFunc(ctx, func() { s.detach(ch) })
	if !s.pumping {
		s.pumping = true
		go s.pump()
	}
	return ch, nil
}

func (s *ReaderSource) openFile(ctx context.Context) (<-chan []float32, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("capture: open input: %w", err)
	}
	s.mu.Lock()
	prev := s.rc
	s.rc = f
	s.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	ch := make(chan []float32, 8)
	go func() {
		defer close(ch)
		s.readBlocks(f, func(block []float32) bool {
			select {
			case ch <- block:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return ch, nil
}

// readBlocks reads r until an error or until emit reports false.
func (s *ReaderSource) readBlocks(r io.Reader, emit func([]float32) bool) error {
	buf := make([]byte, audio.FrameSamples*s.format.width())
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 && !emit(s.decode(buf[:n])) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// pump owns the stream reader for the life of the source.
func (s *ReaderSource) pump() {
	err := s.readBlocks(s.stream, func(block []float32) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.sub == nil {
			s.dropped++
			return true
		}
		select {
		case s.sub <- block:
		default:
			s.dropped++
		}
		return true
	})
	if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = err
	if s.sub != nil {
		close(s.sub)
		s.sub = nil
	}
}

// detach ends ch if it is still the attached consumer.
func (s *ReaderSource) detach(ch chan []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == ch {
		close(s.sub)
		s.sub = nil
	}
}

func (s *ReaderSource) decode(raw []byte) []float32 {
	if s.format == S16LE {
		return audio.PCM16ToFloat(raw)
	}
	return audio.Float32LEToFloat(raw)
}

// Close releases the input. A file is closed, which also ends its reader
// goroutine; a stream is only detached.
func (s *ReaderSource) Close() error {
	s.mu.Lock()
	rc := s.rc
	s.rc = nil
	if s.sub != nil {
		close(s.sub)
		s.sub = nil
	}
	s.mu.Unlock()
	if rc == nil {
		return nil
	}
	return rc.Close()
}

// ChannelSource is fed programmatically, e.g. by a WebSocket microphone
// endpoint. Each Open starts a fresh stream.
type ChannelSource struct {
	rate   int
	buffer int

	mu sync.Mutex
	ch chan []float32
}

var _ Source = (*ChannelSource)(nil)

// NewChannelSource creates a source with the given rate and block buffer.
func NewChannelSource(rate, buffer int) *ChannelSource {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChannelSource{rate: rate, buffer: buffer}
}

// SampleRate returns the configured rate.
func (s *ChannelSource) SampleRate() int { return s.rate }

// Open starts a new stream. A stream that is still open is closed first.
func (s *ChannelSource) Open(_ context.Context) (<-chan []float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
	}
	s.ch = make(chan []float32, s.buffer)
	return s.ch, nil
}

// Push delivers one block. It never blocks: when the buffer is full the
// block is rejected.
func (s *ChannelSource) Push(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return ErrNotOpen
	}
	select {
	case s.ch <- samples:
		return nil
	default:
		return errors.New("capture: input buffer full")
	}
}

// Close ends the current stream.
func (s *ChannelSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
	return nil
}
