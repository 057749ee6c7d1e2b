package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/uplink/pkg/provider/live"
)

// DefaultInterval is the sampling period.
const DefaultInterval = 2 * time.Second

var (
	// ErrNotReady is returned by Sample when the source has no frame yet.
	ErrNotReady = errors.New("vision: no frame available")

	// ErrRunning is returned by Start on a running sampler.
	ErrRunning = errors.New("vision: sampler already running")
)

// Sink accepts encoded frames without blocking.
type Sink interface {
	Submit(chunk live.MediaChunk)
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithInterval sets the sampling period.
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithEncoder sets the output geometry and quality.
func WithEncoder(e Encoder) Option {
	return func(s *Sampler) { s.enc = e }
}

// WithSampleHook is called after every cycle with its outcome: nil on
// success, ErrNotReady on a skipped cycle, or the failure.
func WithSampleHook(fn func(err error)) Option {
	return func(s *Sampler) { s.onSample = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) { s.log = l }
}

// Sampler periodically grabs a frame from a FrameSource, encodes it and
// submits it to a Sink.
type Sampler struct {
	src      FrameSource
	sink     Sink
	enc      Encoder
	interval time.Duration
	onSample func(error)
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSampler creates a stopped Sampler.
func NewSampler(src FrameSource, sink Sink, opts ...Option) *Sampler {
	s := &Sampler{
		src:      src,
		sink:     sink,
		enc:      DefaultEncoder(),
		interval: DefaultInterval,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Interval returns the sampling period.
func (s *Sampler) Interval() time.Duration { return s.interval }

// Sample runs one cycle synchronously.
func (s *Sampler) Sample() error {
	img, err := s.src.Frame()
	if err != nil {
		return fmt.Errorf("vision: grab frame: %w", err)
	}
	if img == nil || img.Bounds().Dx() == 0 {
		return ErrNotReady
	}
	chunk, err := s.enc.Chunk(img)
	if err != nil {
		return err
	}
	s.sink.Submit(chunk)
	return nil
}

// Start begins sampling every interval until Stop or ctx cancellation.
func (s *Sampler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

func (s *Sampler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.Sample()
			if err != nil && !errors.Is(err, ErrNotReady) {
				s.log.Warn("vision: sample failed", "err", err)
			}
			if s.onSample != nil {
				s.onSample(err)
			}
		}
	}
}

// Running reports whether the sampler is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Stop cancels the interval, waits for an in-flight cycle and releases the
// source. Stopping a stopped sampler is a no-op.
func (s *Sampler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return s.src.Close()
}
