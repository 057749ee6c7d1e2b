// Package playback schedules synthesised speech for gap-free output.
//
// Inbound audio chunks arrive faster than real time. The Scheduler keeps a
// running clock position (NextStartTime) and queues every decoded chunk back
// to back on an Output, so consecutive chunks never overlap and never leave a
// gap. An interruption stops everything at once.
//
// A Scheduler is owned by a single goroutine: every method must be called
// from the same dispatch loop, which also drains Ended.
package playback

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/uplink/pkg/audio"
	"github.com/MrWong99/uplink/pkg/provider/live"
)

// ErrDecode wraps every failure to turn an inbound chunk into a Unit.
var ErrDecode = errors.New("playback: decode audio chunk")

// Clock reports the output device's current position.
type Clock interface {
	Now() time.Duration
}

// Handle controls one unit that was handed to an Output.
type Handle interface {
	// Stop halts the unit immediately. Stopping a unit that already finished
	// may return an error; the Scheduler ignores it.
	Stop() error
}

// Output plays units at absolute clock positions.
type Output interface {
	// Play schedules u to start at clock position at.
	Play(u *Unit, at time.Duration) (Handle, error)
}

// EndNotifier is implemented by Outputs that report natural completion.
// The Scheduler registers itself on construction. The callback must be
// invoked at most once per unit and never after a successful Stop.
type EndNotifier interface {
	OnEnded(fn func(id uint64))
}

// Unit is one decoded chunk of synthesised speech.
type Unit struct {
	// ID is unique within a Scheduler.
	ID uint64

	// PCM is mono little-endian int16 audio.
	PCM []byte

	// SampleRate of PCM in Hz.
	SampleRate int

	// Duration is the playback length of PCM.
	Duration time.Duration

	// Start is the clock position the unit was scheduled at.
	Start time.Duration

	handle Handle
}

// Scheduler implements gap-free sequential playback.
type Scheduler struct {
	clock Clock
	out   Output
	log   *slog.Logger

	next   time.Duration
	active map[uint64]*Unit
	seq    uint64
	ended  chan uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for stop-failure reports.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// NewScheduler creates a Scheduler on the given clock and output. When out
// implements EndNotifier the scheduler subscribes to its completions.
func NewScheduler(clock Clock, out Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  clock,
		out:    out,
		log:    slog.Default(),
		active: make(map[uint64]*Unit),
		ended:  make(chan uint64, 256),
	}
	for _, o := range opts {
		o(s)
	}
	if n, ok := out.(EndNotifier); ok {
		n.OnEnded(s.notifyEnded)
	}
	return s
}

// notifyEnded is called by the output on its own goroutine.
func (s *Scheduler) notifyEnded(id uint64) { s.ended <- id }

// Ended delivers the IDs of units that finished naturally. The owner passes
// each one to Complete.
func (s *Scheduler) Ended() <-chan uint64 { return s.ended }

// NextStartTime returns the clock position at which the next unit will start
// if it arrives before the clock passes it.
func (s *Scheduler) NextStartTime() time.Duration { return s.next }

// Active returns the number of units scheduled or playing.
func (s *Scheduler) Active() int { return len(s.active) }

// Decode turns an inbound chunk into an unscheduled Unit. The sample rate is
// taken from the MIME type and defaults to 24 kHz.
func Decode(chunk live.MediaChunk) (*Unit, error) {
	pcm, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	if err := audio.CheckPCM16(pcm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	rate, ok := audio.ParseRate(chunk.MIMEType)
	if !ok {
		rate = audio.PlaybackRate
	}
	return &Unit{
		PCM:        pcm,
		SampleRate: rate,
		Duration:   audio.Duration(len(pcm)/2, rate),
	}, nil
}

// Enqueue decodes chunk and schedules it. Decode failures leave the
// scheduler untouched and wrap ErrDecode.
func (s *Scheduler) Enqueue(chunk live.MediaChunk) (*Unit, error) {
	u, err := Decode(chunk)
	if err != nil {
		return nil, err
	}
	if err := s.Schedule(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Schedule starts u at max(NextStartTime, now) and advances NextStartTime by
// its duration.
func (s *Scheduler) Schedule(u *Unit) error {
	start := max(s.next, s.clock.Now())

	s.seq++
	u.ID = s.seq
	u.Start = start

	h, err := s.out.Play(u, start)
	if err != nil {
		return fmt.Errorf("playback: play unit: %w", err)
	}
	u.handle = h
	s.active[u.ID] = u
	s.next = start + u.Duration
	return nil
}

// Complete removes a finished unit. It reports true when this removal
// emptied the active set. IDs that are no longer active, e.g. because an
// interruption already removed them, are ignored.
func (s *Scheduler) Complete(id uint64) bool {
	if _, ok := s.active[id]; !ok {
		return false
	}
	delete(s.active, id)
	return len(s.active) == 0
}

// Interrupt stops every active unit, clears the active set and resets
// NextStartTime to zero. Individual stop failures do not abort the sweep;
// their number is logged and returned.
func (s *Scheduler) Interrupt() (stopped, failed int) {
	for id, u := range s.active {
		if err := u.handle.Stop(); err != nil {
			failed++
		} else {
			stopped++
		}
		delete(s.active, id)
	}
	s.next = 0
	if failed > 0 {
		s.log.Info("playback: some units could not be stopped", "failed", failed, "stopped", stopped)
	}
	return stopped, failed
}
