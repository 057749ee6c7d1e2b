package playback

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/uplink/pkg/audio"
)

// ErrFinished is returned by Stop for a unit that already ended or was
// already stopped.
var ErrFinished = errors.New("playback: unit already finished")

var (
	_ Clock       = (*Device)(nil)
	_ Output      = (*Device)(nil)
	_ EndNotifier = (*Device)(nil)
)

// Device is a software output device. Its clock starts at zero on creation.
// At each unit's start time the unit's PCM is converted to the device format
// and written to the underlying writer, e.g. stdout piped into aplay; the
// unit ends once its duration has elapsed.
type Device struct {
	w     io.Writer
	conv  *audio.Converter
	epoch time.Time

	writeMu sync.Mutex

	mu      sync.Mutex
	onEnded func(id uint64)
}

// NewDevice creates a Device writing s16le PCM in format to w.
func NewDevice(w io.Writer, format audio.Format) *Device {
	if format.Channels <= 0 {
		format.Channels = 1
	}
	if format.SampleRate <= 0 {
		format.SampleRate = audio.PlaybackRate
	}
	return &Device{
		w:     w,
		conv:  &audio.Converter{Target: format},
		epoch: time.Now(),
	}
}

// Now returns the time elapsed since the device was created.
func (d *Device) Now() time.Duration { return time.Since(d.epoch) }

// OnEnded registers the completion callback.
func (d *Device) OnEnded(fn func(id uint64)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onEnded = fn
}

func (d *Device) ended(id uint64) {
	d.mu.Lock()
	fn := d.onEnded
	d.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

// Play arms timers for the start and the end of u.
func (d *Device) Play(u *Unit, at time.Duration) (Handle, error) {
	delay := max(at-d.Now(), 0)
	frame := audio.AudioFrame{Data: u.PCM, SampleRate: u.SampleRate, Channels: 1}

	h := &deviceHandle{}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.start = time.AfterFunc(delay, func() {
		if !h.begin() {
			return
		}
		out := d.conv.Convert(frame)
		d.writeMu.Lock()
		_, err := d.w.Write(out.Data)
		d.writeMu.Unlock()
		if err != nil {
			slog.Warn("playback: device write failed", "unit", u.ID, "err", err)
		}
	})
	h.end = time.AfterFunc(delay+u.Duration, func() {
		if h.finish() {
			d.ended(u.ID)
		}
	})
	return h, nil
}

type handleState int

const (
	pending handleState = iota
	playing
	done
	stopped
)

type deviceHandle struct {
	mu    sync.Mutex
	state handleState
	start *time.Timer
	end   *time.Timer
}

func (h *deviceHandle) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != pending {
		return false
	}
	h.state = playing
	return true
}

func (h *deviceHandle) finish() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == stopped || h.state == done {
		return false
	}
	h.state = done
	return true
}

// Stop cancels both timers. The end callback never fires after a successful
// Stop.
func (h *deviceHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == done || h.state == stopped {
		return ErrFinished
	}
	h.state = stopped
	h.start.Stop()
	h.end.Stop()
	return nil
}
