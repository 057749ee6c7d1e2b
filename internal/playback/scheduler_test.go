package playback_test

import (
	"bytes"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/uplink/internal/playback"
	"github.com/MrWong99/uplink/pkg/audio"
	"github.com/MrWong99/uplink/pkg/provider/live"
)

// ── Fakes ──────────────────────────────────────────────────────────────────────

type fakeClock struct{ now time.Duration }

func (c *fakeClock) Now() time.Duration { return c.now }

type fakeHandle struct {
	stopErr error
	stopped int
}

func (h *fakeHandle) Stop() error {
	h.stopped++
	return h.stopErr
}

type playCall struct {
	unit *playback.Unit
	at   time.Duration
}

type fakeOutput struct {
	calls   []playCall
	handles []*fakeHandle
	playErr error
	stopErr func(i int) error
}

func (o *fakeOutput) Play(u *playback.Unit, at time.Duration) (playback.Handle, error) {
	if o.playErr != nil {
		return nil, o.playErr
	}
	h := &fakeHandle{}
	if o.stopErr != nil {
		h.stopErr = o.stopErr(len(o.handles))
	}
	o.calls = append(o.calls, playCall{unit: u, at: at})
	o.handles = append(o.handles, h)
	return h, nil
}

// chunkOf returns an inbound chunk holding n silent 24 kHz samples.
func chunkOf(n int) live.MediaChunk {
	return live.MediaChunk{
		MIMEType: live.MIMEAudioOut,
		Data:     base64.StdEncoding.EncodeToString(make([]byte, n*2)),
	}
}

// ── Scheduling ─────────────────────────────────────────────────────────────────

func TestScheduler_BackToBackWithoutGaps(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	out := &fakeOutput{}
	s := playback.NewScheduler(clock, out)

	// 2400 samples at 24 kHz = 100 ms each.
	for range 3 {
		if _, err := s.Enqueue(chunkOf(2400)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond}
	for i, c := range out.calls {
		if c.at != want[i] {
			t.Errorf("unit %d start = %v, want %v", i, c.at, want[i])
		}
		if i > 0 {
			prev := out.calls[i-1]
			if c.at != prev.at+prev.unit.Duration {
				t.Errorf("unit %d overlaps or leaves a gap", i)
			}
		}
	}
	if got := s.NextStartTime(); got != 300*time.Millisecond {
		t.Errorf("NextStartTime = %v, want 300ms", got)
	}
	if s.Active() != 3 {
		t.Errorf("Active = %d, want 3", s.Active())
	}
}

func TestScheduler_DecodeLatencyKeepsUnitsBackToBack(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	out := &fakeOutput{}
	s := playback.NewScheduler(clock, out)

	// Three 1 s units, each arriving 100 ms after the previous one was
	// decoded, while the first is still playing.
	for range 3 {
		clock.now += 100 * time.Millisecond
		if _, err := s.Enqueue(chunkOf(audio.PlaybackRate)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	if len(out.calls) != 3 {
		t.Fatalf("play calls = %d, want 3", len(out.calls))
	}
	origin := out.calls[0].at
	if origin != 100*time.Millisecond {
		t.Errorf("first start = %v, want 100ms (arrival time)", origin)
	}
	for i, c := range out.calls {
		if c.unit.Duration != time.Second {
			t.Errorf("unit %d duration = %v, want 1s", i, c.unit.Duration)
		}
		if rel := c.at - origin; rel != time.Duration(i)*time.Second {
			t.Errorf("unit %d starts at +%v, want +%v", i, rel, time.Duration(i)*time.Second)
		}
	}
	if span := s.NextStartTime() - origin; span != 3*time.Second {
		t.Errorf("playback span = %v, want exactly 3s", span)
	}
}

func TestScheduler_StartsNowWhenClockAhead(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	out := &fakeOutput{}
	s := playback.NewScheduler(clock, out)

	if _, err := s.Enqueue(chunkOf(2400)); err != nil {
		t.Fatal(err)
	}
	// The clock moved well past the end of the first unit.
	clock.now = 5 * time.Second
	u, err := s.Enqueue(chunkOf(2400))
	if err != nil {
		t.Fatal(err)
	}
	if u.Start != 5*time.Second {
		t.Errorf("start = %v, want 5s", u.Start)
	}
	if got := s.NextStartTime(); got != 5*time.Second+100*time.Millisecond {
		t.Errorf("NextStartTime = %v", got)
	}
}

func TestScheduler_NextStartTimeNonDecreasing(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	s := playback.NewScheduler(clock, &fakeOutput{})
	prev := s.NextStartTime()
	for i := range 20 {
		clock.now = time.Duration(i*37) * time.Millisecond
		if _, err := s.Enqueue(chunkOf(240 * (i + 1))); err != nil {
			t.Fatal(err)
		}
		if next := s.NextStartTime(); next < prev {
			t.Fatalf("NextStartTime decreased from %v to %v", prev, next)
		}
		prev = s.NextStartTime()
	}
}

func TestScheduler_SampleRateFromMime(t *testing.T) {
	t.Parallel()

	s := playback.NewScheduler(&fakeClock{}, &fakeOutput{})
	chunk := live.MediaChunk{
		MIMEType: "audio/pcm;rate=16000",
		Data:     base64.StdEncoding.EncodeToString(make([]byte, 3200)),
	}
	u, err := s.Enqueue(chunk)
	if err != nil {
		t.Fatal(err)
	}
	if u.SampleRate != 16000 || u.Duration != 100*time.Millisecond {
		t.Errorf("unit = %d Hz / %v; want 16000 Hz / 100ms", u.SampleRate, u.Duration)
	}
}

// ── Decode failures ────────────────────────────────────────────────────────────

func TestScheduler_DecodeFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		chunk live.MediaChunk
	}{
		{name: "bad base64", chunk: live.MediaChunk{MIMEType: live.MIMEAudioOut, Data: "!!!not base64"}},
		{name: "empty payload", chunk: live.MediaChunk{MIMEType: live.MIMEAudioOut, Data: ""}},
		{name: "odd byte count", chunk: live.MediaChunk{MIMEType: live.MIMEAudioOut, Data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3})}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := &fakeOutput{}
			s := playback.NewScheduler(&fakeClock{}, out)
			if _, err := s.Enqueue(chunkOf(2400)); err != nil {
				t.Fatal(err)
			}
			before := s.NextStartTime()

			_, err := s.Enqueue(tc.chunk)
			if !errors.Is(err, playback.ErrDecode) {
				t.Fatalf("err = %v, want ErrDecode", err)
			}
			if s.NextStartTime() != before || s.Active() != 1 || len(out.calls) != 1 {
				t.Error("decode failure must not change scheduler state")
			}
		})
	}
}

func TestScheduler_PlayErrorNotScheduled(t *testing.T) {
	t.Parallel()

	s := playback.NewScheduler(&fakeClock{}, &fakeOutput{playErr: errors.New("device gone")})
	if _, err := s.Enqueue(chunkOf(10)); err == nil {
		t.Fatal("expected error")
	}
	if s.Active() != 0 || s.NextStartTime() != 0 {
		t.Error("failed play must not be tracked")
	}
}

// ── Completion ─────────────────────────────────────────────────────────────────

func TestScheduler_CompleteExactlyOnce(t *testing.T) {
	t.Parallel()

	s := playback.NewScheduler(&fakeClock{}, &fakeOutput{})
	a, _ := s.Enqueue(chunkOf(100))
	b, _ := s.Enqueue(chunkOf(100))

	if drained := s.Complete(a.ID); drained {
		t.Error("set should not be empty after first completion")
	}
	if drained := s.Complete(a.ID); drained {
		t.Error("second completion of the same unit must be a no-op")
	}
	if drained := s.Complete(b.ID); !drained {
		t.Error("set should be empty after last completion")
	}
	if s.Active() != 0 {
		t.Errorf("Active = %d, want 0", s.Active())
	}
}

// ── Interruption ───────────────────────────────────────────────────────────────

func TestScheduler_InterruptStopsAllAndResets(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{}
	s := playback.NewScheduler(&fakeClock{}, out)
	var ids []uint64
	for range 4 {
		u, err := s.Enqueue(chunkOf(2400))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, u.ID)
	}

	stopped, failed := s.Interrupt()
	if stopped != 4 || failed != 0 {
		t.Errorf("Interrupt = (%d, %d), want (4, 0)", stopped, failed)
	}
	for i, h := range out.handles {
		if h.stopped != 1 {
			t.Errorf("handle %d stopped %d times, want 1", i, h.stopped)
		}
	}
	if s.Active() != 0 {
		t.Errorf("Active = %d, want 0", s.Active())
	}
	if s.NextStartTime() != 0 {
		t.Errorf("NextStartTime = %v, want 0", s.NextStartTime())
	}
	// Late completion notifications for interrupted units are ignored.
	for _, id := range ids {
		if s.Complete(id) {
			t.Errorf("Complete(%d) after interrupt reported drained", id)
		}
	}
}

func TestScheduler_InterruptSwallowsStopFailures(t *testing.T) {
	t.Parallel()

	out := &fakeOutput{stopErr: func(i int) error {
		if i%2 == 0 {
			return playback.ErrFinished
		}
		return nil
	}}
	s := playback.NewScheduler(&fakeClock{}, out)
	for range 5 {
		if _, err := s.Enqueue(chunkOf(10)); err != nil {
			t.Fatal(err)
		}
	}

	stopped, failed := s.Interrupt()
	if stopped != 2 || failed != 3 {
		t.Errorf("Interrupt = (%d, %d), want (2, 3)", stopped, failed)
	}
	if s.Active() != 0 || s.NextStartTime() != 0 {
		t.Error("interrupt must clear state despite stop failures")
	}
}

func TestScheduler_InterruptThenScheduleStartsAtNow(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: 2 * time.Second}
	s := playback.NewScheduler(clock, &fakeOutput{})
	for range 3 {
		_, _ = s.Enqueue(chunkOf(24000))
	}
	s.Interrupt()
	u, err := s.Enqueue(chunkOf(2400))
	if err != nil {
		t.Fatal(err)
	}
	if u.Start != 2*time.Second {
		t.Errorf("start after interrupt = %v, want clock now (2s)", u.Start)
	}
}

// ── Device ─────────────────────────────────────────────────────────────────────

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestDevice_PlaysAndReportsEnd(t *testing.T) {
	t.Parallel()

	w := &syncBuffer{}
	dev := playback.NewDevice(w, audio.Format{SampleRate: 24000, Channels: 1})
	s := playback.NewScheduler(dev, dev)

	// 240 samples = 10 ms.
	u, err := s.Enqueue(chunkOf(240))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case id := <-s.Ended():
		if id != u.ID {
			t.Errorf("ended id = %d, want %d", id, u.ID)
		}
		if !s.Complete(id) {
			t.Error("set should be empty")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for end notification")
	}
	if got := w.Len(); got != 480 {
		t.Errorf("written bytes = %d, want 480", got)
	}
}

func TestDevice_ConvertsToStereo(t *testing.T) {
	t.Parallel()

	w := &syncBuffer{}
	dev := playback.NewDevice(w, audio.Format{SampleRate: 24000, Channels: 2})
	s := playback.NewScheduler(dev, dev)
	if _, err := s.Enqueue(chunkOf(240)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-s.Ended():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
	if got := w.Len(); got != 960 {
		t.Errorf("written bytes = %d, want 960", got)
	}
}

func TestDevice_StopPreventsPlaybackAndEnd(t *testing.T) {
	t.Parallel()

	w := &syncBuffer{}
	dev := playback.NewDevice(w, audio.Format{SampleRate: 24000, Channels: 1})
	ended := make(chan uint64, 1)
	dev.OnEnded(func(id uint64) { ended <- id })

	// Start one second in the future so Stop always wins.
	u := &playback.Unit{ID: 1, PCM: make([]byte, 480), SampleRate: 24000, Duration: 10 * time.Millisecond}
	h, err := dev.Play(u, dev.Now()+time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.Stop(); !errors.Is(err, playback.ErrFinished) {
		t.Errorf("second Stop = %v, want ErrFinished", err)
	}

	select {
	case id := <-ended:
		t.Errorf("unexpected end notification for %d", id)
	case <-time.After(1200 * time.Millisecond):
	}
	if w.Len() != 0 {
		t.Errorf("stopped unit wrote %d bytes", w.Len())
	}
}

func TestDevice_StopAfterEndReturnsErrFinished(t *testing.T) {
	t.Parallel()

	dev := playback.NewDevice(&syncBuffer{}, audio.Format{})
	ended := make(chan uint64, 1)
	dev.OnEnded(func(id uint64) { ended <- id })

	h, err := dev.Play(&playback.Unit{ID: 7, PCM: make([]byte, 2), SampleRate: 24000, Duration: time.Millisecond}, 0)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case id := <-ended:
		if id != 7 {
			t.Errorf("id = %d, want 7", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
	if err := h.Stop(); !errors.Is(err, playback.ErrFinished) {
		t.Errorf("Stop after end = %v, want ErrFinished", err)
	}
}
