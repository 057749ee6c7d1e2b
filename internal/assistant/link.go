package assistant

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/uplink/internal/capture"
	"github.com/MrWong99/uplink/internal/playback"
	"github.com/MrWong99/uplink/internal/status"
	"github.com/MrWong99/uplink/pkg/provider/live"
)

// link is one connection attempt: microphone, outbound queue and, once the
// handshake succeeded, the live session.
type link struct {
	ctx    context.Context
	cancel context.CancelFunc

	mic      capture.Source
	outbox   *capture.Outbox
	pipeline *capture.Pipeline
	frames   chan []float32
	session  live.Session // guarded by Assistant.mu until dispatch starts

	// wg tracks capture, outbox and tool goroutines.
	wg   sync.WaitGroup
	once sync.Once
	// done is closed when the link is finished and no dispatch goroutine
	// is running.
	done chan struct{}
}

func (a *Assistant) newLink(mic capture.Source) *link {
	ctx, cancel := context.WithCancel(a.base)
	opts := []capture.OutboxOption{capture.WithOutboxLogger(a.log)}
	if m := a.metrics; m != nil {
		opts = append(opts,
			capture.WithDropHook(func(c live.MediaChunk) { m.RecordDropped(ctx, capture.Kind(c)) }),
			capture.WithSendHook(func(c live.MediaChunk, err error) { m.RecordOutbound(ctx, capture.Kind(c), err) }),
		)
	}
	ob := capture.NewOutbox(a.cfg.queueCapacity(), opts...)
	return &link{
		ctx:      ctx,
		cancel:   cancel,
		mic:      mic,
		outbox:   ob,
		pipeline: capture.NewPipeline(ob, mic.SampleRate()),
		frames:   make(chan []float32, frameBuffer),
		done:     make(chan struct{}),
	}
}

func (l *link) finished() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// capture is the single producer of the link's pipeline. It merges the
// microphone channel with frames pushed through SubmitFrame.
func (l *link) capture(mic <-chan []float32) {
	for {
		select {
		case <-l.ctx.Done():
			return
		case block, ok := <-mic:
			if !ok {
				mic = nil
				continue
			}
			l.pipeline.Write(block)
		case block := <-l.frames:
			l.pipeline.Write(block)
		}
	}
}

// teardown releases everything the link holds. It is idempotent.
func (a *Assistant) teardown(l *link) {
	l.once.Do(func() {
		l.cancel()
		a.stopSampler()
		if err := l.mic.Close(); err != nil {
			a.log.Debug("assistant: close microphone", "err", err)
		}
		l.outbox.Close()

		a.mu.Lock()
		sess := l.session
		a.mu.Unlock()
		if sess != nil {
			if err := sess.Close(); err != nil {
				a.log.Debug("assistant: close session", "err", err)
			}
			if a.metrics != nil {
				a.metrics.ActiveSessions.Add(context.Background(), -1)
			}
		}
		l.wg.Wait()
		a.log.Info("assistant: link closed",
			"frames", l.pipeline.Frames(),
			"sent", l.outbox.Sent(),
			"dropped", l.outbox.Dropped())
	})
}

// dispatch is the link's event loop. It exits when the session ends or the
// link is cancelled by Close.
func (a *Assistant) dispatch(l *link) {
	defer close(l.done)
	events := l.session.Events()

	for {
		select {
		case <-l.ctx.Done():
			return

		case <-a.barge:
			a.interruptPlayback(l.ctx, "local")
			a.fire(status.Interrupted)

		case id := <-a.sched.Ended():
			if a.sched.Complete(id) {
				a.fire(status.Drained)
			}

		case ev, ok := <-events:
			if !ok {
				a.finish(l, status.Closed, nil)
				return
			}
			if a.metrics != nil {
				a.metrics.RecordSessionEvent(l.ctx, ev.Kind.String())
			}
			if !a.handle(l, ev) {
				return
			}
		}
	}
}

// handle processes one event and reports whether the loop should continue.
func (a *Assistant) handle(l *link, ev live.Event) bool {
	switch ev.Kind {
	case live.EventAudio:
		if _, err := a.sched.Enqueue(ev.Audio); err != nil {
			if errors.Is(err, playback.ErrDecode) && a.metrics != nil {
				a.metrics.RecordDecodeFailure(l.ctx)
			}
			a.log.Warn("assistant: dropping audio chunk", "mime", ev.Audio.MIMEType, "err", err)
			return true
		}
		a.fire(status.Audio)

	case live.EventInterrupted:
		a.interruptPlayback(l.ctx, "remote")
		a.fire(status.Interrupted)

	case live.EventToolCall:
		for _, call := range ev.ToolCalls {
			l.wg.Go(func() { a.runTool(l, call) })
		}

	case live.EventTranscript:
		a.log.Debug("assistant: transcript", "role", ev.Role, "text", ev.Text)
		if a.onTranscript != nil {
			a.onTranscript(ev.Role, ev.Text)
		}

	case live.EventTurnComplete:
		a.log.Debug("assistant: turn complete", "active_units", a.sched.Active())

	case live.EventError:
		a.log.Error("assistant: session failed", "provider", a.provider.Name(), "err", ev.Err)
		if a.metrics != nil {
			a.metrics.RecordProviderError(l.ctx, a.provider.Name(), "transport")
		}
		a.finish(l, status.Failed, ev.Err)
		return false

	case live.EventClosed:
		a.finish(l, status.Closed, nil)
		return false
	}
	return true
}

// finish ends the link from inside the dispatch loop.
func (a *Assistant) finish(l *link, ev status.Event, cause error) {
	a.interruptPlayback(l.ctx, "session_end")
	a.teardown(l)
	if cause != nil {
		a.log.Info("assistant: link ended", "cause", cause)
	}
	a.fire(ev)
}

// interruptPlayback stops every active unit. Stop failures are ignored
// apart from the count.
func (a *Assistant) interruptPlayback(ctx context.Context, reason string) {
	stopped, failed := a.sched.Interrupt()
	if stopped > 0 || failed > 0 {
		a.log.Debug("assistant: playback interrupted", "reason", reason, "stopped", stopped, "failed", failed)
	}
	if a.metrics != nil {
		a.metrics.RecordInterrupt(ctx, reason, stopped, failed)
	}
}

func (a *Assistant) runTool(l *link, call live.ToolCall) {
	resp := a.registry.Execute(l.ctx, call)
	if err := l.session.SendToolResponse(l.ctx, resp); err != nil && l.ctx.Err() == nil {
		a.log.Warn("assistant: send tool response", "tool", call.Name, "err", err)
	}
}
