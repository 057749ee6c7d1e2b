// Package assistant owns one realtime voice conversation: the microphone
// capture, the live session, inbound audio playback, tool execution, screen
// sampling and the user-visible lifecycle status.
//
// An [Assistant] is long-lived. Each successful [Assistant.Connect] creates a
// link (microphone, outbound queue, live session) that lives until the user
// closes it or the remote side fails or hangs up. Everything the session
// emits is handled on a single dispatch goroutine per link, which is also the
// only goroutine that touches the playback scheduler while the link is up.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/uplink/internal/capture"
	"github.com/MrWong99/uplink/internal/document"
	"github.com/MrWong99/uplink/internal/observe"
	"github.com/MrWong99/uplink/internal/playback"
	"github.com/MrWong99/uplink/internal/status"
	"github.com/MrWong99/uplink/internal/tools"
	"github.com/MrWong99/uplink/internal/vision"
	"github.com/MrWong99/uplink/pkg/provider/live"
)

var (
	// ErrNotConnected is returned by operations that need an open link.
	ErrNotConnected = errors.New("assistant: not connected")

	// ErrAlreadyConnected is returned by Connect while a link is up or
	// being established.
	ErrAlreadyConnected = errors.New("assistant: already connected")
)

// Default persona, matching the HUD's French voice assistant.
const (
	DefaultVoice        = "Puck"
	DefaultInstructions = "Vous êtes J.A.R.V.I.S., l'IA de Tony Stark. Soyez poli (appelez l'utilisateur Monsieur), concis et efficace."
)

// frameBuffer bounds SubmitFrame calls waiting for the capture goroutine.
const frameBuffer = 16

// Config holds the per-session settings.
type Config struct {
	// Voice is the prebuilt voice name. Empty selects DefaultVoice.
	Voice string

	// Instructions is the system instruction. Empty selects
	// DefaultInstructions.
	Instructions string

	// QueueCapacity bounds chunks held while the session is connecting.
	// Zero selects capture.DefaultQueueCapacity; negative is unbounded.
	QueueCapacity int

	// Encoder configures screen and image uploads. The zero value selects
	// vision.DefaultEncoder.
	Encoder vision.Encoder

	// SampleInterval is the screen sampling period. Zero selects
	// vision.DefaultInterval.
	SampleInterval time.Duration

	// MaxDocumentText caps text extracted from uploaded documents.
	MaxDocumentText int
}

func (c Config) sessionConfig(defs []live.ToolDefinition) live.SessionConfig {
	sc := live.SessionConfig{Voice: c.Voice, Instructions: c.Instructions, Tools: defs}
	if sc.Voice == "" {
		sc.Voice = DefaultVoice
	}
	if sc.Instructions == "" {
		sc.Instructions = DefaultInstructions
	}
	return sc
}

func (c Config) queueCapacity() int {
	switch {
	case c.QueueCapacity == 0:
		return capture.DefaultQueueCapacity
	case c.QueueCapacity < 0:
		return 0
	default:
		return c.QueueCapacity
	}
}

func (c Config) encoder() vision.Encoder {
	if c.Encoder == (vision.Encoder{}) {
		return vision.DefaultEncoder()
	}
	return c.Encoder
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) { a.log = l }
}

// WithMetrics records session telemetry on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assistant) { a.metrics = m }
}

// WithTranscriptHandler receives transcription text. role is "user" or
// "model". fn runs on the dispatch goroutine and must not block.
func WithTranscriptHandler(fn func(role, text string)) Option {
	return func(a *Assistant) { a.onTranscript = fn }
}

// WithSharingHandler is told when screen sampling starts or stops.
func WithSharingHandler(fn func(on bool)) Option {
	return func(a *Assistant) { a.onSharing = fn }
}

// Assistant is the session owner. Create instances with [New].
type Assistant struct {
	provider live.Provider
	registry *tools.Registry
	sched    *playback.Scheduler
	machine  *status.Machine
	cfg      Config
	base     context.Context

	log          *slog.Logger
	metrics      *observe.Metrics
	onTranscript func(role, text string)
	onSharing    func(on bool)

	// barge carries local interrupt requests to the dispatch goroutine.
	barge chan struct{}

	mu      sync.Mutex
	link    *link
	sampler *vision.Sampler
}

// New returns an idle Assistant. base bounds the lifetime of every link; the
// scheduler must not be shared with another owner.
func New(base context.Context, provider live.Provider, registry *tools.Registry, sched *playback.Scheduler, cfg Config, opts ...Option) *Assistant {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	a := &Assistant{
		provider: provider,
		registry: registry,
		sched:    sched,
		machine:  status.NewMachine(),
		cfg:      cfg,
		base:     base,
		log:      slog.Default(),
		barge:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(a)
	}
	a.machine.OnChange(func(from, to status.Status) {
		a.log.Info("assistant: status changed", "from", from, "to", to)
		if a.metrics != nil {
			a.metrics.RecordTransition(context.Background(), from.String(), to.String())
		}
	})
	return a
}

// SetPersona replaces the voice and instructions used by the next Connect.
// An open session keeps the persona it was opened with.
func (a *Assistant) SetPersona(voice, instructions string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Voice = voice
	a.cfg.Instructions = instructions
}

// Status returns the current lifecycle status.
func (a *Assistant) Status() status.Status { return a.machine.Current() }

// OnStatus registers an observer of effective status changes.
func (a *Assistant) OnStatus(fn status.ChangeFunc) { a.machine.OnChange(fn) }

// fire applies ev and logs rejected transitions at debug level.
func (a *Assistant) fire(ev status.Event) {
	if _, err := a.machine.Fire(ev); err != nil {
		a.log.Debug("assistant: transition ignored", "event", ev, "err", err)
	}
}

// Connect starts a conversation. Microphone capture begins before the live
// session is open; frames captured meanwhile are queued and flushed in order
// once the session accepts them. ctx bounds only the handshake.
func (a *Assistant) Connect(ctx context.Context, mic capture.Source) error {
	a.mu.Lock()
	prev := a.link
	a.mu.Unlock()
	if prev != nil {
		select {
		case <-prev.done:
		default:
			return ErrAlreadyConnected
		}
	}

	if _, err := a.machine.Fire(status.Connect); err != nil {
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	}

	l := a.newLink(mic)

	a.mu.Lock()
	a.link = l
	a.mu.Unlock()

	micCh, err := mic.Open(l.ctx)
	if err != nil {
		l.cancel()
		a.fire(status.Failed)
		close(l.done)
		return fmt.Errorf("assistant: open microphone: %w", err)
	}
	l.wg.Go(func() { l.outbox.Run(l.ctx) })
	l.wg.Go(func() { l.capture(micCh) })

	// Close during the handshake aborts it.
	hctx, stop := context.WithCancel(ctx)
	defer stop()
	unhook := context.AfterFunc(l.ctx, stop)
	defer unhook()

	start := time.Now()
	a.mu.Lock()
	cfg := a.cfg.sessionConfig(a.registry.Definitions())
	a.mu.Unlock()
	var sess live.Session
	err = observe.Traced(hctx, "assistant.connect", func(ctx context.Context) error {
		var cerr error
		sess, cerr = a.provider.Connect(ctx, cfg)
		return cerr
	})
	if a.metrics != nil {
		a.metrics.RecordConnect(ctx, time.Since(start), err)
	}
	if err != nil {
		a.log.Warn("assistant: connect failed", "provider", a.provider.Name(), "err", err)
		if a.metrics != nil {
			a.metrics.RecordProviderError(ctx, a.provider.Name(), "connect")
		}
		a.teardown(l)
		// Close waits on done and must observe Failed first.
		a.fire(status.Failed)
		close(l.done)
		return fmt.Errorf("assistant: connect: %w", err)
	}

	a.mu.Lock()
	l.session = sess
	a.mu.Unlock()
	l.outbox.Attach(sess)
	if a.metrics != nil {
		a.metrics.ActiveSessions.Add(ctx, 1)
	}
	a.fire(status.Opened)
	a.log.Info("assistant: session open", "provider", a.provider.Name(), "queued", l.outbox.Len())

	go a.dispatch(l)
	return nil
}

// SubmitFrame feeds microphone samples captured outside the configured
// source, e.g. from a browser. It never blocks.
func (a *Assistant) SubmitFrame(samples []float32) error {
	l := a.current()
	if l == nil {
		return ErrNotConnected
	}
	select {
	case l.frames <- samples:
		return nil
	case <-l.ctx.Done():
		return ErrNotConnected
	default:
		return errors.New("assistant: capture backlog full, frame dropped")
	}
}

// Interrupt stops local playback at once, as if the remote side had reported
// a barge-in.
func (a *Assistant) Interrupt() error {
	if a.current() == nil {
		return ErrNotConnected
	}
	select {
	case a.barge <- struct{}{}:
	default: // one request is already pending
	}
	return nil
}

// ToggleScreenShare starts sampling src into the session, or stops sampling
// when it is already running. It reports whether sampling is now active.
// src is closed when sampling stops.
func (a *Assistant) ToggleScreenShare(ctx context.Context, src vision.FrameSource) (bool, error) {
	a.mu.Lock()
	if s := a.sampler; s != nil {
		a.sampler = nil
		a.mu.Unlock()
		err := s.Stop()
		a.sharing(false)
		return false, err
	}
	l := a.link
	if l == nil || l.finished() {
		a.mu.Unlock()
		return false, ErrNotConnected
	}
	opts := []vision.Option{
		vision.WithEncoder(a.cfg.encoder()),
		vision.WithLogger(a.log),
	}
	if a.cfg.SampleInterval > 0 {
		opts = append(opts, vision.WithInterval(a.cfg.SampleInterval))
	}
	s := vision.NewSampler(src, l.outbox, opts...)
	if err := s.Start(l.ctx); err != nil {
		a.mu.Unlock()
		return false, err
	}
	a.sampler = s
	a.mu.Unlock()

	a.log.Info("assistant: screen sharing started", "interval", s.Interval())
	a.sharing(true)
	return true, nil
}

func (a *Assistant) sharing(on bool) {
	if a.onSharing != nil {
		a.onSharing(on)
	}
}

// stopSampler halts screen sampling if active.
func (a *Assistant) stopSampler() {
	a.mu.Lock()
	s := a.sampler
	a.sampler = nil
	a.mu.Unlock()
	if s == nil {
		return
	}
	if err := s.Stop(); err != nil {
		a.log.Debug("assistant: close frame source", "err", err)
	}
	a.sharing(false)
}

// SendDocument extracts an uploaded file and hands it to the session: text
// as a user turn, images as one JPEG frame through the outbound queue.
func (a *Assistant) SendDocument(ctx context.Context, name string, data []byte) (*document.Content, error) {
	l, sess := a.session()
	if sess == nil {
		return nil, ErrNotConnected
	}
	doc, err := document.Extractor{MaxTextBytes: a.cfg.MaxDocumentText}.Extract(name, data)
	if err != nil {
		return nil, err
	}
	if doc.Image != nil {
		chunk, err := a.cfg.encoder().Chunk(doc.Image)
		if err != nil {
			return nil, err
		}
		l.outbox.Submit(chunk)
	} else if err := sess.SendText(ctx, doc.Prompt()); err != nil {
		return nil, fmt.Errorf("assistant: send document: %w", err)
	}
	a.log.Info("assistant: document sent", "name", name, "kind", doc.Kind, "truncated", doc.Truncated)
	return doc, nil
}

// Close ends the conversation and returns to Idle. Playback stops at once.
func (a *Assistant) Close() error {
	l := a.current()
	if l == nil {
		// Leaves Error for Idle; a no-op when already idle.
		a.fire(status.Closed)
		return nil
	}
	l.cancel()
	<-l.done
	a.interruptPlayback(context.Background(), "close")
	a.teardown(l)
	a.fire(status.Closed)
	return nil
}

// current returns the link if it is still up.
func (a *Assistant) current() *link {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.link == nil || a.link.finished() {
		return nil
	}
	return a.link
}

// session returns the link and its live session once the handshake is done.
func (a *Assistant) session() (*link, live.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.link == nil || a.link.finished() || a.link.session == nil {
		return nil, nil
	}
	return a.link, a.link.session
}
