// Package app wires the uplink subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the tool registry, the
// playback chain, the microphone source and the assistant; Run serves the
// control plane and background loops until ctx ends; Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithMicrophone,
// WithFrameSource, WithOutput). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/uplink/internal/assistant"
	"github.com/MrWong99/uplink/internal/capture"
	"github.com/MrWong99/uplink/internal/config"
	"github.com/MrWong99/uplink/internal/hud"
	"github.com/MrWong99/uplink/internal/observe"
	"github.com/MrWong99/uplink/internal/playback"
	"github.com/MrWong99/uplink/internal/status"
	"github.com/MrWong99/uplink/internal/tools"
	"github.com/MrWong99/uplink/internal/tools/calculator"
	"github.com/MrWong99/uplink/internal/tools/display"
	"github.com/MrWong99/uplink/internal/tools/mcpbridge"
	"github.com/MrWong99/uplink/internal/tools/timer"
	"github.com/MrWong99/uplink/internal/vision"
	"github.com/MrWong99/uplink/pkg/audio"
	"github.com/MrWong99/uplink/pkg/provider/live"
)

// ShutdownTimeout bounds the graceful HTTP shutdown.
const ShutdownTimeout = 15 * time.Second

// connectTimeout bounds a session handshake started by the control plane.
const connectTimeout = 30 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	provider live.Provider
	log      *slog.Logger
	level    *slog.LevelVar

	telemetry *observe.Telemetry
	metrics   *observe.Metrics

	registry  *tools.Registry
	timers    *timer.Board
	hud       *hud.Store
	bridge    *mcpbridge.Bridge
	assistant *assistant.Assistant

	mic    capture.Source
	webMic *capture.ChannelSource
	frames vision.FrameSource
	output io.Writer

	watcher *config.Watcher
	handler http.Handler

	addrMu sync.Mutex
	addr   net.Addr

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevelVar lets config reloads adjust the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithTelemetry serves telemetry.Handler on /metrics and records into its
// instruments.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithMicrophone injects the microphone instead of building one from
// audio.input.
func WithMicrophone(src capture.Source) Option {
	return func(a *App) { a.mic = src }
}

// WithFrameSource injects the screen source instead of vision.frame_path.
func WithFrameSource(src vision.FrameSource) Option {
	return func(a *App) { a.frames = src }
}

// WithOutput injects the speaker sink instead of audio.output.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.output = w }
}

// WithWatcher applies hot-reloadable changes reported by w. The caller
// creates w with [App.ApplyConfig] as its callback.
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App around provider. MCP servers that fail to connect are
// logged and skipped; every other failure aborts.
func New(ctx context.Context, cfg *config.Config, provider live.Provider, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		provider: provider,
		log:      slog.Default(),
		hud:      hud.NewStore(),
	}
	for _, o := range opts {
		o(a)
	}
	a.metrics = observe.DefaultMetrics()
	if a.telemetry != nil {
		a.metrics = a.telemetry.Metrics
	}

	// ── 1. Tools ─────────────────────────────────────────────────────────
	if err := a.initTools(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	// ── 2. Playback ──────────────────────────────────────────────────────
	sched, err := a.initPlayback()
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init playback: %w", err)
	}

	// ── 3. Microphone and screen ─────────────────────────────────────────
	if err := a.initMicrophone(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init microphone: %w", err)
	}
	if a.frames == nil && cfg.Vision.FramePath != "" {
		a.frames = vision.FileSource{Path: cfg.Vision.FramePath}
	}

	// ── 4. Assistant ─────────────────────────────────────────────────────
	a.assistant = assistant.New(ctx, provider, a.registry, sched, assistant.Config{
		Voice:         cfg.Provider.Voice,
		Instructions:  cfg.Provider.Instructions,
		QueueCapacity: cfg.Audio.OutboundQueue,
		Encoder: vision.Encoder{
			Width:   cfg.Vision.Width,
			Height:  cfg.Vision.Height,
			Quality: cfg.Vision.Quality,
		},
		SampleInterval: cfg.Vision.Interval,
	},
		assistant.WithLogger(a.log),
		assistant.WithMetrics(a.metrics),
		assistant.WithSharingHandler(a.hud.SetSharing),
		assistant.WithTranscriptHandler(func(role, text string) {
			a.log.Info("transcript", "role", role, "text", text)
		}),
	)
	a.assistant.OnStatus(func(_, to status.Status) { a.hud.SetStatus(to) })
	a.closers = append([]func() error{a.assistant.Close}, a.closers...)

	// ── 5. Control plane ─────────────────────────────────────────────────
	a.handler = a.routes()

	a.log.Info("app: ready",
		"provider", provider.Name(),
		"tools", a.registry.Names(),
		"input", cfg.Audio.Input.Kind,
		"output", cfg.Audio.Output.Kind,
		"screen", a.frames != nil,
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTools(ctx context.Context) error {
	a.registry = tools.NewRegistry()
	a.registry.OnCall(func(name string, d time.Duration, err error) {
		a.metrics.RecordToolCall(context.Background(), name, d, err)
	})

	a.timers = timer.NewBoard()
	a.timers.OnChange(a.hud.SetTimers)
	a.timers.OnExpire(func(e timer.Entry) {
		a.log.Info("timer expired", "id", e.ID, "label", e.Label)
	})

	if a.cfg.ToolEnabled("timer") {
		if err := a.registry.Register(timer.Tools(a.timers)...); err != nil {
			return err
		}
	}
	if a.cfg.ToolEnabled("calculator") {
		calc, err := calculator.New()
		if err != nil {
			return err
		}
		if err := a.registry.Register(calculator.Tools(calc)...); err != nil {
			return err
		}
	}
	if a.cfg.ToolEnabled("display") {
		if err := a.registry.Register(display.Tools(a.hud)...); err != nil {
			return err
		}
	}

	if len(a.cfg.MCP.Servers) == 0 {
		return nil
	}
	a.bridge = mcpbridge.New()
	a.closers = append(a.closers, a.bridge.Close)
	for _, srv := range a.cfg.MCP.Servers {
		ts, err := a.bridge.Connect(ctx, srv.Bridge())
		if err != nil {
			a.log.Warn("app: mcp server unavailable, skipping", "server", srv.Name, "err", err)
			continue
		}
		if err := a.registry.Register(ts...); err != nil {
			a.log.Warn("app: mcp tools rejected", "server", srv.Name, "err", err)
			continue
		}
		a.log.Info("app: mcp server connected", "server", srv.Name, "tools", len(ts))
	}
	return nil
}

func (a *App) initPlayback() (*playback.Scheduler, error) {
	out := a.cfg.Audio.Output
	if a.output == nil {
		switch out.Kind {
		case config.OutputStdout:
			a.output = os.Stdout
		case config.OutputFile:
			f, err := os.Create(out.Path)
			if err != nil {
				return nil, err
			}
			a.output = f
			a.closers = append(a.closers, f.Close)
		default:
			a.output = io.Discard
		}
	}
	dev := playback.NewDevice(a.output, audio.Format{SampleRate: out.SampleRate, Channels: 1})
	return playback.NewScheduler(dev, dev, playback.WithLogger(a.log)), nil
}

func (a *App) initMicrophone() error {
	if a.mic != nil {
		return nil
	}
	in := a.cfg.Audio.Input
	rate := in.SampleRate
	if rate == 0 {
		rate = audio.CaptureRate
	}
	switch in.Kind {
	case config.InputFile:
		a.mic = capture.NewFileSource(in.Path, in.Format, rate)
	case config.InputStdin:
		a.mic = capture.NewReaderSource(os.Stdin, in.Format, rate)
	case config.InputWebSocket:
		a.webMic = capture.NewChannelSource(rate, 64)
		a.mic = a.webMic
	case config.InputNone:
		// Never pushed: sessions open without outbound audio.
		a.mic = capture.NewChannelSource(rate, 1)
	default:
		return fmt.Errorf("unknown input kind %q", in.Kind)
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the control-plane HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Assistant returns the conversation owner.
func (a *App) Assistant() *assistant.Assistant { return a.assistant }

// HUD returns the HUD state store.
func (a *App) HUD() *hud.Store { return a.hud }

// Tools returns the tool registry.
func (a *App) Tools() *tools.Registry { return a.registry }

// Addr returns the bound control-plane address once Run is serving, or nil.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// ApplyConfig applies the hot-reloadable parts of a config change. It has
// the [config.ChangeFunc] signature.
func (a *App) ApplyConfig(_, _ *config.Config, d config.Diff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		a.log.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.PersonaChanged {
		a.assistant.SetPersona(d.NewVoice, d.NewInstructions)
		a.log.Info("app: persona updated, applies to the next session", "voice", d.NewVoice)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("app: config changes need a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config level to its slog counterpart.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control plane and the background loops until ctx ends or
// one of them fails. The HTTP server is drained within [ShutdownTimeout].
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.timers.Run(gctx) })
	g.Go(func() error {
		a.log.Info("app: control plane listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if a.cfg.Session.AutoConnect {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, connectTimeout)
			defer cancel()
			if err := a.assistant.Connect(cctx, a.mic); err != nil {
				// Not fatal: the user reconnects through the control plane.
				a.log.Warn("app: auto-connect failed", "err", err)
			}
			return nil
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the conversation and releases every resource. It respects
// the context deadline: remaining closers are skipped once ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("app: shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("app: closer error", "index", i, "err", err)
			}
		}
		if err := a.mic.Close(); err != nil {
			a.log.Debug("app: close microphone", "err", err)
		}
		a.log.Info("app: shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what New acquired before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
