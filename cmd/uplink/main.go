// Command uplink runs the realtime voice assistant and its HUD control plane.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/MrWong99/uplink/internal/app"
	"github.com/MrWong99/uplink/internal/config"
	"github.com/MrWong99/uplink/internal/observe"
	"github.com/MrWong99/uplink/pkg/provider/live"
	"github.com/MrWong99/uplink/pkg/provider/live/gemini"
	"github.com/MrWong99/uplink/pkg/provider/live/genai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	envPath := flag.String("env", ".env", "dotenv file loaded before the configuration")
	watch := flag.Bool("watch", true, "reload voice, instructions and log level when the config file changes")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "uplink: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "uplink: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "uplink: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("uplink starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	provider, err := reg.Create(cfg.Provider)
	if err != nil {
		slog.Error("failed to build provider", "err", err, "known", reg.Names())
		return 1
	}

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithLevelVar(&level),
		app.WithTelemetry(tel),
	}

	// The watcher needs the app's callback and the app needs the watcher;
	// forward through a variable set once both exist.
	var application *app.App
	if *configPath != "" && *watch {
		w, err := config.NewWatcher(*configPath, func(old, new *config.Config, d config.Diff) {
			if application != nil {
				application.ApplyConfig(old, new, d)
			}
		}, config.WithWatcherLogger(logger))
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		opts = append(opts, app.WithWatcher(w))
	}

	printStartupSummary(cfg)

	application, err = app.New(ctx, cfg, provider, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	config.ApplyEnv(cfg, os.Getenv)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the live backends that ship with uplink.
func registerBuiltinProviders(reg *config.Registry) {
	// Raw BidiGenerateContent WebSocket client.
	reg.Register("gemini", func(c config.ProviderConfig) (live.Provider, error) {
		var opts []gemini.Option
		if c.Model != "" {
			opts = append(opts, gemini.WithModel(c.Model))
		}
		if c.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(c.BaseURL))
		}
		return gemini.New(c.APIKey, opts...), nil
	})

	// Official Gen AI SDK.
	reg.Register("genai", func(c config.ProviderConfig) (live.Provider, error) {
		var opts []genai.Option
		if c.Model != "" {
			opts = append(opts, genai.WithModel(c.Model))
		}
		if c.BaseURL != "" {
			opts = append(opts, genai.WithBaseURL(c.BaseURL))
		}
		return genai.New(c.APIKey, opts...), nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "name", name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

// printStartupSummary writes to stderr; stdout may carry PCM.
func printStartupSummary(cfg *config.Config) {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║          uplink: startup summary      ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printRow("Provider", cfg.Provider.Name, cfg.Provider.Model)
	printRow("Voice", cfg.Provider.Voice, "")
	printRow("Input", string(cfg.Audio.Input.Kind), cfg.Audio.Input.Path)
	printRow("Output", string(cfg.Audio.Output.Kind), cfg.Audio.Output.Path)
	printRow("Screen", cfg.Vision.FramePath, "")
	fmt.Fprintf(os.Stderr, "║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	fmt.Fprintf(os.Stderr, "║  Auto-connect    : %-19t ║\n", cfg.Session.AutoConnect)
	printRow("Listen addr", cfg.Server.ListenAddr, "")
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printRow(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-12s    : %-19s ║\n", kind, value)
}
