package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/uplink/internal/capture"
	"github.com/MrWong99/uplink/internal/tools/mcpbridge"
)

// ValidProviderNames lists the live providers that ship with uplink.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"gemini", "genai"}

// ToolGroups lists the built-in tool groups accepted in tools.enabled.
var ToolGroups = []string{"timer", "calculator", "display"}

// APIKeyEnv lists the environment variables consulted, in order, when
// provider.api_key is empty.
var APIKeyEnv = []string{"GEMINI_API_KEY", "API_KEY"}

// Load reads the YAML configuration file at path, fills defaults and
// environment fallbacks, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "gemini"
	}
	if cfg.Audio.Input.Kind == "" {
		cfg.Audio.Input.Kind = InputWebSocket
	}
	if cfg.Audio.Input.Format == "" {
		cfg.Audio.Input.Format = capture.F32LE
	}
	if cfg.Audio.Output.Kind == "" {
		cfg.Audio.Output.Kind = OutputDiscard
	}
}

// ApplyEnv fills values the file left empty from the environment.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg.Provider.APIKey != "" {
		return
	}
	for _, k := range APIKeyEnv {
		if v := getenv(k); v != "" {
			cfg.Provider.APIKey = v
			return
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Provider.APIKey == "" {
		slog.Warn("provider.api_key is empty and no API key variable is set; sessions will fail to connect",
			"env", APIKeyEnv,
		)
	}

	in := cfg.Audio.Input
	if !in.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("audio.input.kind %q is invalid; valid values: none, file, stdin, websocket", in.Kind))
	}
	if in.Kind == InputFile && in.Path == "" {
		errs = append(errs, errors.New("audio.input.path is required when kind is file"))
	}
	if !in.Format.IsValid() {
		errs = append(errs, fmt.Errorf("audio.input.format %q is invalid; valid values: f32le, s16le", in.Format))
	}
	if in.SampleRate < 0 || in.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.input.sample_rate %d is out of range [0, 192000]", in.SampleRate))
	}

	out := cfg.Audio.Output
	if !out.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("audio.output.kind %q is invalid; valid values: discard, file, stdout", out.Kind))
	}
	if out.Kind == OutputFile && out.Path == "" {
		errs = append(errs, errors.New("audio.output.path is required when kind is file"))
	}
	if out.SampleRate < 0 || out.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.output.sample_rate %d is out of range [0, 192000]", out.SampleRate))
	}

	v := cfg.Vision
	// Zero selects the sampler defaults.
	if v.Interval != 0 && (v.Interval < 500*time.Millisecond || v.Interval > 10*time.Second) {
		errs = append(errs, fmt.Errorf("vision.interval %s is out of range [500ms, 10s]", v.Interval))
	}
	if v.Width < 0 || v.Height < 0 {
		errs = append(errs, fmt.Errorf("vision.width/height %dx%d must not be negative", v.Width, v.Height))
	}
	if v.Quality != 0 && (v.Quality < 0.1 || v.Quality > 1) {
		errs = append(errs, fmt.Errorf("vision.quality %.2f is out of range [0.1, 1]", v.Quality))
	}

	for i, g := range cfg.Tools.Enabled {
		if !slices.Contains(ToolGroups, g) {
			errs = append(errs, fmt.Errorf("tools.enabled[%d] %q is unknown; valid values: timer, calculator, display", i, g))
		}
	}

	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			seen[srv.Name] = i
		}
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcpbridge.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcpbridge.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// ToolEnabled reports whether the built-in tool group is enabled.
func (c *Config) ToolEnabled(group string) bool {
	return len(c.Tools.Enabled) == 0 || slices.Contains(c.Tools.Enabled, group)
}
