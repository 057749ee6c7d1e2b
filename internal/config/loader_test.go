package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/uplink/internal/capture"
	"github.com/MrWong99/uplink/internal/config"
)

const fullYAML = `
server:
  listen_addr: "127.0.0.1:9090"
  log_level: debug
  allowed_origins: ["localhost:5173"]
provider:
  name: genai
  api_key: secret
  model: gemini-live-2.5-flash
  voice: Kore
  instructions: "Be brief."
audio:
  input:
    kind: file
    path: /tmp/mic.fifo
    format: s16le
    sample_rate: 48000
  output:
    kind: stdout
  outbound_queue: 64
vision:
  frame_path: /tmp/screen.png
  interval: 500ms
  width: 1280
  height: 720
  quality: 0.8
tools:
  enabled: [timer, calculator]
mcp:
  servers:
    - name: fs
      transport: stdio
      command: mcp-fs /tmp
    - name: search
      transport: streamable-http
      url: https://mcp.example.com/mcp
session:
  auto_connect: true
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Provider.Name != "genai" || cfg.Provider.Voice != "Kore" || cfg.Provider.Instructions != "Be brief." {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	in := cfg.Audio.Input
	if in.Kind != config.InputFile || in.Format != capture.S16LE || in.SampleRate != 48000 {
		t.Errorf("audio.input = %+v", in)
	}
	if cfg.Audio.Output.Kind != config.OutputStdout || cfg.Audio.OutboundQueue != 64 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Vision.Interval != 500*time.Millisecond || cfg.Vision.Quality != 0.8 {
		t.Errorf("vision = %+v", cfg.Vision)
	}
	if len(cfg.MCP.Servers) != 2 || cfg.MCP.Servers[1].URL != "https://mcp.example.com/mcp" {
		t.Errorf("mcp = %+v", cfg.MCP)
	}
	if !cfg.Session.AutoConnect {
		t.Error("session.auto_connect not decoded")
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Provider.Name != "gemini" || cfg.Audio.Input.Format != capture.F32LE {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for misspelt field")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"input kind", "audio:\n  input:\n    kind: alsa\n", "audio.input.kind"},
		{"input path", "audio:\n  input:\n    kind: file\n", "audio.input.path"},
		{"input format", "audio:\n  input:\n    format: mp3\n", "audio.input.format"},
		{"input rate", "audio:\n  input:\n    sample_rate: -1\n", "audio.input.sample_rate"},
		{"output kind", "audio:\n  output:\n    kind: speaker\n", "audio.output.kind"},
		{"output path", "audio:\n  output:\n    kind: file\n", "audio.output.path"},
		{"quality", "vision:\n  quality: 2\n", "vision.quality"},
		{"interval", "vision:\n  interval: -1s\n", "vision.interval"},
		{"interval too fast", "vision:\n  interval: 100ms\n", "vision.interval"},
		{"quality too low", "vision:\n  quality: 0.05\n", "vision.quality"},
		{"tool group", "tools:\n  enabled: [weather]\n", "tools.enabled[0]"},
		{"mcp name", "mcp:\n  servers:\n    - transport: stdio\n      command: x\n", "mcp.servers[0].name"},
		{"mcp transport", "mcp:\n  servers:\n    - name: a\n      transport: grpc\n", "mcp.servers[0].transport"},
		{"mcp command", "mcp:\n  servers:\n    - name: a\n      transport: stdio\n", "command is required"},
		{"mcp url", "mcp:\n  servers:\n    - name: a\n      transport: streamable-http\n", "url is required"},
		{"mcp duplicate", "mcp:\n  servers:\n    - name: a\n      transport: stdio\n      command: x\n    - name: a\n      transport: stdio\n      command: y\n", "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\nvision:\n  quality: 3\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.log_level", "vision.quality"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error misses %q: %v", want, err)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	env := map[string]string{"API_KEY": "generic", "GEMINI_API_KEY": "gemini"}
	getenv := func(k string) string { return env[k] }

	cfg := config.Default()
	config.ApplyEnv(cfg, getenv)
	if cfg.Provider.APIKey != "gemini" {
		t.Errorf("APIKey = %q; GEMINI_API_KEY takes precedence", cfg.Provider.APIKey)
	}

	delete(env, "GEMINI_API_KEY")
	cfg = config.Default()
	config.ApplyEnv(cfg, getenv)
	if cfg.Provider.APIKey != "generic" {
		t.Errorf("APIKey = %q; want API_KEY fallback", cfg.Provider.APIKey)
	}

	cfg.Provider.APIKey = "from-file"
	config.ApplyEnv(cfg, getenv)
	if cfg.Provider.APIKey != "from-file" {
		t.Error("environment overrode an explicit key")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "uplink.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.APIKey != "secret" {
		t.Errorf("APIKey = %q", cfg.Provider.APIKey)
	}
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v; want os.ErrNotExist", err)
	}
}
