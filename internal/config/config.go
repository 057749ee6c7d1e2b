// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the uplink voice assistant.
package config

import (
	"time"

	"github.com/MrWong99/uplink/internal/capture"
	"github.com/MrWong99/uplink/internal/tools/mcpbridge"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// InputKind selects where microphone samples come from.
type InputKind string

const (
	// InputNone disables capture; sessions still open but send no audio.
	InputNone InputKind = "none"
	// InputFile reads raw samples from a file or FIFO at Path.
	InputFile InputKind = "file"
	// InputStdin reads raw samples from standard input.
	InputStdin InputKind = "stdin"
	// InputWebSocket accepts binary f32le frames on GET /api/mic.
	InputWebSocket InputKind = "websocket"
)

// IsValid reports whether k is a recognised input kind.
func (k InputKind) IsValid() bool {
	switch k {
	case InputNone, InputFile, InputStdin, InputWebSocket:
		return true
	}
	return false
}

// OutputKind selects where synthesised speech is written.
type OutputKind string

const (
	OutputDiscard OutputKind = "discard"
	OutputFile    OutputKind = "file"
	OutputStdout  OutputKind = "stdout"
)

// IsValid reports whether k is a recognised output kind.
func (k OutputKind) IsValid() bool {
	switch k {
	case OutputDiscard, OutputFile, OutputStdout:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Audio    AudioConfig    `yaml:"audio"`
	Vision   VisionConfig   `yaml:"vision"`
	Tools    ToolsConfig    `yaml:"tools"`
	MCP      MCPConfig      `yaml:"mcp"`
	Session  SessionConfig  `yaml:"session"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control plane (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists host patterns accepted on WebSocket upgrades
	// besides the server's own origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProviderConfig selects and configures the live model backend.
// The Name field is used to look up the constructor in the [Registry].
type ProviderConfig struct {
	// Name selects the registered provider ("gemini" or "genai").
	Name string `yaml:"name"`

	// APIKey authenticates against the model API. When empty it is read
	// from GEMINI_API_KEY, then API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific live model.
	Model string `yaml:"model"`

	// Voice is the prebuilt voice name.
	Voice string `yaml:"voice"`

	// Instructions is the system instruction sent when a session opens.
	Instructions string `yaml:"instructions"`
}

// AudioConfig configures capture and playback.
type AudioConfig struct {
	Input  InputConfig  `yaml:"input"`
	Output OutputConfig `yaml:"output"`

	// OutboundQueue bounds media chunks held while a session connects. Zero
	// selects the default; a negative value disables the bound.
	OutboundQueue int `yaml:"outbound_queue"`
}

// InputConfig describes the microphone source.
type InputConfig struct {
	Kind InputKind `yaml:"kind"`

	// Path is the file or FIFO read when Kind is "file".
	Path string `yaml:"path"`

	// Format is the raw sample encoding of file and stdin input.
	Format capture.SampleFormat `yaml:"format"`

	// SampleRate of the produced samples in Hz. Zero means 16000.
	SampleRate int `yaml:"sample_rate"`
}

// OutputConfig describes the speaker sink.
type OutputConfig struct {
	Kind OutputKind `yaml:"kind"`

	// Path receives raw PCM16 when Kind is "file".
	Path string `yaml:"path"`

	// SampleRate of the written PCM. Zero means 24000.
	SampleRate int `yaml:"sample_rate"`
}

// VisionConfig configures screen sampling.
type VisionConfig struct {
	// FramePath is an image file re-read on every sample, typically kept
	// up to date by an external screenshot tool.
	FramePath string `yaml:"frame_path"`

	// Interval between samples. Zero means 2s.
	Interval time.Duration `yaml:"interval"`

	Width   int     `yaml:"width"`
	Height  int     `yaml:"height"`
	Quality float64 `yaml:"quality"`
}

// ToolsConfig selects the built-in tools offered to the model.
type ToolsConfig struct {
	// Enabled lists built-in tool groups. Empty enables all of them.
	Enabled []string `yaml:"enabled"`
}

// MCPConfig holds the list of Model Context Protocol servers to connect to.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique identifier, used in logs and to replace a server's
	// tools on reconnect.
	Name string `yaml:"name"`

	Transport mcpbridge.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio".
	Command string `yaml:"command"`

	// URL is the endpoint used when Transport is "streamable-http".
	URL string `yaml:"url"`

	// Env holds additional environment variables for stdio subprocesses.
	Env map[string]string `yaml:"env"`
}

// Bridge converts the entry to the bridge's own config type.
func (c MCPServerConfig) Bridge() mcpbridge.ServerConfig {
	return mcpbridge.ServerConfig{
		Name:      c.Name,
		Transport: c.Transport,
		Command:   c.Command,
		Env:       c.Env,
		URL:       c.URL,
	}
}

// SessionConfig holds lifecycle settings.
type SessionConfig struct {
	// AutoConnect opens a session at startup instead of waiting for
	// POST /api/session.
	AutoConnect bool `yaml:"auto_connect"`
}
