// Package mcpbridge imports tools from external MCP servers into the tool
// registry.
//
// It connects via stdio or streamable-HTTP transports using the official MCP
// Go SDK (github.com/modelcontextprotocol/go-sdk). Each discovered tool
// becomes a [tools.Tool] whose handler forwards the call to the owning
// server session.
//
//	b := mcpbridge.New()
//	defer b.Close()
//	ts, err := b.Connect(ctx, mcpbridge.ServerConfig{
//	    Name:      "weather",
//	    Transport: mcpbridge.TransportStdio,
//	    Command:   "/usr/local/bin/mcp-weather",
//	})
//	err = registry.Register(ts...)
package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/uplink/internal/tools"
	"github.com/MrWong99/uplink/pkg/provider/live"
)

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and talks over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP uses the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one MCP server.
type ServerConfig struct {
	Name      string
	Transport Transport
	// Command is split on whitespace into executable and arguments.
	Command string
	// Env is appended to the inherited environment of stdio servers.
	Env map[string]string
	// URL is the endpoint of streamable-http servers.
	URL string
}

// Bridge owns the MCP client and its server sessions. The zero value is not
// usable; create instances with [New].
type Bridge struct {
	client *mcpsdk.Client
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession
}

// New returns a Bridge with no connected servers.
func New() *Bridge {
	return &Bridge{
		client:   mcpsdk.NewClient(&mcpsdk.Implementation{Name: "uplink", Version: "1.0.0"}, nil),
		log:      slog.Default(),
		sessions: make(map[string]*mcpsdk.ClientSession),
	}
}

// Connect establishes the transport described by cfg and returns the
// server's tools.
func (b *Bridge) Connect(ctx context.Context, cfg ServerConfig) ([]tools.Tool, error) {
	if cfg.Name == "" {
		return nil, errors.New("mcpbridge: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return nil, fmt.Errorf("mcpbridge: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return nil, fmt.Errorf("mcpbridge: stdio server %q requires a non-empty command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcpbridge: streamable-http server %q requires a non-empty url", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}
	return b.Attach(ctx, cfg.Name, transport)
}

// Attach connects over an already constructed transport. A server registered
// under the same name is disconnected first.
func (b *Bridge) Attach(ctx context.Context, name string, transport mcpsdk.Transport) ([]tools.Tool, error) {
	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpbridge: connect to server %q: %w", name, err)
	}

	var out []tools.Tool
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("mcpbridge: list tools of server %q: %w", name, err)
		}
		out = append(out, b.wrap(session, name, t))
	}

	b.mu.Lock()
	if old, ok := b.sessions[name]; ok {
		_ = old.Close()
	}
	b.sessions[name] = session
	b.mu.Unlock()

	b.log.Info("mcpbridge: server connected", "server", name, "tools", len(out))
	return out, nil
}

func (b *Bridge) wrap(session *mcpsdk.ClientSession, server string, t *mcpsdk.Tool) tools.Tool {
	name := t.Name
	return tools.Tool{
		Definition: live.ToolDefinition{
			Name:        name,
			Description: t.Description,
			Parameters:  schemaToMap(t.InputSchema),
		},
		Handler: func(ctx context.Context, args string) (string, error) {
			var argsMap map[string]any
			if args != "" && args != "{}" {
				if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
					return "", fmt.Errorf("mcpbridge: invalid args for tool %q: %w", name, err)
				}
			}
			res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: argsMap})
			if err != nil {
				return "", fmt.Errorf("mcpbridge: call %q on server %q: %w", name, server, err)
			}
			var sb strings.Builder
			for _, c := range res.Content {
				if tc, ok := c.(*mcpsdk.TextContent); ok {
					sb.WriteString(tc.Text)
				}
			}
			if res.IsError {
				return "", fmt.Errorf("mcpbridge: tool %q reported: %s", name, sb.String())
			}
			return sb.String(), nil
		},
	}
}

// schemaToMap converts an SDK schema value into the generic map form used by
// live.ToolDefinition.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// Servers returns the names of connected servers.
func (b *Bridge) Servers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.sessions))
	for n := range b.sessions {
		names = append(names, n)
	}
	return names
}

// Close disconnects every server.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for name, s := range b.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcpbridge: close server %q: %w", name, err))
		}
		delete(b.sessions, name)
	}
	return errors.Join(errs...)
}
