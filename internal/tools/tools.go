// Package tools defines the shared [Tool] type and the [Registry] that
// executes tool calls requested by the live model.
//
// Built-in tools live in sub-packages, each exporting a constructor that
// returns a slice of [Tool] values ready for registration. External tools
// are imported from MCP servers by package mcpbridge.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/uplink/pkg/provider/live"
)

// DefaultTimeout bounds a single tool execution when the tool declares none.
const DefaultTimeout = 10 * time.Second

// Tool is a function the model can call.
type Tool struct {
	// Definition is the model-facing schema.
	Definition live.ToolDefinition

	// Handler executes the tool with JSON-encoded args and returns the text
	// reported to the model, or a descriptive error. Implementations must be
	// safe for concurrent use and respect context cancellation.
	Handler func(ctx context.Context, args string) (string, error)

	// Timeout overrides DefaultTimeout.
	Timeout time.Duration
}

// ErrDuplicate is returned when a tool name is registered twice.
var ErrDuplicate = errors.New("tools: duplicate tool name")

// CallHook observes every executed call.
type CallHook func(name string, d time.Duration, err error)

// Registry holds the tools offered to the model. It is safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
	hook  CallHook
	log   *slog.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), log: slog.Default()}
}

// OnCall registers a hook invoked after every Execute.
func (r *Registry) OnCall(h CallHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = h
}

// Register adds tools. Names must be unique and non-empty.
func (r *Registry) Register(ts ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range ts {
		name := t.Definition.Name
		if name == "" {
			return errors.New("tools: tool name must not be empty")
		}
		if t.Handler == nil {
			return fmt.Errorf("tools: tool %q has no handler", name)
		}
		if _, ok := r.tools[name]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicate, name)
		}
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return nil
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Definitions returns the model-facing schemas in registration order.
func (r *Registry) Definitions() []live.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]live.ToolDefinition, len(r.order))
	for i, name := range r.order {
		defs[i] = r.tools[name].Definition
	}
	return defs
}

// Execute runs call and always returns a response. Unknown tools, argument
// encoding problems and handler errors are reported to the model as text.
func (r *Registry) Execute(ctx context.Context, call live.ToolCall) live.ToolResponse {
	resp := live.ToolResponse{ID: call.ID, Name: call.Name}

	r.mu.RLock()
	t, ok := r.tools[call.Name]
	hook := r.hook
	r.mu.RUnlock()

	if !ok {
		resp.Result = fmt.Sprintf("Error: unknown tool %q.", call.Name)
		r.log.Warn("tools: unknown tool requested", "tool", call.Name)
		return resp
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		resp.Result = fmt.Sprintf("Error: could not encode arguments for %s: %v.", call.Name, err)
		return resp
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := t.Handler(callCtx, string(raw))
	elapsed := time.Since(start)
	if hook != nil {
		hook(call.Name, elapsed, err)
	}

	if err != nil {
		r.log.Info("tools: call failed", "tool", call.Name, "err", err)
		resp.Result = fmt.Sprintf("Error: %v", err)
		return resp
	}
	r.log.Debug("tools: call succeeded", "tool", call.Name, "duration", elapsed)
	resp.Result = out
	return resp
}
