package tools

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/uplink/pkg/provider/live"
)

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

// echoTool returns a Tool that echoes its args back as the result.
func echoTool(name string) Tool {
	return Tool{
		Definition: live.ToolDefinition{Name: name, Description: "echoes args"},
		Handler: func(_ context.Context, args string) (string, error) {
			return args, nil
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────────────────────────────────

func TestRegister_OrderAndDefinitions(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	if err := r.Register(echoTool("b"), echoTool("a")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "b" || defs[1].Name != "a" {
		t.Errorf("Definitions = %+v; want [b a]", defs)
	}
	if names := r.Names(); len(names) != 2 || names[0] != "b" {
		t.Errorf("Names = %v", names)
	}
}

func TestRegister_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tool Tool
	}{
		{"empty name", Tool{Handler: echoTool("x").Handler}},
		{"nil handler", Tool{Definition: live.ToolDefinition{Name: "x"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := NewRegistry().Register(tc.tool); err == nil {
				t.Error("expected error")
			}
		})
	}

	r := NewRegistry()
	_ = r.Register(echoTool("dup"))
	if err := r.Register(echoTool("dup")); !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v; want ErrDuplicate", err)
	}
}

func TestExecute_Success(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_ = r.Register(echoTool("echo"))

	resp := r.Execute(context.Background(), live.ToolCall{
		ID: "c1", Name: "echo", Args: map[string]any{"x": 1},
	})
	if resp.ID != "c1" || resp.Name != "echo" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Result != `{"x":1}` {
		t.Errorf("Result = %q", resp.Result)
	}
}

func TestExecute_NilArgsBecomeEmptyObject(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_ = r.Register(echoTool("echo"))
	if got := r.Execute(context.Background(), live.ToolCall{Name: "echo"}).Result; got != "{}" {
		t.Errorf("Result = %q; want {}", got)
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	t.Parallel()
	resp := NewRegistry().Execute(context.Background(), live.ToolCall{ID: "c", Name: "nope"})
	if resp.ID != "c" || !strings.Contains(resp.Result, "unknown tool") {
		t.Errorf("resp = %+v", resp)
	}
}

func TestExecute_HandlerErrorIsText(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	var hooked atomic.Int32
	r.OnCall(func(name string, _ time.Duration, err error) {
		if name == "fail" && err != nil {
			hooked.Add(1)
		}
	})
	_ = r.Register(Tool{
		Definition: live.ToolDefinition{Name: "fail"},
		Handler: func(context.Context, string) (string, error) {
			return "", errors.New("boom")
		},
	})
	resp := r.Execute(context.Background(), live.ToolCall{Name: "fail"})
	if resp.Result != "Error: boom" {
		t.Errorf("Result = %q", resp.Result)
	}
	if hooked.Load() != 1 {
		t.Errorf("hook calls = %d; want 1", hooked.Load())
	}
}

func TestExecute_Timeout(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_ = r.Register(Tool{
		Definition: live.ToolDefinition{Name: "slow"},
		Timeout:    20 * time.Millisecond,
		Handler: func(ctx context.Context, _ string) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(5 * time.Second):
				return "late", nil
			}
		},
	})
	start := time.Now()
	resp := r.Execute(context.Background(), live.ToolCall{Name: "slow"})
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not enforced")
	}
	if !strings.Contains(resp.Result, "deadline exceeded") {
		t.Errorf("Result = %q", resp.Result)
	}
}
