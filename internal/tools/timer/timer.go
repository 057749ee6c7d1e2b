// Package timer provides the countdown board shown on the HUD and the tools
// the model uses to manage it.
//
// Two tools are exported via [Tools]:
//   - "setTimer"    starts a countdown of a given number of seconds.
//   - "cancelTimer" removes a running countdown by id or label.
//
// A [Board] does not tick by itself; call [Board.Run] in a goroutine or drive
// [Board.Tick] manually.
package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/uplink/internal/tools"
	"github.com/MrWong99/uplink/pkg/provider/live"
)

// DefaultLabel is used when the model does not name a timer.
const DefaultLabel = "Minuteur"

// MaxDuration is the longest countdown accepted, in seconds.
const MaxDuration = 24 * 60 * 60

// ErrNotFound is returned by Cancel when no timer matches.
var ErrNotFound = errors.New("timer: no matching timer")

// Entry is a single countdown. Durations are whole seconds.
type Entry struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Duration  int    `json:"duration"`
	Remaining int    `json:"remaining"`
}

// Board holds the running countdowns in creation order. It is safe for
// concurrent use.
type Board struct {
	mu       sync.Mutex
	entries  []Entry
	onChange []func([]Entry)
	onExpire []func(Entry)
	log      *slog.Logger
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{log: slog.Default()}
}

// OnChange registers fn to receive a snapshot after every mutation. fn runs
// synchronously and must not call back into the Board.
func (b *Board) OnChange(fn func([]Entry)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = append(b.onChange, fn)
}

// OnExpire registers fn to be called for each timer that reaches zero.
func (b *Board) OnExpire(fn func(Entry)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onExpire = append(b.onExpire, fn)
}

// Add starts a countdown. Fractional seconds round up. An empty label becomes
// [DefaultLabel].
func (b *Board) Add(seconds float64, label string) (Entry, error) {
	if math.IsNaN(seconds) || seconds <= 0 {
		return Entry{}, fmt.Errorf("timer: duration must be positive, got %v", seconds)
	}
	if seconds > MaxDuration {
		return Entry{}, fmt.Errorf("timer: duration %v exceeds %d seconds", seconds, MaxDuration)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultLabel
	}
	d := int(math.Ceil(seconds))
	e := Entry{ID: uuid.NewString(), Label: label, Duration: d, Remaining: d}

	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.changedLocked()
	b.mu.Unlock()

	b.log.Info("timer: started", "id", e.ID, "label", e.Label, "seconds", d)
	return e, nil
}

// Cancel removes the first timer whose ID equals key, or else the first whose
// label matches key case-insensitively.
func (b *Board) Cancel(key string) (Entry, error) {
	key = strings.TrimSpace(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.IndexFunc(b.entries, func(e Entry) bool { return e.ID == key })
	if i < 0 {
		i = slices.IndexFunc(b.entries, func(e Entry) bool { return strings.EqualFold(e.Label, key) })
	}
	if i < 0 {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	e := b.entries[i]
	b.entries = slices.Delete(b.entries, i, i+1)
	b.changedLocked()
	return e, nil
}

// Tick advances every countdown by one second and drops those that reached
// zero. It returns the expired entries.
func (b *Board) Tick() []Entry {
	b.mu.Lock()
	if len(b.entries) == 0 {
		b.mu.Unlock()
		return nil
	}
	var expired []Entry
	kept := b.entries[:0]
	for _, e := range b.entries {
		e.Remaining = max(0, e.Remaining-1)
		if e.Remaining > 0 {
			kept = append(kept, e)
		} else {
			expired = append(expired, e)
		}
	}
	b.entries = kept
	b.changedLocked()
	hooks := slices.Clone(b.onExpire)
	b.mu.Unlock()

	for _, e := range expired {
		b.log.Info("timer: expired", "id", e.ID, "label", e.Label)
		for _, fn := range hooks {
			fn(e)
		}
	}
	return expired
}

// Snapshot returns a copy of the running countdowns.
func (b *Board) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.entries)
}

// Run ticks the board once per second until ctx is cancelled.
func (b *Board) Run(ctx context.Context) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			b.Tick()
		}
	}
}

func (b *Board) changedLocked() {
	if len(b.onChange) == 0 {
		return
	}
	snap := slices.Clone(b.entries)
	for _, fn := range b.onChange {
		fn(snap)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tools
// ─────────────────────────────────────────────────────────────────────────────

type setArgs struct {
	Duration float64 `json:"duration"`
	Label    string  `json:"label"`
}

type cancelArgs struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Tools returns the setTimer and cancelTimer tools bound to b.
func Tools(b *Board) []tools.Tool {
	return []tools.Tool{
		{
			Definition: live.ToolDefinition{
				Name:        "setTimer",
				Description: "Start a countdown timer shown on the user's display.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"duration": map[string]any{"type": "number", "description": "Length of the countdown in seconds."},
						"label":    map[string]any{"type": "string", "description": "Short name shown next to the countdown."},
					},
					"required": []string{"duration"},
				},
			},
			Handler: func(_ context.Context, args string) (string, error) {
				var a setArgs
				if err := json.Unmarshal([]byte(args), &a); err != nil {
					return "", fmt.Errorf("timer: failed to parse arguments: %w", err)
				}
				e, err := b.Add(a.Duration, a.Label)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Timer %q set for %d seconds (id %s).", e.Label, e.Duration, e.ID), nil
			},
		},
		{
			Definition: live.ToolDefinition{
				Name:        "cancelTimer",
				Description: "Cancel a running countdown timer by id or label.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":    map[string]any{"type": "string"},
						"label": map[string]any{"type": "string"},
					},
				},
			},
			Handler: func(_ context.Context, args string) (string, error) {
				var a cancelArgs
				if err := json.Unmarshal([]byte(args), &a); err != nil {
					return "", fmt.Errorf("timer: failed to parse arguments: %w", err)
				}
				key := a.ID
				if key == "" {
					key = a.Label
				}
				if key == "" {
					return "", errors.New("timer: id or label is required")
				}
				e, err := b.Cancel(key)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Timer %q cancelled with %d seconds remaining.", e.Label, e.Remaining), nil
			},
		},
	}
}
