// Package status implements the session lifecycle state machine shown to the
// user: IDLE, CONNECTING, LISTENING, SPEAKING and ERROR.
//
// Transitions are driven by events and validated against a fixed table.
// Observers are notified synchronously after every effective change.
package status

import (
	"errors"
	"fmt"
	"sync"
)

// Status is the user-visible lifecycle state of the assistant.
type Status int

const (
	Idle Status = iota
	Connecting
	Listening
	Speaking
	Error
)

// String returns the upper-case name used by the HUD.
func (s Status) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Listening:
		return "LISTENING"
	case Speaking:
		return "SPEAKING"
	case Error:
		return "ERROR"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	for c := Idle; c <= Error; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("status: unknown status %q", b)
}

// Event drives a transition.
type Event int

const (
	// Connect is fired when the user asks to start a session.
	Connect Event = iota
	// Opened is fired when the remote session accepted the setup.
	Opened
	// Audio is fired when an inbound audio chunk was scheduled for playback.
	Audio
	// Drained is fired when the last scheduled playback unit finished.
	Drained
	// Interrupted is fired when the remote side reported a barge-in.
	Interrupted
	// Failed is fired on device or transport failure.
	Failed
	// Closed is fired when the session ended, locally or remotely.
	Closed
)

// String returns a lowercase event name.
func (e Event) String() string {
	switch e {
	case Connect:
		return "connect"
	case Opened:
		return "opened"
	case Audio:
		return "audio"
	case Drained:
		return "drained"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// ErrInvalidTransition is returned by Fire when the event is not allowed in
// the current state. The state is left untouched.
var ErrInvalidTransition = errors.New("status: invalid transition")

// transitions maps each event to the states it may fire from and the target.
// Failed and Closed are accepted from every state.
var transitions = map[Event]struct {
	from []Status
	to   Status
}{
	Connect:     {from: []Status{Idle, Error}, to: Connecting},
	Opened:      {from: []Status{Connecting}, to: Listening},
	Audio:       {from: []Status{Listening, Speaking}, to: Speaking},
	Drained:     {from: []Status{Listening, Speaking}, to: Listening},
	Interrupted: {from: []Status{Listening, Speaking}, to: Listening},
	Failed:      {to: Error},
	Closed:      {to: Idle},
}

// Next returns the state reached by firing ev in from, without side effects.
func Next(from Status, ev Event) (Status, error) {
	t, ok := transitions[ev]
	if !ok {
		return from, fmt.Errorf("%w: unknown event %s", ErrInvalidTransition, ev)
	}
	if t.from == nil {
		return t.to, nil
	}
	for _, s := range t.from {
		if s == from {
			return t.to, nil
		}
	}
	return from, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, ev, from)
}

// ChangeFunc observes an effective state change.
type ChangeFunc func(from, to Status)

// Machine holds the current Status. It is safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	cur       Status
	observers []ChangeFunc
}

// NewMachine returns a Machine in the Idle state.
func NewMachine() *Machine {
	return &Machine{cur: Idle}
}

// Current returns the current state.
func (m *Machine) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// OnChange registers fn to be called after every effective change. Observers
// run on the goroutine that fired the event, outside the machine's lock.
func (m *Machine) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Fire applies ev and returns the resulting state. Self-transitions such as
// Audio while Speaking are accepted but do not notify observers.
func (m *Machine) Fire(ev Event) (Status, error) {
	m.mu.Lock()
	from := m.cur
	to, err := Next(from, ev)
	if err != nil {
		m.mu.Unlock()
		return from, err
	}
	m.cur = to
	var obs []ChangeFunc
	if to != from {
		obs = append(obs, m.observers...)
	}
	m.mu.Unlock()

	for _, fn := range obs {
		fn(from, to)
	}
	return to, nil
}
