// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to inject inbound events and inspect what was sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	s, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.Event{Kind: live.EventInterrupted})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/uplink/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by Connect. If nil, Connect returns a fresh Session.
	Session live.Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Gate, if non-nil, makes Connect block until it is closed or ctx ends.
	// Used to simulate a slow connection handshake.
	Gate chan struct{}

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = nil
}

var _ live.Provider = (*Provider)(nil)

// Session is a mock implementation of live.Session.
type Session struct {
	mu sync.Mutex

	emitMu sync.Mutex // guards events and closed
	events chan live.Event
	closed bool

	// sent is signalled (non-blocking) after every recorded send.
	sent chan struct{}

	// --- Configurable errors ---

	// SendMediaErr, if non-nil, is returned by every SendMedia call.
	SendMediaErr error

	// SendTextErr, if non-nil, is returned by every SendText call.
	SendTextErr error

	// SendToolResponseErr, if non-nil, is returned by every SendToolResponse call.
	SendToolResponseErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Recorded calls ---

	// MediaCalls records every chunk passed to SendMedia.
	MediaCalls []live.MediaChunk

	// TextCalls records every text passed to SendText.
	TextCalls []string

	// ToolResponseCalls records every response passed to SendToolResponse.
	ToolResponseCalls []live.ToolResponse

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with a buffered events channel.
func NewSession() *Session {
	return &Session{
		events: make(chan live.Event, 64),
		sent:   make(chan struct{}, 1),
	}
}

// Emit injects an inbound event. It blocks while the buffer is full and is a
// no-op after the session finished.
func (s *Session) Emit(ev live.Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

// Finish delivers EventClosed and closes the events channel, simulating the
// remote side ending the session.
func (s *Session) Finish() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	select {
	case s.events <- live.Event{Kind: live.EventClosed}:
	default: // consumer gone; the closed channel still signals the end
	}
	close(s.events)
}

// Sent is signalled after every recorded send call.
func (s *Session) Sent() <-chan struct{} { return s.sent }

func (s *Session) notify() {
	select {
	case s.sent <- struct{}{}:
	default:
	}
}

// SendMedia records the chunk and returns SendMediaErr.
func (s *Session) SendMedia(_ context.Context, chunk live.MediaChunk) error {
	s.mu.Lock()
	defer s.notify()
	defer s.mu.Unlock()
	if s.SendMediaErr != nil {
		return s.SendMediaErr
	}
	s.MediaCalls = append(s.MediaCalls, chunk)
	return nil
}

// SendText records the text and returns SendTextErr.
func (s *Session) SendText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.notify()
	defer s.mu.Unlock()
	if s.SendTextErr != nil {
		return s.SendTextErr
	}
	s.TextCalls = append(s.TextCalls, text)
	return nil
}

// SendToolResponse records the responses and returns SendToolResponseErr.
func (s *Session) SendToolResponse(_ context.Context, responses ...live.ToolResponse) error {
	s.mu.Lock()
	defer s.notify()
	defer s.mu.Unlock()
	if s.SendToolResponseErr != nil {
		return s.SendToolResponseErr
	}
	s.ToolResponseCalls = append(s.ToolResponseCalls, responses...)
	return nil
}

// Events returns the events channel.
func (s *Session) Events() <-chan live.Event { return s.events }

// Close records the call, finishes the event stream and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	err := s.CloseErr
	s.mu.Unlock()
	s.Finish()
	return err
}

// Media returns a copy of the recorded media chunks. Thread-safe.
func (s *Session) Media() []live.MediaChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.MediaChunk(nil), s.MediaCalls...)
}

// Texts returns a copy of the recorded texts. Thread-safe.
func (s *Session) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.TextCalls...)
}

// ToolResponses returns a copy of the recorded tool responses. Thread-safe.
func (s *Session) ToolResponses() []live.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]live.ToolResponse(nil), s.ToolResponseCalls...)
}

// Closes returns CloseCallCount. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

var _ live.Session = (*Session)(nil)
