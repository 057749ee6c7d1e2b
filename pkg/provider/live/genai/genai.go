// Package genai implements the live.Provider interface on top of the official
// Google Gen AI Go SDK (google.golang.org/genai).
//
// It is functionally equivalent to the raw WebSocket provider in package
// gemini but delegates wire handling, authentication and backend selection to
// the SDK. The SDK delivers inline audio as raw bytes; they are re-encoded as
// base64 so that every live.MediaChunk has the same representation regardless
// of the provider.
package genai

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/MrWong99/uplink/pkg/provider/live"
	sdk "google.golang.org/genai"
)

var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const defaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the SDK's API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements live.Provider using the Gen AI SDK.
type Provider struct {
	apiKey  string
	model   string
	baseURL string

	once      sync.Once
	client    *sdk.Client
	clientErr error
}

// New creates a Provider. The SDK client is created lazily on first Connect.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: defaultModel}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns "genai".
func (p *Provider) Name() string { return "genai" }

func (p *Provider) sdkClient(ctx context.Context) (*sdk.Client, error) {
	p.once.Do(func() {
		cc := &sdk.ClientConfig{
			APIKey:  p.apiKey,
			Backend: sdk.BackendGeminiAPI,
		}
		if p.baseURL != "" {
			cc.HTTPOptions = sdk.HTTPOptions{BaseURL: p.baseURL}
		}
		p.client, p.clientErr = sdk.NewClient(ctx, cc)
	})
	return p.client, p.clientErr
}

// Connect opens a live session through the SDK.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	client, err := p.sdkClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("genai: client: %w", err)
	}

	ls, err := client.Live.Connect(ctx, p.model, liveConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}

	return newSession(ls), nil
}

// liveConfig maps a session config onto the SDK's connect config.
func liveConfig(cfg live.SessionConfig) *sdk.LiveConnectConfig {
	conf := &sdk.LiveConnectConfig{
		ResponseModalities: []sdk.Modality{sdk.ModalityAudio},
	}
	if cfg.Voice != "" {
		conf.SpeechConfig = &sdk.SpeechConfig{
			VoiceConfig: &sdk.VoiceConfig{
				PrebuiltVoiceConfig: &sdk.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		conf.SystemInstruction = sdk.NewContentFromText(cfg.Instructions, sdk.RoleUser)
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*sdk.FunctionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = &sdk.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			}
		}
		conf.Tools = []*sdk.Tool{{FunctionDeclarations: decls}}
	}

	return conf
}

// liveConn is the subset of *sdk.Session the session drives.
type liveConn interface {
	Receive() (*sdk.LiveServerMessage, error)
	SendRealtimeInput(input sdk.LiveRealtimeInput) error
	SendClientContent(input sdk.LiveClientContentInput) error
	SendToolResponse(input sdk.LiveToolResponseInput) error
	Close() error
}

type session struct {
	ls     liveConn
	events chan live.Event

	// The SDK writes to a single websocket without locking it.
	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func newSession(ls liveConn) *session {
	s := &session{
		ls:     ls,
		events: make(chan live.Event, 64),
		done:   make(chan struct{}),
	}
	go s.receiveLoop()
	return s
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) receiveLoop() {
	defer close(s.events)
	defer s.emit(live.Event{Kind: live.EventClosed})

	for {
		msg, err := s.ls.Receive()
		if err != nil {
			if !s.isClosed() {
				s.emit(live.Event{Kind: live.EventError, Err: fmt.Errorf("genai: receive: %w", err)})
			}
			return
		}
		if !s.translate(msg) {
			return
		}
	}
}

// emit delivers ev unless the session was closed locally.
func (s *session) emit(ev live.Event) bool {
	if ev.Kind == live.EventClosed {
		// Best effort: the consumer may already be gone.
		select {
		case s.events <- ev:
		default:
		}
		return true
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *session) translate(msg *sdk.LiveServerMessage) bool {
	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			return s.emit(live.Event{Kind: live.EventInterrupted})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p == nil {
					continue
				}
				if p.InlineData != nil && len(p.InlineData.Data) > 0 {
					chunk := live.MediaChunk{
						MIMEType: p.InlineData.MIMEType,
						Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
					}
					if !s.emit(live.Event{Kind: live.EventAudio, Audio: chunk}) {
						return false
					}
				}
				if p.Text != "" && !s.emit(live.Event{Kind: live.EventTranscript, Role: "model", Text: p.Text}) {
					return false
				}
			}
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			if !s.emit(live.Event{Kind: live.EventTranscript, Role: "user", Text: sc.InputTranscription.Text}) {
				return false
			}
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			if !s.emit(live.Event{Kind: live.EventTranscript, Role: "model", Text: sc.OutputTranscription.Text}) {
				return false
			}
		}
		if sc.TurnComplete && !s.emit(live.Event{Kind: live.EventTurnComplete}) {
			return false
		}
	}
	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]live.ToolCall, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			calls = append(calls, live.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		return s.emit(live.Event{Kind: live.EventToolCall, ToolCalls: calls})
	}
	return true
}

// SendMedia forwards a realtime media chunk. The SDK expects raw bytes, so
// the chunk's base64 payload is decoded first.
func (s *session) SendMedia(_ context.Context, chunk live.MediaChunk) error {
	if s.isClosed() {
		return live.ErrClosed
	}
	data, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return fmt.Errorf("genai: decode media: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ls.SendRealtimeInput(sdk.LiveRealtimeInput{
		Media: &sdk.Blob{MIMEType: chunk.MIMEType, Data: data},
	})
}

// SendText sends a user content turn.
func (s *session) SendText(_ context.Context, text string) error {
	if s.isClosed() {
		return live.ErrClosed
	}
	if text == "" {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ls.SendClientContent(sdk.LiveClientContentInput{
		Turns: []*sdk.Content{sdk.NewContentFromText(text, sdk.RoleUser)},
	})
}

// SendToolResponse answers tool calls with {"result": <text>} payloads.
func (s *session) SendToolResponse(_ context.Context, responses ...live.ToolResponse) error {
	if s.isClosed() {
		return live.ErrClosed
	}
	if len(responses) == 0 {
		return nil
	}
	fr := make([]*sdk.FunctionResponse, len(responses))
	for i, r := range responses {
		fr[i] = &sdk.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]any{"result": r.Result},
		}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ls.SendToolResponse(sdk.LiveToolResponseInput{FunctionResponses: fr})
}

// Events returns the inbound event stream.
func (s *session) Events() <-chan live.Event { return s.events }

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	return s.ls.Close()
}
