// Package live defines the Provider interface for realtime multimodal voice
// backends such as the Gemini Live API.
//
// A live provider wraps a hosted model that consumes a continuous stream of
// microphone audio and image frames and answers with synthesised speech and
// tool calls in a single, stateful session. Everything the remote side sends
// is surfaced as a single ordered stream of [Event] values so that one
// consumer can dispatch them without additional locking.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"
)

// MIME types used on the wire.
const (
	// MIMEAudioIn is the MIME type of outbound microphone audio.
	MIMEAudioIn = "audio/pcm;rate=16000"

	// MIMEAudioOut is the MIME type of synthesised speech returned by the model.
	MIMEAudioOut = "audio/pcm;rate=24000"

	// MIMEJPEG is the MIME type of outbound image frames.
	MIMEJPEG = "image/jpeg"
)

// ErrClosed is returned by Session methods called after Close.
var ErrClosed = errors.New("live: session closed")

// MediaChunk is one base64-encoded media payload together with its MIME type.
// It is used in both directions: outbound audio and image frames, and inbound
// synthesised audio.
type MediaChunk struct {
	// MIMEType identifies the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string `json:"mimeType"`

	// Data is the standard base64 encoding of the payload bytes.
	Data string `json:"data"`
}

// ToolDefinition describes a function the model may call during a session.
type ToolDefinition struct {
	// Name is the function name the model uses to invoke the tool.
	Name string

	// Description tells the model when and how to use the tool.
	Description string

	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// ToolCall is a single function invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its response. May be empty for providers
	// that do not assign call IDs.
	ID string

	// Name is the requested function name.
	Name string

	// Args holds the decoded JSON arguments.
	Args map[string]any
}

// ToolResponse is the result of a ToolCall, sent back to the model.
type ToolResponse struct {
	// ID echoes ToolCall.ID.
	ID string

	// Name echoes ToolCall.Name.
	Name string

	// Result is the textual outcome reported to the model. Failures are
	// reported here too, as natural-language text.
	Result string
}

// EventKind discriminates the variants of [Event].
type EventKind int

const (
	// EventAudio carries one inbound synthesised audio chunk in Event.Audio.
	EventAudio EventKind = iota

	// EventToolCall carries one or more tool calls in Event.ToolCalls.
	EventToolCall

	// EventInterrupted signals that the model detected user barge-in and
	// abandoned its current turn.
	EventInterrupted

	// EventTurnComplete signals that the model finished generating a turn.
	EventTurnComplete

	// EventTranscript carries a transcription fragment in Event.Text.
	// Event.Role is "user" for input transcription and "model" for output.
	EventTranscript

	// EventError reports a fatal transport or protocol failure in Event.Err.
	// No further events follow except EventClosed.
	EventError

	// EventClosed is always the final event of a session.
	EventClosed
)

// String returns a short lowercase name for the kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventToolCall:
		return "tool_call"
	case EventInterrupted:
		return "interrupted"
	case EventTurnComplete:
		return "turn_complete"
	case EventTranscript:
		return "transcript"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a tagged union of everything a session can deliver. Only the
// fields relevant to Kind are populated.
type Event struct {
	Kind      EventKind
	Audio     MediaChunk
	ToolCalls []ToolCall
	Text      string
	Role      string
	Err       error
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Voice is the provider-specific prebuilt voice name, e.g. "Puck".
	Voice string

	// Instructions is the system instruction defining the assistant persona.
	Instructions string

	// Tools is the set of functions offered to the model for the lifetime of
	// the session.
	Tools []ToolDefinition
}

// Session is a live, bidirectional connection to a realtime model.
//
// Events must be drained by the caller; providers block their receive loop
// while the events channel is full. The channel is closed after EventClosed
// has been delivered.
type Session interface {
	// SendMedia streams one realtime media chunk (audio or image) to the
	// model. It does not wait for any acknowledgement.
	SendMedia(ctx context.Context, chunk MediaChunk) error

	// SendText injects a complete user turn containing text, e.g. extracted
	// document content.
	SendText(ctx context.Context, text string) error

	// SendToolResponse answers one or more tool calls.
	SendToolResponse(ctx context.Context, responses ...ToolResponse) error

	// Events returns the ordered inbound event stream.
	Events() <-chan Event

	// Close terminates the session. It is safe to call multiple times.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect opens a new session. It returns once the remote side has
	// accepted the session setup and the session is ready to receive media.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)

	// Name returns the registry name of the provider, e.g. "gemini".
	Name() string
}
