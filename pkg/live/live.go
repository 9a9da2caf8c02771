// Package live is the transport to a streaming conversational-audio
// backend. It exposes a small message model shared by the websocket, GenAI
// SDK and mock implementations.
package live

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by connections.
var (
	ErrClosed        = errors.New("live: connection closed")
	ErrMissingAPIKey = errors.New("live: missing API key")
)

// Credentials authenticate a connection.
type Credentials struct {
	APIKey string
}

// Tool is a function the model may call.
type Tool struct {
	// Name is the unique identifier for the tool (e.g., "go_to_next_step").
	Name string `json:"name"`

	// Description explains what the tool does.
	Description string `json:"description"`

	// Parameters is an optional JSON schema for the arguments.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Setup is sent once when a connection opens.
type Setup struct {
	Model        string
	Voice        string
	Instructions string
	Tools        []Tool
}

// ToolCall is an invocation of a tool by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResponse answers one ToolCall.
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// AudioPart is one inline audio payload, already base64-decoded.
type AudioPart struct {
	Data     []byte
	MIMEType string
}

// ServerMessage is one inbound message. Several fields may be set at once.
type ServerMessage struct {
	SetupComplete bool
	Interrupted   bool
	TurnComplete  bool

	Audio []AudioPart
	Text  []string

	ToolCalls             []ToolCall
	ToolCallCancellations []string

	GoAway         bool
	GoAwayTimeLeft time.Duration
}

// Empty reports whether the message carries nothing the session acts on.
func (m *ServerMessage) Empty() bool {
	return !m.SetupComplete && !m.Interrupted && !m.TurnComplete &&
		len(m.Audio) == 0 && len(m.Text) == 0 && len(m.ToolCalls) == 0 &&
		len(m.ToolCallCancellations) == 0 && !m.GoAway
}

// Dialer opens connections.
type Dialer interface {
	// Dial connects and sends setup. It returns once the transport is open;
	// the setup acknowledgement arrives later through Receive.
	Dial(ctx context.Context, creds Credentials, setup Setup) (Conn, error)
}

// Conn is one open backend connection. Send methods are safe for
// concurrent use. Receive must be called from a single goroutine.
type Conn interface {
	// SendAudio streams a realtime audio chunk.
	SendAudio(data []byte, mimeType string) error

	// SendText sends a complete user turn.
	SendText(text string) error

	// SendMedia streams an inline media chunk such as a JPEG still.
	SendMedia(data []byte, mimeType string) error

	// SendToolResponses answers tool calls.
	SendToolResponses(responses []ToolResponse) error

	// Receive returns the next message. After Close it returns ErrClosed;
	// after a remote close it returns an error describing it.
	Receive(ctx context.Context) (*ServerMessage, error)

	// Close closes the connection. It is safe to call Close multiple times.
	Close() error
}
