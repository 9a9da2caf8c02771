// Package hub fans session events and photos out to websocket observers.
// One Run goroutine owns the client set; each client has its own write
// goroutine and a bounded send queue.
package hub

import "github.com/gofiber/websocket/v2"

// Kind is the frame kind an observer receives.
type Kind int

const (
	// JSONMessage carries an encoded event or status snapshot.
	JSONMessage Kind = iota
	// BinaryMessage carries a JPEG still.
	BinaryMessage
)

// Message is one frame queued for every observer.
type Message struct {
	Type Kind
	Data []byte
}

// NewJSONMessage wraps already encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps raw bytes.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// opcode maps the kind to a websocket message type.
func (m Message) opcode() int {
	if m.Type == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
