package live

import (
	"context"
	"sync"
)

// MockDialer is a Dialer for tests. Each Dial returns a new MockConn.
type MockDialer struct {
	mu      sync.Mutex
	conns   []*MockConn
	creds   []Credentials
	setups  []Setup
	dialErr error
	autoAck bool
	onDial  func(*MockConn)
}

// NewMockDialer creates a mock dialer.
func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

// SimulateDialError makes subsequent Dial calls fail with err. Pass nil to
// clear.
func (d *MockDialer) SimulateDialError(err error) {
	d.mu.Lock()
	d.dialErr = err
	d.mu.Unlock()
}

// SetAutoAck makes new connections deliver SetupComplete immediately.
func (d *MockDialer) SetAutoAck(v bool) {
	d.mu.Lock()
	d.autoAck = v
	d.mu.Unlock()
}

// OnDial installs a hook called with each new connection before Dial
// returns.
func (d *MockDialer) OnDial(fn func(*MockConn)) {
	d.mu.Lock()
	d.onDial = fn
	d.mu.Unlock()
}

// Dial records the call and returns a MockConn.
func (d *MockDialer) Dial(ctx context.Context, creds Credentials, setup Setup) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.creds = append(d.creds, creds)
	d.setups = append(d.setups, setup)
	if d.dialErr != nil {
		err := d.dialErr
		d.mu.Unlock()
		return nil, err
	}
	c := NewMockConn()
	d.conns = append(d.conns, c)
	autoAck, hook := d.autoAck, d.onDial
	d.mu.Unlock()

	if autoAck {
		c.Deliver(&ServerMessage{SetupComplete: true})
	}
	if hook != nil {
		hook(c)
	}
	return c, nil
}

// Dials returns the number of Dial calls.
func (d *MockDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.creds)
}

// Conn returns the i-th connection, or nil.
func (d *MockDialer) Conn(i int) *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// Last returns the most recent connection, or nil.
func (d *MockDialer) Last() *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Credentials returns the credentials of the i-th Dial call.
func (d *MockDialer) Credentials(i int) Credentials {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creds[i]
}

// Setup returns the setup of the i-th Dial call.
func (d *MockDialer) Setup(i int) Setup {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setups[i]
}

// MockConn is an in-memory Conn recording everything sent.
type MockConn struct {
	msgs chan *ServerMessage

	mu            sync.Mutex
	audio         [][]byte
	texts         []string
	media         [][]byte
	toolResponses []ToolResponse
	sendErr       error
	failErr       error
	closed        bool
	done          chan struct{}
}

// NewMockConn creates an open mock connection.
func NewMockConn() *MockConn {
	return &MockConn{
		msgs: make(chan *ServerMessage, 256),
		done: make(chan struct{}),
	}
}

// Deliver queues an inbound message.
func (c *MockConn) Deliver(msg *ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.msgs <- msg
}

// Fail simulates a remote close. Receive returns err after queued messages
// are consumed.
func (c *MockConn) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.failErr = err
	close(c.done)
}

// SimulateSendError makes Send calls fail with err.
func (c *MockConn) SimulateSendError(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *MockConn) SendAudio(data []byte, mimeType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendErrLocked(); err != nil {
		return err
	}
	c.audio = append(c.audio, data)
	return nil
}

func (c *MockConn) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendErrLocked(); err != nil {
		return err
	}
	c.texts = append(c.texts, text)
	return nil
}

func (c *MockConn) SendMedia(data []byte, mimeType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendErrLocked(); err != nil {
		return err
	}
	c.media = append(c.media, data)
	return nil
}

func (c *MockConn) SendToolResponses(responses []ToolResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendErrLocked(); err != nil {
		return err
	}
	c.toolResponses = append(c.toolResponses, responses...)
	return nil
}

func (c *MockConn) sendErrLocked() error {
	if c.closed {
		return ErrClosed
	}
	return c.sendErr
}

func (c *MockConn) Receive(ctx context.Context) (*ServerMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-c.msgs:
		return msg, nil
	case <-c.done:
		select {
		case msg := <-c.msgs:
			return msg, nil
		default:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.failErr != nil {
			return nil, c.failErr
		}
		return nil, ErrClosed
	}
}

func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}

// Closed reports whether the connection was closed locally or failed.
func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Audio returns the audio payloads sent so far.
func (c *MockConn) Audio() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.audio...)
}

// Texts returns the text turns sent so far.
func (c *MockConn) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

// Media returns the media chunks sent so far.
func (c *MockConn) Media() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.media...)
}

// ToolResponses returns the tool responses sent so far.
func (c *MockConn) ToolResponses() []ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ToolResponse(nil), c.toolResponses...)
}

var (
	_ Dialer = (*MockDialer)(nil)
	_ Conn   = (*MockConn)(nil)
)
