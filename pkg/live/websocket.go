package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-skinvoice/internal/httpc"
)

const (
	// DefaultURL is the Gemini Live API WebSocket endpoint.
	DefaultURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultPingInterval = 20 * time.Second
	writeTimeout        = 10 * time.Second
	receiveBuffer       = 64
)

// WebsocketDialer connects with gorilla/websocket and speaks the
// BidiGenerateContent JSON protocol directly.
type WebsocketDialer struct {
	// URL overrides DefaultURL.
	URL string

	// Dialer overrides the shared httpc websocket dialer.
	Dialer *websocket.Dialer

	// PingInterval is the keepalive period. Zero uses 20s, negative
	// disables pings.
	PingInterval time.Duration

	Logger *slog.Logger
}

// NewWebsocketDialer returns a dialer for the public endpoint.
func NewWebsocketDialer(logger *slog.Logger) *WebsocketDialer {
	return &WebsocketDialer{Logger: logger}
}

// Dial opens the socket and sends setup.
func (d *WebsocketDialer) Dial(ctx context.Context, creds Credentials, setup Setup) (Conn, error) {
	if creds.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := d.URL
	if base == "" {
		base = DefaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("live: parse url: %w", err)
	}
	q := u.Query()
	q.Set("key", creds.APIKey)
	u.RawQuery = q.Encode()

	dialer := d.Dialer
	if dialer == nil {
		dialer = httpc.WebsocketDialer(0)
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("live: failed to connect (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("live: failed to connect: %w", err)
	}

	c := &wsConn{
		ws:     ws,
		logger: logger,
		msgs:   make(chan *ServerMessage, receiveBuffer),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}

	if err := c.writeJSON(newSetup(setup)); err != nil {
		ws.Close()
		return nil, fmt.Errorf("live: failed to send setup: %w", err)
	}

	go c.readLoop()

	interval := d.PingInterval
	if interval == 0 {
		interval = defaultPingInterval
	}
	if interval > 0 {
		go c.pingLoop(interval)
	}

	logger.Debug("live websocket connected", "model", setup.Model, "voice", setup.Voice)
	return c, nil
}

type wsConn struct {
	ws     *websocket.Conn
	wsMu   sync.Mutex
	logger *slog.Logger

	msgs chan *ServerMessage
	done chan struct{} // closed when readLoop exits

	errMu   sync.Mutex
	readErr error

	closeOnce sync.Once
	closed    chan struct{} // closed by Close
}

func (c *wsConn) SendAudio(data []byte, mimeType string) error {
	return c.writeJSON(audioMessage(data, mimeType))
}

func (c *wsConn) SendText(text string) error {
	return c.writeJSON(textMessage(text))
}

func (c *wsConn) SendMedia(data []byte, mimeType string) error {
	return c.writeJSON(mediaMessage(data, mimeType))
}

func (c *wsConn) SendToolResponses(responses []ToolResponse) error {
	return c.writeJSON(toolResponseMessage(responses))
}

func (c *wsConn) Receive(ctx context.Context) (*ServerMessage, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-c.msgs:
		return msg, nil
	case <-c.done:
		// Drain anything read before the socket closed.
		select {
		case msg := <-c.msgs:
			return msg, nil
		default:
		}
		return nil, c.err()
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.wsMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wsMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.setErr(err)
			return
		}

		var wire serverMessage
		if err := json.Unmarshal(data, &wire); err != nil {
			c.logger.Debug("live: failed to parse message", "error", err)
			continue
		}
		msg, bad := wire.decode()
		if bad > 0 {
			c.logger.Debug("live: skipped undecodable audio parts", "count", bad)
		}
		if msg.Empty() {
			continue
		}

		select {
		case c.msgs <- msg:
		case <-c.closed:
			c.setErr(ErrClosed)
			return
		}
	}
}

func (c *wsConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.wsMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.wsMu.Unlock()
			if err != nil {
				c.logger.Debug("live: ping failed", "error", err)
				return
			}
		}
	}
}

func (c *wsConn) writeJSON(v any) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *wsConn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr != nil {
		return
	}
	select {
	case <-c.closed:
		c.readErr = ErrClosed
		return
	default:
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		c.readErr = fmt.Errorf("live: closed by server (code %d %q): %w", ce.Code, ce.Text, err)
		return
	}
	c.readErr = fmt.Errorf("live: read failed: %w", err)
}

func (c *wsConn) err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr == nil {
		return ErrClosed
	}
	return c.readErr
}
