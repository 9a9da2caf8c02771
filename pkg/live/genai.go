package live

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/teslashibe/go-skinvoice/internal/httpc"
)

// GenAIDialer connects through the Google GenAI SDK's live session.
type GenAIDialer struct {
	// HTTPClient overrides the shared httpc client.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// NewGenAIDialer returns an SDK-backed dialer.
func NewGenAIDialer(logger *slog.Logger) *GenAIDialer {
	return &GenAIDialer{Logger: logger}
}

// Dial creates a client and opens a live session. The SDK completes the
// setup exchange inside Connect, so the returned Conn reports
// SetupComplete as its first message.
func (d *GenAIDialer) Dial(ctx context.Context, creds Credentials, setup Setup) (Conn, error) {
	if creds.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hc := d.HTTPClient
	if hc == nil {
		hc = httpc.Client
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     creds.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
	})
	if err != nil {
		return nil, fmt.Errorf("live: genai client: %w", err)
	}

	session, err := client.Live.Connect(ctx, strings.TrimPrefix(setup.Model, "models/"), genaiConfig(setup))
	if err != nil {
		return nil, fmt.Errorf("live: genai connect: %w", err)
	}

	c := &genaiConn{
		session: session,
		logger:  logger,
		msgs:    make(chan *ServerMessage, receiveBuffer),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	c.msgs <- &ServerMessage{SetupComplete: true}
	go c.readLoop()

	logger.Debug("live genai session connected", "model", setup.Model, "voice", setup.Voice)
	return c, nil
}

func genaiConfig(setup Setup) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	}
	if setup.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: setup.Voice},
			},
		}
	}
	if setup.Instructions != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: setup.Instructions}},
		}
	}
	if len(setup.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(setup.Tools))
		for i, t := range setup.Tools {
			decls[i] = &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

type genaiConn struct {
	session *genai.Session
	sendMu  sync.Mutex
	logger  *slog.Logger

	msgs chan *ServerMessage
	done chan struct{}

	errMu   sync.Mutex
	readErr error

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *genaiConn) SendAudio(data []byte, mimeType string) error {
	return c.send(func() error {
		return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Audio: &genai.Blob{Data: data, MIMEType: mimeType},
		})
	})
}

func (c *genaiConn) SendText(text string) error {
	return c.send(func() error {
		return c.session.SendClientContent(genai.LiveClientContentInput{
			Turns: []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		})
	})
}

func (c *genaiConn) SendMedia(data []byte, mimeType string) error {
	return c.send(func() error {
		return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Video: &genai.Blob{Data: data, MIMEType: mimeType},
		})
	})
}

func (c *genaiConn) SendToolResponses(responses []ToolResponse) error {
	out := make([]*genai.FunctionResponse, len(responses))
	for i, r := range responses {
		out[i] = &genai.FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Response}
	}
	return c.send(func() error {
		return c.session.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: out})
	})
}

func (c *genaiConn) send(fn func() error) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return fn()
}

func (c *genaiConn) Receive(ctx context.Context) (*ServerMessage, error) {
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
		c.errMu.Lock()
		defer c.errMu.Unlock()
		return nil, c.readErr
	}
}

func (c *genaiConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.session.Close()
	})
	return err
}

func (c *genaiConn) readLoop() {
	defer close(c.done)

	for {
		in, err := c.session.Receive()
		if err != nil {
			c.errMu.Lock()
			select {
			case <-c.closed:
				c.readErr = ErrClosed
			default:
				c.readErr = fmt.Errorf("live: genai receive: %w", err)
			}
			c.errMu.Unlock()
			return
		}

		msg := fromGenAI(in)
		if msg.Empty() {
			continue
		}
		select {
		case c.msgs <- msg:
		case <-c.closed:
			c.errMu.Lock()
			c.readErr = ErrClosed
			c.errMu.Unlock()
			return
		}
	}
}

// fromGenAI converts an SDK message. The setup acknowledgement was already
// synthesized at dial time and is dropped here.
func fromGenAI(in *genai.LiveServerMessage) *ServerMessage {
	msg := &ServerMessage{}
	if in == nil {
		return msg
	}

	if sc := in.ServerContent; sc != nil {
		msg.Interrupted = sc.Interrupted
		msg.TurnComplete = sc.TurnComplete
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p == nil {
					continue
				}
				if p.InlineData != nil && len(p.InlineData.Data) > 0 {
					msg.Audio = append(msg.Audio, AudioPart{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType})
				}
				if p.Text != "" {
					msg.Text = append(msg.Text, p.Text)
				}
			}
		}
	}

	if tc := in.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}

	if c := in.ToolCallCancellation; c != nil {
		msg.ToolCallCancellations = c.IDs
	}

	msg.GoAway = in.GoAway != nil
	return msg
}
