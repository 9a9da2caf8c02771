// Package web serves the control and status API used by the wizard step
// controller, plus a websocket stream of session events.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-skinvoice/pkg/hub"
	"github.com/teslashibe/go-skinvoice/pkg/metrics"
	"github.com/teslashibe/go-skinvoice/pkg/persona"
	"github.com/teslashibe/go-skinvoice/pkg/session"
)

// maxRecent is how many published events are kept for /api/events.
const maxRecent = 200

// Controller is the application surface the server drives.
type Controller interface {
	Status() session.Status
	Connect(ctx context.Context) error
	Disconnect()
	SendText(text string) error
	SendImage(data []byte, mimeType string) error
	TakePhoto(ctx context.Context) error
	Persona() persona.Variant
	SetPersona(ctx context.Context, v persona.Variant) error
	Step() int
}

// StatusResponse is the body of GET /api/status and the first message on
// the event stream.
type StatusResponse struct {
	session.Status
	Persona persona.Variant `json:"persona"`
	Step    int             `json:"step"`
}

// Server is the control server.
type Server struct {
	app    *fiber.App
	listen string
	ctrl   Controller
	events *hub.Hub
	logger *slog.Logger

	recent   []json.RawMessage
	recentMu sync.RWMutex
}

// NewServer creates a control server. m may be nil to disable /metrics.
func NewServer(listen string, ctrl Controller, events *hub.Hub, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		listen: listen,
		ctrl:   ctrl,
		events: events,
		logger: logger.With("component", "web"),
		recent: make([]json.RawMessage, 0, maxRecent),
	}

	events.SetWelcome(func() (hub.Message, bool) {
		data, err := json.Marshal(struct {
			Type string `json:"type"`
			StatusResponse
		}{"status", s.status()})
		if err != nil {
			return hub.Message{}, false
		}
		return hub.NewJSONMessage(data), true
	})

	app := fiber.New(fiber.Config{
		AppName:               "skinvoice",
		DisableStartupMessage: true,
		BodyLimit:             8 * 1024 * 1024, // photos
	})

	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(s.logRequests)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleRecent)
	api.Post("/connect", s.handleConnect)
	api.Post("/disconnect", s.handleDisconnect)
	api.Post("/text", s.handleText)
	api.Post("/image", s.handleImage)
	api.Post("/photo", s.handlePhoto)
	api.Get("/persona", s.handleGetPersona)
	api.Put("/persona", s.handleSetPersona)

	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("control server listening", "addr", s.listen)
	return s.app.Listen(s.listen)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// Publish records v in the recent event buffer and broadcasts it to
// websocket observers.
func (s *Server) Publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("publish: encode failed", "error", err)
		return
	}

	s.recentMu.Lock()
	s.recent = append(s.recent, data)
	if len(s.recent) > maxRecent {
		s.recent = s.recent[1:]
	}
	s.recentMu.Unlock()

	s.events.Broadcast(hub.NewJSONMessage(data))
}

// PublishPhoto sends a captured photo to observers as a binary frame.
func (s *Server) PublishPhoto(jpeg []byte) {
	s.events.BroadcastBinary(jpeg)
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		Status:  s.ctrl.Status(),
		Persona: s.ctrl.Persona(),
		Step:    s.ctrl.Step(),
	}
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(start),
	)
	return err
}
