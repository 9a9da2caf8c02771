package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-skinvoice/pkg/audioio"
	"github.com/teslashibe/go-skinvoice/pkg/hub"
	"github.com/teslashibe/go-skinvoice/pkg/persona"
	"github.com/teslashibe/go-skinvoice/pkg/session"
	"github.com/teslashibe/go-skinvoice/pkg/still"
)

// TextRequest is the body of POST /api/text.
type TextRequest struct {
	Text string `json:"text"`
}

// PersonaRequest is the body of PUT /api/persona.
type PersonaRequest struct {
	Variant string `json:"variant"`
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case session.IsNotConnected(err):
		return fiber.StatusConflict
	case errors.Is(err, audioio.ErrPermissionDenied):
		return fiber.StatusForbidden
	case errors.Is(err, session.ErrAudioUnavailable),
		errors.Is(err, still.ErrDisabled):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, session.ErrHandshakeFailed),
		errors.Is(err, session.ErrSendFailed):
		return fiber.StatusBadGateway
	case errors.Is(err, session.ErrSuperseded):
		return fiber.StatusConflict
	case errors.Is(err, still.ErrNoFace):
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	return c.Status(errorStatus(err)).JSON(fiber.Map{
		"error":     err.Error(),
		"retryable": session.IsRetryable(err),
	})
}

// handleStatus returns the observable session flags
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleRecent returns recently published events
func (s *Server) handleRecent(c *fiber.Ctx) error {
	s.recentMu.RLock()
	defer s.recentMu.RUnlock()
	return c.JSON(s.recent)
}

// handleConnect opens the session and blocks until it is live
func (s *Server) handleConnect(c *fiber.Ctx) error {
	if err := s.ctrl.Connect(c.UserContext()); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.status())
}

// handleDisconnect closes the session
func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	s.ctrl.Disconnect()
	return c.JSON(s.status())
}

// handleText sends a user turn, typically a hidden step instruction
func (s *Server) handleText(c *fiber.Ctx) error {
	var req TextRequest
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}
	if err := s.ctrl.SendText(req.Text); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// handleImage forwards the raw body as an inline media chunk
func (s *Server) handleImage(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty body"})
	}
	data := append([]byte(nil), body...)
	if err := s.ctrl.SendImage(data, c.Get(fiber.HeaderContentType)); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// handlePhoto captures a still from the local camera and sends it
func (s *Server) handlePhoto(c *fiber.Ctx) error {
	if err := s.ctrl.TakePhoto(c.UserContext()); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleGetPersona(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"variant": s.ctrl.Persona()})
}

// handleSetPersona changes the form of address and reconnects
func (s *Server) handleSetPersona(c *fiber.Ctx) error {
	var req PersonaRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	v, err := persona.Parse(req.Variant)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.ctrl.SetPersona(c.UserContext(), v); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(s.status())
}

// handleEventsWS streams session events to an observer
func (s *Server) handleEventsWS(c *websocket.Conn) {
	client := hub.NewClient(s.events, c)
	if client == nil {
		return
	}
	client.Run()
}
