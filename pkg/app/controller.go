package app

import (
	"context"
	"fmt"
	"time"

	"github.com/teslashibe/go-skinvoice/pkg/live"
	"github.com/teslashibe/go-skinvoice/pkg/persona"
	"github.com/teslashibe/go-skinvoice/pkg/session"
	"github.com/teslashibe/go-skinvoice/pkg/web"
)

var _ web.Controller = (*App)(nil)

// Status returns the session flags.
func (a *App) Status() session.Status {
	return a.session.Status()
}

// Connect opens the session with the configured key and current persona.
func (a *App) Connect(ctx context.Context) error {
	return a.session.Connect(ctx, a.credentials(), a.Persona())
}

// Disconnect closes the session.
func (a *App) Disconnect() {
	a.session.Disconnect()
}

// SendText sends a user turn.
func (a *App) SendText(text string) error {
	return a.session.SendText(text)
}

// SendImage sends an inline image.
func (a *App) SendImage(data []byte, mimeType string) error {
	return a.session.SendImage(data, mimeType)
}

// TakePhoto captures a still, sends it to the model and shows it to
// observers.
func (a *App) TakePhoto(ctx context.Context) error {
	if !a.session.Status().Connected {
		return session.ErrNotConnected
	}
	data, err := a.camera.Capture(ctx)
	if err != nil {
		return err
	}
	if err := a.session.SendImage(data, "image/jpeg"); err != nil {
		return err
	}
	a.web.PublishPhoto(data)
	return nil
}

// Persona returns the current form of address.
func (a *App) Persona() persona.Variant {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.variant
}

// SetPersona stores v and, if a session is live, reconnects so the new
// instructions take effect.
func (a *App) SetPersona(ctx context.Context, v persona.Variant) error {
	if !v.Valid() {
		return fmt.Errorf("app: invalid persona %q", v)
	}
	if err := a.store.Set(ctx, a.cfg.Scope, v); err != nil {
		a.logger.Warn("persona not persisted", "error", err)
	}

	a.mu.Lock()
	changed := a.variant != v
	a.variant = v
	a.mu.Unlock()

	if !changed {
		return nil
	}
	a.logger.Info("persona changed", "persona", v)

	switch a.session.State() {
	case session.StateConnected, session.StateConnecting:
		a.session.Disconnect()
		return a.session.Connect(ctx, a.credentials(), v)
	}
	return nil
}

// Step returns how many times the model advanced the wizard.
func (a *App) Step() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.step
}

func (a *App) credentials() live.Credentials {
	return live.Credentials{APIKey: a.cfg.APIKey}
}

// onToolCall runs on the session's receive goroutine.
func (a *App) onToolCall(call live.ToolCall) {
	if call.Name != persona.ToolNextStep {
		a.logger.Warn("unknown tool", "name", call.Name, "id", call.ID)
		return
	}

	a.mu.Lock()
	a.step++
	step := a.step
	a.mu.Unlock()

	a.logger.Info("wizard advanced", "step", step)
	a.web.Publish(StepEvent{
		Type:   "step",
		Step:   step,
		CallID: call.ID,
		Time:   time.Now(),
	})
}
