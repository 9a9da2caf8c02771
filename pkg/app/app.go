// Package app wires the voice session, devices, persona store and control
// server into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teslashibe/go-skinvoice/internal/config"
	"github.com/teslashibe/go-skinvoice/pkg/audioio"
	"github.com/teslashibe/go-skinvoice/pkg/clock"
	"github.com/teslashibe/go-skinvoice/pkg/hub"
	"github.com/teslashibe/go-skinvoice/pkg/live"
	"github.com/teslashibe/go-skinvoice/pkg/metrics"
	"github.com/teslashibe/go-skinvoice/pkg/persona"
	"github.com/teslashibe/go-skinvoice/pkg/session"
	"github.com/teslashibe/go-skinvoice/pkg/still"
	"github.com/teslashibe/go-skinvoice/pkg/web"
)

// StepEvent is published when the model advances the wizard.
type StepEvent struct {
	Type   string    `json:"type"`
	Step   int       `json:"step"`
	CallID string    `json:"call_id,omitempty"`
	Time   time.Time `json:"time"`
}

// Option overrides a component, mainly for tests.
type Option func(*App)

// WithDialer sets the backend dialer instead of the configured backend.
func WithDialer(d live.Dialer) Option { return func(a *App) { a.dialer = d } }

// WithMicrophone sets the microphone provider.
func WithMicrophone(p audioio.Provider) Option { return func(a *App) { a.mic = p } }

// WithSpeaker sets the playback device.
func WithSpeaker(s audioio.Sink) Option { return func(a *App) { a.speaker = s } }

// WithCamera sets the still capturer.
func WithCamera(c still.Capturer) Option { return func(a *App) { a.camera = c } }

// WithStore sets the persona store.
func WithStore(s persona.Store) Option { return func(a *App) { a.store = s } }

// WithClock sets the session clock.
func WithClock(c clock.Clock) Option { return func(a *App) { a.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *App) { a.logger = l } }

// App is the skinvoice application. It owns the single Session.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	clock  clock.Clock

	dialer  live.Dialer
	mic     audioio.Provider
	speaker audioio.Sink
	camera  still.Capturer
	faces   *still.FaceDetector
	store   persona.Store
	redis   *redis.Client

	metrics *metrics.Metrics
	session *session.Session
	events  *hub.Hub
	web     *web.Server

	unsubscribe func()

	mu      sync.Mutex
	variant persona.Variant
	step    int
}

// New validates cfg and creates an uninitialized App.
func New(cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// Init builds every component. Call it after New and before Run.
func (a *App) Init(ctx context.Context) error {
	a.metrics = metrics.New("skinvoice")

	if err := a.initDevices(); err != nil {
		return fmt.Errorf("devices: %w", err)
	}
	if a.dialer == nil {
		a.dialer = a.newDialer()
	}
	if a.store == nil {
		a.store = a.newStore(ctx)
	}
	if a.camera == nil {
		a.camera = a.newCamera()
	}

	fallback, err := persona.Parse(a.cfg.Persona)
	if err != nil {
		a.logger.Warn("invalid persona in config, using default", "persona", a.cfg.Persona)
		fallback = persona.Default
	}
	a.variant = persona.Resolve(ctx, a.store, a.cfg.Scope, fallback)

	sess, err := session.New(a.sessionConfig(), a.dialer, a.mic, a.speaker,
		session.WithClock(a.clock),
		session.WithLogger(a.logger),
		session.WithMetrics(a.metrics),
	)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	sess.SetOnFunctionCall(a.onToolCall)
	a.session = sess

	a.events = hub.New("events", a.logger)
	a.web = web.NewServer(a.cfg.Listen, a, a.events, a.metrics, a.logger)
	a.unsubscribe = sess.Subscribe(func(ev session.Event) {
		a.web.Publish(ev)
	})

	a.logger.Info("initialized",
		"backend", a.cfg.Backend,
		"model", a.cfg.Model,
		"persona", a.variant,
		"audio_in", a.cfg.Audio.Input,
		"audio_out", a.cfg.Audio.Output,
	)
	return nil
}

func (a *App) sessionConfig() session.Config {
	sc := session.DefaultConfig().
		WithModel(a.cfg.Model).
		WithVoice(a.cfg.Voice).
		WithGreeting(a.cfg.Greeting)
	sc.HandshakeTimeout = a.cfg.Session.HandshakeTimeout
	sc.SettleDelay = a.cfg.Session.SettleDelay
	sc.ReconnectBackoff = a.cfg.Session.ReconnectBackoff
	sc.MaxReconnects = a.cfg.Session.MaxReconnects
	sc.GreetingDelay = a.cfg.Session.GreetingDelay
	return sc
}

func (a *App) initDevices() error {
	if a.mic == nil {
		device := a.cfg.Audio.InputDevice
		if audioio.Backend(a.cfg.Audio.Input) == audioio.BackendRTP {
			device = a.cfg.Audio.RTPAddr
		}
		a.mic = audioio.NewProvider(audioio.Backend(a.cfg.Audio.Input), device, a.logger)
	}
	if a.speaker == nil {
		sink, err := audioio.NewSink(audioio.PlaybackConfig().WithBackend(audioio.Backend(a.cfg.Audio.Output)), a.logger)
		if err != nil {
			return err
		}
		a.speaker = sink
	}
	return nil
}

func (a *App) newDialer() live.Dialer {
	if a.cfg.Backend == config.BackendGenAI {
		return live.NewGenAIDialer(a.logger)
	}
	return live.NewWebsocketDialer(a.logger)
}

// newStore connects to Redis when configured and falls back to memory.
func (a *App) newStore(ctx context.Context) persona.Store {
	if a.cfg.Redis.Addr == "" {
		return persona.NewMemoryStore()
	}
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	store := persona.NewRedisStore(a.redis, a.cfg.Redis.TTL)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		a.logger.Warn("redis unavailable, persona kept in memory", "addr", a.cfg.Redis.Addr, "error", err)
		a.redis.Close()
		a.redis = nil
		return persona.NewMemoryStore()
	}
	return store
}

func (a *App) newCamera() still.Capturer {
	if !a.cfg.Camera.Enabled {
		return still.Disabled{}
	}
	cfg := still.DefaultConfig()
	cfg.Device = a.cfg.Camera.Device
	if a.cfg.Camera.Quality > 0 {
		cfg.Quality = a.cfg.Camera.Quality
	}
	cam, err := still.NewCamera(cfg, a.logger)
	if err != nil {
		a.logger.Warn("camera disabled", "error", err)
		return still.Disabled{}
	}
	if a.cfg.Camera.FaceModel == "" {
		return cam
	}
	faces, err := still.NewFaceDetector(still.FaceConfig{ModelPath: a.cfg.Camera.FaceModel})
	if err != nil {
		a.logger.Warn("face check disabled", "error", err)
		return cam
	}
	a.faces = faces
	return still.RequireFace{Capturer: cam, Faces: faces}
}

// Run serves the control API and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.session == nil {
		return errors.New("app: Init not called")
	}

	go a.events.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.web.Start()
	}()

	if a.cfg.AutoConnect {
		go func() {
			if err := a.Connect(ctx); err != nil {
				a.logger.Warn("auto-connect failed", "error", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("control server: %w", err)
	}
}

// Shutdown releases every component.
func (a *App) Shutdown() {
	a.logger.Info("shutting down")

	if a.web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.web.Shutdown(ctx); err != nil {
			a.logger.Warn("control server shutdown", "error", err)
		}
		cancel()
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if a.session != nil {
		a.session.Close()
	}
	if a.speaker != nil {
		a.speaker.Close()
	}
	if a.faces != nil {
		a.faces.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

// Session returns the owned session.
func (a *App) Session() *session.Session {
	return a.session
}

// Web returns the control server.
func (a *App) Web() *web.Server {
	return a.web
}
