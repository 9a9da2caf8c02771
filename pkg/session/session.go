// Package session manages one real-time voice conversation with a streaming
// audio backend: microphone capture, voice activity, playback scheduling,
// tool calls and the connect/disconnect/reconnect lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-skinvoice/pkg/audioio"
	"github.com/teslashibe/go-skinvoice/pkg/capture"
	"github.com/teslashibe/go-skinvoice/pkg/clock"
	"github.com/teslashibe/go-skinvoice/pkg/live"
	"github.com/teslashibe/go-skinvoice/pkg/metrics"
	"github.com/teslashibe/go-skinvoice/pkg/persona"
	"github.com/teslashibe/go-skinvoice/pkg/playback"
	"github.com/teslashibe/go-skinvoice/pkg/vad"
)

// State is the connection state of a Session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosing      State = "closing"
)

func (s State) String() string { return string(s) }

// Attempt records the parameters of the latest connection attempt. Automatic
// reconnects reuse its credentials and variant.
type Attempt struct {
	ID          uuid.UUID
	Credentials live.Credentials
	Variant     persona.Variant
	StartedAt   time.Time
}

// ToolHandler is invoked synchronously for every tool call.
type ToolHandler func(call live.ToolCall)

// Status is a snapshot of the observable session flags.
type Status struct {
	State        State  `json:"state"`
	Connected    bool   `json:"connected"`
	Speaking     bool   `json:"speaking"`
	Loading      bool   `json:"loading"`
	UserSpeaking bool   `json:"user_speaking"`
	Error        string `json:"error,omitempty"`
	AttemptID    string `json:"attempt_id,omitempty"`
	Reconnects   int    `json:"reconnects"`
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock used for timers. Defaults to the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(s *Session) { s.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetrics records counters and latencies to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is a single conversational audio session. It is created once and
// may open many backend connections over its lifetime.
type Session struct {
	cfg     Config
	dialer  live.Dialer
	mic     audioio.Provider
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	latency *metrics.LatencyCollector

	player *playback.Scheduler
	vad    *vad.Detector
	events *notifier

	mu         sync.Mutex
	state      State
	gen        uint64
	abort      chan struct{}
	conn       live.Conn
	capture    *capture.Pipeline
	recvCancel context.CancelFunc
	attempt    Attempt
	purposeful bool
	loading    bool
	lastErr    error
	reconnects int
	reconnect  clock.Timer
	greeting   clock.Timer
	onTool     ToolHandler
	closed     bool

	dropped atomic.Int64
}

// New creates a disconnected session. mic supplies microphone sources per
// connection; speaker is the playback device owned by the session.
func New(cfg Config, dialer live.Dialer, mic audioio.Provider, speaker audioio.Sink, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, errors.New("session: dialer is required")
	}
	if mic == nil {
		return nil, errors.New("session: microphone provider is required")
	}
	if speaker == nil {
		return nil, errors.New("session: speaker is required")
	}

	s := &Session{
		cfg:    cfg,
		dialer: dialer,
		mic:    mic,
		state:  StateDisconnected,
		abort:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "session")

	s.latency = metrics.NewLatencyCollector(s.clock, s.metrics)
	s.events = newNotifier()

	s.player = playback.New(speaker, cfg.Playback, s.clock, s.logger)
	s.player.OnSpeakingChange(func(speaking bool) {
		s.emit(Event{Type: EventSpeaking, Value: speaking})
	})

	s.vad = vad.New(cfg.VAD, s.clock, s.logger)
	s.vad.OnChange(func(speaking bool) {
		if !speaking {
			s.latency.MarkTurnEnd()
		}
		s.emit(Event{Type: EventUserSpeaking, Value: speaking})
	})

	return s, nil
}

// Subscribe registers fn for session events. Events are delivered in order
// on a dedicated goroutine. The returned function unsubscribes.
func (s *Session) Subscribe(fn func(Event)) func() {
	return s.events.subscribe(fn)
}

// SetOnFunctionCall sets the tool handler, replacing any previous one.
func (s *Session) SetOnFunctionCall(h ToolHandler) {
	s.mu.Lock()
	s.onTool = h
	s.mu.Unlock()
}

// Latency returns the per-turn latency collector.
func (s *Session) Latency() *metrics.LatencyCollector {
	return s.latency
}

// Status returns a snapshot of the observable flags.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		State:      s.state,
		Connected:  s.state == StateConnected,
		Loading:    s.loading,
		Reconnects: s.reconnects,
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	if s.attempt.ID != uuid.Nil {
		st.AttemptID = s.attempt.ID.String()
	}
	s.mu.Unlock()

	st.Speaking = s.player.Speaking()
	st.UserSpeaking = s.vad.Speaking()
	return st
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt returns the latest connection attempt.
func (s *Session) Attempt() Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// DroppedFrames returns the number of capture windows not forwarded.
func (s *Session) DroppedFrames() int64 {
	return s.dropped.Load()
}

// Connect opens a backend connection with the given credentials and
// persona variant and blocks until the backend acknowledges setup. It is a
// no-op when already connected. A Connect or Disconnect issued while this
// attempt is pending makes it return ErrSuperseded.
func (s *Session) Connect(ctx context.Context, creds live.Credentials, variant persona.Variant) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.reconnects = 0
	s.mu.Unlock()

	return s.connect(ctx, creds, variant)
}

// handles are the per-connection resources released on teardown.
type handles struct {
	conn       live.Conn
	capture    *capture.Pipeline
	recvCancel context.CancelFunc
}

func (h handles) empty() bool {
	return h.conn == nil && h.capture == nil
}

// pending tracks one in-flight connect for the receive loop.
type pending struct {
	ack    chan struct{}
	failed chan error
}

func (s *Session) connect(ctx context.Context, creds live.Credentials, variant persona.Variant) error {
	if !variant.Valid() {
		variant = persona.Default
	}

	s.mu.Lock()
	s.stopTimersLocked()
	s.bumpLocked()
	gen, abort := s.gen, s.abort
	stale := s.detachLocked()
	s.purposeful = false
	s.lastErr = nil
	s.state = StateConnecting
	s.attempt = Attempt{
		ID:          uuid.New(),
		Credentials: creds,
		Variant:     variant,
		StartedAt:   s.clock.Now(),
	}
	attemptID := s.attempt.ID
	s.mu.Unlock()

	log := s.logger.With("attempt", attemptID)
	s.emitState(StateConnecting)

	if !stale.empty() {
		log.Debug("tearing down stale connection")
		s.release(stale)
		if err := s.sleep(ctx, abort, s.cfg.SettleDelay); err != nil {
			return s.abortAttempt(gen, "canceled", ErrHandshakeFailed, err)
		}
	}

	// Bound dial and handshake by the timeout on the session clock.
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var timedOut atomic.Bool
	deadline := s.clock.AfterFunc(s.cfg.HandshakeTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	defer deadline.Stop()

	pipe := capture.New(s.mic, s.cfg.Capture, s.logger, func(w capture.Window) {
		s.onWindow(gen, w)
	})
	if err := pipe.Start(hctx); err != nil {
		log.Warn("microphone unavailable", "error", err)
		return s.abortAttempt(gen, "audio", ErrAudioUnavailable, err)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		pipe.Stop()
		return ErrSuperseded
	}
	s.capture = pipe
	s.mu.Unlock()

	setup := live.Setup{
		Model:        s.cfg.Model,
		Voice:        s.cfg.Voice,
		Instructions: persona.Instructions(variant),
		Tools: []live.Tool{{
			Name:        persona.ToolNextStep,
			Description: persona.ToolNextStepDescription,
		}},
	}

	log.Info("connecting", "model", s.cfg.Model, "voice", s.cfg.Voice, "variant", variant)
	conn, err := s.dialer.Dial(hctx, creds, setup)
	if err != nil {
		reason := "dial"
		if timedOut.Load() {
			reason = "timeout"
		}
		return s.abortAttempt(gen, reason, ErrHandshakeFailed, err)
	}

	p := &pending{ack: make(chan struct{}), failed: make(chan error, 1)}
	recvCtx, recvCancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		recvCancel()
		conn.Close()
		return ErrSuperseded
	}
	s.conn = conn
	s.recvCancel = recvCancel
	s.mu.Unlock()

	go s.readLoop(recvCtx, gen, conn, p)

	select {
	case <-p.ack:
		log.Info("connected")
		return nil
	case err := <-p.failed:
		return s.abortAttempt(gen, "handshake", ErrHandshakeFailed, err)
	case <-abort:
		select {
		case <-p.ack:
			return nil
		default:
		}
		return ErrSuperseded
	case <-hctx.Done():
		if timedOut.Load() {
			return s.abortAttempt(gen, "timeout", ErrHandshakeFailed, errors.New("no setup acknowledgement"))
		}
		return s.abortAttempt(gen, "canceled", ErrHandshakeFailed, ctx.Err())
	}
}

// abortAttempt tears down a failed attempt. It returns nil if the
// acknowledgement won the race, and ErrSuperseded if a newer call owns the
// session.
func (s *Session) abortAttempt(gen uint64, reason string, kind, cause error) error {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrSuperseded
	}
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.bumpLocked()
	newGen := s.gen
	h := s.detachLocked()
	s.state = StateClosing
	s.mu.Unlock()

	s.release(h)

	cerr := newConnectError(reason, kind, cause)
	s.metrics.RecordConnectFailure(reason)
	s.logger.Warn("connect failed", "reason", reason, "error", cause)

	s.mu.Lock()
	if newGen == s.gen {
		s.state = StateDisconnected
		s.lastErr = cerr
	}
	s.mu.Unlock()

	s.emitState(StateDisconnected)
	s.emit(Event{Type: EventError, Error: cerr.Error()})
	return cerr
}

// Disconnect ends the session at the caller's request. Pending attempts and
// reconnects are cancelled. It is safe to call Disconnect multiple times.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.purposeful = true
	s.stopTimersLocked()
	s.bumpLocked()
	gen := s.gen
	h := s.detachLocked()
	if s.state == StateDisconnected && h.empty() {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.mu.Unlock()

	s.teardown(gen, h)
	s.logger.Info("disconnected")
}

// Close disconnects and stops event delivery. The session cannot be used
// afterwards.
func (s *Session) Close() error {
	s.Disconnect()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.events.close()
	return nil
}

// teardown releases h and settles in Disconnected unless a newer call took
// over meanwhile.
func (s *Session) teardown(gen uint64, h handles) {
	s.emitState(StateClosing)
	s.release(h)

	s.mu.Lock()
	settled := gen == s.gen && s.state == StateClosing
	if settled {
		s.state = StateDisconnected
		s.setLoadingLocked(false)
	}
	s.mu.Unlock()

	if settled {
		s.emitState(StateDisconnected)
	}
}

// release stops capture, closes the transport and releases playback. It
// must be called without s.mu held.
func (s *Session) release(h handles) {
	if h.capture != nil {
		h.capture.Stop()
	}
	if h.recvCancel != nil {
		h.recvCancel()
	}
	if h.conn != nil {
		if err := h.conn.Close(); err != nil {
			s.logger.Debug("close transport", "error", err)
		}
	}
	s.player.Stop()
	s.vad.Reset()
}

// detachLocked takes ownership of the connection handles.
func (s *Session) detachLocked() handles {
	h := handles{conn: s.conn, capture: s.capture, recvCancel: s.recvCancel}
	s.conn = nil
	s.capture = nil
	s.recvCancel = nil
	if s.greeting != nil {
		s.greeting.Stop()
		s.greeting = nil
	}
	return h
}

// bumpLocked invalidates the current generation and wakes any Connect
// waiting on it.
func (s *Session) bumpLocked() {
	s.gen++
	close(s.abort)
	s.abort = make(chan struct{})
}

func (s *Session) stopTimersLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	if s.greeting != nil {
		s.greeting.Stop()
		s.greeting = nil
	}
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

// markConnected completes the handshake of gen.
func (s *Session) markConnected(gen uint64) bool {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnecting {
		s.mu.Unlock()
		return false
	}
	s.state = StateConnected
	s.lastErr = nil
	if s.cfg.Greeting != "" {
		s.greeting = s.clock.AfterFunc(s.cfg.GreetingDelay, func() {
			s.sendGreeting(gen)
		})
	}
	s.mu.Unlock()

	s.metrics.SetConnected(true)
	s.emitState(StateConnected)
	return true
}

func (s *Session) sendGreeting(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.greeting = nil
	conn := s.conn
	s.mu.Unlock()

	if err := conn.SendText(s.cfg.Greeting); err != nil {
		s.fail(fmt.Errorf("%w: greeting: %w", ErrSendFailed, err))
		return
	}
	s.logger.Debug("greeting sent")
}

// closedUnexpectedly handles a transport failure while connected: teardown
// and at most one scheduled reconnect.
func (s *Session) closedUnexpectedly(gen uint64, cause error) {
	s.mu.Lock()
	if gen != s.gen || s.purposeful || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.bumpLocked()
	newGen := s.gen
	h := s.detachLocked()
	s.state = StateClosing
	err := fmt.Errorf("%w: %w", ErrUnexpectedClose, cause)
	s.lastErr = err
	attempt := s.attempt
	s.mu.Unlock()

	s.logger.Warn("connection lost", "attempt", attempt.ID, "error", cause)
	s.metrics.SetConnected(false)
	s.emit(Event{Type: EventError, Error: err.Error()})
	s.teardown(newGen, h)

	s.mu.Lock()
	defer s.mu.Unlock()
	if newGen != s.gen || s.purposeful || s.closed {
		return
	}
	if s.cfg.MaxReconnects > 0 && s.reconnects >= s.cfg.MaxReconnects {
		s.logger.Warn("reconnect limit reached", "reconnects", s.reconnects)
		return
	}
	s.reconnects++
	n := s.reconnects
	s.reconnect = s.clock.AfterFunc(s.cfg.ReconnectBackoff, func() {
		s.reconnectNow(newGen, attempt, n)
	})
	s.logger.Info("reconnect scheduled", "in", s.cfg.ReconnectBackoff, "reconnects", n)
}

func (s *Session) reconnectNow(gen uint64, attempt Attempt, n int) {
	s.mu.Lock()
	if gen != s.gen || s.purposeful || s.closed {
		s.mu.Unlock()
		return
	}
	s.reconnect = nil
	s.mu.Unlock()

	s.metrics.RecordReconnect()
	s.logger.Info("reconnecting", "previous_attempt", attempt.ID, "reconnects", n)

	// Timer callbacks may run synchronously on a test clock; connect blocks.
	go func() {
		if err := s.connect(context.Background(), attempt.Credentials, attempt.Variant); err != nil &&
			!errors.Is(err, ErrSuperseded) {
			s.logger.Warn("reconnect failed", "error", err)
		}
	}()
}

// sleep waits d on the session clock, or until ctx or abort ends.
func (s *Session) sleep(ctx context.Context, abort <-chan struct{}, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	done := make(chan struct{})
	t := s.clock.AfterFunc(d, func() { close(done) })
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-abort:
		return ErrSuperseded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fail records err as the current error and notifies observers.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.logger.Warn("session error", "error", err)
	s.emit(Event{Type: EventError, Error: err.Error()})
}

func (s *Session) setLoadingLocked(v bool) bool {
	if s.loading == v {
		return false
	}
	s.loading = v
	s.events.emit(Event{Type: EventLoading, Value: v, Time: s.clock.Now()})
	return true
}

func (s *Session) setLoading(gen uint64, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.setLoadingLocked(v)
}

func (s *Session) emitState(st State) {
	if st != StateConnected {
		s.metrics.SetConnected(false)
	}
	s.emit(Event{Type: EventState, State: st})
}

func (s *Session) emit(ev Event) {
	ev.Time = s.clock.Now()
	s.events.emit(ev)
}
