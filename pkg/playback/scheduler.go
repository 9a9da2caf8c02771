// Package playback schedules inbound model audio onto an output device
// back to back, and supports immediate interruption.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-skinvoice/pkg/audioio"
	"github.com/teslashibe/go-skinvoice/pkg/clock"
)

// DefaultGrace is how long output must stay idle after the last scheduled
// buffer ends before speaking is reported false.
const DefaultGrace = 500 * time.Millisecond

// Config configures a Scheduler.
type Config struct {
	Grace time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{Grace: DefaultGrace}
}

// Scheduler plays chunks in arrival order with contiguous start times.
type Scheduler struct {
	sink   audioio.Sink
	clock  clock.Clock
	cfg    Config
	logger *slog.Logger
	base   time.Time

	mu        sync.Mutex
	queue     []audioio.AudioChunk
	draining  bool
	epoch     uint64
	nextStart time.Duration
	speaking  bool
	idle      clock.Timer
	listeners []func(bool)

	// writeMu fences sink writes against Interrupt.
	writeMu sync.Mutex
}

// New creates a scheduler writing to sink. A nil clock uses the wall clock.
func New(sink audioio.Sink, cfg Config, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	return &Scheduler{
		sink:   sink,
		clock:  clk,
		cfg:    cfg,
		logger: logger,
		base:   clk.Now(),
	}
}

// OnSpeakingChange registers a callback for speaking transitions. Callbacks
// run with the scheduler locked and must not call back into it.
func (s *Scheduler) OnSpeakingChange(fn func(speaking bool)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Enqueue appends a chunk and starts a drain if none is active.
func (s *Scheduler) Enqueue(chunk audioio.AudioChunk) {
	if len(chunk.Samples) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, chunk)
	if s.draining {
		return
	}
	s.draining = true
	go s.drain(s.epoch)
}

func (s *Scheduler) drain(epoch uint64) {
	ctx := context.Background()

	s.writeMu.Lock()
	if s.current(epoch) {
		if err := s.sink.Start(ctx); err != nil {
			s.logger.Warn("playback: resume failed", "error", err)
		}
	}
	s.writeMu.Unlock()

	for {
		s.mu.Lock()
		if epoch != s.epoch {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.draining = false
			s.armIdleLocked(epoch)
			s.mu.Unlock()
			return
		}

		chunk := s.queue[0]
		s.queue[0] = audioio.AudioChunk{}
		s.queue = s.queue[1:]

		now := s.clock.Now().Sub(s.base)
		start := max(now, s.nextStart)
		chunk.StartAt = start
		s.nextStart = start + chunk.Duration()

		if s.idle != nil {
			s.idle.Stop()
			s.idle = nil
		}
		if !s.speaking {
			s.speaking = true
			s.notify(true)
		}
		s.mu.Unlock()

		s.writeMu.Lock()
		stale := !s.current(epoch)
		if !stale {
			if err := s.sink.Write(ctx, chunk); err != nil {
				s.logger.Warn("playback: write failed", "error", err)
			}
		}
		s.writeMu.Unlock()
		if stale {
			return
		}
	}
}

func (s *Scheduler) current(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return epoch == s.epoch
}

// armIdleLocked schedules the speaking=false transition for when the last
// scheduled buffer ends plus the grace period.
func (s *Scheduler) armIdleLocked(epoch uint64) {
	if s.idle != nil {
		s.idle.Stop()
	}
	remaining := s.nextStart - s.clock.Now().Sub(s.base)
	if remaining < 0 {
		remaining = 0
	}
	s.idle = s.clock.AfterFunc(remaining+s.cfg.Grace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if epoch != s.epoch || s.draining || len(s.queue) > 0 {
			return
		}
		s.idle = nil
		if s.speaking {
			s.speaking = false
			s.notify(false)
		}
	})
}

// Interrupt discards queued and buffered audio immediately. No chunk
// scheduled before the call reaches the sink afterwards. Safe to call at
// any time.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	s.epoch++
	dropped := len(s.queue)
	s.queue = nil
	s.nextStart = 0
	s.draining = false
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	if s.speaking {
		s.speaking = false
		s.notify(false)
	}
	s.mu.Unlock()

	s.writeMu.Lock()
	if err := s.sink.Clear(); err != nil {
		s.logger.Warn("playback: clear failed", "error", err)
	}
	s.writeMu.Unlock()

	s.logger.Debug("playback interrupted", "dropped", dropped)
}

// Stop interrupts and stops the output device. A later Enqueue resumes it.
func (s *Scheduler) Stop() {
	s.Interrupt()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.sink.Stop(); err != nil {
		s.logger.Warn("playback: stop failed", "error", err)
	}
}

// QueueLen returns the number of chunks waiting to be scheduled.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Speaking reports whether model audio is playing.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Draining reports whether a drain is in progress.
func (s *Scheduler) Draining() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draining
}

// NextStart returns the end of the last scheduled buffer, relative to the
// scheduler's creation.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

func (s *Scheduler) notify(speaking bool) {
	for _, fn := range s.listeners {
		fn(speaking)
	}
}
