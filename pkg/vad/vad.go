// Package vad implements an energy-threshold voice activity detector with a
// silence hangover.
package vad

import (
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-skinvoice/pkg/clock"
)

// Defaults for the detector.
const (
	DefaultThreshold = 0.01
	DefaultHangover  = 1000 * time.Millisecond
)

// Config configures a Detector.
type Config struct {
	// Threshold is the RMS level above which a frame counts as speech.
	Threshold float64

	// Hangover is how long the level must stay at or below Threshold
	// before the detector reports silence.
	Hangover time.Duration
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Hangover:  DefaultHangover,
	}
}

// State is a snapshot of the detector.
type State struct {
	Speaking     bool      `json:"speaking"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// Detector tracks whether the user is speaking.
type Detector struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	timer     clock.Timer
	epoch     uint64
	listeners []func(bool)
}

// New creates a detector. A nil clock uses the wall clock.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) *Detector {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Hangover <= 0 {
		cfg.Hangover = DefaultHangover
	}
	return &Detector{cfg: cfg, clock: clk, logger: logger}
}

// OnChange registers a callback invoked once per transition. Callbacks run
// with the detector locked and must not call back into it.
func (d *Detector) OnChange(fn func(speaking bool)) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Observe feeds one frame level.
func (d *Detector) Observe(rms float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rms <= d.cfg.Threshold {
		return
	}

	d.state.LastActiveAt = d.clock.Now()
	if !d.state.Speaking {
		d.state.Speaking = true
		d.logger.Debug("vad: speech start", "rms", rms)
		d.notify(true)
	}
	d.armLocked()
}

func (d *Detector) armLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.epoch++
	epoch := d.epoch
	d.timer = d.clock.AfterFunc(d.cfg.Hangover, func() {
		d.expire(epoch)
	})
}

func (d *Detector) expire(epoch uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if epoch != d.epoch || !d.state.Speaking {
		return
	}
	d.timer = nil
	d.state.Speaking = false
	d.logger.Debug("vad: speech end")
	d.notify(false)
}

// Reset cancels the hangover timer and forces silence.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.epoch++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.state.Speaking {
		d.state.Speaking = false
		d.notify(false)
	}
}

// State returns the current state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Speaking reports whether speech is in progress.
func (d *Detector) Speaking() bool {
	return d.State().Speaking
}

func (d *Detector) notify(speaking bool) {
	for _, fn := range d.listeners {
		fn(speaking)
	}
}
