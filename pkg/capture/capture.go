// Package capture turns microphone device periods into fixed-size mono
// windows at the backend's input rate.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-skinvoice/pkg/audioio"
)

// Defaults for the capture pipeline.
const (
	DefaultSampleRate = 16000
	DefaultWindowSize = 4096

	// logEvery controls how often window levels are logged at debug.
	logEvery = 40
)

// ErrStopped is returned by Start after the pipeline was stopped.
var ErrStopped = errors.New("capture: pipeline stopped")

// Window is one fixed-size block of captured audio.
type Window struct {
	Chunk audioio.AudioChunk
	RMS   float64
	Seq   uint64
}

// Handler receives windows in capture order on the pipeline goroutine.
type Handler func(Window)

// Config configures a capture Pipeline.
type Config struct {
	// SampleRate is the output rate of emitted windows.
	SampleRate int

	// WindowSize is the number of samples per window.
	WindowSize int

	// Device is passed to the provider when opening a source.
	Device audioio.Config
}

// DefaultConfig returns 4096-sample windows at 16 kHz.
func DefaultConfig() Config {
	return Config{
		SampleRate: DefaultSampleRate,
		WindowSize: DefaultWindowSize,
		Device:     audioio.DefaultConfig(),
	}
}

// Stats reports pipeline counters.
type Stats struct {
	Windows        int64 `json:"windows"`
	DroppedSamples int64 `json:"dropped_samples"`
	DeviceOverruns int64 `json:"device_overruns"`
	Running        bool  `json:"running"`
}

// Pipeline reads a Source and emits Windows to its handlers.
type Pipeline struct {
	provider audioio.Provider
	cfg      Config
	logger   *slog.Logger

	mu       sync.Mutex
	handlers []Handler
	src      audioio.Source
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool
	stopped  bool

	windows atomic.Int64
	dropped atomic.Int64
}

// New creates a pipeline. Nothing is opened until Start.
func New(provider audioio.Provider, cfg Config, logger *slog.Logger, handlers ...Handler) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	return &Pipeline{
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		handlers: handlers,
	}
}

// AddHandler registers another window handler.
func (p *Pipeline) AddHandler(h Handler) {
	p.mu.Lock()
	p.handlers = append(p.handlers, h)
	p.mu.Unlock()
}

// Start acquires a source and begins emitting windows. The capture outlives
// ctx's cancellation; call Stop to end it. Errors wrap
// audioio.ErrPermissionDenied or audioio.ErrDeviceUnavailable.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if p.running {
		return nil
	}

	devCfg := p.cfg.Device
	devCfg.SampleRate = p.cfg.SampleRate
	if devCfg.Channels <= 0 {
		devCfg.Channels = 1
	}

	src, err := p.provider.NewSource(devCfg)
	if err != nil {
		return classify(err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := src.Start(runCtx); err != nil {
		cancel()
		src.Close()
		return classify(err)
	}

	p.src = src
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(runCtx, src, p.done)

	p.logger.Info("capture started",
		"backend", src.Name(),
		"sample_rate", p.cfg.SampleRate,
		"window", p.cfg.WindowSize,
	)
	return nil
}

func (p *Pipeline) loop(ctx context.Context, src audioio.Source, done chan struct{}) {
	defer close(done)

	pending := make([]float32, 0, p.cfg.WindowSize*2)
	var seq uint64
	stream := src.Stream()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				return
			}
			if chunk.Channels != 1 || chunk.SampleRate != p.cfg.SampleRate {
				chunk = audioio.ToMono(chunk, p.cfg.SampleRate)
			}
			pending = append(pending, chunk.Samples...)

			for len(pending) >= p.cfg.WindowSize {
				samples := make([]float32, p.cfg.WindowSize)
				copy(samples, pending)
				pending = append(pending[:0], pending[p.cfg.WindowSize:]...)

				w := Window{
					Chunk: audioio.NewChunk(samples, p.cfg.SampleRate),
					Seq:   seq,
				}
				w.RMS = w.Chunk.RMS()
				seq++
				p.windows.Add(1)

				if seq%logEvery == 0 {
					p.logger.Debug("capture window", "seq", w.Seq, "rms", w.RMS)
				}
				p.emit(w)
			}
		}
	}
}

func (p *Pipeline) emit(w Window) {
	p.mu.Lock()
	handlers := p.handlers
	p.mu.Unlock()
	for _, h := range handlers {
		h(w)
	}
}

// Stop releases the device and waits for the pipeline goroutine. It is safe
// to call Stop multiple times. A stopped pipeline cannot be restarted.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.stopped = true
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	src, cancel, done := p.src, p.cancel, p.done
	p.src = nil
	p.mu.Unlock()

	cancel()
	if err := src.Stop(); err != nil {
		p.logger.Debug("capture: source stop failed", "error", err)
	}
	<-done
	if stats, ok := src.(audioio.SourceWithStats); ok {
		p.dropped.Add(stats.Stats().Overruns)
	}
	if err := src.Close(); err != nil {
		p.logger.Debug("capture: source close failed", "error", err)
	}

	p.logger.Info("capture stopped", "windows", p.windows.Load())
}

// Stats returns pipeline counters. Dropped samples are estimated from
// device overruns.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	running := p.running
	src := p.src
	p.mu.Unlock()

	overruns := p.dropped.Load()
	if s, ok := src.(audioio.SourceWithStats); ok {
		overruns += s.Stats().Overruns
	}
	return Stats{
		Windows:        p.windows.Load(),
		DroppedSamples: overruns * int64(p.cfg.Device.BufferSize()),
		DeviceOverruns: overruns,
		Running:        running,
	}
}

func classify(err error) error {
	if errors.Is(err, audioio.ErrPermissionDenied) || errors.Is(err, audioio.ErrDeviceUnavailable) {
		return fmt.Errorf("capture: %w", err)
	}
	return fmt.Errorf("capture: %w: %v", audioio.ErrDeviceUnavailable, err)
}
