package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/teslashibe/go-skinvoice/pkg/pcm"
)

// MalgoSource captures audio from a local device through miniaudio.
type MalgoSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	mctx     *malgo.AllocatedContext
	device   *malgo.Device

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewMalgoSource creates a malgo capture source. The device is opened on
// Start.
func NewMalgoSource(cfg Config, logger *slog.Logger) *MalgoSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MalgoSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 32),
	}
}

// Start opens the capture device and begins streaming.
func (s *MalgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return classifyDeviceError("init context", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(s.cfg.Channels)
	deviceConfig.SampleRate = uint32(s.cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(s.cfg.BufferDuration.Milliseconds())

	if s.cfg.Device != "" {
		infos, err := mctx.Devices(malgo.Capture)
		if err != nil {
			s.freeContext(mctx)
			return classifyDeviceError("list devices", err)
		}
		found := false
		for _, info := range infos {
			if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(s.cfg.Device)) {
				deviceConfig.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			s.freeContext(mctx)
			return fmt.Errorf("malgo: no capture device matching %q: %w", s.cfg.Device, ErrDeviceUnavailable)
		}
	}

	s.streamCh = make(chan AudioChunk, 32)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			s.onData(pInputSamples)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		s.freeContext(mctx)
		return classifyDeviceError("init device", err)
	}

	// running must be set before the device starts delivering callbacks.
	s.running = true
	if err := device.Start(); err != nil {
		s.running = false
		device.Uninit()
		s.freeContext(mctx)
		return classifyDeviceError("start device", err)
	}

	s.mctx = mctx
	s.device = device

	s.logger.Info("malgo audio source started",
		"device", s.cfg.Device,
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)

	return nil
}

func (s *MalgoSource) onData(input []byte) {
	samples := pcm.DecodeFrame(input)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	chunk := AudioChunk{Samples: samples, SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels}
	select {
	case s.streamCh <- chunk:
		s.chunksRead.Add(1)
		s.samplesRead.Add(int64(len(samples)))
	default:
		s.overruns.Add(1)
	}
}

// Stop halts capture and releases the device.
func (s *MalgoSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.streamCh)
	device, mctx := s.device, s.mctx
	s.device, s.mctx = nil, nil
	s.mu.Unlock()

	// The data callback takes s.mu, so the device is stopped unlocked.
	if device != nil {
		if err := device.Stop(); err != nil {
			s.logger.Warn("malgo: device stop failed", "error", err)
		}
		device.Uninit()
	}
	s.freeContext(mctx)

	s.logger.Info("malgo audio source stopped", "overruns", s.overruns.Load())
	return nil
}

func (s *MalgoSource) freeContext(mctx *malgo.AllocatedContext) {
	if mctx == nil {
		return
	}
	if err := mctx.Uninit(); err != nil {
		s.logger.Debug("malgo: context uninit failed", "error", err)
	}
	mctx.Free()
}

// Read reads the next audio chunk.
func (s *MalgoSource) Read(ctx context.Context) (AudioChunk, error) {
	ch := s.Stream()
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *MalgoSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *MalgoSource) Config() Config { return s.cfg }

// Name returns "malgo".
func (s *MalgoSource) Name() string { return "malgo" }

// Close releases resources.
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *MalgoSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "malgo",
	}
}

var _ SourceWithStats = (*MalgoSource)(nil)

// classifyDeviceError maps a backend failure onto ErrPermissionDenied or
// ErrDeviceUnavailable.
func classifyDeviceError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("malgo: %s: %w: %v", op, ErrPermissionDenied, err)
	}
	return fmt.Errorf("malgo: %s: %w: %v", op, ErrDeviceUnavailable, err)
}
