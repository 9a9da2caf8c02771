package audioio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto allows a single context per process; sinks share it.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
	otoRate int
)

func sharedOtoContext(cfg Config) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   cfg.SampleRate,
			ChannelCount: cfg.Channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   100 * time.Millisecond,
		})
		if err != nil {
			otoErr = fmt.Errorf("oto: new context: %w: %v", ErrDeviceUnavailable, err)
			return
		}
		<-ready
		otoCtx = ctx
		otoRate = cfg.SampleRate
	})
	if otoErr == nil && otoRate != cfg.SampleRate {
		return nil, fmt.Errorf("oto: context already open at %d Hz", otoRate)
	}
	return otoCtx, otoErr
}

// OtoSink plays float32 audio through the local speaker.
type OtoSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	player  *oto.Player
	gen     int
	running bool
	closed  bool

	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	underruns      atomic.Int64
}

// NewOtoSink creates a speaker sink. The shared oto context is opened on
// first Start.
func NewOtoSink(cfg Config, logger *slog.Logger) *OtoSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &OtoSink{cfg: cfg, logger: logger}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start resumes playback, creating a player if needed.
func (s *OtoSink) Start(ctx context.Context) error {
	octx, err := sharedOtoContext(s.cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	s.running = true
	if s.player == nil {
		s.player = octx.NewPlayer(&otoReader{s: s, gen: s.gen})
		s.player.Play()
	}
	return nil
}

// Write appends a chunk to the playback stream.
func (s *OtoSink) Write(ctx context.Context, chunk AudioChunk) error {
	data := make([]byte, len(chunk.Samples)*4)
	for i, v := range chunk.Samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.running {
		return io.ErrClosedPipe
	}
	s.buf = append(s.buf, data...)
	s.chunksWritten.Add(1)
	s.samplesWritten.Add(int64(len(chunk.Samples)))
	s.cond.Signal()
	return nil
}

// Flush waits until buffered audio has been handed to the device.
func (s *OtoSink) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		empty := len(s.buf) == 0
		s.mu.Unlock()
		if empty {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Clear drops pending audio and resets the player so nothing already
// queued in the device keeps playing.
func (s *OtoSink) Clear() error {
	s.mu.Lock()
	s.buf = s.buf[:0]
	player := s.player
	s.player = nil
	s.gen++
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		player.Reset()
		if err := player.Close(); err != nil {
			s.logger.Debug("oto: player close failed", "error", err)
		}
	}
	return nil
}

// Stop halts playback and releases the player.
func (s *OtoSink) Stop() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return s.Clear()
}

// Config returns the audio configuration.
func (s *OtoSink) Config() Config { return s.cfg }

// Name returns "oto".
func (s *OtoSink) Name() string { return "oto" }

// Close releases resources. The shared context stays open for the process.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns sink statistics.
func (s *OtoSink) Stats() SinkStats {
	s.mu.Lock()
	running := s.running
	buffered := int64(len(s.buf) / 4)
	s.mu.Unlock()
	return SinkStats{
		ChunksWritten:   s.chunksWritten.Load(),
		SamplesWritten:  s.samplesWritten.Load(),
		Underruns:       s.underruns.Load(),
		Running:         running,
		Backend:         "oto",
		BufferedSamples: buffered,
	}
}

var _ SinkWithStats = (*OtoSink)(nil)

// otoReader feeds one player. A reader whose player was replaced by Clear
// returns io.EOF so the old player winds down.
type otoReader struct {
	s   *OtoSink
	gen int
}

func (r *otoReader) Read(p []byte) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 && s.running && r.gen == s.gen {
		s.underruns.Add(1)
	}
	for len(s.buf) == 0 && s.running && r.gen == s.gen {
		s.cond.Wait()
	}
	if !s.running || r.gen != s.gen {
		return 0, io.EOF
	}

	// Whole float32 frames only.
	n := copy(p[:len(p)/4*4], s.buf)
	s.buf = s.buf[n:]
	return n, nil
}
