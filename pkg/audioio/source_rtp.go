package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"
)

// opusRate is the decode rate for Opus payloads.
const opusRate = 48000

// RTPSource receives Opus audio in RTP packets over UDP, e.g. from a kiosk
// tablet acting as a remote microphone. Decoded audio is resampled to the
// configured rate.
type RTPSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	conn     net.PacketConn
	streamCh chan AudioChunk
	done     chan struct{}

	chunksRead   atomic.Int64
	samplesRead  atomic.Int64
	overruns     atomic.Int64
	decodeErrors atomic.Int64
	lastSeq      uint16
	haveSeq      bool
	lost         atomic.Int64
}

// NewRTPSource creates an RTP source listening on cfg.Device.
func NewRTPSource(cfg Config, logger *slog.Logger) *RTPSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RTPSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 32),
	}
}

// Start binds the UDP socket and starts decoding.
func (s *RTPSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	addr := s.cfg.Device
	if addr == "" {
		addr = "127.0.0.1:5004"
	}

	dec, err := opus.NewDecoder(opusRate, 1)
	if err != nil {
		return fmt.Errorf("rtp: opus decoder: %w: %v", ErrDeviceUnavailable, err)
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("rtp: listen %s: %w: %v", addr, ErrDeviceUnavailable, err)
	}

	s.conn = conn
	s.running = true
	s.haveSeq = false
	s.streamCh = make(chan AudioChunk, 32)
	s.done = make(chan struct{})

	go s.readLoop(conn, dec, s.streamCh, s.done)

	s.logger.Info("RTP audio source listening", "addr", conn.LocalAddr().String())
	return nil
}

// LocalAddr returns the bound UDP address, or nil when stopped.
func (s *RTPSource) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *RTPSource) readLoop(conn net.PacketConn, dec *opus.Decoder, out chan AudioChunk, done chan struct{}) {
	defer close(done)
	defer close(out)

	buf := make([]byte, 1500)
	// Max 120ms at 48kHz
	frameBuf := make([]int16, 5760)

	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("rtp: read failed", "error", err)
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.decodeErrors.Add(1)
			continue
		}
		s.trackSequence(pkt.SequenceNumber)

		samples, err := dec.Decode(pkt.Payload, frameBuf)
		if err != nil {
			if s.decodeErrors.Add(1) <= 5 {
				s.logger.Debug("rtp: opus decode failed", "error", err, "payload", len(pkt.Payload))
			}
			continue
		}

		mono := Resample(Int16ToFloat(frameBuf[:samples]), opusRate, s.cfg.SampleRate)
		chunk := AudioChunk{Samples: mono, SampleRate: s.cfg.SampleRate, Channels: 1}
		select {
		case out <- chunk:
			s.chunksRead.Add(1)
			s.samplesRead.Add(int64(len(mono)))
		default:
			s.overruns.Add(1)
		}
	}
}

func (s *RTPSource) trackSequence(seq uint16) {
	if s.haveSeq {
		if gap := seq - s.lastSeq - 1; gap > 0 && gap < 1000 {
			s.lost.Add(int64(gap))
		}
	}
	s.lastSeq = seq
	s.haveSeq = true
}

// Stop closes the socket and waits for the decoder goroutine.
func (s *RTPSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	conn, done := s.conn, s.done
	s.conn = nil
	s.mu.Unlock()

	err := conn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		s.logger.Warn("rtp: reader did not exit")
	}
	s.logger.Info("RTP audio source stopped", "lost_packets", s.lost.Load())
	return err
}

// Read reads the next audio chunk.
func (s *RTPSource) Read(ctx context.Context) (AudioChunk, error) {
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
func (s *RTPSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *RTPSource) Config() Config { return s.cfg }

// Name returns "rtp".
func (s *RTPSource) Name() string { return "rtp" }

// Close releases resources.
func (s *RTPSource) Close() error {
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
func (s *RTPSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "rtp",
	}
}

var _ SourceWithStats = (*RTPSource)(nil)
