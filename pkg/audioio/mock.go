package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// It generates synthetic audio (silence or sine wave), or only the chunks
// given to Push when created WithManualFeed.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	stopCh   chan struct{}
	startErr error
	starts   int

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64

	// Synthetic audio generation
	manual    bool
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithManualFeed disables the generator; chunks arrive only via Push.
func WithManualFeed() MockSourceOption {
	return func(m *MockSource) {
		m.manual = true
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		streamCh:  make(chan AudioChunk, 64),
		stopCh:    make(chan struct{}),
		amplitude: 0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SimulateStartError makes subsequent Start calls fail with err.
func (m *MockSource) SimulateStartError(err error) {
	m.mu.Lock()
	m.startErr = err
	m.mu.Unlock()
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.startErr != nil {
		return m.startErr
	}
	if m.running {
		return nil
	}

	m.running = true
	m.starts++
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan AudioChunk, 64)

	if !m.manual {
		go m.generateLoop(ctx, m.stopCh)
	}

	m.logger.Debug("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
	)

	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.emit(m.generateChunk())
		}
	}
}

// Push delivers a chunk to readers. It reports false when the source is
// not running or the buffer is full.
func (m *MockSource) Push(chunk AudioChunk) bool {
	return m.emit(chunk)
}

func (m *MockSource) emit(chunk AudioChunk) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return false
	}
	select {
	case m.streamCh <- chunk:
		m.chunksRead.Add(1)
		m.samplesRead.Add(int64(len(chunk.Samples)))
		return true
	default:
		// Buffer full, drop chunk (overrun)
		m.overruns.Add(1)
		m.logger.Debug("mock source: buffer full, dropping chunk")
		return false
	}
}

func (m *MockSource) generateChunk() AudioChunk {
	bufferSize := m.cfg.BufferSize()
	samples := make([]float32, bufferSize*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < bufferSize; i++ {
			sample := float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = sample
			}

			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return AudioChunk{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

// Stop halts audio generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false
	close(m.stopCh)
	close(m.streamCh)

	m.logger.Debug("mock audio source stopped")

	return nil
}

// Read reads the next audio chunk.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	ch := m.Stream()
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
func (m *MockSource) Stream() <-chan AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Running reports whether the source is capturing.
func (m *MockSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Starts returns how many times Start succeeded.
func (m *MockSource) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     running,
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)

// MockProvider hands out a single MockSource, reusing it across sessions.
type MockProvider struct {
	Source *MockSource
	Err    error

	mu    sync.Mutex
	calls int
}

// NewSource returns the shared mock source or the configured error.
func (p *MockProvider) NewSource(cfg Config) (Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Source == nil {
		return nil, fmt.Errorf("mock provider: %w", ErrDeviceUnavailable)
	}
	// A closed mock cannot restart, so sessions share the open instance.
	return nopCloseSource{p.Source}, nil
}

// Calls returns how many sources were requested.
func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type nopCloseSource struct{ *MockSource }

func (s nopCloseSource) Close() error { return s.MockSource.Stop() }

// MockSink is a mock audio sink for testing.
// It records written chunks and tracks statistics.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	onWrite func(AudioChunk)

	// Stats
	chunksWritten  atomic.Int64
	samplesWritten atomic.Int64
	clears         atomic.Int64
	starts         atomic.Int64

	// Buffer simulation
	buffer  []AudioChunk
	written []AudioChunk
}

// NewMockSink creates a new mock audio sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}

	return &MockSink{
		cfg:    cfg,
		logger: logger,
		buffer: make([]AudioChunk, 0, 100),
	}
}

// SetOnWrite installs a hook called for every accepted chunk, before it is
// recorded. The hook runs without the sink lock held.
func (m *MockSink) SetOnWrite(fn func(AudioChunk)) {
	m.mu.Lock()
	m.onWrite = fn
	m.mu.Unlock()
}

// Start begins accepting audio.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}

	m.running = true
	m.starts.Add(1)

	return nil
}

// Stop halts audio acceptance.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	m.buffer = m.buffer[:0]

	return nil
}

// Write accepts an audio chunk.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	m.mu.Lock()
	if m.closed || !m.running {
		m.mu.Unlock()
		return io.ErrClosedPipe
	}
	hook := m.onWrite
	m.mu.Unlock()

	if hook != nil {
		hook(chunk)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Simulate buffering
	m.buffer = append(m.buffer, chunk)
	m.written = append(m.written, chunk)

	m.chunksWritten.Add(1)
	m.samplesWritten.Add(int64(len(chunk.Samples)))

	return nil
}

// Flush simulates waiting for playback.
func (m *MockSink) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	m.buffer = m.buffer[:0]
	return nil
}

// Clear discards buffered audio.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer = m.buffer[:0]
	m.clears.Add(1)
	m.logger.Debug("mock audio sink cleared")

	return nil
}

// Written returns a copy of every chunk accepted so far.
func (m *MockSink) Written() []AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AudioChunk, len(m.written))
	copy(out, m.written)
	return out
}

// Clears returns how many times Clear was called.
func (m *MockSink) Clears() int { return int(m.clears.Load()) }

// Starts returns how many times Start was called.
func (m *MockSink) Starts() int { return int(m.starts.Load()) }

// Running reports whether the sink accepts writes.
func (m *MockSink) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats returns sink statistics.
func (m *MockSink) Stats() SinkStats {
	m.mu.Lock()
	running := m.running
	buffered := int64(0)
	for _, chunk := range m.buffer {
		buffered += int64(len(chunk.Samples))
	}
	m.mu.Unlock()

	return SinkStats{
		ChunksWritten:   m.chunksWritten.Load(),
		SamplesWritten:  m.samplesWritten.Load(),
		Underruns:       0,
		Running:         running,
		Backend:         "mock",
		BufferedSamples: buffered,
	}
}

// Ensure MockSink implements SinkWithStats.
var _ SinkWithStats = (*MockSink)(nil)
