package audioio

import (
	"context"
	"io"
	"time"

	"github.com/teslashibe/go-skinvoice/pkg/pcm"
)

// AudioChunk is an immutable block of float samples in [-1, 1].
type AudioChunk struct {
	// Samples contains interleaved float samples.
	Samples []float32

	// SampleRate is the sample rate of this chunk.
	SampleRate int

	// Channels is the number of channels in this chunk.
	Channels int

	// StartAt is the playback start offset assigned by a scheduler,
	// relative to the scheduler's epoch. Zero for captured audio.
	StartAt time.Duration
}

// NewChunk returns a mono chunk.
func NewChunk(samples []float32, sampleRate int) AudioChunk {
	return AudioChunk{Samples: samples, SampleRate: sampleRate, Channels: 1}
}

// Bytes returns the chunk as PCM16 little-endian bytes.
func (c AudioChunk) Bytes() []byte {
	return pcm.EncodeFrame(c.Samples)
}

// Frames returns the number of sample frames.
func (c AudioChunk) Frames() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Duration returns the duration of this audio chunk.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.SampleRate)
}

// RMS returns the root mean square level of the chunk.
func (c AudioChunk) RMS() float64 {
	return pcm.RMS(c.Samples)
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start begins audio capture.
	// After calling Start, audio chunks will be available via Read or Stream.
	// Errors wrap ErrPermissionDenied or ErrDeviceUnavailable.
	Start(ctx context.Context) error

	// Stop halts audio capture.
	// It is safe to call Stop multiple times.
	Stop() error

	// Read reads the next audio chunk, blocking if necessary.
	// Returns io.EOF when the source is stopped.
	Read(ctx context.Context) (AudioChunk, error)

	// Stream returns a channel that receives audio chunks.
	// The channel is closed when the source is stopped.
	Stream() <-chan AudioChunk

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "malgo", "rtp", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// ChunksRead is the total number of chunks read.
	ChunksRead int64 `json:"chunks_read"`

	// SamplesRead is the total number of samples read.
	SamplesRead int64 `json:"samples_read"`

	// Overruns is the number of buffer overruns (dropped audio).
	Overruns int64 `json:"overruns"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

// Provider creates a fresh Source for each capture session.
type Provider interface {
	NewSource(cfg Config) (Source, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(cfg Config) (Source, error)

// NewSource calls f.
func (f ProviderFunc) NewSource(cfg Config) (Source, error) { return f(cfg) }
