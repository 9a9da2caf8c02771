package audioio

import (
	"context"
	"io"
)

// Sink is the playback device. The playback scheduler owns it for the
// lifetime of a session: Start resumes output when a drain begins, Clear
// cuts it on interruption and Stop releases it on teardown.
type Sink interface {
	// Start resumes output. Calling it while running is a no-op.
	Start(ctx context.Context) error

	// Stop halts output and drops anything buffered. Idempotent.
	Stop() error

	// Write queues a chunk behind whatever is already buffered and may
	// block while the device buffer is full.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush blocks until buffered audio has played or ctx is done.
	Flush(ctx context.Context) error

	// Clear discards buffered audio immediately without stopping.
	Clear() error

	Config() Config

	// Name is the backend name, "oto" or "mock".
	Name() string

	// Close releases the device; a closed sink cannot restart.
	io.Closer
}

// SinkStats reports playback counters.
type SinkStats struct {
	ChunksWritten   int64  `json:"chunks_written"`
	SamplesWritten  int64  `json:"samples_written"`
	BufferedSamples int64  `json:"buffered_samples"`
	Underruns       int64  `json:"underruns"`
	Running         bool   `json:"running"`
	Backend         string `json:"backend"`
}

// SinkWithStats is a Sink that exposes SinkStats.
type SinkWithStats interface {
	Sink
	Stats() SinkStats
}
