package audioio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestMockSource_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil)
	defer src.Close()

	ctx := context.Background()

	// Start should succeed
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Starting again should be a no-op
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}

	// Stop should succeed
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Stopping again should be a no-op
	if err := src.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
}

func TestMockSource_Read(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	expectedSamples := cfg.BufferSize() * cfg.Channels
	if len(chunk.Samples) != expectedSamples {
		t.Errorf("Expected %d samples, got %d", expectedSamples, len(chunk.Samples))
	}

	if chunk.SampleRate != cfg.SampleRate {
		t.Errorf("Expected sample rate %d, got %d", cfg.SampleRate, chunk.SampleRate)
	}
}

func TestMockSource_SineWave(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil, WithSineWave(440, 0.5))
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	// A 0.5 amplitude sine has RMS of about 0.35
	if rms := chunk.RMS(); rms < 0.3 || rms > 0.4 {
		t.Errorf("Unexpected RMS %v", rms)
	}
}

func TestMockSource_ManualFeed(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil, WithManualFeed())
	defer src.Close()

	if src.Push(NewChunk([]float32{1}, 16000)) {
		t.Error("Push before Start should fail")
	}

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !src.Push(NewChunk([]float32{0.25, 0.5}, 16000)) {
		t.Fatal("Push after Start should succeed")
	}

	chunk := <-src.Stream()
	if len(chunk.Samples) != 2 || chunk.Samples[1] != 0.5 {
		t.Errorf("Unexpected chunk %v", chunk.Samples)
	}

	src.Stop()
	if _, err := src.Read(context.Background()); err != io.EOF {
		t.Errorf("Expected io.EOF after Stop, got %v", err)
	}
}

func TestMockSource_SimulateStartError(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil)
	src.SimulateStartError(ErrPermissionDenied)

	if err := src.Start(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied, got %v", err)
	}
}

func TestMockSource_Close(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil)

	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := src.Start(context.Background()); err != io.ErrClosedPipe {
		t.Errorf("Expected ErrClosedPipe, got %v", err)
	}
}

func TestMockProvider(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil, WithManualFeed())
	p := &MockProvider{Source: src}

	s, err := p.NewSource(DefaultConfig())
	if err != nil {
		t.Fatalf("NewSource failed: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.Close()

	// Closing a provided source only stops the shared mock
	if err := src.Start(context.Background()); err != nil {
		t.Errorf("Shared source should restart, got %v", err)
	}

	p.Err = ErrDeviceUnavailable
	if _, err := p.NewSource(DefaultConfig()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if p.Calls() != 2 {
		t.Errorf("Expected 2 calls, got %d", p.Calls())
	}
}

func TestMockSink_WriteClear(t *testing.T) {
	sink := NewMockSink(PlaybackConfig(), nil)
	defer sink.Close()

	ctx := context.Background()
	if err := sink.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk := NewChunk(make([]float32, 480), 24000)
	for i := 0; i < 3; i++ {
		if err := sink.Write(ctx, chunk); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	stats := sink.Stats()
	if stats.ChunksWritten != 3 {
		t.Errorf("Expected 3 chunks, got %d", stats.ChunksWritten)
	}
	if stats.BufferedSamples != 1440 {
		t.Errorf("Expected 1440 buffered samples, got %d", stats.BufferedSamples)
	}

	if err := sink.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if sink.Stats().BufferedSamples != 0 {
		t.Error("Expected empty buffer after Clear")
	}
	if len(sink.Written()) != 3 || sink.Clears() != 1 {
		t.Errorf("Unexpected history: %d written, %d clears", len(sink.Written()), sink.Clears())
	}
}

func TestMockSink_NotRunning(t *testing.T) {
	sink := NewMockSink(PlaybackConfig(), nil)

	err := sink.Write(context.Background(), NewChunk([]float32{0}, 24000))
	if err != io.ErrClosedPipe {
		t.Errorf("Expected ErrClosedPipe, got %v", err)
	}
}

func TestAudioChunk_Bytes(t *testing.T) {
	chunk := NewChunk([]float32{0, 1, -1}, 16000)
	data := chunk.Bytes()

	if len(data) != 6 {
		t.Fatalf("Expected 6 bytes, got %d", len(data))
	}
	if data[2] != 0xFF || data[3] != 0x7F || data[4] != 0x00 || data[5] != 0x80 {
		t.Errorf("Unexpected encoding % x", data)
	}
}

func TestAudioChunk_Duration(t *testing.T) {
	tests := []struct {
		name  string
		chunk AudioChunk
		want  time.Duration
	}{
		{"capture window", NewChunk(make([]float32, 4096), 16000), 256 * time.Millisecond},
		{"playback 20ms", NewChunk(make([]float32, 480), 24000), 20 * time.Millisecond},
		{"stereo", AudioChunk{Samples: make([]float32, 960), SampleRate: 24000, Channels: 2}, 20 * time.Millisecond},
		{"zero rate", AudioChunk{Samples: make([]float32, 10), Channels: 1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.chunk.Duration(); got != tt.want {
				t.Errorf("Duration() = %v, want %v", got, tt.want)
			}
		})
	}
}
