// Package audioio provides audio capture and playback devices.
//
// This package supports multiple backends:
//   - malgo (miniaudio) - local microphone capture
//   - oto - local speaker playback
//   - RTP - Opus-over-RTP remote microphone (e.g. a kiosk tablet)
//   - Mock - CI/Testing without hardware
//
// The backend is selected from configuration, with "auto" picking the local
// device backends.
package audioio

import (
	"errors"
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects malgo for capture and oto for playback.
	BackendAuto Backend = "auto"
	// BackendMalgo captures from a local device through miniaudio.
	BackendMalgo Backend = "malgo"
	// BackendOto plays through the local speaker.
	BackendOto Backend = "oto"
	// BackendRTP receives Opus audio over RTP/UDP.
	BackendRTP Backend = "rtp"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

var (
	// ErrPermissionDenied is returned when the OS refuses microphone access.
	ErrPermissionDenied = errors.New("audioio: permission denied")

	// ErrDeviceUnavailable is returned when no usable device exists.
	ErrDeviceUnavailable = errors.New("audioio: device unavailable")
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000 for capture, 24000 for playback.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the device period.
	// Default: 20ms
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device identifies the input. For malgo it is a device name substring
	// (empty for the default device), for RTP it is the UDP listen address.
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig returns a capture Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// PlaybackConfig returns the default playback configuration (24 kHz mono).
func PlaybackConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleRate = 24000
	return cfg
}

// WithBackend returns a copy with the backend set.
func (c Config) WithBackend(b Backend) Config {
	c.Backend = b
	return c
}

// WithDevice returns a copy with the device set.
func (c Config) WithDevice(device string) Config {
	c.Device = device
	return c
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of frames per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}
