package session

import (
	"errors"
	"time"

	"github.com/teslashibe/go-skinvoice/pkg/capture"
	"github.com/teslashibe/go-skinvoice/pkg/pcm"
	"github.com/teslashibe/go-skinvoice/pkg/playback"
	"github.com/teslashibe/go-skinvoice/pkg/vad"
)

// Defaults for the session manager.
const (
	DefaultModel            = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice            = "Kore"
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultSettleDelay      = 300 * time.Millisecond
	DefaultReconnectBackoff = 2 * time.Second
	DefaultMaxReconnects    = 5
	DefaultGreetingDelay    = 100 * time.Millisecond
)

// Config configures a Session.
type Config struct {
	// Model is the backend model name.
	Model string

	// Voice is the prebuilt voice name (e.g., "Kore").
	Voice string

	// Greeting is sent as a user turn GreetingDelay after the setup
	// acknowledgement. Empty disables it.
	Greeting      string
	GreetingDelay time.Duration

	// HandshakeTimeout bounds dial plus setup acknowledgement.
	HandshakeTimeout time.Duration

	// SettleDelay is waited after tearing down stale handles before a
	// new attempt starts.
	SettleDelay time.Duration

	// ReconnectBackoff is the fixed delay before an automatic reconnect.
	ReconnectBackoff time.Duration

	// MaxReconnects caps automatic reconnects between caller Connects.
	// Zero means unlimited.
	MaxReconnects int

	// PlaybackRate is the output device rate inbound audio is
	// resampled to.
	PlaybackRate int

	Capture  capture.Config
	VAD      vad.Config
	Playback playback.Config
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Model:            DefaultModel,
		Voice:            DefaultVoice,
		GreetingDelay:    DefaultGreetingDelay,
		HandshakeTimeout: DefaultHandshakeTimeout,
		SettleDelay:      DefaultSettleDelay,
		ReconnectBackoff: DefaultReconnectBackoff,
		MaxReconnects:    DefaultMaxReconnects,
		PlaybackRate:     pcm.PlaybackRate,
		Capture:          capture.DefaultConfig(),
		VAD:              vad.DefaultConfig(),
		Playback:         playback.DefaultConfig(),
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Model == "" {
		return errors.New("session: model is required")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("session: handshake timeout must be positive")
	}
	if c.ReconnectBackoff <= 0 {
		return errors.New("session: reconnect backoff must be positive")
	}
	if c.SettleDelay < 0 || c.GreetingDelay < 0 {
		return errors.New("session: delays must not be negative")
	}
	if c.MaxReconnects < 0 {
		return errors.New("session: max reconnects must not be negative")
	}
	if c.PlaybackRate <= 0 {
		return errors.New("session: playback rate must be positive")
	}
	return nil
}

// WithModel returns a copy of the config with the specified model.
func (c Config) WithModel(model string) Config {
	c.Model = model
	return c
}

// WithVoice returns a copy of the config with the specified voice.
func (c Config) WithVoice(voice string) Config {
	c.Voice = voice
	return c
}

// WithGreeting returns a copy of the config with the specified greeting.
func (c Config) WithGreeting(text string) Config {
	c.Greeting = text
	return c
}
