// Package config loads go-skinvoice configuration.
//
// Values are layered: DefaultConfig, then an optional YAML file, then a
// .env file, then environment variables. Flag parsing happens in
// cmd/skinvoice and is applied last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-skinvoice/pkg/persona"
	"github.com/teslashibe/go-skinvoice/pkg/session"
)

// Backend names for the conversational audio backend.
const (
	BackendWebsocket = "websocket"
	BackendGenAI     = "genai"
)

// Default configuration values.
const (
	DefaultModel  = session.DefaultModel
	DefaultVoice  = session.DefaultVoice
	DefaultListen = ":8088"
	DefaultScope  = "local"
)

// Config holds all configuration for the skinvoice application.
type Config struct {
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// APIKey is never read from the YAML file.
	APIKey string `yaml:"-"`

	Backend  string `yaml:"backend"`
	Model    string `yaml:"model"`
	Voice    string `yaml:"voice"`
	Persona  string `yaml:"persona"`
	Greeting string `yaml:"greeting"`

	// Scope keys the stored persona choice, one per kiosk or user.
	Scope string `yaml:"scope"`

	Listen      string `yaml:"listen"`
	AutoConnect bool   `yaml:"auto_connect"`

	Session SessionConfig `yaml:"session"`
	Audio   AudioConfig   `yaml:"audio"`
	Redis   RedisConfig   `yaml:"redis"`
	Camera  CameraConfig  `yaml:"camera"`
}

// SessionConfig tunes the session manager timings.
type SessionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	MaxReconnects    int           `yaml:"max_reconnects"`
	GreetingDelay    time.Duration `yaml:"greeting_delay"`
}

// AudioConfig selects the capture and playback backends.
type AudioConfig struct {
	Input       string `yaml:"input"`  // auto, malgo, rtp, mock
	Output      string `yaml:"output"` // auto, oto, mock
	InputDevice string `yaml:"input_device"`
	RTPAddr     string `yaml:"rtp_addr"`
}

// RedisConfig configures the persona store. Empty Addr uses memory.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// CameraConfig enables still capture for /api/photo.
type CameraConfig struct {
	Enabled bool `yaml:"enabled"`
	Device  int  `yaml:"device"`
	Quality int  `yaml:"quality"`

	// FaceModel is a YuNet ONNX model. When set, photos without a face
	// are rejected.
	FaceModel string `yaml:"face_model"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Backend:  BackendWebsocket,
		Model:    DefaultModel,
		Voice:    DefaultVoice,
		Persona:  string(persona.Default),
		Greeting: persona.DefaultGreeting,
		Listen:   DefaultListen,
		Scope:    DefaultScope,
		Session: SessionConfig{
			HandshakeTimeout: session.DefaultHandshakeTimeout,
			SettleDelay:      session.DefaultSettleDelay,
			ReconnectBackoff: session.DefaultReconnectBackoff,
			MaxReconnects:    session.DefaultMaxReconnects,
			GreetingDelay:    session.DefaultGreetingDelay,
		},
		Audio: AudioConfig{
			Input:   "auto",
			Output:  "auto",
			RTPAddr: "127.0.0.1:5004",
		},
		Redis: RedisConfig{
			TTL: 24 * time.Hour,
		},
		Camera: CameraConfig{
			Quality: 85,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (optional, may
// be empty), the .env file at envFile (missing file is fine) and the
// process environment.
func Load(path, envFile string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	if err := cfg.LoadEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadEnv applies environment overrides.
func (c *Config) LoadEnv() error {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.APIKey = key
	} else if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.APIKey = key
	}

	setString(&c.LogLevel, "SKINVOICE_LOG_LEVEL")
	setString(&c.Backend, "SKINVOICE_BACKEND")
	setString(&c.Model, "SKINVOICE_MODEL")
	setString(&c.Voice, "SKINVOICE_VOICE")
	setString(&c.Persona, "SKINVOICE_PERSONA")
	setString(&c.Greeting, "SKINVOICE_GREETING")
	setString(&c.Scope, "SKINVOICE_SCOPE")
	setString(&c.Listen, "SKINVOICE_LISTEN")
	setString(&c.Audio.Input, "SKINVOICE_AUDIO_INPUT")
	setString(&c.Audio.Output, "SKINVOICE_AUDIO_OUTPUT")
	setString(&c.Audio.RTPAddr, "SKINVOICE_RTP_ADDR")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")

	if v := os.Getenv("SKINVOICE_AUTO_CONNECT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &Error{Field: "SKINVOICE_AUTO_CONNECT", Message: err.Error()}
		}
		c.AutoConnect = b
	}
	if v := os.Getenv("SKINVOICE_RECONNECT_BACKOFF"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &Error{Field: "SKINVOICE_RECONNECT_BACKOFF", Message: err.Error()}
		}
		c.Session.ReconnectBackoff = d
	}
	return nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return &Error{Field: "APIKey", Message: "GEMINI_API_KEY environment variable is required"}
	}
	switch c.Backend {
	case BackendWebsocket, BackendGenAI:
	default:
		return &Error{Field: "Backend", Message: fmt.Sprintf("unknown backend %q", c.Backend)}
	}
	if c.Session.ReconnectBackoff <= 0 {
		return &Error{Field: "Session.ReconnectBackoff", Message: "reconnect backoff must be positive"}
	}
	if c.Session.HandshakeTimeout <= 0 {
		return &Error{Field: "Session.HandshakeTimeout", Message: "handshake timeout must be positive"}
	}
	if c.Listen == "" {
		return &Error{Field: "Listen", Message: "listen address is required"}
	}
	return nil
}

// Error represents a configuration validation error.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return "config: " + e.Field + ": " + e.Message
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
