package audioio

import (
	"fmt"
	"log/slog"
)

// NewSource creates a new audio source with the given configuration.
// BackendAuto selects the local malgo device.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = BackendMalgo
	}

	logger.Debug("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendMalgo:
		return NewMalgoSource(cfg, logger), nil
	case BackendRTP:
		return NewRTPSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported source backend: %s", backend)
	}
}

// NewSink creates a new audio sink with the given configuration.
// BackendAuto selects the oto speaker.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = BackendOto
	}

	logger.Debug("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendOto:
		return NewOtoSink(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported sink backend: %s", backend)
	}
}

// NewProvider returns a Provider that builds a fresh source per capture
// session using the given backend and device.
func NewProvider(backend Backend, device string, logger *slog.Logger) Provider {
	return ProviderFunc(func(cfg Config) (Source, error) {
		return NewSource(cfg.WithBackend(backend).WithDevice(device), logger)
	})
}

// AvailableBackends returns the list of source backends.
func AvailableBackends() []Backend {
	return []Backend{BackendMalgo, BackendRTP, BackendMock}
}
