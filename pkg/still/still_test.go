package still

import (
	"context"
	"errors"
	"testing"
)

type fixedCapturer struct {
	data []byte
	err  error
}

func (f fixedCapturer) Capture(context.Context) ([]byte, error) { return f.data, f.err }

type fixedCounter int

func (f fixedCounter) Count([]byte) (int, error) { return int(f), nil }

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"negative device", func(c *Config) { c.Device = -1 }, true},
		{"zero quality", func(c *Config) { c.Quality = 0 }, true},
		{"quality over 100", func(c *Config) { c.Quality = 101 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequireFace(t *testing.T) {
	photo := []byte{0xFF, 0xD8, 0xFF}

	t.Run("face present", func(t *testing.T) {
		r := RequireFace{Capturer: fixedCapturer{data: photo}, Faces: fixedCounter(1)}
		data, err := r.Capture(context.Background())
		if err != nil || len(data) != 3 {
			t.Errorf("Capture() = %v, %v", data, err)
		}
	})

	t.Run("no face", func(t *testing.T) {
		r := RequireFace{Capturer: fixedCapturer{data: photo}, Faces: fixedCounter(0)}
		if _, err := r.Capture(context.Background()); !errors.Is(err, ErrNoFace) {
			t.Errorf("Capture() error = %v, want ErrNoFace", err)
		}
	})

	t.Run("capture error", func(t *testing.T) {
		r := RequireFace{Capturer: Disabled{}, Faces: fixedCounter(1)}
		if _, err := r.Capture(context.Background()); !errors.Is(err, ErrDisabled) {
			t.Errorf("Capture() error = %v, want ErrDisabled", err)
		}
	})
}
