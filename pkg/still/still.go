// Package still captures single JPEG photos from a local camera.
package still

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"
)

// Errors returned by capturers.
var (
	ErrDisabled  = errors.New("still: camera disabled")
	ErrEmptyShot = errors.New("still: camera returned an empty frame")
	ErrNoFace    = errors.New("still: no face in photo")
)

// Capturer takes one photo.
type Capturer interface {
	// Capture returns a JPEG-encoded photo.
	Capture(ctx context.Context) ([]byte, error)
}

// Config configures a Camera.
type Config struct {
	Device  int `json:"device"`
	Width   int `json:"width"`
	Height  int `json:"height"`
	Quality int `json:"quality"` // JPEG quality 1-100

	// Warmup is the number of frames discarded after opening so exposure
	// can settle.
	Warmup int `json:"warmup"`
}

// DefaultConfig returns 1280x720 at JPEG quality 85.
func DefaultConfig() Config {
	return Config{
		Width:   1280,
		Height:  720,
		Quality: 85,
		Warmup:  5,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Device < 0 {
		return fmt.Errorf("still: invalid device %d", c.Device)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("still: quality must be 1-100, got %d", c.Quality)
	}
	return nil
}

// Camera opens the device for every shot so it is not held between photos.
type Camera struct {
	cfg    Config
	logger *slog.Logger
	mu     sync.Mutex
}

// NewCamera creates a camera capturer.
func NewCamera(cfg Config, logger *slog.Logger) (*Camera, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Camera{cfg: cfg, logger: logger}, nil
}

// Capture opens the camera, reads a frame and encodes it as JPEG.
func (c *Camera) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(c.cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("still: open device %d: %w", c.cfg.Device, err)
	}
	defer vc.Close()

	if c.cfg.Width > 0 && c.cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	}

	img := gocv.NewMat()
	defer img.Close()

	for i := 0; i <= c.cfg.Warmup; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !vc.Read(&img) {
			return nil, fmt.Errorf("still: read device %d: %w", c.cfg.Device, ErrEmptyShot)
		}
	}
	if img.Empty() {
		return nil, ErrEmptyShot
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), c.cfg.Quality})
	if err != nil {
		return nil, fmt.Errorf("still: encode: %w", err)
	}
	defer buf.Close()

	data := append([]byte(nil), buf.GetBytes()...)
	c.logger.Debug("photo captured", "bytes", len(data), "width", img.Cols(), "height", img.Rows())
	return data, nil
}

// Disabled is a Capturer for hosts without a camera.
type Disabled struct{}

// Capture always returns ErrDisabled.
func (Disabled) Capture(context.Context) ([]byte, error) { return nil, ErrDisabled }

var (
	_ Capturer = (*Camera)(nil)
	_ Capturer = Disabled{}
)
