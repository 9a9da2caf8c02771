package still

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// FaceConfig configures the YuNet face check.
type FaceConfig struct {
	ModelPath        string  `json:"model_path"`
	ConfidenceThresh float64 `json:"confidence_thresh"`
}

// FaceDetector counts faces in JPEG photos using OpenCV's FaceDetectorYN.
type FaceDetector struct {
	detector gocv.FaceDetectorYN
	mu       sync.Mutex // Protects inference
}

// NewFaceDetector loads the YuNet ONNX model.
func NewFaceDetector(cfg FaceConfig) (*FaceDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("still: face model: %w", err)
	}
	if cfg.ConfidenceThresh <= 0 {
		cfg.ConfidenceThresh = 0.6
	}

	// Input size is updated per image
	detector := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"",
		image.Pt(320, 320),
		float32(cfg.ConfidenceThresh),
		0.3,  // NMS threshold
		5000, // Top K
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)
	return &FaceDetector{detector: detector}, nil
}

// Count returns the number of faces in a JPEG image.
func (d *FaceDetector) Count(jpeg []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil {
		return 0, fmt.Errorf("still: decode image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return 0, ErrEmptyShot
	}

	d.detector.SetInputSize(image.Pt(img.Cols(), img.Rows()))

	faces := gocv.NewMat()
	defer faces.Close()
	d.detector.Detect(img, &faces)

	return faces.Rows(), nil
}

// Close releases the model.
func (d *FaceDetector) Close() error {
	d.detector.Close()
	return nil
}

// FaceCounter counts faces in a photo.
type FaceCounter interface {
	Count(jpeg []byte) (int, error)
}

// RequireFace wraps a Capturer and rejects photos without a face.
type RequireFace struct {
	Capturer Capturer
	Faces    FaceCounter
}

// Capture takes a photo and returns ErrNoFace if none is detected.
func (r RequireFace) Capture(ctx context.Context) ([]byte, error) {
	data, err := r.Capturer.Capture(ctx)
	if err != nil {
		return nil, err
	}
	n, err := r.Faces.Count(data)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoFace
	}
	return data, nil
}

var (
	_ FaceCounter = (*FaceDetector)(nil)
	_ Capturer    = RequireFace{}
)
