package vision

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	analysis "github.com/zhouzirui/moodmirror/internal/analysis/emotion"
	model "github.com/zhouzirui/moodmirror/internal/model/emotion"
)

// ferPlusInput is the square grayscale input of the FER+ network.
const ferPlusInput = 64

// DetectorConfig holds the model paths of the detector.
type DetectorConfig struct {
	FaceModelPath       string  // YuNet face detection ONNX
	ExpressionModelPath string  // FER+ emotion ONNX
	ScoreThreshold      float32 // minimum face score
}

// DefaultDetectorConfig returns the default model locations.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		FaceModelPath:       "models/face_detection_yunet_2023mar.onnx",
		ExpressionModelPath: "models/emotion-ferplus-8.onnx",
		ScoreThreshold:      0.6,
	}
}

// Detector finds the single most confident face with YuNet and classifies
// its expression with a FER+ network.
type Detector struct {
	config DetectorConfig

	mu     sync.Mutex
	loaded bool
	faces  gocv.FaceDetectorYN
	net    gocv.Net
}

// NewDetector creates an unloaded detector.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = DefaultDetectorConfig().ScoreThreshold
	}
	return &Detector{config: cfg}
}

// Load reads both models from disk.
func (d *Detector) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return nil
	}

	for _, path := range []string{d.config.FaceModelPath, d.config.ExpressionModelPath} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("model file not found: %s", path)
		}
	}

	net := gocv.ReadNetFromONNX(d.config.ExpressionModelPath)
	if net.Empty() {
		return fmt.Errorf("failed to load expression model from %s", d.config.ExpressionModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	d.faces = gocv.NewFaceDetectorYNWithParams(
		d.config.FaceModelPath,
		"",
		image.Pt(320, 240),
		d.config.ScoreThreshold,
		0.3,
		5000,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)
	d.net = net
	d.loaded = true
	return nil
}

// Detect returns nil when no face is found.
func (d *Detector) Detect(ctx context.Context, frame model.Frame) (*model.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return nil, fmt.Errorf("detector not loaded")
	}

	img, err := gocv.IMDecode(frame.Image, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	d.faces.SetInputSize(image.Pt(img.Cols(), img.Rows()))
	faces := gocv.NewMat()
	defer faces.Close()
	d.faces.Detect(img, &faces)

	// YuNet rows: 0-3 box, 4-13 landmarks, 14 score
	best, bestScore := -1, float32(0)
	for r := 0; r < faces.Rows(); r++ {
		if score := faces.GetFloatAt(r, 14); score > bestScore {
			best, bestScore = r, score
		}
	}
	if best < 0 {
		return nil, nil
	}

	rect := image.Rect(
		int(faces.GetFloatAt(best, 0)),
		int(faces.GetFloatAt(best, 1)),
		int(faces.GetFloatAt(best, 0)+faces.GetFloatAt(best, 2)),
		int(faces.GetFloatAt(best, 1)+faces.GetFloatAt(best, 3)),
	).Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if rect.Empty() {
		return nil, nil
	}

	logits, err := d.classify(img, rect)
	if err != nil {
		return nil, err
	}
	expressions := analysis.FERPlusExpressions(logits)
	if expressions == nil {
		return nil, fmt.Errorf("unexpected expression output size %d", len(logits))
	}

	return &model.Detection{
		Box: &model.Box{
			X:      float64(rect.Min.X),
			Y:      float64(rect.Min.Y),
			Width:  float64(rect.Dx()),
			Height: float64(rect.Dy()),
		},
		Expressions: expressions,
	}, nil
}

func (d *Detector) classify(img gocv.Mat, rect image.Rectangle) ([]float32, error) {
	face := img.Region(rect)
	defer face.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(face, &gray, gocv.ColorBGRToGray)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Pt(ferPlusInput, ferPlusInput), 0, 0, gocv.InterpolationLinear)

	// FER+ takes raw 0-255 pixel values
	blob := gocv.BlobFromImage(resized, 1.0, image.Pt(ferPlusInput, ferPlusInput), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read expression output: %w", err)
	}
	return append([]float32(nil), data...), nil
}

// Close releases both networks.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return nil
	}
	d.faces.Close()
	d.net.Close()
	d.loaded = false
	return nil
}
