// Package cascade proposes eye and mouth rectangles with OpenCV Haar
// cascades.
package cascade

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/menta2k/thatcherizer/internal/utils"
	"github.com/menta2k/thatcherizer/pkg/detection"
	"github.com/menta2k/thatcherizer/pkg/types"
)

// Cascade file names looked up in the classifier directory
const (
	EyeCascadeFile   = "haarcascade_eye.xml"
	MouthCascadeFile = "haarcascade_mouth.xml"
)

// Config holds the classifier directory and detection parameters
type Config struct {
	Dir              string
	EyeScaleFactor   float64
	MouthScaleFactor float64
	MinNeighbors     int
}

// DefaultConfig returns the scale factors tuned for a 640x480 portrait
func DefaultConfig() Config {
	return Config{
		Dir:              "classifiers",
		EyeScaleFactor:   3.3,
		MouthScaleFactor: 4,
		MinNeighbors:     3,
	}
}

// Detector runs the eye and mouth cascades. It is not safe for concurrent
// use and must be closed.
type Detector struct {
	config Config
	eyes   gocv.CascadeClassifier
	mouth  gocv.CascadeClassifier
}

// New loads both cascades from config.Dir
func New(config Config) (*Detector, error) {
	eyePath := filepath.Join(config.Dir, EyeCascadeFile)
	mouthPath := filepath.Join(config.Dir, MouthCascadeFile)
	for _, p := range []string{eyePath, mouthPath} {
		if !utils.FileExists(p) {
			return nil, fmt.Errorf("cascade file not found: %s", p)
		}
	}

	d := &Detector{
		config: config,
		eyes:   gocv.NewCascadeClassifier(),
		mouth:  gocv.NewCascadeClassifier(),
	}
	if !d.eyes.Load(eyePath) {
		d.Close()
		return nil, fmt.Errorf("failed to load eye cascade classifier from %s", eyePath)
	}
	if !d.mouth.Load(mouthPath) {
		d.Close()
		return nil, fmt.Errorf("failed to load mouth cascade classifier from %s", mouthPath)
	}
	return d, nil
}

// Close releases the classifiers
func (d *Detector) Close() error {
	d.eyes.Close()
	d.mouth.Close()
	return nil
}

// Detect implements detection.Detector
func (d *Detector) Detect(ctx context.Context, photo image.Image) ([]types.Proposal, error) {
	mat, err := gocv.ImageToMatRGB(photo)
	if err != nil {
		return nil, fmt.Errorf("failed to convert photo: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b := photo.Bounds()
	center := image.Pt(b.Dx()/2, b.Dy()/2)

	eyeBoxes := d.eyes.DetectMultiScaleWithParams(gray, d.config.EyeScaleFactor, d.config.MinNeighbors, 0, image.Point{}, image.Point{})
	proposals := detection.AssignEyes(eyeBoxes, center.X)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mouthBoxes := d.mouth.DetectMultiScaleWithParams(gray, d.config.MouthScaleFactor, d.config.MinNeighbors, 0, image.Point{}, image.Point{})
	if m, ok := detection.PickMouth(mouthBoxes, center.Y); ok {
		proposals = append(proposals, m)
	}

	return proposals, nil
}
