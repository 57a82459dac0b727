// Package camera provides frame sources for the live preview: a gocv
// capture device read on a background goroutine, and a still image for
// camera-less installs.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/menta2k/thatcherizer/pkg/processing"
)

// ErrNoFrame is returned when no frame has been captured yet
var ErrNoFrame = errors.New("camera: no frame available")

const retryDelay = 20 * time.Millisecond

// Source yields the most recent frame without blocking
type Source interface {
	Start(ctx context.Context) error
	Frame() (image.Image, error)
	Close() error
}

// Device reads frames from a capture device. Frame returns the newest
// frame captured so far.
type Device struct {
	id     int
	size   image.Point
	log    logrus.FieldLogger
	mu     sync.Mutex
	latest image.Image
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDevice creates a capture source for the given device index
func NewDevice(id int, size image.Point, log logrus.FieldLogger) *Device {
	return &Device{id: id, size: size, log: log}
}

// Start opens the device and begins reading in the background
func (d *Device) Start(ctx context.Context) error {
	webcam, err := gocv.OpenVideoCapture(d.id)
	if err != nil {
		return fmt.Errorf("failed to open capture device %d: %w", d.id, err)
	}
	webcam.Set(gocv.VideoCaptureFrameWidth, float64(d.size.X))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(d.size.Y))

	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.loop(ctx, webcam)
	return nil
}

func (d *Device) loop(ctx context.Context, webcam *gocv.VideoCapture) {
	defer close(d.done)
	defer webcam.Close()

	mat := gocv.NewMat()
	defer mat.Close()

	for ctx.Err() == nil {
		if ok := webcam.Read(&mat); !ok || mat.Empty() {
			d.log.Debug("camera read returned no frame")
			select {
			case <-ctx.Done():
			case <-time.After(retryDelay):
			}
			continue
		}
		img, err := mat.ToImage()
		if err != nil {
			d.log.WithError(err).Warn("failed to convert camera frame")
			continue
		}
		if b := img.Bounds(); b.Dx() != d.size.X || b.Dy() != d.size.Y {
			img = imaging.Fill(img, d.size.X, d.size.Y, imaging.Center, imaging.Linear)
		}
		d.mu.Lock()
		d.latest = img
		d.mu.Unlock()
	}
}

// Frame implements Source
func (d *Device) Frame() (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.latest == nil {
		return nil, ErrNoFrame
	}
	return d.latest, nil
}

// Close stops the reader and releases the device
func (d *Device) Close() error {
	if d.cancel != nil {
		d.cancel()
		<-d.done
		d.cancel = nil
	}
	return nil
}

// Still serves one image as every frame
type Still struct {
	frame image.Image
}

// NewStill wraps an already decoded image, fitted to size
func NewStill(img image.Image, size image.Point) *Still {
	if b := img.Bounds(); b.Dx() != size.X || b.Dy() != size.Y {
		img = imaging.Fill(img, size.X, size.Y, imaging.Center, imaging.Lanczos)
	}
	return &Still{frame: img}
}

// LoadStill decodes path and fits it to size
func LoadStill(path string, size image.Point) (*Still, error) {
	img, err := processing.NewProcessor().LoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load still image: %w", err)
	}
	return NewStill(img, size), nil
}

// Start implements Source
func (s *Still) Start(context.Context) error { return nil }

// Frame implements Source
func (s *Still) Frame() (image.Image, error) {
	if s.frame == nil {
		return nil, ErrNoFrame
	}
	return s.frame, nil
}

// Close implements Source
func (s *Still) Close() error { return nil }
