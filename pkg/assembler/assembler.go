// Package assembler lays the unmodified and illusion photos of a run onto
// the fixed print template.
package assembler

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/thatcherizer/pkg/geometry"
	"github.com/menta2k/thatcherizer/pkg/storage"
)

// Saver persists the composite of a run
type Saver interface {
	Save(run storage.Run, kind string, img image.Image) (string, error)
}

// Sink receives the finished composite. Submission is fire-and-forget.
type Sink interface {
	Submit(ctx context.Context, path string, img image.Image)
}

// Config describes the print template geometry
type Config struct {
	// Scale is the size both photos are resized to before cropping.
	Scale image.Point
	// Crop is applied to both scaled photos.
	Crop geometry.ImageRect
	// OriginalAnchor and IllusionAnchor are the paste offsets on the template.
	OriginalAnchor image.Point
	IllusionAnchor image.Point
}

// DefaultConfig returns the kiosk print layout
func DefaultConfig() Config {
	return Config{
		Scale:          image.Pt(720, 960),
		Crop:           geometry.ImageRect{X: 40, Y: 52, W: 640, H: 856},
		OriginalAnchor: image.Pt(58, 172),
		IllusionAnchor: image.Pt(1102, 172),
	}
}

// Assembler builds, stores and submits print composites
type Assembler struct {
	config   Config
	template *image.NRGBA
	saver    Saver
	sink     Sink
	log      logrus.FieldLogger
}

// New creates an Assembler. The template is never modified.
func New(config Config, template *image.NRGBA, saver Saver, sink Sink, log logrus.FieldLogger) *Assembler {
	return &Assembler{config: config, template: template, saver: saver, sink: sink, log: log}
}

// Compose places both photos on a copy of the template. The illusion photo
// is rotated 180 degrees.
func (a *Assembler) Compose(original, illusion image.Image) *image.NRGBA {
	crop := a.config.Crop.Rectangle()

	orig := imaging.Resize(original, a.config.Scale.X, a.config.Scale.Y, imaging.Lanczos)
	orig = imaging.Crop(orig, crop)

	thatch := imaging.Resize(illusion, a.config.Scale.X, a.config.Scale.Y, imaging.Lanczos)
	thatch = imaging.Rotate180(imaging.Crop(thatch, crop))

	out := imaging.Paste(a.template, orig, a.config.OriginalAnchor)
	return imaging.Paste(out, thatch, a.config.IllusionAnchor)
}

// Assemble composes the print for run, persists it under the run's own
// sequence number and hands it to the sink.
func (a *Assembler) Assemble(ctx context.Context, run storage.Run, original, illusion image.Image) (string, error) {
	composite := a.Compose(original, illusion)

	path, err := a.saver.Save(run, storage.KindComposite, composite)
	if err != nil {
		return "", fmt.Errorf("failed to save composite: %w", err)
	}

	a.log.WithFields(logrus.Fields{"run": run.Seq, "path": path}).Info("print composite assembled")
	a.sink.Submit(ctx, path, composite)
	return path, nil
}
