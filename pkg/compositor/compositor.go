// Package compositor produces the illusion photo: every marked region is
// flipped top to bottom and blended back in place through a feathered mask.
package compositor

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/thatcherizer/pkg/geometry"
	"github.com/menta2k/thatcherizer/pkg/storage"
	"github.com/menta2k/thatcherizer/pkg/types"
)

// ErrRegionCount is returned when the number of regions is not exactly three.
var ErrRegionCount = errors.New("compositor: exactly three regions required")

// Persister stores the pair of images produced by a run
type Persister interface {
	NextRun() (storage.Run, error)
	SavePair(run storage.Run, original, illusion image.Image) error
}

// Config holds configuration for the compositor
type Config struct {
	// Screen and Source are the display surface and photo sizes used to
	// convert region rectangles into image space.
	Screen image.Point
	Source image.Point
	// Output is the image-space crop applied to both results.
	Output geometry.ImageRect
}

// DefaultConfig returns the kiosk geometry
func DefaultConfig() Config {
	return Config{
		Screen: image.Pt(800, 480),
		Source: image.Pt(640, 480),
		Output: geometry.ImageRect{X: 140, Y: 0, W: 360, H: 480},
	}
}

// Compositor runs the illusion transform and persists its results
type Compositor struct {
	config Config
	mapper geometry.Mapper
	mask   *image.Gray
	store  Persister
	log    logrus.FieldLogger
}

// New creates a Compositor using mask as blend weights.
func New(config Config, mask *image.Gray, store Persister, log logrus.FieldLogger) *Compositor {
	return &Compositor{
		config: config,
		mapper: geometry.NewMapper(config.Screen, config.Source),
		mask:   mask,
		store:  store,
		log:    log,
	}
}

// Region is a marked feature rectangle in screen space
type Region struct {
	Feature types.Feature
	Rect    geometry.ScreenRect
}

// Result holds one run's output. Images are in true orientation, which is
// what gets persisted; ForDisplay mirrors them back for the screen.
type Result struct {
	Run        storage.Run
	Unmodified *image.NRGBA
	Illusion   *image.NRGBA
	// Applied lists the image-space rectangles actually blended.
	Applied []geometry.ImageRect
	// Skipped lists features whose rectangle was degenerate or outside the
	// photo after clamping.
	Skipped []types.Feature
}

// ForDisplay returns both images mirrored back to capture orientation.
func (r *Result) ForDisplay() (unmodified, illusion *image.NRGBA) {
	return imaging.FlipH(r.Unmodified), imaging.FlipH(r.Illusion)
}

// Compose mirrors the source, applies the three regions, crops to the output
// rectangle and persists both images under the next sequence number.
func (c *Compositor) Compose(src image.Image, regions []Region) (*Result, error) {
	if len(regions) != types.FeatureCount {
		return nil, fmt.Errorf("%w: got %d", ErrRegionCount, len(regions))
	}

	base := imaging.FlipH(src)
	illusion := imaging.Clone(base)

	res := &Result{}
	for _, r := range regions {
		ir := c.mapper.ToImageSpace(r.Rect)
		applied, ok := ApplyRegion(illusion, ir, c.mask)
		if !ok {
			c.log.WithFields(logrus.Fields{
				"feature": r.Feature.String(),
				"rect":    ir,
			}).Debug("skipping degenerate or out-of-bounds region")
			res.Skipped = append(res.Skipped, r.Feature)
			continue
		}
		res.Applied = append(res.Applied, applied)
	}

	crop := c.config.Output.Clamp(base.Bounds()).Rectangle()
	res.Unmodified = imaging.Crop(base, crop)
	res.Illusion = imaging.Crop(illusion, crop)

	run, err := c.store.NextRun()
	if err != nil {
		return nil, fmt.Errorf("failed to determine run number: %w", err)
	}
	if err := c.store.SavePair(run, res.Unmodified, res.Illusion); err != nil {
		return nil, err
	}
	res.Run = run

	c.log.WithFields(logrus.Fields{
		"run":     run.Seq,
		"applied": len(res.Applied),
		"skipped": len(res.Skipped),
	}).Info("illusion composed")

	return res, nil
}

// ApplyRegion flips the content of rect top to bottom and blends it back
// into img through mask resized to the rectangle. The rectangle is clamped
// to the image first; the clamped rectangle is returned, with false when
// nothing was left to blend.
func ApplyRegion(img *image.NRGBA, rect geometry.ImageRect, mask *image.Gray) (geometry.ImageRect, bool) {
	rect = rect.Clamp(img.Bounds())
	if rect.Empty() {
		return geometry.ImageRect{}, false
	}

	weights := imaging.Resize(mask, rect.W, rect.H, imaging.Linear)
	flipped := imaging.FlipV(imaging.Crop(img, rect.Rectangle()))
	blend(img, flipped, weights, image.Pt(rect.X, rect.Y))

	return rect, true
}

// blend linearly mixes src into dst at offset using the red channel of
// weights as the per-pixel factor.
func blend(dst, src, weights *image.NRGBA, offset image.Point) {
	b := src.Bounds()
	for y := 0; y < b.Dy(); y++ {
		di := (offset.Y-dst.Rect.Min.Y+y)*dst.Stride + (offset.X-dst.Rect.Min.X)*4
		si := y * src.Stride
		wi := y * weights.Stride
		for x := 0; x < b.Dx(); x++ {
			a := uint32(weights.Pix[wi])
			if a != 0 {
				for k := 0; k < 4; k++ {
					o := uint32(dst.Pix[di+k])
					f := uint32(src.Pix[si+k])
					dst.Pix[di+k] = uint8((o*(255-a) + f*a + 127) / 255)
				}
			}
			di += 4
			si += 4
			wi += 4
		}
	}
}
