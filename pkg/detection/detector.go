// Package detection proposes starting rectangles for the eyes and mouth.
//
// Detectors are optional collaborators: whatever they return is merged over
// the fixed guide rectangles, so marking always starts with exactly one
// rectangle per feature even when nothing was found.
package detection

import (
	"context"
	"errors"
	"image"

	"github.com/menta2k/thatcherizer/pkg/geometry"
	"github.com/menta2k/thatcherizer/pkg/types"
)

// ErrNoDetector is returned by constructors asked for an unknown backend.
var ErrNoDetector = errors.New("detection: no detector configured")

// Detector proposes image-space feature rectangles for a true-orientation
// photo. An empty result is valid.
type Detector interface {
	Detect(ctx context.Context, photo image.Image) ([]types.Proposal, error)
}

// Nop never proposes anything
type Nop struct{}

// Detect implements Detector
func (Nop) Detect(context.Context, image.Image) ([]types.Proposal, error) {
	return nil, nil
}

// EyeAspectRatio is the width to height ratio eye boxes are reshaped to
const EyeAspectRatio = 1.7

// DefaultRects returns the guide rectangles matching the head guide overlay
// for a 640x480 photo.
func DefaultRects() map[types.Feature]geometry.ImageRect {
	return map[types.Feature]geometry.ImageRect{
		types.LeftEye:  {X: 240, Y: 155, W: 50, H: 30},
		types.RightEye: {X: 345, Y: 155, W: 50, H: 30},
		types.Mouth:    {X: 275, Y: 255, W: 90, H: 60},
	}
}

// Resolve merges proposals over defaults and returns one rectangle per
// feature in marking order. When several proposals share a feature the last
// one wins.
func Resolve(proposals []types.Proposal, defaults map[types.Feature]geometry.ImageRect) [types.FeatureCount]geometry.ImageRect {
	var out [types.FeatureCount]geometry.ImageRect
	for _, f := range types.Features() {
		out[f] = defaults[f]
	}
	for _, p := range proposals {
		if p.Feature < 0 || int(p.Feature) >= types.FeatureCount || p.Rect.Empty() {
			continue
		}
		out[p.Feature] = p.Rect
	}
	return out
}

// ReshapeEye turns a square eye box into a wider-than-tall one with the same
// width and vertical centre.
func ReshapeEye(r image.Rectangle) geometry.ImageRect {
	w := r.Dx()
	h := int(float64(w) / EyeAspectRatio)
	return geometry.ImageRect{X: r.Min.X, Y: r.Min.Y + (w-h)/2, W: w, H: h}
}

// AssignEyes labels raw eye boxes by which side of centerX their centre falls
// on. Every box is considered, so a spurious extra box on one side replaces
// an earlier correct one (last write wins).
func AssignEyes(boxes []image.Rectangle, centerX int) []types.Proposal {
	var out []types.Proposal
	for _, b := range boxes {
		eyeCenterX := b.Min.X + b.Dx()/2
		f := types.RightEye
		if eyeCenterX <= centerX {
			f = types.LeftEye
		}
		out = append(out, types.Proposal{Feature: f, Rect: ReshapeEye(b)})
	}
	return out
}

// PickMouth returns the first box whose top edge lies below centerY.
func PickMouth(boxes []image.Rectangle, centerY int) (types.Proposal, bool) {
	for _, b := range boxes {
		if b.Min.Y > centerY {
			return types.Proposal{Feature: types.Mouth, Rect: geometry.ImageRectFrom(b)}, true
		}
	}
	return types.Proposal{}, false
}
