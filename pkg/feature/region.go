// Package feature implements the drag-to-draw rectangle editor used to mark
// the eyes and mouth on a captured photo.
package feature

import (
	"image"
	"image/color"
	"math/rand"

	"github.com/menta2k/thatcherizer/pkg/geometry"
	"github.com/menta2k/thatcherizer/pkg/types"
)

// Region is an editable screen-space rectangle bound to one feature label.
// Only the two drag anchors are stored; the rectangle is derived on demand.
type Region struct {
	Label types.Feature
	Color color.RGBA

	band     image.Rectangle
	anchor   image.Point
	corner   image.Point
	dragging bool
	valid    bool
	frozen   bool
}

// New creates a region seeded with an initial rectangle. Pointer events are
// only accepted strictly inside band.
func New(label types.Feature, initial geometry.ScreenRect, band image.Rectangle, tag color.RGBA) *Region {
	return &Region{
		Label:  label,
		Color:  tag,
		band:   band,
		anchor: image.Pt(initial.X, initial.Y),
		corner: image.Pt(initial.X+initial.W, initial.Y+initial.H),
		valid:  true,
	}
}

// HandlePointerEvent applies a pointer event to the drag state.
func (r *Region) HandlePointerEvent(ev types.Event) {
	if r.frozen || !ev.Kind.IsPointer() || !r.inBand(ev.Pos) {
		return
	}

	switch ev.Kind {
	case types.PointerDown:
		if !r.dragging {
			r.dragging = true
			r.anchor = ev.Pos
			r.valid = false
		}
	case types.PointerMove:
		if r.dragging {
			r.corner = ev.Pos
			r.valid = true
		}
	case types.PointerUp:
		r.dragging = false
	}
}

// CurrentRect returns the normalised rectangle spanned by the anchors, or the
// zero rectangle while a new drag has not moved yet.
func (r *Region) CurrentRect() geometry.ScreenRect {
	if !r.valid {
		return geometry.ScreenRect{}
	}
	return Normalize(r.anchor, r.corner)
}

// Complete reports whether the region currently holds a valid rectangle.
func (r *Region) Complete() bool {
	return r.valid
}

// Dragging reports whether a drag is in progress.
func (r *Region) Dragging() bool {
	return r.dragging
}

// Freeze ends editing and returns the final rectangle.
func (r *Region) Freeze() geometry.ScreenRect {
	r.frozen = true
	r.dragging = false
	return r.CurrentRect()
}

func (r *Region) inBand(p image.Point) bool {
	return p.X > r.band.Min.X && p.X < r.band.Max.X &&
		p.Y > r.band.Min.Y && p.Y < r.band.Max.Y
}

// Normalize builds the rectangle with non-negative size spanned by two
// corners, independent of their order.
func Normalize(a, b image.Point) geometry.ScreenRect {
	return geometry.ScreenRect{
		X: min(a.X, b.X),
		Y: min(a.Y, b.Y),
		W: abs(a.X - b.X),
		H: abs(a.Y - b.Y),
	}
}

// RandomColor picks an opaque color tag.
func RandomColor(rng *rand.Rand) color.RGBA {
	return color.RGBA{
		R: uint8(rng.Intn(255)),
		G: uint8(rng.Intn(255)),
		B: uint8(rng.Intn(255)),
		A: 255,
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
