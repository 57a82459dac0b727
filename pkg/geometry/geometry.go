// Package geometry converts rectangles between the kiosk's screen space and
// the image space of the captured photo.
//
// The two spaces are related by a pure integer translation: the display
// surface is centred over the source image, so a point moves between the
// spaces by the difference of their centres. Rectangles carry their space in
// their type (ScreenRect or ImageRect) and must be converted explicitly before
// crossing from one to the other.
package geometry

import "image"

// ScreenRect is a rectangle in screen space.
type ScreenRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// ImageRect is a rectangle in image space.
type ImageRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rectangle returns r as an image.Rectangle.
func (r ScreenRect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Empty reports whether r has no area.
func (r ScreenRect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Rectangle returns r as an image.Rectangle.
func (r ImageRect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Empty reports whether r has no area.
func (r ImageRect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Center returns the centre point of r.
func (r ImageRect) Center() image.Point {
	return image.Pt(r.X+r.W/2, r.Y+r.H/2)
}

// Clamp intersects r with bounds. The result is the zero rectangle when they
// do not overlap.
func (r ImageRect) Clamp(bounds image.Rectangle) ImageRect {
	return ImageRectFrom(r.Rectangle().Intersect(bounds))
}

// ImageRectFrom converts an image.Rectangle into an ImageRect.
func ImageRectFrom(rect image.Rectangle) ImageRect {
	if rect.Empty() {
		return ImageRect{}
	}
	return ImageRect{X: rect.Min.X, Y: rect.Min.Y, W: rect.Dx(), H: rect.Dy()}
}

// ScreenRectFrom converts an image.Rectangle into a ScreenRect.
func ScreenRectFrom(rect image.Rectangle) ScreenRect {
	rect = rect.Canon()
	return ScreenRect{X: rect.Min.X, Y: rect.Min.Y, W: rect.Dx(), H: rect.Dy()}
}

// Center returns the centre of a surface of the given size using integer
// half extents.
func Center(size image.Point) image.Point {
	return image.Pt(size.X/2, size.Y/2)
}

// ToImageSpace offsets a screen rectangle by imageCenter-screenCenter.
func ToImageSpace(r ScreenRect, imageCenter, screenCenter image.Point) ImageRect {
	d := imageCenter.Sub(screenCenter)
	return ImageRect{X: r.X + d.X, Y: r.Y + d.Y, W: r.W, H: r.H}
}

// ToScreenSpace is the exact inverse of ToImageSpace.
func ToScreenSpace(r ImageRect, imageCenter, screenCenter image.Point) ScreenRect {
	d := screenCenter.Sub(imageCenter)
	return ScreenRect{X: r.X + d.X, Y: r.Y + d.Y, W: r.W, H: r.H}
}

// CenteredCropWindow returns a window-sized rectangle centred on a source of
// the given size. When the window is larger than the source on an axis the
// rectangle extends past the source bounds; callers that need an in-bounds
// rectangle must Clamp it.
func CenteredCropWindow(source, window image.Point) ImageRect {
	c := Center(source)
	return ImageRect{X: c.X - window.X/2, Y: c.Y - window.Y/2, W: window.X, H: window.Y}
}

// Mapper binds the screen and image centres used for conversions.
type Mapper struct {
	ScreenCenter image.Point
	ImageCenter  image.Point
}

// NewMapper derives a Mapper from the display surface and source image sizes.
func NewMapper(screen, source image.Point) Mapper {
	return Mapper{ScreenCenter: Center(screen), ImageCenter: Center(source)}
}

// ToImageSpace converts a screen rectangle to image space.
func (m Mapper) ToImageSpace(r ScreenRect) ImageRect {
	return ToImageSpace(r, m.ImageCenter, m.ScreenCenter)
}

// ToScreenSpace converts an image rectangle to screen space.
func (m Mapper) ToScreenSpace(r ImageRect) ScreenRect {
	return ToScreenSpace(r, m.ImageCenter, m.ScreenCenter)
}

// ViewportBounds returns the screen-space rectangle of a viewport of the
// given size centred on the screen.
func ViewportBounds(screen, viewport image.Point) image.Rectangle {
	c := Center(screen)
	min := image.Pt(c.X-viewport.X/2, c.Y-viewport.Y/2)
	return image.Rectangle{Min: min, Max: min.Add(viewport)}
}
