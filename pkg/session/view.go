package session

import (
	"image"
	"image/color"

	"github.com/menta2k/thatcherizer/pkg/assets"
	"github.com/menta2k/thatcherizer/pkg/geometry"
	"github.com/menta2k/thatcherizer/pkg/types"
)

// Runtime is the UI boundary. Events drains the input gathered since the
// previous call and must not block. Render draws a view.
type Runtime interface {
	Events() []types.Event
	Render(v View)
}

// View is everything the display layer needs to draw the active state.
//
// Frame and Results are in capture orientation and are shown mirrored, so
// the screen-space Region lines up with the true-orientation photo the
// compositor works on.
type View struct {
	State      string
	Background string
	// Backdrop is the loaded Background image, nil when none was loaded.
	Backdrop   image.Image

	Frame      image.Image
	// Crop is the part of Frame shown in the viewport, clamped to the frame.
	Crop       geometry.ImageRect
	Viewport   image.Rectangle
	Guide      bool
	// GuideImage is the head guide overlay drawn while Guide is set.
	GuideImage image.Image

	Countdown int
	Flash     uint8
	Detecting bool

	Feature     types.Feature
	Region      geometry.ScreenRect
	RegionColor color.RGBA

	Results       [2]image.Image
	Rotation      [2]int
	ResultCenters [2]image.Point

	PrintPath string
}

// View describes the active state for rendering.
func (c *Controller) View() View {
	v := View{
		State:    c.state.Name(),
		Viewport: c.band,
	}

	switch s := c.state.(type) {
	case *Intro:
		v.Background = assets.BgIntro
	case *LivePreview:
		v.Background = assets.BgTakePhoto
		v.Guide = true
		c.setFrame(&v, s.Frame)
	case *Capturing:
		v.Background = assets.BgTakePhoto
		v.Guide = true
		v.Countdown = max(s.Countdown, 0)
		c.setFrame(&v, s.Frame)
	case *ConfirmCapture:
		v.Background = assets.BgConfirmPhoto
		v.Flash = uint8(max(min(s.Flash, 255), 0))
		v.Detecting = s.Detecting()
		c.setFrame(&v, s.Frame)
	case *MarkRegions:
		v.Background = assets.BgConfirmFeatures
		c.setFrame(&v, s.Frame)
		r := s.Current()
		v.Feature = r.Label
		v.Region = r.CurrentRect()
		v.RegionColor = r.Color
	case *ShowResult:
		v.Background = assets.BgResults
		v.Results = s.Display
		v.Rotation = s.Rotation()
		v.ResultCenters = c.config.ResultCenters
	case *PrintResult:
		v.Background = assets.BgPrint
		v.PrintPath = s.Path
	}

	if a := c.deps.Assets; a != nil {
		v.Backdrop = a.Background(v.Background)
		if v.Guide {
			v.GuideImage = a.Guide
		}
	}
	return v
}

func (c *Controller) setFrame(v *View, frame image.Image) {
	if frame == nil {
		return
	}
	b := frame.Bounds()
	v.Frame = frame
	v.Crop = geometry.CenteredCropWindow(b.Size(), c.config.Viewport).Clamp(b)
}
