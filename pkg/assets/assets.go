// Package assets loads the immutable process-wide resources used by the
// kiosk: the soft-edged alpha mask, the print template, the head guide
// overlay and the per-screen backgrounds. Everything is loaded once at
// startup and shared by reference afterwards.
package assets

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/menta2k/thatcherizer/internal/utils"
	_ "golang.org/x/image/webp"
)

// Background names, one per interactive screen
const (
	BgIntro           = "introBg"
	BgTakePhoto       = "takePhotoBg"
	BgConfirmPhoto    = "confirmPhotoBg"
	BgConfirmFeatures = "confirmFeaturesBg"
	BgResults         = "resultsBg"
	BgPrint           = "printBg"
)

// Assets holds the loaded resources. Fields must not be mutated after Load.
type Assets struct {
	// Mask holds per-pixel blend weights, 0 keeps the original pixel and
	// 255 takes the flipped one.
	Mask        *image.Gray
	Template    *image.NRGBA
	Guide       image.Image
	Backgrounds map[string]image.Image
}

// Paths lists asset files. Empty Mask or Template paths select the
// procedural fallbacks.
type Paths struct {
	Mask           string
	Template       string
	Guide          string
	BackgroundsDir string
}

// Loader loads and validates asset images
type Loader struct {
	config Config
}

// Config holds configuration for the asset loader
type Config struct {
	SupportedFormats []string
	MinMaskSize      int
	TemplateSize     image.Point
}

// New creates a new Loader with default configuration
func New() *Loader {
	return &Loader{
		config: Config{
			SupportedFormats: []string{"jpg", "jpeg", "png", "webp"},
			MinMaskSize:      8,
			TemplateSize:     image.Pt(1800, 1200),
		},
	}
}

// NewWithConfig creates a new Loader with custom configuration
func NewWithConfig(config Config) *Loader {
	return &Loader{config: config}
}

// Load reads every configured asset.
func (l *Loader) Load(p Paths) (*Assets, error) {
	a := &Assets{Backgrounds: map[string]image.Image{}}

	if p.Mask == "" {
		a.Mask = FeatheredMask(256, 256)
	} else {
		img, err := l.LoadImage(p.Mask)
		if err != nil {
			return nil, fmt.Errorf("failed to load mask: %w", err)
		}
		if err := l.ValidateMask(img); err != nil {
			return nil, err
		}
		a.Mask = MaskFromImage(img)
	}

	if p.Template == "" {
		a.Template = BlankTemplate(l.config.TemplateSize.X, l.config.TemplateSize.Y)
	} else {
		img, err := l.LoadImage(p.Template)
		if err != nil {
			return nil, fmt.Errorf("failed to load print template: %w", err)
		}
		a.Template = imaging.Clone(img)
	}

	if p.Guide != "" {
		img, err := l.LoadImage(p.Guide)
		if err != nil {
			return nil, fmt.Errorf("failed to load head guide: %w", err)
		}
		a.Guide = img
	}

	if p.BackgroundsDir != "" {
		for _, name := range []string{BgIntro, BgTakePhoto, BgConfirmPhoto, BgConfirmFeatures, BgResults, BgPrint} {
			path := utils.FindImage(p.BackgroundsDir, name)
			if path == "" {
				continue
			}
			img, err := l.LoadImage(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load background %s: %w", name, err)
			}
			a.Backgrounds[name] = img
		}
	}

	return a, nil
}

// Background returns the named background or nil.
func (a *Assets) Background(name string) image.Image {
	return a.Backgrounds[name]
}

// LoadImage loads an image from file
func (l *Loader) LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	defer file.Close()

	return l.LoadImageFromReader(file)
}

// LoadImageFromReader loads an image from an io.Reader
func (l *Loader) LoadImageFromReader(reader io.Reader) (image.Image, error) {
	img, format, err := image.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	if !l.isFormatSupported(format) {
		return nil, fmt.Errorf("unsupported image format: %s", format)
	}

	return img, nil
}

// ValidateMask checks if a mask image meets minimum requirements
func (l *Loader) ValidateMask(img image.Image) error {
	bounds := img.Bounds()
	if bounds.Dx() < l.config.MinMaskSize || bounds.Dy() < l.config.MinMaskSize {
		return fmt.Errorf("mask too small: %dx%d (minimum: %d)",
			bounds.Dx(), bounds.Dy(), l.config.MinMaskSize)
	}
	return nil
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int
	Height      int
	AspectRatio float64
	Area        int
}

// GetImageInfo returns basic information about an image
func GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	info := ImageInfo{Width: width, Height: height, Area: width * height}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

func (l *Loader) isFormatSupported(format string) bool {
	for _, supported := range l.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

// MaskFromImage derives blend weights from a mask image. Masks with a
// transparent region use their alpha channel; fully opaque masks use
// luminance.
func MaskFromImage(img image.Image) *image.Gray {
	src := imaging.Clone(img)
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))

	useAlpha := false
	for i := 3; i < len(src.Pix); i += 4 {
		if src.Pix[i] != 255 {
			useAlpha = true
			break
		}
	}

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			i := y*src.Stride + x*4
			var w uint8
			if useAlpha {
				w = src.Pix[i+3]
			} else {
				c := color.NRGBA{src.Pix[i], src.Pix[i+1], src.Pix[i+2], 255}
				w = color.GrayModel.Convert(c).(color.Gray).Y
			}
			out.Pix[y*out.Stride+x] = w
		}
	}
	return out
}

// FeatheredMask generates an elliptical mask that is fully opaque in its
// core and fades smoothly to zero at the ellipse boundary.
func FeatheredMask(width, height int) *image.Gray {
	const inner = 0.6

	mask := image.NewGray(image.Rect(0, 0, width, height))
	cx, cy := float64(width)/2, float64(height)/2
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx := (float64(x) + 0.5 - cx) / cx
			dy := (float64(y) + 0.5 - cy) / cy
			d := math.Sqrt(dx*dx + dy*dy)

			var w float64
			switch {
			case d <= inner:
				w = 1
			case d >= 1:
				w = 0
			default:
				t := (d - inner) / (1 - inner)
				w = 1 - t*t*(3-2*t)
			}
			mask.Pix[y*mask.Stride+x] = uint8(w*255 + 0.5)
		}
	}
	return mask
}

// BlankTemplate returns a white print canvas.
func BlankTemplate(width, height int) *image.NRGBA {
	return imaging.New(width, height, color.NRGBA{255, 255, 255, 255})
}
