// Package thatcherizer wires the kiosk together.
//
// A subject's photo is captured, the operator marks the eyes and mouth, and
// each marked region is flipped top to bottom and blended back in place.
// Seen upside down the face looks normal; the right way up it looks
// grotesque. The unmodified and manipulated photos are laid out on a print
// template and sent to a printer.
//
// Basic usage:
//
//	cfg := config.Default()
//	frames, _ := thatcherizer.NewFrameSource(cfg, log)
//	detector, closer, _ := thatcherizer.NewDetector(cfg, log)
//
//	kiosk, err := thatcherizer.New(cfg, log, thatcherizer.Options{
//		Frames:   frames,
//		Detector: detector,
//		Sink:     thatcherizer.NewSink(cfg, log),
//		Closers:  []io.Closer{closer},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = kiosk.Run(ctx, console.New(log))
//
// The package consists of these components:
//
//  1. Geometry (pkg/geometry): screen and image space rectangles and the
//     translation between them
//  2. Feature (pkg/feature): drag-to-draw region editor
//  3. Compositor (pkg/compositor): the illusion transform
//  4. Assembler (pkg/assembler): print layout
//  5. Session (pkg/session): the kiosk state machine
package thatcherizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/thatcherizer/internal/config"
	"github.com/menta2k/thatcherizer/pkg/assembler"
	"github.com/menta2k/thatcherizer/pkg/assets"
	"github.com/menta2k/thatcherizer/pkg/camera"
	"github.com/menta2k/thatcherizer/pkg/cascade"
	"github.com/menta2k/thatcherizer/pkg/client"
	"github.com/menta2k/thatcherizer/pkg/compositor"
	"github.com/menta2k/thatcherizer/pkg/detection"
	"github.com/menta2k/thatcherizer/pkg/geometry"
	"github.com/menta2k/thatcherizer/pkg/llamacpp"
	"github.com/menta2k/thatcherizer/pkg/ollama"
	"github.com/menta2k/thatcherizer/pkg/processing"
	"github.com/menta2k/thatcherizer/pkg/session"
	"github.com/menta2k/thatcherizer/pkg/sink"
	"github.com/menta2k/thatcherizer/pkg/storage"
	"github.com/menta2k/thatcherizer/pkg/types"
)

// Version of the kiosk
const Version = "1.0.0"

// ErrNoVision is returned by CheckVision for detectors without a vision model
var ErrNoVision = errors.New("detector is not backed by a vision model")

// frameWait is the polling interval while waiting for a first frame
const frameWait = 50 * time.Millisecond

// Options carries the collaborators that depend on the installation
type Options struct {
	Frames   session.FrameSource
	Detector detection.Detector
	Sink     assembler.Sink
	Closers  []io.Closer
}

// Kiosk holds the loaded assets and the wired components
type Kiosk struct {
	Assets     *assets.Assets
	Store      *storage.Store
	Compositor *compositor.Compositor
	Assembler  *assembler.Assembler
	Session    *session.Controller
}

// New loads the assets named in cfg and wires a session around them.
func New(cfg *config.Config, log logrus.FieldLogger, opts Options) (*Kiosk, error) {
	if opts.Frames == nil {
		return nil, fmt.Errorf("a frame source is required")
	}

	loader := assets.NewWithConfig(assets.Config{
		SupportedFormats: []string{"jpg", "jpeg", "png", "webp"},
		MinMaskSize:      8,
		TemplateSize:     cfg.Print.TemplateSize.Point(),
	})
	a, err := loader.Load(assets.Paths{
		Mask:           cfg.Compositor.MaskPath,
		Template:       cfg.Print.TemplatePath,
		Guide:          cfg.Display.GuidePath,
		BackgroundsDir: cfg.Display.BackgroundsDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load assets: %w", err)
	}

	info := assets.GetImageInfo(a.Template)
	want := cfg.Print.TemplateSize
	log.WithFields(logrus.Fields{
		"template":    fmt.Sprintf("%dx%d", info.Width, info.Height),
		"backgrounds": len(a.Backgrounds),
		"guide":       a.Guide != nil,
	}).Debug("assets loaded")
	if info.Width != want.Width || info.Height != want.Height {
		log.WithFields(logrus.Fields{
			"template": fmt.Sprintf("%dx%d", info.Width, info.Height),
			"expected": fmt.Sprintf("%dx%d", want.Width, want.Height),
		}).Warn("print template size differs from configuration, anchors may fall off the page")
	}

	processor := processing.NewProcessorWithQuality(cfg.Output.Quality, cfg.Output.Lossless)
	store := storage.New(cfg.Output.Dir, cfg.Output.Format, processor)

	if opts.Sink == nil {
		opts.Sink = sink.NewLog(log)
	}

	k := &Kiosk{
		Assets:     a,
		Store:      store,
		Compositor: compositor.New(CompositorConfig(cfg), a.Mask, store, log),
		Assembler:  assembler.New(AssemblerConfig(cfg), a.Template, store, opts.Sink, log),
	}

	deps := session.Deps{
		Frames:     opts.Frames,
		Detector:   opts.Detector,
		Compositor: k.Compositor,
		Assembler:  k.Assembler,
		Assets:     a,
		Closers:    opts.Closers,
		Log:        log,
	}
	if cfg.Compositor.DebugOverlay {
		deps.Overlay = store
	}
	k.Session = session.New(SessionConfig(cfg), deps)

	return k, nil
}

// Run drives the session until it terminates.
func (k *Kiosk) Run(ctx context.Context, rt session.Runtime) error {
	return k.Session.Run(ctx, rt)
}

// SessionConfig maps the configuration onto the session settings
func SessionConfig(cfg *config.Config) session.Config {
	c := session.DefaultConfig()
	c.Screen = cfg.Display.Screen.Point()
	c.Viewport = cfg.Display.Viewport.Point()
	c.Source = cfg.Camera.Resolution.Point()
	c.FPS = cfg.Display.FPS
	c.Countdown = cfg.Session.Countdown
	c.TicksPerDecrement = cfg.Session.TicksPerDecrement
	c.FlashFadeStep = cfg.Session.FlashFadeStep
	c.FlipStep = cfg.Session.FlipStep
	c.PrintDelayTicks = cfg.Session.PrintDelayTicks
	c.DetectTimeout = time.Duration(cfg.Session.DetectTimeoutMS) * time.Millisecond
	c.Defaults = map[types.Feature]geometry.ImageRect{
		types.LeftEye:  cfg.Regions.LeftEye,
		types.RightEye: cfg.Regions.RightEye,
		types.Mouth:    cfg.Regions.Mouth,
	}
	return c
}

// CompositorConfig maps the configuration onto the compositor settings
func CompositorConfig(cfg *config.Config) compositor.Config {
	return compositor.Config{
		Screen: cfg.Display.Screen.Point(),
		Source: cfg.Camera.Resolution.Point(),
		Output: cfg.Compositor.Output,
	}
}

// AssemblerConfig maps the configuration onto the print layout
func AssemblerConfig(cfg *config.Config) assembler.Config {
	return assembler.Config{
		Scale:          cfg.Print.Scale.Point(),
		Crop:           cfg.Print.Crop,
		OriginalAnchor: cfg.Print.OriginalAnchor.Image(),
		IllusionAnchor: cfg.Print.IllusionAnchor.Image(),
	}
}

// NewFrameSource returns the capture device, or the still image when the
// camera is disabled.
func NewFrameSource(cfg *config.Config, log logrus.FieldLogger) (session.FrameSource, error) {
	size := cfg.Camera.Resolution.Point()
	if cfg.Camera.Enabled {
		return camera.NewDevice(cfg.Camera.Device, size, log), nil
	}
	still, err := camera.LoadStill(cfg.Camera.StillImage, size)
	if err != nil {
		return nil, err
	}
	return still, nil
}

// NewDetector builds the configured feature detector. The returned closer
// is never nil.
func NewDetector(cfg *config.Config, log logrus.FieldLogger) (detection.Detector, io.Closer, error) {
	d := cfg.Detector
	switch d.Backend {
	case "", "none":
		return detection.Nop{}, nopCloser{}, nil
	case "cascade":
		det, err := cascade.New(cascade.Config{
			Dir:              d.CascadeDir,
			EyeScaleFactor:   d.EyeScaleFactor,
			MouthScaleFactor: d.MouthScaleFactor,
			MinNeighbors:     cascade.DefaultConfig().MinNeighbors,
		})
		if err != nil {
			return nil, nil, err
		}
		return det, det, nil
	case "ollama", "llamacpp":
		var (
			vc  client.VisionClient
			err error
		)
		if d.Backend == "ollama" {
			vc, err = ollama.NewClient(d.URL)
		} else {
			vc, err = llamacpp.NewClient(d.URL)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create %s client: %w", d.Backend, err)
		}
		vcfg := detection.DefaultVisionConfig()
		if d.Model != "" {
			vcfg.Model = d.Model
		}
		vcfg.MinConfidence = d.MinConfidence
		log.WithFields(logrus.Fields{"backend": d.Backend, "model": vcfg.Model}).Info("using vision model detector")
		return detection.NewVisionDetector(vc, vcfg), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", detection.ErrNoDetector, d.Backend)
	}
}

// NewSink returns the lp printer sink, or a logging sink when printing is
// disabled.
func NewSink(cfg *config.Config, log logrus.FieldLogger) assembler.Sink {
	if !cfg.Print.Enabled {
		return sink.NewLog(log)
	}
	return sink.NewPrinter(cfg.Print.Printer, log)
}

// CheckVision asks a model-backed detector to describe the first frame of
// frames, which shows whether the model actually receives images. The frame
// source is started but not closed.
func CheckVision(ctx context.Context, d detection.Detector, frames session.FrameSource) (string, error) {
	vd, ok := d.(*detection.VisionDetector)
	if !ok {
		return "", ErrNoVision
	}
	if err := frames.Start(ctx); err != nil {
		return "", fmt.Errorf("failed to start frame source: %w", err)
	}

	frame, err := awaitFrame(ctx, frames)
	if err != nil {
		return "", err
	}
	return vd.TestVision(ctx, imaging.FlipH(frame))
}

func awaitFrame(ctx context.Context, frames session.FrameSource) (image.Image, error) {
	ticker := time.NewTicker(frameWait)
	defer ticker.Stop()
	for {
		if frame, err := frames.Frame(); err == nil && frame != nil {
			return frame, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no frame available: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// GetVersion returns the version of the kiosk
func GetVersion() string {
	return Version
}
