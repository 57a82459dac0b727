// Package session drives the kiosk workflow: intro, live preview, countdown
// capture, confirmation, region marking, result display and printing.
//
// The controller is a tagged-variant state machine advanced by one
// cooperative tick at a time. A tick applies the tick's input to the active
// state and, unless that input switched states, updates it. Timers count
// ticks, not wall-clock time, so a session is fully deterministic when
// driven through Tick.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/thatcherizer/pkg/assets"
	"github.com/menta2k/thatcherizer/pkg/compositor"
	"github.com/menta2k/thatcherizer/pkg/detection"
	"github.com/menta2k/thatcherizer/pkg/geometry"
	"github.com/menta2k/thatcherizer/pkg/storage"
	"github.com/menta2k/thatcherizer/pkg/types"
)

// ErrUnexpected is returned by Run when a tick failed in a way the session
// cannot recover from. Resources have been released when it is returned.
var ErrUnexpected = errors.New("session: unexpected failure")

// FrameSource delivers the latest camera frame without blocking
type FrameSource interface {
	Start(ctx context.Context) error
	Frame() (image.Image, error)
	Close() error
}

// Composer turns a photo and three screen-space regions into a persisted
// run
type Composer interface {
	Compose(src image.Image, regions []compositor.Region) (*compositor.Result, error)
}

// Assembler builds, persists and submits the print composite of a run
type Assembler interface {
	Assemble(ctx context.Context, run storage.Run, original, illusion image.Image) (string, error)
}

// Saver persists auxiliary artifacts of a run
type Saver interface {
	Save(run storage.Run, kind string, img image.Image) (string, error)
}

// Config holds the session geometry and tick-based timers
type Config struct {
	Screen   image.Point
	Viewport image.Point
	Source   image.Point
	FPS      int

	Countdown         int
	TicksPerDecrement int
	FlashFadeStep     int
	FlipStep          int
	PrintDelayTicks   int
	DetectTimeout     time.Duration

	// Defaults are the image-space guide rectangles used for features the
	// detector does not propose.
	Defaults map[types.Feature]geometry.ImageRect
	// ResultCenters are the screen positions of the unmodified and illusion
	// images on the result screen.
	ResultCenters [2]image.Point
}

// DefaultConfig returns the kiosk configuration
func DefaultConfig() Config {
	return Config{
		Screen:            image.Pt(800, 480),
		Viewport:          image.Pt(400, 400),
		Source:            image.Pt(640, 480),
		FPS:               15,
		Countdown:         3,
		TicksPerDecrement: 5,
		FlashFadeStep:     20,
		FlipStep:          30,
		PrintDelayTicks:   2,
		DetectTimeout:     5 * time.Second,
		Defaults:          detection.DefaultRects(),
		ResultCenters:     [2]image.Point{{X: 200, Y: 240}, {X: 600, Y: 240}},
	}
}

// Deps are the collaborators of a session. Detector, Overlay, Assets and
// Rand are optional.
type Deps struct {
	Frames     FrameSource
	Detector   detection.Detector
	Compositor Composer
	Assembler  Assembler
	// Overlay receives a debug image of the marked regions for each run.
	Overlay Saver
	// Assets supplies the backgrounds and guide overlay handed to the view.
	Assets *assets.Assets
	// Closers are released together with the frame source when the session
	// terminates.
	Closers []io.Closer
	Log     logrus.FieldLogger
	Rand    *rand.Rand
}

// Controller owns the active state and everything produced along the way
type Controller struct {
	config Config
	deps   Deps
	mapper geometry.Mapper
	band   image.Rectangle
	base   logrus.FieldLogger
	log    logrus.FieldLogger
	state  State

	releaseOnce sync.Once
	releaseErr  error
}

// New creates a Controller in the Intro state.
func New(config Config, deps Deps) *Controller {
	if deps.Detector == nil {
		deps.Detector = detection.Nop{}
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Controller{
		config: config,
		deps:   deps,
		mapper: geometry.NewMapper(config.Screen, config.Source),
		band:   geometry.ViewportBounds(config.Screen, config.Viewport),
		base:   deps.Log,
		log:    deps.Log,
		state:  &Intro{},
	}
}

// State returns the active state
func (c *Controller) State() State {
	return c.state
}

// Done reports whether the session has terminated
func (c *Controller) Done() bool {
	_, ok := c.state.(*Terminated)
	return ok
}

// Run starts the frame source and ticks at the configured rate until the
// session terminates or ctx is cancelled. Cancellation of ctx is handled like
// a cancel event. A panic inside a tick is recovered, logged and reported as
// ErrUnexpected. Held resources are released exactly once in every case; a
// failed release is logged and does not turn a normal stop into an error.
func (c *Controller) Run(ctx context.Context, rt Runtime) (err error) {
	defer c.release()
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{
				"panic": r,
				"state": c.state.Name(),
			}).Error("unexpected failure during tick")
			c.transition(&Terminated{})
			err = fmt.Errorf("%w: %v", ErrUnexpected, r)
		}
	}()

	if err := c.deps.Frames.Start(ctx); err != nil {
		c.transition(&Terminated{})
		return fmt.Errorf("failed to start frame source: %w", err)
	}

	fps := c.config.FPS
	if fps <= 0 {
		fps = 15
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("context cancelled, terminating session")
			c.transition(&Terminated{})
			return nil
		case <-ticker.C:
		}

		if err := c.Tick(ctx, rt.Events()); err != nil {
			c.log.WithError(err).Error("unexpected failure during tick")
			c.transition(&Terminated{})
			return fmt.Errorf("%w: %v", ErrUnexpected, err)
		}
		if c.Done() {
			return nil
		}
		rt.Render(c.View())
	}
}

// Tick processes one tick's events and updates the active state. A cancel
// event anywhere in events terminates the session before any other event is
// looked at; a failure to release resources on cancel is logged, not
// returned. Ticks after termination do nothing.
func (c *Controller) Tick(ctx context.Context, events []types.Event) error {
	if c.Done() {
		return nil
	}
	for _, ev := range events {
		if ev.Kind == types.Cancel {
			c.log.WithField("state", c.state.Name()).Info("cancel received")
			c.transition(&Terminated{})
			c.release()
			return nil
		}
	}

	before := c.state
	next, err := c.processInput(ctx, events)
	if err != nil {
		return err
	}
	c.transition(next)
	if c.state != before {
		return nil
	}

	next, err = c.update(ctx)
	if err != nil {
		return err
	}
	c.transition(next)
	return nil
}

// Close releases held resources. It is safe to call more than once.
func (c *Controller) Close() error {
	if !c.Done() {
		c.transition(&Terminated{})
	}
	return c.release()
}

func (c *Controller) transition(next State) {
	if next == c.state {
		return
	}
	if s, ok := c.state.(*ConfirmCapture); ok && s.detection != nil {
		s.detection.cancel()
	}
	c.log.WithFields(logrus.Fields{
		"from": c.state.Name(),
		"to":   next.Name(),
	}).Debug("state transition")
	c.state = next
}

func (c *Controller) release() error {
	c.releaseOnce.Do(func() {
		var errs []error
		if c.deps.Frames != nil {
			if err := c.deps.Frames.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop frame source: %w", err))
			}
		}
		for _, cl := range c.deps.Closers {
			if err := cl.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.releaseErr = errors.Join(errs...)
		if c.releaseErr != nil {
			c.log.WithError(c.releaseErr).Warn("failed to release session resources")
			return
		}
		c.base.Debug("session resources released")
	})
	return c.releaseErr
}

// readFrame returns the newest frame, or prev when none is available.
func (c *Controller) readFrame(prev image.Image) image.Image {
	frame, err := c.deps.Frames.Frame()
	if err != nil || frame == nil {
		c.log.WithError(err).Trace("no frame available, reusing previous")
		return prev
	}
	return frame
}

// newVisitor starts a fresh log scope for the next person at the kiosk.
func (c *Controller) newVisitor() {
	c.log = c.base.WithField("session_id", uuid.NewString())
}
