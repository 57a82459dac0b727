package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/thatcherizer/pkg/compositor"
	"github.com/menta2k/thatcherizer/pkg/detection"
	"github.com/menta2k/thatcherizer/pkg/feature"
	"github.com/menta2k/thatcherizer/pkg/processing"
	"github.com/menta2k/thatcherizer/pkg/storage"
	"github.com/menta2k/thatcherizer/pkg/types"
)

// processInput applies the tick's events to the active state and returns
// the next state. Later events in the same tick go to the new state.
func (c *Controller) processInput(ctx context.Context, events []types.Event) (State, error) {
	state := c.state
	for _, ev := range events {
		var (
			next State
			err  error
		)
		switch s := state.(type) {
		case *Intro:
			next = c.introInput(s, ev)
		case *LivePreview:
			next = c.previewInput(s, ev)
		case *Capturing:
			next = s
		case *ConfirmCapture:
			next = c.confirmInput(ctx, s, ev)
		case *MarkRegions:
			next, err = c.markInput(s, ev)
		case *ShowResult:
			next = c.resultInput(s, ev)
		case *PrintResult:
			next = c.printInput(s, ev)
		case *Terminated:
			return state, nil
		default:
			return nil, fmt.Errorf("unknown state %T", state)
		}
		if err != nil {
			return nil, err
		}
		state = next
	}
	return state, nil
}

// update advances the timers of the active state.
func (c *Controller) update(ctx context.Context) (State, error) {
	switch s := c.state.(type) {
	case *Intro, *Terminated:
		return s, nil
	case *LivePreview:
		s.Frame = c.readFrame(s.Frame)
		return s, nil
	case *Capturing:
		return c.updateCapturing(s), nil
	case *ConfirmCapture:
		return c.updateConfirm(s), nil
	case *MarkRegions:
		return s, nil
	case *ShowResult:
		c.updateFlip(s)
		return s, nil
	case *PrintResult:
		return c.updatePrint(ctx, s)
	default:
		return nil, fmt.Errorf("unknown state %T", c.state)
	}
}

func (c *Controller) introInput(s *Intro, ev types.Event) State {
	if ev.Kind == types.ActionStart {
		c.newVisitor()
		return &LivePreview{}
	}
	return s
}

func (c *Controller) previewInput(s *LivePreview, ev types.Event) State {
	switch ev.Kind {
	case types.ActionCapture:
		return &Capturing{Countdown: c.config.Countdown, Frame: s.Frame}
	case types.ActionReset:
		return &Intro{}
	}
	return s
}

func (c *Controller) updateCapturing(s *Capturing) State {
	if s.Countdown <= 0 {
		if s.Frame == nil {
			s.Frame = c.readFrame(nil)
		}
		if s.Frame != nil {
			return &ConfirmCapture{Frame: s.Frame, Flash: 255}
		}
		c.log.Debug("countdown elapsed without a frame, waiting")
		return s
	}

	s.Frame = c.readFrame(s.Frame)
	s.FrameCount++
	if s.FrameCount >= c.config.TicksPerDecrement {
		s.Countdown--
		s.FrameCount = 0
	}
	return s
}

func (c *Controller) confirmInput(ctx context.Context, s *ConfirmCapture, ev types.Event) State {
	switch ev.Kind {
	case types.ActionReject:
		return &LivePreview{Frame: s.Frame}
	case types.ActionAccept:
		if s.detection == nil {
			s.detection = c.startDetection(ctx, s.Frame)
		}
	}
	return s
}

type detectOutcome struct {
	proposals []types.Proposal
	err       error
}

// pendingDetection is a detector call running off the tick loop. cancel
// aborts it when the session leaves ConfirmCapture first.
type pendingDetection struct {
	result chan detectOutcome
	cancel context.CancelFunc
}

// startDetection runs the detector on the true-orientation photo in the
// background. The result is polled by updateConfirm.
func (c *Controller) startDetection(ctx context.Context, frame image.Image) *pendingDetection {
	photo := imaging.FlipH(frame)
	dctx, cancel := context.WithTimeout(ctx, c.config.DetectTimeout)

	p := &pendingDetection{result: make(chan detectOutcome, 1), cancel: cancel}
	detector := c.deps.Detector
	go func() {
		proposals, err := detector.Detect(dctx, photo)
		p.result <- detectOutcome{proposals: proposals, err: err}
	}()
	c.log.Debug("feature detection started")
	return p
}

func (c *Controller) updateConfirm(s *ConfirmCapture) State {
	s.Flash = max(s.Flash-c.config.FlashFadeStep, 0)
	if s.detection == nil {
		return s
	}
	select {
	case out := <-s.detection.result:
		s.detection.cancel()
		return c.beginMarking(s.Frame, out)
	default:
		return s
	}
}

// beginMarking seeds one region per feature from the detector proposals,
// falling back to the guide rectangles.
func (c *Controller) beginMarking(frame image.Image, out detectOutcome) *MarkRegions {
	proposals := out.proposals
	if out.err != nil {
		c.log.WithError(out.err).Warn("feature detection failed, using guide rectangles")
		proposals = nil
	}
	rects := detection.Resolve(proposals, c.config.Defaults)
	c.log.WithField("proposals", len(proposals)).Debug("feature detection finished")

	s := &MarkRegions{Frame: frame}
	for _, f := range types.Features() {
		initial := c.mapper.ToScreenSpace(rects[f])
		s.Regions[f] = feature.New(f, initial, c.band, feature.RandomColor(c.deps.Rand))
	}
	return s
}

func (c *Controller) markInput(s *MarkRegions, ev types.Event) (State, error) {
	if ev.Kind.IsPointer() {
		s.Current().HandlePointerEvent(ev)
		return s, nil
	}
	if ev.Kind != types.ActionNext {
		return s, nil
	}

	s.Current().Freeze()
	if s.Index < len(s.Regions)-1 {
		s.Index++
		return s, nil
	}
	return c.compose(s)
}

// compose runs the illusion transform once all regions are frozen. A
// persistence failure abandons the run and returns to the intro.
func (c *Controller) compose(s *MarkRegions) (State, error) {
	regions := make([]compositor.Region, 0, len(s.Regions))
	for _, r := range s.Regions {
		regions = append(regions, compositor.Region{Feature: r.Label, Rect: r.CurrentRect()})
	}

	res, err := c.deps.Compositor.Compose(s.Frame, regions)
	if err != nil {
		if errors.Is(err, storage.ErrPersistence) {
			c.log.WithError(err).Error("failed to persist run, returning to intro")
			return &Intro{}, nil
		}
		return nil, fmt.Errorf("compose failed: %w", err)
	}
	c.log = c.log.WithField("run", res.Run.Seq)

	if c.deps.Overlay != nil {
		c.saveOverlay(res.Run, s)
	}

	unmodified, illusion := res.ForDisplay()
	return &ShowResult{
		Result:  res,
		Display: [2]image.Image{unmodified, illusion},
		Base:    [2]int{0, 180},
	}, nil
}

func (c *Controller) saveOverlay(run storage.Run, s *MarkRegions) {
	boxes := make([]processing.OverlayBox, 0, len(s.Regions))
	for _, r := range s.Regions {
		tag := r.Color
		boxes = append(boxes, processing.OverlayBox{
			Rect:  c.mapper.ToImageSpace(r.CurrentRect()),
			Color: color.NRGBA{R: tag.R, G: tag.G, B: tag.B, A: 255},
		})
	}
	overlay := processing.NewProcessor().CreateRegionOverlay(imaging.FlipH(s.Frame), boxes)
	path, err := c.deps.Overlay.Save(run, storage.KindRegions, overlay)
	if err != nil {
		c.log.WithError(err).Warn("failed to save region overlay")
		return
	}
	c.log.WithField("path", path).Debug("region overlay saved")
}

func (c *Controller) resultInput(s *ShowResult, ev types.Event) State {
	switch ev.Kind {
	case types.ActionFlip:
		s.Rotating = true
	case types.ActionPrint:
		return &PrintResult{Result: s.Result}
	case types.ActionReset:
		return &Intro{}
	}
	return s
}

// updateFlip animates a half turn, then freezes the new orientation as the
// reference for the next flip.
func (c *Controller) updateFlip(s *ShowResult) {
	if !s.Rotating {
		return
	}
	s.Angle += c.config.FlipStep
	if s.Angle <= 180 {
		return
	}
	s.Base = [2]int{(s.Base[0] + 180) % 360, (s.Base[1] + 180) % 360}
	s.Angle = 0
	s.Rotating = false
}

func (c *Controller) printInput(s *PrintResult, ev types.Event) State {
	if ev.Kind == types.ActionReset {
		return &Intro{}
	}
	return s
}

func (c *Controller) updatePrint(ctx context.Context, s *PrintResult) (State, error) {
	s.Timer++
	if s.Printed || s.Timer < c.config.PrintDelayTicks {
		return s, nil
	}
	s.Printed = true

	path, err := c.deps.Assembler.Assemble(ctx, s.Result.Run, s.Result.Unmodified, s.Result.Illusion)
	if err != nil {
		if errors.Is(err, storage.ErrPersistence) {
			c.log.WithError(err).Error("failed to persist print composite, returning to intro")
			return &Intro{}, nil
		}
		return nil, fmt.Errorf("assemble failed: %w", err)
	}
	s.Path = path
	c.log.WithFields(logrus.Fields{"path": path}).Info("print submitted")
	return s, nil
}
