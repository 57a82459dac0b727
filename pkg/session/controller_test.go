package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/thatcherizer/pkg/assets"
	"github.com/menta2k/thatcherizer/pkg/camera"
	"github.com/menta2k/thatcherizer/pkg/compositor"
	"github.com/menta2k/thatcherizer/pkg/geometry"
	"github.com/menta2k/thatcherizer/pkg/processing"
	"github.com/menta2k/thatcherizer/pkg/storage"
	"github.com/menta2k/thatcherizer/pkg/types"
)

type fakeFrames struct {
	mu      sync.Mutex
	frame   image.Image
	started int
	closed  int
}

func (f *fakeFrames) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return nil
}

func (f *fakeFrames) Frame() (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frame == nil {
		return nil, camera.ErrNoFrame
	}
	return f.frame, nil
}

func (f *fakeFrames) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeFrames) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDetector struct {
	proposals []types.Proposal
	err       error
	calls     int
	photo     image.Image

	// block, when set, holds Detect until it is closed or ctx ends.
	block     chan struct{}
	cancelled chan struct{}
}

func (d *fakeDetector) Detect(ctx context.Context, photo image.Image) ([]types.Proposal, error) {
	d.calls++
	d.photo = photo
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			close(d.cancelled)
			return nil, ctx.Err()
		}
	}
	return d.proposals, d.err
}

func blockingDetector() *fakeDetector {
	return &fakeDetector{block: make(chan struct{}), cancelled: make(chan struct{})}
}

type failingCloser struct{ n int }

func (c *failingCloser) Close() error {
	c.n++
	return errors.New("camera busy")
}

type fakeComposer struct {
	err   error
	calls int
	panic bool
}

func (f *fakeComposer) Compose(src image.Image, regions []compositor.Region) (*compositor.Result, error) {
	f.calls++
	if f.panic {
		panic("compose exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	return &compositor.Result{Run: storage.Run{Seq: 7}, Unmodified: img, Illusion: img}, nil
}

type fakeAssembler struct {
	err   error
	calls int
	run   storage.Run
}

func (f *fakeAssembler) Assemble(_ context.Context, run storage.Run, _, _ image.Image) (string, error) {
	f.calls++
	f.run = run
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("out/%s_composite.png", run.Stem()), nil
}

type countingCloser struct{ n int }

func (c *countingCloser) Close() error {
	c.n++
	return nil
}

func createTestImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	return img
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type harness struct {
	c         *Controller
	frames    *fakeFrames
	detector  *fakeDetector
	composer  *fakeComposer
	assembler *fakeAssembler
	closer    *countingCloser
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		frames:    &fakeFrames{frame: createTestImage(640, 480)},
		detector:  &fakeDetector{},
		composer:  &fakeComposer{},
		assembler: &fakeAssembler{},
		closer:    &countingCloser{},
	}
	h.c = New(DefaultConfig(), Deps{
		Frames:     h.frames,
		Detector:   h.detector,
		Compositor: h.composer,
		Assembler:  h.assembler,
		Closers:    []io.Closer{h.closer},
		Log:        testLogger(),
		Rand:       rand.New(rand.NewSource(1)),
	})
	return h
}

func (h *harness) tick(t *testing.T, events ...types.Event) {
	t.Helper()
	if err := h.c.Tick(context.Background(), events); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
}

func (h *harness) toLivePreview(t *testing.T) {
	h.tick(t, types.Action(types.ActionStart))
}

func (h *harness) toCapturing(t *testing.T) {
	h.toLivePreview(t)
	h.tick(t, types.Action(types.ActionCapture))
}

func (h *harness) toConfirm(t *testing.T) {
	h.toCapturing(t)
	for i := 0; i < 16; i++ {
		h.tick(t)
	}
}

func (h *harness) toMark(t *testing.T) {
	h.toConfirm(t)
	h.tick(t, types.Action(types.ActionAccept))
	h.await(t, "mark-regions")
}

// await ticks until the session reaches the named state.
func (h *harness) await(t *testing.T, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.c.State().Name() != name {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s, still in %s", name, h.c.State().Name())
		}
		time.Sleep(time.Millisecond)
		h.tick(t)
	}
}

func (h *harness) toResult(t *testing.T) {
	h.toMark(t)
	for i := 0; i < types.FeatureCount; i++ {
		h.tick(t, types.Action(types.ActionNext))
	}
}

func (h *harness) toPrint(t *testing.T) {
	h.toResult(t)
	h.tick(t, types.Action(types.ActionPrint))
}

func expectState(t *testing.T, c *Controller, name string) {
	t.Helper()
	if got := c.State().Name(); got != name {
		t.Fatalf("Expected state %s, got %s", name, got)
	}
}

func TestCancelFromEveryState(t *testing.T) {
	drivers := map[string]func(*harness, *testing.T){
		"intro":           func(*harness, *testing.T) {},
		"live-preview":    (*harness).toLivePreview,
		"capturing":       (*harness).toCapturing,
		"confirm-capture": (*harness).toConfirm,
		"mark-regions":    (*harness).toMark,
		"show-result":     (*harness).toResult,
		"print-result":    (*harness).toPrint,
	}

	for name, drive := range drivers {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			drive(h, t)
			expectState(t, h.c, name)

			composes, assembles := h.composer.calls, h.assembler.calls
			h.tick(t, types.Action(types.ActionNext), types.Action(types.Cancel), types.Action(types.ActionNext))
			expectState(t, h.c, "terminated")

			if h.frames.closeCount() != 1 || h.closer.n != 1 {
				t.Errorf("Expected resources released once, got frames=%d closer=%d", h.frames.closeCount(), h.closer.n)
			}

			for i := 0; i < 5; i++ {
				h.tick(t, types.Action(types.ActionStart), types.Action(types.ActionNext), types.Action(types.ActionPrint))
			}
			if err := h.c.Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
			expectState(t, h.c, "terminated")
			if h.composer.calls != composes || h.assembler.calls != assembles {
				t.Error("No processing may happen after termination")
			}
			if h.frames.closeCount() != 1 || h.closer.n != 1 {
				t.Errorf("Resources released more than once: frames=%d closer=%d", h.frames.closeCount(), h.closer.n)
			}
		})
	}
}

func TestCountdownTransitionsOnSixteenthTick(t *testing.T) {
	h := newHarness(t)
	h.toCapturing(t)

	transitions := 0
	for i := 1; i <= 16; i++ {
		h.tick(t)
		if _, ok := h.c.State().(*ConfirmCapture); ok {
			transitions++
			if i != 16 {
				t.Fatalf("Transitioned on tick %d, want 16", i)
			}
		}
	}
	if transitions != 1 {
		t.Errorf("Expected exactly one transition, got %d", transitions)
	}
}

func TestCountdownDecrements(t *testing.T) {
	h := newHarness(t)
	h.toCapturing(t)

	want := []int{3, 3, 3, 3, 2, 2, 2, 2, 2, 1, 1, 1, 1, 1, 0}
	for i, w := range want {
		h.tick(t)
		s, ok := h.c.State().(*Capturing)
		if !ok {
			t.Fatalf("Left capturing early on tick %d", i+1)
		}
		if s.Countdown != w {
			t.Errorf("Tick %d: countdown %d, want %d", i+1, s.Countdown, w)
		}
		if v := h.c.View(); v.Countdown != w {
			t.Errorf("Tick %d: view countdown %d, want %d", i+1, v.Countdown, w)
		}
	}
}

func TestCaptureWaitsForFrame(t *testing.T) {
	h := newHarness(t)
	h.frames.frame = nil
	h.toConfirm(t)
	expectState(t, h.c, "capturing")

	h.frames.frame = createTestImage(640, 480)
	h.tick(t)
	expectState(t, h.c, "confirm-capture")
}

func TestLivePreviewReusesLastFrame(t *testing.T) {
	h := newHarness(t)
	h.toLivePreview(t)
	h.tick(t)
	first := h.c.State().(*LivePreview).Frame
	if first == nil {
		t.Fatal("Expected a frame after the first update")
	}

	h.frames.frame = nil
	h.tick(t)
	if got := h.c.State().(*LivePreview).Frame; got != first {
		t.Error("Expected previous frame to be reused when none is available")
	}

	v := h.c.View()
	want := geometry.ImageRect{X: 120, Y: 40, W: 400, H: 400}
	if v.Crop != want {
		t.Errorf("Preview crop = %+v, want %+v", v.Crop, want)
	}
}

func TestConfirmFlashFades(t *testing.T) {
	h := newHarness(t)
	h.toConfirm(t)

	s := h.c.State().(*ConfirmCapture)
	if s.Flash != 255 {
		t.Fatalf("Expected flash to start at 255, got %d", s.Flash)
	}
	h.tick(t)
	if s.Flash != 235 {
		t.Errorf("Expected 235 after one tick, got %d", s.Flash)
	}
	for i := 0; i < 20; i++ {
		h.tick(t)
	}
	if s.Flash != 0 || h.c.View().Flash != 0 {
		t.Errorf("Expected flash to settle at 0, got %d", s.Flash)
	}
}

func TestRejectReturnsToPreview(t *testing.T) {
	h := newHarness(t)
	h.toConfirm(t)
	h.tick(t, types.Action(types.ActionReject))
	expectState(t, h.c, "live-preview")
	if h.detector.calls != 0 {
		t.Error("Detector must not run on reject")
	}
}

func TestZeroProposalsUseDefaults(t *testing.T) {
	h := newHarness(t)
	h.toMark(t)

	s, ok := h.c.State().(*MarkRegions)
	if !ok {
		t.Fatalf("Expected mark-regions, got %s", h.c.State().Name())
	}
	want := []geometry.ScreenRect{
		{X: 320, Y: 155, W: 50, H: 30},
		{X: 425, Y: 155, W: 50, H: 30},
		{X: 355, Y: 255, W: 90, H: 60},
	}
	for i, r := range s.Regions {
		if r.Label != types.Features()[i] {
			t.Errorf("Region %d has label %v", i, r.Label)
		}
		if got := r.CurrentRect(); got != want[i] {
			t.Errorf("Region %v = %+v, want %+v", r.Label, got, want[i])
		}
	}
	if h.detector.calls != 1 {
		t.Errorf("Expected one detector call, got %d", h.detector.calls)
	}
}

func TestDetectorPhotoIsMirrored(t *testing.T) {
	h := newHarness(t)
	h.toMark(t)

	src := h.frames.frame
	photo := h.detector.photo
	if photo == nil {
		t.Fatal("Detector did not receive a photo")
	}
	r1, g1, b1, _ := src.At(0, 10).RGBA()
	r2, g2, b2, _ := photo.At(639, 10).RGBA()
	if r1 != r2 || g1 != g2 || b1 != b2 {
		t.Error("Expected detector photo to be the horizontal mirror of the frame")
	}
}

func TestDetectorProposalsOverrideDefaults(t *testing.T) {
	h := newHarness(t)
	h.detector.proposals = []types.Proposal{
		{Feature: types.Mouth, Rect: geometry.ImageRect{X: 260, Y: 300, W: 100, H: 40}},
	}
	h.toMark(t)

	s := h.c.State().(*MarkRegions)
	if got := s.Regions[types.Mouth].CurrentRect(); got != (geometry.ScreenRect{X: 340, Y: 300, W: 100, H: 40}) {
		t.Errorf("Mouth region = %+v", got)
	}
	if got := s.Regions[types.LeftEye].CurrentRect(); got != (geometry.ScreenRect{X: 320, Y: 155, W: 50, H: 30}) {
		t.Errorf("Left eye region = %+v", got)
	}
}

func TestDetectorErrorFallsBack(t *testing.T) {
	h := newHarness(t)
	h.detector.err = errors.New("model offline")
	h.toMark(t)
	s := h.c.State().(*MarkRegions)
	if got := s.Regions[types.RightEye].CurrentRect(); got != (geometry.ScreenRect{X: 425, Y: 155, W: 50, H: 30}) {
		t.Errorf("Right eye region = %+v", got)
	}
}

func TestMarkingDragsCurrentRegion(t *testing.T) {
	h := newHarness(t)
	h.toMark(t)

	h.tick(t,
		types.Pointer(types.PointerDown, 350, 200),
		types.Pointer(types.PointerMove, 300, 170),
		types.Pointer(types.PointerUp, 300, 170),
	)
	s := h.c.State().(*MarkRegions)
	want := geometry.ScreenRect{X: 300, Y: 170, W: 50, H: 30}
	if got := s.Current().CurrentRect(); got != want {
		t.Errorf("Dragged region = %+v, want %+v", got, want)
	}
	if v := h.c.View(); v.Region != want || v.Feature != types.LeftEye {
		t.Errorf("View shows %v %+v", v.Feature, v.Region)
	}

	h.tick(t, types.Action(types.ActionNext))
	if s.Index != 1 || s.Regions[0].CurrentRect() != want {
		t.Error("Expected first region frozen and second current")
	}
	h.tick(t, types.Pointer(types.PointerDown, 10, 10))
	if s.Regions[0].CurrentRect() != want {
		t.Error("Frozen region must not change")
	}
}

func TestMarkingComposesRun(t *testing.T) {
	dir := t.TempDir()
	store := storage.New(dir, "png", processing.NewProcessor())
	comp := compositor.New(compositor.DefaultConfig(), assets.FeatheredMask(64, 64), store, testLogger())

	frames := &fakeFrames{frame: createTestImage(640, 480)}
	c := New(DefaultConfig(), Deps{
		Frames:     frames,
		Compositor: comp,
		Assembler:  &fakeAssembler{},
		Overlay:    store,
		Log:        testLogger(),
	})
	h := &harness{c: c, frames: frames}
	h.toResult(t)

	s, ok := c.State().(*ShowResult)
	if !ok {
		t.Fatalf("Expected show-result, got %s", c.State().Name())
	}
	if s.Result.Run.Seq != 1 {
		t.Errorf("Expected run 1, got %d", s.Result.Run.Seq)
	}
	for _, kind := range []string{storage.KindOriginal, storage.KindIllusion, storage.KindRegions} {
		if _, err := os.Stat(filepath.Join(dir, "img_001_"+kind+".png")); err != nil {
			t.Errorf("Missing %s artifact: %v", kind, err)
		}
	}
	if len(s.Result.Applied) != 3 {
		t.Errorf("Expected three applied regions, got %d", len(s.Result.Applied))
	}
	v := c.View()
	if v.Rotation != [2]int{0, 180} {
		t.Errorf("Expected initial rotation {0,180}, got %v", v.Rotation)
	}
	if v.ResultCenters[0] != image.Pt(200, 240) || v.ResultCenters[1] != image.Pt(600, 240) {
		t.Errorf("Unexpected result centres %v", v.ResultCenters)
	}
	if v.Results[0].Bounds().Dx() != 360 {
		t.Errorf("Expected 360 wide result, got %d", v.Results[0].Bounds().Dx())
	}
}

func TestPersistenceFailureReturnsToIntro(t *testing.T) {
	h := newHarness(t)
	h.composer.err = fmt.Errorf("%w: disk full", storage.ErrPersistence)
	h.toResult(t)
	expectState(t, h.c, "intro")
	if h.frames.closeCount() != 0 {
		t.Error("Persistence failure must not release the session")
	}
}

func TestUnexpectedComposeErrorSurfaces(t *testing.T) {
	h := newHarness(t)
	h.composer.err = errors.New("boom")
	h.toMark(t)
	for i := 0; i < 2; i++ {
		h.tick(t, types.Action(types.ActionNext))
	}
	if err := h.c.Tick(context.Background(), []types.Event{types.Action(types.ActionNext)}); err == nil {
		t.Error("Expected error from unexpected compose failure")
	}
}

func TestFlipAnimation(t *testing.T) {
	h := newHarness(t)
	h.toResult(t)
	s := h.c.State().(*ShowResult)

	h.tick(t, types.Action(types.ActionFlip))
	want := [][2]int{{30, 210}, {60, 240}, {90, 270}, {120, 300}, {150, 330}, {180, 0}}
	for i, w := range want {
		if i > 0 {
			h.tick(t)
		}
		if got := s.Rotation(); got != w {
			t.Errorf("Step %d: rotation %v, want %v", i+1, got, w)
		}
	}

	h.tick(t)
	if s.Rotating || s.Base != [2]int{180, 0} || s.Angle != 0 {
		t.Errorf("Expected frozen flipped orientation, got base=%v angle=%d rotating=%v", s.Base, s.Angle, s.Rotating)
	}
	h.tick(t)
	if got := s.Rotation(); got != [2]int{180, 0} {
		t.Errorf("Rotation changed after freeze: %v", got)
	}
}

func TestPrintOnSecondTickOnce(t *testing.T) {
	h := newHarness(t)
	h.toPrint(t)
	expectState(t, h.c, "print-result")

	h.tick(t)
	if h.assembler.calls != 0 {
		t.Fatal("Print must not run on the first tick")
	}
	h.tick(t)
	if h.assembler.calls != 1 {
		t.Fatalf("Expected print on the second tick, got %d calls", h.assembler.calls)
	}
	if h.assembler.run.Seq != 7 {
		t.Errorf("Expected run to be reused, got %d", h.assembler.run.Seq)
	}
	for i := 0; i < 10; i++ {
		h.tick(t)
	}
	if h.assembler.calls != 1 {
		t.Errorf("Expected a single print, got %d", h.assembler.calls)
	}
	if v := h.c.View(); v.PrintPath != "out/img_007_composite.png" {
		t.Errorf("Unexpected print path %q", v.PrintPath)
	}
}

func TestPrintPersistenceFailure(t *testing.T) {
	h := newHarness(t)
	h.assembler.err = fmt.Errorf("%w: read-only", storage.ErrPersistence)
	h.toPrint(t)
	h.tick(t)
	h.tick(t)
	expectState(t, h.c, "intro")
}

func TestResetTransitions(t *testing.T) {
	drivers := map[string]func(*harness, *testing.T){
		"live-preview": (*harness).toLivePreview,
		"show-result":  (*harness).toResult,
		"print-result": (*harness).toPrint,
	}
	for name, drive := range drivers {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			drive(h, t)
			h.tick(t, types.Action(types.ActionReset))
			expectState(t, h.c, "intro")
			if v := h.c.View(); v.Background != assets.BgIntro {
				t.Errorf("Unexpected background %q", v.Background)
			}
		})
	}
}

func TestIgnoredActions(t *testing.T) {
	h := newHarness(t)
	h.tick(t, types.Action(types.ActionCapture), types.Action(types.ActionPrint))
	expectState(t, h.c, "intro")

	h.toCapturing(t)
	h.tick(t, types.Action(types.ActionReset))
	expectState(t, h.c, "capturing")
}

type scriptedRuntime struct {
	mu      sync.Mutex
	script  [][]types.Event
	renders int
}

func (r *scriptedRuntime) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.script) == 0 {
		return nil
	}
	ev := r.script[0]
	r.script = r.script[1:]
	return ev
}

func (r *scriptedRuntime) Render(View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders++
}

func fastConfig() Config {
	config := DefaultConfig()
	config.FPS = 1000
	return config
}

func TestRunTerminatesOnCancel(t *testing.T) {
	frames := &fakeFrames{frame: createTestImage(640, 480)}
	c := New(fastConfig(), Deps{Frames: frames, Compositor: &fakeComposer{}, Assembler: &fakeAssembler{}, Log: testLogger()})
	rt := &scriptedRuntime{script: [][]types.Event{
		{types.Action(types.ActionStart)},
		nil,
		{types.Action(types.Cancel)},
	}}

	if err := c.Run(context.Background(), rt); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !c.Done() || frames.started != 1 || frames.closeCount() != 1 {
		t.Errorf("Expected clean termination, started=%d closed=%d", frames.started, frames.closeCount())
	}
	if rt.renders != 2 {
		t.Errorf("Expected 2 renders before cancel, got %d", rt.renders)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	frames := &fakeFrames{frame: createTestImage(640, 480)}
	closer := &countingCloser{}
	c := New(fastConfig(), Deps{
		Frames:     frames,
		Compositor: &fakeComposer{panic: true},
		Assembler:  &fakeAssembler{},
		Closers:    []io.Closer{closer},
		Log:        testLogger(),
	})

	script := [][]types.Event{{types.Action(types.ActionStart)}, {types.Action(types.ActionCapture)}}
	for i := 0; i < 16; i++ {
		script = append(script, nil)
	}
	script = append(script, []types.Event{types.Action(types.ActionAccept)})
	// Detection finishes in the background while these ticks pass.
	for i := 0; i < 200; i++ {
		script = append(script, nil)
	}
	script = append(script, []types.Event{types.Action(types.ActionNext), types.Action(types.ActionNext), types.Action(types.ActionNext)})

	err := c.Run(context.Background(), &scriptedRuntime{script: script})
	if !errors.Is(err, ErrUnexpected) {
		t.Fatalf("Expected ErrUnexpected, got %v", err)
	}
	if !c.Done() || frames.closeCount() != 1 || closer.n != 1 {
		t.Errorf("Expected single release after panic, frames=%d closer=%d", frames.closeCount(), closer.n)
	}
}

func TestRunContextCancelled(t *testing.T) {
	frames := &fakeFrames{}
	c := New(fastConfig(), Deps{Frames: frames, Compositor: &fakeComposer{}, Assembler: &fakeAssembler{}, Log: testLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx, &scriptedRuntime{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !c.Done() || frames.closeCount() != 1 {
		t.Error("Expected termination and release on context cancel")
	}
}

func TestRunCancelWithFailingReleaseIsNotAnError(t *testing.T) {
	frames := &fakeFrames{frame: createTestImage(640, 480)}
	closer := &failingCloser{}
	c := New(fastConfig(), Deps{
		Frames:     frames,
		Compositor: &fakeComposer{},
		Assembler:  &fakeAssembler{},
		Closers:    []io.Closer{closer},
		Log:        testLogger(),
	})

	err := c.Run(context.Background(), &scriptedRuntime{script: [][]types.Event{{types.Action(types.Cancel)}}})
	if err != nil {
		t.Fatalf("Expected an operator quit to end cleanly, got %v", err)
	}
	if !c.Done() || closer.n != 1 {
		t.Errorf("Expected one release attempt, got %d", closer.n)
	}
	if err := c.Close(); err == nil {
		t.Error("Close should still report the release failure")
	}
}

func TestCancelTickReportsNoError(t *testing.T) {
	h := newHarness(t)
	h.c.deps.Closers = []io.Closer{&failingCloser{}}
	if err := h.c.Tick(context.Background(), []types.Event{types.Action(types.Cancel)}); err != nil {
		t.Errorf("Expected nil from a cancel tick, got %v", err)
	}
	expectState(t, h.c, "terminated")
}

func TestDetectionDoesNotBlockTicks(t *testing.T) {
	h := newHarness(t)
	h.detector = blockingDetector()
	h.c.deps.Detector = h.detector
	h.toConfirm(t)

	h.tick(t, types.Action(types.ActionAccept))
	for i := 0; i < 5; i++ {
		h.tick(t, types.Action(types.ActionAccept))
	}
	s, ok := h.c.State().(*ConfirmCapture)
	if !ok || !s.Detecting() {
		t.Fatalf("Expected confirm-capture waiting on detection, got %s", h.c.State().Name())
	}
	if !h.c.View().Detecting {
		t.Error("Expected the view to show detection in progress")
	}
	if s.Flash != 255-6*20 {
		t.Errorf("Expected flash to keep fading while detecting, got %d", s.Flash)
	}

	close(h.detector.block)
	h.await(t, "mark-regions")
	if h.detector.calls != 1 {
		t.Errorf("Repeated accepts must not start another detection, got %d calls", h.detector.calls)
	}
}

func TestRejectAbortsPendingDetection(t *testing.T) {
	h := newHarness(t)
	h.detector = blockingDetector()
	h.c.deps.Detector = h.detector
	h.toConfirm(t)

	h.tick(t, types.Action(types.ActionAccept))
	h.tick(t, types.Action(types.ActionReject))
	expectState(t, h.c, "live-preview")

	select {
	case <-h.detector.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the pending detection to be cancelled")
	}
}

func TestCancelAbortsPendingDetection(t *testing.T) {
	h := newHarness(t)
	h.detector = blockingDetector()
	h.c.deps.Detector = h.detector
	h.toConfirm(t)

	h.tick(t, types.Action(types.ActionAccept))
	h.tick(t, types.Action(types.Cancel))
	expectState(t, h.c, "terminated")

	select {
	case <-h.detector.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the pending detection to be cancelled")
	}
}

func TestDetectionTimeoutFallsBack(t *testing.T) {
	h := newHarness(t)
	h.detector = blockingDetector()
	h.c.deps.Detector = h.detector
	h.c.config.DetectTimeout = 10 * time.Millisecond
	h.toMark(t)

	s := h.c.State().(*MarkRegions)
	if got := s.Regions[types.LeftEye].CurrentRect(); got != (geometry.ScreenRect{X: 320, Y: 155, W: 50, H: 30}) {
		t.Errorf("Expected guide rectangle after a timeout, got %+v", got)
	}
}

func TestViewCarriesLoadedAssets(t *testing.T) {
	h := newHarness(t)
	intro := image.NewNRGBA(image.Rect(0, 0, 800, 480))
	guide := image.NewNRGBA(image.Rect(0, 0, 400, 400))
	h.c.deps.Assets = &assets.Assets{
		Guide:       guide,
		Backgrounds: map[string]image.Image{assets.BgIntro: intro},
	}

	v := h.c.View()
	if v.Backdrop != intro || v.GuideImage != nil {
		t.Error("Expected the intro backdrop and no guide on the intro screen")
	}

	h.toLivePreview(t)
	v = h.c.View()
	if v.GuideImage != guide {
		t.Error("Expected the guide overlay during live preview")
	}
	if v.Backdrop != nil {
		t.Error("Expected no backdrop for a background that was not loaded")
	}
}
