package session

import (
	"image"

	"github.com/menta2k/thatcherizer/pkg/compositor"
	"github.com/menta2k/thatcherizer/pkg/feature"
	"github.com/menta2k/thatcherizer/pkg/types"
)

// State is the active step of a session. Each variant carries only the data
// that step needs.
type State interface {
	Name() string
	isState()
}

// Intro waits for the operator to start.
type Intro struct{}

// LivePreview shows the camera stream. Frame is the last frame read and may
// be nil before the source delivers one.
type LivePreview struct {
	Frame image.Image
}

// Capturing counts down before taking the photo.
type Capturing struct {
	Countdown  int
	FrameCount int
	Frame      image.Image
}

// ConfirmCapture holds the captured frame while the operator accepts or
// rejects it. Flash is the alpha of the fading white flash. After an accept
// the state stays here until the detector answers.
type ConfirmCapture struct {
	Frame image.Image
	Flash int

	detection *pendingDetection
}

// Detecting reports whether proposals for the accepted frame are pending.
func (s *ConfirmCapture) Detecting() bool {
	return s.detection != nil
}

// MarkRegions lets the operator adjust one region at a time. Index points at
// the region being edited.
type MarkRegions struct {
	Frame   image.Image
	Regions [types.FeatureCount]*feature.Region
	Index   int
}

// Current returns the region being edited.
func (s *MarkRegions) Current() *feature.Region {
	return s.Regions[s.Index]
}

// ShowResult displays the pair side by side. Angle is the progress of a
// running flip; Base holds the frozen rotation of each image.
type ShowResult struct {
	Result   *compositor.Result
	Display  [2]image.Image
	Base     [2]int
	Angle    int
	Rotating bool
}

// Rotation returns the current rotation in degrees of both images.
func (s *ShowResult) Rotation() [2]int {
	return [2]int{(s.Base[0] + s.Angle) % 360, (s.Base[1] + s.Angle) % 360}
}

// PrintResult assembles and submits the print after a short delay.
type PrintResult struct {
	Result  *compositor.Result
	Timer   int
	Printed bool
	Path    string
}

// Terminated is final. Nothing happens after it is reached.
type Terminated struct{}

func (*Intro) Name() string          { return "intro" }
func (*LivePreview) Name() string    { return "live-preview" }
func (*Capturing) Name() string      { return "capturing" }
func (*ConfirmCapture) Name() string { return "confirm-capture" }
func (*MarkRegions) Name() string    { return "mark-regions" }
func (*ShowResult) Name() string     { return "show-result" }
func (*PrintResult) Name() string    { return "print-result" }
func (*Terminated) Name() string     { return "terminated" }

func (*Intro) isState()          {}
func (*LivePreview) isState()    {}
func (*Capturing) isState()      {}
func (*ConfirmCapture) isState() {}
func (*MarkRegions) isState()    {}
func (*ShowResult) isState()     {}
func (*PrintResult) isState()    {}
func (*Terminated) isState()     {}
