package types

import (
	"image"
	"strings"

	"github.com/menta2k/thatcherizer/pkg/geometry"
)

// Feature labels one of the three marked regions
type Feature int

const (
	LeftEye Feature = iota
	RightEye
	Mouth
)

// FeatureCount is the number of regions marked per photo
const FeatureCount = 3

// Features returns the marking order
func Features() []Feature {
	return []Feature{LeftEye, RightEye, Mouth}
}

func (f Feature) String() string {
	switch f {
	case LeftEye:
		return "left eye"
	case RightEye:
		return "right eye"
	case Mouth:
		return "mouth"
	default:
		return "unknown"
	}
}

// ParseFeature maps a model or config label onto a Feature
func ParseFeature(label string) (Feature, bool) {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	switch s {
	case "left eye", "lefteye", "left":
		return LeftEye, true
	case "right eye", "righteye", "right":
		return RightEye, true
	case "mouth", "lips":
		return Mouth, true
	}
	return 0, false
}

// Proposal is a detector suggestion for one feature, in image space
type Proposal struct {
	Feature Feature
	Rect    geometry.ImageRect
}

// EventKind enumerates the abstract events delivered by the UI runtime
type EventKind int

const (
	PointerDown EventKind = iota
	PointerMove
	PointerUp
	Cancel

	// Operator actions produced by the button layer
	ActionStart
	ActionCapture
	ActionReset
	ActionAccept
	ActionReject
	ActionNext
	ActionFlip
	ActionPrint
)

var eventNames = map[EventKind]string{
	PointerDown:   "pointer-down",
	PointerMove:   "pointer-move",
	PointerUp:     "pointer-up",
	Cancel:        "cancel",
	ActionStart:   "start",
	ActionCapture: "capture",
	ActionReset:   "reset",
	ActionAccept:  "accept",
	ActionReject:  "reject",
	ActionNext:    "next",
	ActionFlip:    "flip",
	ActionPrint:   "print",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return "unknown"
}

// IsPointer reports whether k carries a position
func (k EventKind) IsPointer() bool {
	return k == PointerDown || k == PointerMove || k == PointerUp
}

// Event is a single input delivered to the session. Pos is in screen space
// and only meaningful for pointer events.
type Event struct {
	Kind EventKind
	Pos  image.Point
}

// Pointer builds a pointer event
func Pointer(kind EventKind, x, y int) Event {
	return Event{Kind: kind, Pos: image.Pt(x, y)}
}

// Action builds a position-less event
func Action(kind EventKind) Event {
	return Event{Kind: kind}
}

// WidgetTag is a semantic tag emitted by interactive widgets
type WidgetTag string

const (
	TagClick WidgetTag = "click"
	TagEnter WidgetTag = "enter"
	TagExit  WidgetTag = "exit"
	TagDown  WidgetTag = "down"
	TagUp    WidgetTag = "up"
	TagMove  WidgetTag = "move"
)

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Detection is one labelled feature box reported by a vision model
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// AnalysisResult contains the complete analysis result from the vision model
type AnalysisResult struct {
	Features    []Detection `json:"features"`
	Description string      `json:"description"`
}
