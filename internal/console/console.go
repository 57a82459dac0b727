// Package console is a line-oriented stand-in for the touch screen. It turns
// typed commands into session events and logs what would be drawn.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/thatcherizer/pkg/session"
	"github.com/menta2k/thatcherizer/pkg/types"
)

var actions = map[string]types.EventKind{
	"start":   types.ActionStart,
	"capture": types.ActionCapture,
	"reset":   types.ActionReset,
	"accept":  types.ActionAccept,
	"reject":  types.ActionReject,
	"next":    types.ActionNext,
	"flip":    types.ActionFlip,
	"print":   types.ActionPrint,
	"quit":    types.Cancel,
	"exit":    types.Cancel,
}

var pointers = map[string]types.EventKind{
	"down": types.PointerDown,
	"move": types.PointerMove,
	"up":   types.PointerUp,
}

// ParseCommand turns one input line into events. Blank lines and lines
// starting with # yield nothing.
func ParseCommand(line string) ([]types.Event, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil, nil
	}

	cmd, args := fields[0], fields[1:]
	if kind, ok := actions[cmd]; ok {
		if len(args) != 0 {
			return nil, fmt.Errorf("%s takes no arguments", cmd)
		}
		return []types.Event{types.Action(kind)}, nil
	}

	if kind, ok := pointers[cmd]; ok {
		xy, err := ints(cmd, args, 2)
		if err != nil {
			return nil, err
		}
		return []types.Event{types.Pointer(kind, xy[0], xy[1])}, nil
	}

	if cmd == "drag" {
		xy, err := ints(cmd, args, 4)
		if err != nil {
			return nil, err
		}
		return []types.Event{
			types.Pointer(types.PointerDown, xy[0], xy[1]),
			types.Pointer(types.PointerMove, xy[2], xy[3]),
			types.Pointer(types.PointerUp, xy[2], xy[3]),
		}, nil
	}

	return nil, fmt.Errorf("unknown command %q", cmd)
}

func ints(cmd string, args []string, n int) ([]int, error) {
	if len(args) != n {
		return nil, fmt.Errorf("%s expects %d coordinates, got %d", cmd, n, len(args))
	}
	out := make([]int, n)
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid coordinate %q", cmd, a)
		}
		out[i] = v
	}
	return out, nil
}

// Runtime implements session.Runtime on top of a text stream
type Runtime struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	pending []types.Event
	last    session.View
	drawn   bool
}

// New creates a console runtime logging renders to log
func New(log logrus.FieldLogger) *Runtime {
	return &Runtime{log: log}
}

// Listen reads commands from r until EOF or ctx is done. End of input is
// delivered as a cancel event.
func (rt *Runtime) Listen(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		events, err := ParseCommand(scanner.Text())
		if err != nil {
			rt.log.WithError(err).Warn("ignoring command")
			continue
		}
		rt.Push(events...)
	}
	if err := scanner.Err(); err != nil {
		rt.log.WithError(err).Error("failed to read commands")
	}
	rt.Push(types.Action(types.Cancel))
}

// Push queues events for the next tick
func (rt *Runtime) Push(events ...types.Event) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.pending = append(rt.pending, events...)
}

// Events implements session.Runtime
func (rt *Runtime) Events() []types.Event {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	events := rt.pending
	rt.pending = nil
	return events
}

// Render implements session.Runtime. Only changes worth reading are logged.
func (rt *Runtime) Render(v session.View) {
	rt.mu.Lock()
	prev, drawn := rt.last, rt.drawn
	rt.last, rt.drawn = v, true
	rt.mu.Unlock()

	if drawn && !changed(prev, v) {
		return
	}

	fields := logrus.Fields{"state": v.State, "background": v.Background}
	if v.Backdrop != nil {
		b := v.Backdrop.Bounds()
		fields["backdrop"] = fmt.Sprintf("%dx%d", b.Dx(), b.Dy())
	}
	switch v.State {
	case "capturing":
		fields["countdown"] = v.Countdown
	case "confirm-capture":
		if v.Detecting {
			fields["detecting"] = true
		}
	case "mark-regions":
		fields["feature"] = v.Feature.String()
		fields["region"] = fmt.Sprintf("%d,%d %dx%d", v.Region.X, v.Region.Y, v.Region.W, v.Region.H)
	case "show-result":
		fields["rotation"] = fmt.Sprintf("%d/%d", v.Rotation[0], v.Rotation[1])
	case "print-result":
		if v.PrintPath != "" {
			fields["composite"] = v.PrintPath
		}
	}
	rt.log.WithFields(fields).Info("screen")
}

func changed(a, b session.View) bool {
	return a.State != b.State ||
		a.Countdown != b.Countdown ||
		a.Detecting != b.Detecting ||
		a.Feature != b.Feature ||
		a.Region != b.Region ||
		a.Rotation != b.Rotation ||
		a.PrintPath != b.PrintPath
}
