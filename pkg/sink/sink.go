// Package sink delivers finished print composites. Delivery is
// fire-and-forget: failures are logged and never reach the session.
package sink

import (
	"context"
	"image"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single print submission
const DefaultTimeout = 30 * time.Second

// Printer submits composites to a CUPS queue with lp
type Printer struct {
	// Command is the print client binary, lp unless overridden.
	Command string
	Name    string
	Timeout time.Duration

	log logrus.FieldLogger
	wg  sync.WaitGroup
}

// NewPrinter creates a sink for the named printer queue
func NewPrinter(name string, log logrus.FieldLogger) *Printer {
	return &Printer{Command: "lp", Name: name, Timeout: DefaultTimeout, log: log}
}

// Submit starts `lp -d <printer> <path>` in the background. The job keeps
// ctx's values but not its cancellation, so a shutdown lets it finish within
// Timeout.
func (p *Printer) Submit(ctx context.Context, path string, _ image.Image) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.Timeout)
		defer cancel()

		log := p.log.WithFields(logrus.Fields{"printer": p.Name, "path": path})
		out, err := exec.CommandContext(ctx, p.Command, "-d", p.Name, path).CombinedOutput()
		if err != nil {
			log.WithError(err).WithField("output", strings.TrimSpace(string(out))).Error("print submission failed")
			return
		}
		log.WithField("output", strings.TrimSpace(string(out))).Info("print submitted")
	}()
}

// Wait blocks until every submission started so far has finished
func (p *Printer) Wait() {
	p.wg.Wait()
}

// Log records composites without printing them
type Log struct {
	log logrus.FieldLogger
}

// NewLog creates a sink that only logs
func NewLog(log logrus.FieldLogger) *Log {
	return &Log{log: log}
}

// Submit implements the assembler sink
func (l *Log) Submit(_ context.Context, path string, img image.Image) {
	b := img.Bounds()
	l.log.WithFields(logrus.Fields{"path": path, "width": b.Dx(), "height": b.Dy()}).Info("printing disabled, composite kept on disk")
}
