// Package printer renders build results for a terminal.
package printer

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/specialistvlad/buildgridgo/internal/workunit"
)

// Printer writes one line per built target plus a closing summary.
type Printer struct {
	out io.Writer

	pass   *color.Color
	cached *color.Color
	fail   *color.Color
	dim    *color.Color
}

// New creates a printer. Colors are stripped when enableColor is false,
// keeping output pipeable.
func New(out io.Writer, enableColor bool) *Printer {
	p := &Printer{
		out:    out,
		pass:   color.New(color.FgGreen, color.Bold),
		cached: color.New(color.FgCyan),
		fail:   color.New(color.FgRed, color.Bold),
		dim:    color.New(color.Faint),
	}
	if !enableColor {
		for _, c := range []*color.Color{p.pass, p.cached, p.fail, p.dim} {
			c.DisableColor()
		}
	}
	return p
}

// Result prints one target's outcome line.
func (p *Printer) Result(address string, outcome workunit.Outcome, elapsed time.Duration) {
	var tag string
	switch outcome {
	case workunit.OutcomeSuccess:
		tag = p.pass.Sprint("PASS  ")
	case workunit.OutcomeCached:
		tag = p.cached.Sprint("CACHED")
	case workunit.OutcomeCancelled:
		tag = p.dim.Sprint("CANCEL")
	default:
		tag = p.fail.Sprint("FAIL  ")
	}
	fmt.Fprintf(p.out, "%s %s %s\n", tag, address, p.dim.Sprintf("(%s)", elapsed.Round(time.Millisecond)))
}

// Error prints a build failure.
func (p *Printer) Error(err error) {
	fmt.Fprintf(p.out, "%s %v\n", p.fail.Sprint("ERROR"), err)
}

// Summary prints the closing tally.
func (p *Printer) Summary(passed, cached, failed int, elapsed time.Duration) {
	line := fmt.Sprintf("%d built, %d cached, %d failed in %s",
		passed, cached, failed, elapsed.Round(time.Millisecond))
	if failed > 0 {
		fmt.Fprintln(p.out, p.fail.Sprint(line))
		return
	}
	fmt.Fprintln(p.out, p.pass.Sprint(line))
}
