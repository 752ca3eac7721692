package printer_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/specialistvlad/buildgridgo/internal/printer"
	"github.com/specialistvlad/buildgridgo/internal/workunit"
)

func TestResultLines(t *testing.T) {
	t.Parallel()
	var buf strings.Builder
	p := printer.New(&buf, false)

	p.Result("lib:compile", workunit.OutcomeSuccess, 1230*time.Millisecond)
	p.Result("lib:parse", workunit.OutcomeCached, 2*time.Millisecond)
	p.Result("app:app", workunit.OutcomeFailure, 40*time.Millisecond)

	out := buf.String()
	assert.Contains(t, out, "PASS   lib:compile (1.23s)")
	assert.Contains(t, out, "CACHED lib:parse (2ms)")
	assert.Contains(t, out, "FAIL   app:app (40ms)")
}

func TestErrorAndSummary(t *testing.T) {
	t.Parallel()
	var buf strings.Builder
	p := printer.New(&buf, false)

	p.Error(errors.New("target \"bad:bad\" exited 7"))
	p.Summary(3, 5, 1, 2*time.Second)

	out := buf.String()
	assert.Contains(t, out, "ERROR target \"bad:bad\" exited 7")
	assert.Contains(t, out, "3 built, 5 cached, 1 failed in 2s")
}
