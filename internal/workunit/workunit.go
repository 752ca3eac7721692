// Package workunit records observability spans for node executions: one
// workunit per execution, nested under the workunit of the requesting node.
// A workunit is created at execution start, closed exactly once at
// completion, and read-only afterward.
package workunit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal state of a workunit.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeSuccess
	OutcomeCached
	OutcomeFailure
	OutcomeCancelled
)

// String returns the lowercase name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeCached:
		return "cached"
	case OutcomeFailure:
		return "failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Workunit is one observability span.
type Workunit struct {
	ID   uuid.UUID
	Name string
	Node string

	mu       sync.Mutex
	start    time.Time
	end      time.Time
	outcome  Outcome
	children []*Workunit
}

// Start returns the span's start time.
func (w *Workunit) Start() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.start
}

// End returns the span's end time, zero while still open.
func (w *Workunit) End() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.end
}

// Outcome returns the terminal outcome, OutcomeUnknown while still open.
func (w *Workunit) Outcome() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}

// Children returns a copy of the nested workunits.
func (w *Workunit) Children() []*Workunit {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Workunit(nil), w.children...)
}

// Close records the outcome and end time. Only the first call has effect.
func (w *Workunit) Close(outcome Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.end.IsZero() {
		return
	}
	w.end = time.Now()
	w.outcome = outcome
}

func (w *Workunit) addChild(child *Workunit) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.children = append(w.children, child)
}

// key is an unexported context key type for the current workunit.
type key struct{}

var workunitKey = key{}

// Inherit copies the current workunit, if any, from src into dst. Node
// computations run on detached contexts; this keeps their spans nested
// under the span of the first demander.
func Inherit(dst, src context.Context) context.Context {
	if w, ok := src.Value(workunitKey).(*Workunit); ok {
		return context.WithValue(dst, workunitKey, w)
	}
	return dst
}

// Recorder collects workunit trees for one engine session.
type Recorder struct {
	mu    sync.Mutex
	roots []*Workunit
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Begin opens a workunit nested under the workunit in ctx, or a new root
// when ctx carries none. The returned context carries the new workunit so
// sub-dependencies nest under it.
func (r *Recorder) Begin(ctx context.Context, name, node string) (*Workunit, context.Context) {
	w := &Workunit{
		ID:    uuid.New(),
		Name:  name,
		Node:  node,
		start: time.Now(),
	}
	if parent, ok := ctx.Value(workunitKey).(*Workunit); ok {
		parent.addChild(w)
	} else {
		r.mu.Lock()
		r.roots = append(r.roots, w)
		r.mu.Unlock()
	}
	return w, context.WithValue(ctx, workunitKey, w)
}

// Roots returns a copy of the recorded root workunits.
func (r *Recorder) Roots() []*Workunit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Workunit(nil), r.roots...)
}
