package workunit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_NestsUnderContextWorkunit(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	ctx := context.Background()

	root, ctx := r.Begin(ctx, "build", "build(addr=lib:all)")
	child, _ := r.Begin(ctx, "sources", "sources(addr=lib:all)")

	require.Len(t, r.Roots(), 1)
	children := root.Children()
	require.Len(t, children, 1)
	assert.Same(t, child, children[0])
	assert.NotEqual(t, root.ID, child.ID)
}

func TestWorkunit_CloseOnce(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	w, _ := r.Begin(context.Background(), "compile", "compile")
	assert.Equal(t, OutcomeUnknown, w.Outcome())
	assert.True(t, w.End().IsZero())

	w.Close(OutcomeSuccess)
	first := w.End()
	assert.Equal(t, OutcomeSuccess, w.Outcome())
	assert.False(t, first.IsZero())
	assert.False(t, w.Start().After(first))

	// A second close must not change the recorded outcome or time.
	w.Close(OutcomeFailure)
	assert.Equal(t, OutcomeSuccess, w.Outcome())
	assert.Equal(t, first, w.End())
}

func TestOutcome_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "cached", OutcomeCached.String())
	assert.Equal(t, "failure", OutcomeFailure.String())
	assert.Equal(t, "cancelled", OutcomeCancelled.String())
	assert.Equal(t, "unknown", OutcomeUnknown.String())
}
