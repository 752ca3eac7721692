package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/buildgridgo/internal/rule"
)

func params(addr string) rule.Params {
	return rule.Params{{Name: "addr", Value: addr}}
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	t.Parallel()
	g := New()

	a := g.GetOrCreate("compile", params("lib:a"))
	b := g.GetOrCreate("compile", params("lib:a"))
	c := g.GetOrCreate("compile", params("lib:c"))

	assert.Same(t, a, b, "identical identity must return the same handle")
	assert.NotSame(t, a, c)
	assert.NotEqual(t, a.ID, c.ID)
	assert.Equal(t, 2, g.Len())
}

func TestNodeKey_ParamOrderMatters(t *testing.T) {
	t.Parallel()

	p1 := rule.Params{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}
	p2 := rule.Params{{Name: "b", Value: "2"}, {Name: "a", Value: "1"}}
	assert.NotEqual(t, NodeKey("r", p1), NodeKey("r", p2))
}

func TestFindPath_DetectsWouldBeCycle(t *testing.T) {
	t.Parallel()
	g := New()

	a := g.GetOrCreate("a", nil)
	b := g.GetOrCreate("b", nil)
	c := g.GetOrCreate("c", nil)

	// a -> b -> c already recorded; a request c -> a would close the loop.
	g.AddDep(a.ID, b.ID)
	g.AddDep(b.ID, c.ID)

	trail := g.FindPath(a.ID, c.ID)
	require.Equal(t, []NodeID{a.ID, b.ID, c.ID}, trail)

	assert.Nil(t, g.FindPath(c.ID, a.ID), "no reverse path before the closing edge exists")
}

func TestInvalidate_DirtiesDeclaringNodeAndDependents(t *testing.T) {
	t.Parallel()
	g := New()

	// A -> {B, C}; B -> D; D reads /x. C stays clean.
	a := g.GetOrCreate("a", nil)
	b := g.GetOrCreate("b", nil)
	c := g.GetOrCreate("c", nil)
	d := g.GetOrCreate("d", nil)
	g.AddDep(a.ID, b.ID)
	g.AddDep(a.ID, c.ID)
	g.AddDep(b.ID, d.ID)
	g.DeclarePath(d.ID, "src/x")

	dirty := g.Invalidate([]string{"src/x"})
	assert.Equal(t, []NodeID{a.ID, b.ID, d.ID}, dirty)
	assert.NotContains(t, dirty, c.ID)
}

func TestInvalidate_DirectoryOverlap(t *testing.T) {
	t.Parallel()
	g := New()

	n := g.GetOrCreate("snapshot", nil)
	g.DeclarePath(n.ID, "src/lib")

	// A change below the declared directory dirties the node.
	assert.Equal(t, []NodeID{n.ID}, g.Invalidate([]string{"src/lib/util.go"}))
	// A change to an ancestor of the declared path dirties it too.
	assert.Equal(t, []NodeID{n.ID}, g.Invalidate([]string{"src"}))
	// Unrelated siblings do not.
	assert.Empty(t, g.Invalidate([]string{"src/libx/file.go"}))
}

func TestClearDeps_RemovesEdgesAndPaths(t *testing.T) {
	t.Parallel()
	g := New()

	a := g.GetOrCreate("a", nil)
	b := g.GetOrCreate("b", nil)
	g.AddDep(a.ID, b.ID)
	g.DeclarePath(a.ID, "f")

	g.ClearDeps(a.ID)
	assert.Nil(t, g.FindPath(a.ID, b.ID))
	assert.Empty(t, g.DeclaredPaths(a.ID))

	// b changing no longer dirties a.
	g.DeclarePath(b.ID, "g")
	assert.Equal(t, []NodeID{b.ID}, g.Invalidate([]string{"g"}))
}

func TestGC_RemovesUnreachableOnly(t *testing.T) {
	t.Parallel()
	g := New()

	root := g.GetOrCreate("root", nil)
	kept := g.GetOrCreate("kept", nil)
	orphan := g.GetOrCreate("orphan", nil)
	g.AddDep(root.ID, kept.ID)

	collected := g.GC([]NodeID{root.ID})
	assert.Equal(t, 1, collected)
	assert.Equal(t, 2, g.Len())
	assert.Nil(t, g.Node(orphan.ID))

	// Surviving nodes keep their identity and their handles.
	assert.Same(t, root, g.GetOrCreate("root", nil))
	assert.Same(t, kept, g.Node(kept.ID))
}
