package rule

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopBody(ctx context.Context, ex Exec, params Params) (any, error) {
	return nil, nil
}

func testRule(name, output, selector string) *Rule {
	return &Rule{
		Name:     name,
		Output:   output,
		Selector: selector,
		Body:     noopBody,
		Codec:    BytesCodec(),
	}
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(testRule("compile", "build.Compiled", "")))

	rl, err := reg.Resolve(Request{Type: "build.Compiled"})
	require.NoError(t, err)
	assert.Equal(t, "compile", rl.Name)
}

func TestRegistry_NoRuleFound(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(testRule("compile", "build.Compiled", "")))

	_, err := reg.Resolve(Request{Type: "build.Linted"})
	var noRule *NoRuleFoundError
	require.ErrorAs(t, err, &noRule)
	assert.Contains(t, noRule.Known, "build.Compiled")
}

func TestRegistry_AmbiguousRule(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(testRule("compile-go", "build.Compiled", "go")))
	require.NoError(t, reg.Register(testRule("compile-java", "build.Compiled", "java")))

	// Without a selector both rules match.
	_, err := reg.Resolve(Request{Type: "build.Compiled"})
	var ambiguous *AmbiguousRuleError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, []string{"compile-go", "compile-java"}, ambiguous.Candidates)

	// The selector narrows resolution to exactly one rule.
	rl, err := reg.Resolve(Request{Type: "build.Compiled", Selector: "go"})
	require.NoError(t, err)
	assert.Equal(t, "compile-go", rl.Name)
}

func TestRegistry_FreezeRejectsLateRegistration(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(testRule("a", "A", "")))
	reg.Freeze()
	assert.True(t, reg.Frozen())

	err := reg.Register(testRule("b", "B", ""))
	var frozen *ErrRegistryFrozen
	require.ErrorAs(t, err, &frozen)
	assert.Equal(t, "b", frozen.Rule)

	// Freeze is idempotent.
	reg.Freeze()
	assert.True(t, reg.Frozen())
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(testRule("dup", "A", "")))
	err := reg.Register(testRule("dup", "B", ""))
	require.Error(t, err)
	assert.False(t, errors.As(err, new(*ErrRegistryFrozen)))
}

func TestRegistry_InvalidRuleRejected(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	assert.Error(t, reg.Register(&Rule{Output: "A", Body: noopBody, Codec: BytesCodec()}))
	assert.Error(t, reg.Register(&Rule{Name: "x", Body: noopBody, Codec: BytesCodec()}))
	assert.Error(t, reg.Register(&Rule{Name: "x", Output: "A", Codec: BytesCodec()}))
	assert.Error(t, reg.Register(&Rule{Name: "x", Output: "A", Body: noopBody}))
}

func TestParams_EncodeOrderSensitive(t *testing.T) {
	t.Parallel()

	p1 := Params{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}
	p2 := Params{{Name: "b", Value: "2"}, {Name: "a", Value: "1"}}
	assert.NotEqual(t, p1.Encode(), p2.Encode(), "parameter order is part of identity")
	assert.Equal(t, "1", p1.Get("a"))
	assert.Equal(t, "", p1.Get("missing"))
}

func TestRequest_Key(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "build.Compiled", Request{Type: "build.Compiled"}.Key())
	withSel := Request{Type: "build.Compiled", Selector: "go", Params: Params{{Name: "addr", Value: "lib:all"}}}
	assert.Contains(t, withSel.Key(), "@go")
	assert.Contains(t, withSel.Key(), "lib:all")
}
