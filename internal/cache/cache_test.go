package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/buildgridgo/internal/digest"
	"github.com/specialistvlad/buildgridgo/internal/rule"
)

func TestMemory_LookupStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory()

	depA := digest.FromBytes([]byte("dep a"))
	depB := digest.FromBytes([]byte("dep b"))
	result := digest.FromBytes([]byte("result"))
	key := NewKey("node-1", []digest.Digest{depA, depB}, "")

	_, ok, err := c.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Store(ctx, key, result))
	got, ok, err := c.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, result, got)
}

func TestKey_SensitiveToDepsOrderAndFingerprint(t *testing.T) {
	t.Parallel()

	depA := digest.FromBytes([]byte("a"))
	depB := digest.FromBytes([]byte("b"))

	base := NewKey("n", []digest.Digest{depA, depB}, "")
	reordered := NewKey("n", []digest.Digest{depB, depA}, "")
	fingerprinted := NewKey("n", []digest.Digest{depA, depB}, "linux/amd64")
	otherNode := NewKey("m", []digest.Digest{depA, depB}, "")

	assert.NotEqual(t, base, reordered)
	assert.NotEqual(t, base, fingerprinted)
	assert.NotEqual(t, base, otherNode)
	assert.Equal(t, base, NewKey("n", []digest.Digest{depA, depB}, ""))
}

func TestMemory_RunRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory()

	_, ok, err := c.LastRun(ctx, "node-1")
	require.NoError(t, err)
	assert.False(t, ok)

	run := &Run{
		Requests:   []rule.Request{{Type: "build.Sources"}},
		DepDigests: []digest.Digest{digest.FromBytes([]byte("srcs"))},
		Result:     digest.FromBytes([]byte("out")),
	}
	require.NoError(t, c.RecordRun(ctx, "node-1", run))

	got, ok, err := c.LastRun(ctx, "node-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, run, got)
	assert.Equal(t, run.Key("node-1"), NewKey("node-1", run.DepDigests, ""))

	// A later run replaces the record.
	run2 := &Run{Result: digest.FromBytes([]byte("out2"))}
	require.NoError(t, c.RecordRun(ctx, "node-1", run2))
	got, _, err = c.LastRun(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, run2, got)
}
