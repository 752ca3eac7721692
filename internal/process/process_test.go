package process_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/buildgridgo/internal/process"
	"github.com/specialistvlad/buildgridgo/internal/snapshot"
	"github.com/specialistvlad/buildgridgo/internal/store"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests drive /bin/sh")
	}
}

func TestRun_CapturesStdoutAndExitCode(t *testing.T) {
	t.Parallel()
	requireShell(t)
	s := store.NewMemory()
	r := process.NewRunner(s, t.TempDir())

	res, err := r.Run(context.Background(), process.Request{
		Argv: []string{"/bin/sh", "-c", "echo hello; echo oops >&2; exit 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Success())

	out, err := s.Get(context.Background(), res.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
	errOut, err := s.Get(context.Background(), res.Stderr)
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(errOut))
}

func TestRun_InputAndOutputSnapshots(t *testing.T) {
	t.Parallel()
	requireShell(t)
	s := store.NewMemory()
	ctx := context.Background()

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "in.txt"), []byte("payload"), 0o644))
	input, err := snapshot.Capture(ctx, s, src, nil)
	require.NoError(t, err)

	r := process.NewRunner(s, t.TempDir())
	res, err := r.Run(ctx, process.Request{
		Argv:        []string{"/bin/sh", "-c", "mkdir out && cp in.txt out/result.txt"},
		Input:       input,
		OutputGlobs: []string{"out/**"},
	})
	require.NoError(t, err)
	require.True(t, res.Success())
	assert.Equal(t, []string{"out/result.txt"}, res.Outputs.Files)

	dst := t.TempDir()
	require.NoError(t, snapshot.Write(ctx, s, res.Outputs, dst))
	got, err := os.ReadFile(filepath.Join(dst, "out", "result.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestRun_EnvironmentIsExplicit(t *testing.T) {
	t.Parallel()
	requireShell(t)
	s := store.NewMemory()
	r := process.NewRunner(s, t.TempDir())

	res, err := r.Run(context.Background(), process.Request{
		Argv: []string{"/bin/sh", "-c", "echo $GREETING"},
		Env:  []string{"GREETING=bonjour"},
	})
	require.NoError(t, err)
	out, err := s.Get(context.Background(), res.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "bonjour\n", string(out))
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()
	requireShell(t)
	s := store.NewMemory()
	r := process.NewRunner(s, t.TempDir())

	_, err := r.Run(context.Background(), process.Request{
		Argv:    []string{"/bin/sh", "-c", "sleep 30"},
		Timeout: 50 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, process.ErrTimeout))
}

func TestRun_Cancellation(t *testing.T) {
	t.Parallel()
	requireShell(t)
	s := store.NewMemory()
	r := process.NewRunner(s, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := r.Run(ctx, process.Request{
		Argv: []string{"/bin/sh", "-c", "sleep 30"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRun_EmptyArgv(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	r := process.NewRunner(s, t.TempDir())

	_, err := r.Run(context.Background(), process.Request{})
	assert.Error(t, err)
}

func TestRun_MissingBinary(t *testing.T) {
	t.Parallel()
	s := store.NewMemory()
	r := process.NewRunner(s, t.TempDir())

	_, err := r.Run(context.Background(), process.Request{
		Argv: []string{"/no/such/binary-anywhere"},
	})
	assert.Error(t, err)
}
