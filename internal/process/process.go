// Package process runs external commands in throwaway sandbox directories
// and captures their observable results into the content store. A process is
// the side-effecting leaf of a build: its inputs arrive as a snapshot, its
// outputs leave as one, and stdout, stderr and the exit code are stored by
// content so results can be replayed without re-running the command.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/specialistvlad/buildgridgo/internal/ctxlog"
	"github.com/specialistvlad/buildgridgo/internal/digest"
	"github.com/specialistvlad/buildgridgo/internal/snapshot"
	"github.com/specialistvlad/buildgridgo/internal/store"
)

// Request describes one command execution.
type Request struct {
	// Argv is the command and its arguments. Must be non-empty.
	Argv []string

	// Env is the complete environment, "NAME=value" pairs. The sandbox adds
	// nothing on top, so the environment is part of the request identity.
	Env []string

	// Input is materialized into the sandbox before the command starts.
	Input snapshot.Snapshot

	// OutputGlobs selects the files harvested from the sandbox afterwards.
	// Empty means no outputs are captured.
	OutputGlobs []string

	// Timeout bounds the run. Zero means no per-process limit.
	Timeout time.Duration
}

// Result is the stored outcome of one command execution.
type Result struct {
	ExitCode int
	Stdout   digest.Digest
	Stderr   digest.Digest
	Outputs  snapshot.Snapshot
	Duration time.Duration
}

// Success reports whether the command exited zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// ErrTimeout is returned when a command exceeds its requested timeout. It
// wraps context.DeadlineExceeded so callers classifying by the stdlib
// sentinel see it too.
var ErrTimeout = fmt.Errorf("process timed out: %w", context.DeadlineExceeded)

// Runner executes requests against a content store.
type Runner struct {
	store store.Store

	// workdir is the parent for sandbox directories. Empty means the
	// system temp directory.
	workdir string
}

// NewRunner creates a runner whose sandboxes live under workdir.
func NewRunner(s store.Store, workdir string) *Runner {
	return &Runner{store: s, workdir: workdir}
}

// Run executes the request in a fresh sandbox. A non-zero exit is not an
// error: the result carries the exit code and the caller decides. An error
// return means the command could not be run or its results could not be
// captured.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Argv) == 0 {
		return nil, errors.New("process: empty argv")
	}
	logger := ctxlog.FromContext(ctx)

	sandbox, err := os.MkdirTemp(r.workdir, "sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(sandbox); err != nil {
			logger.Warn("failed to remove sandbox", "dir", sandbox, "error", err)
		}
	}()

	if !req.Input.Empty() {
		if err := snapshot.Write(ctx, r.store, req.Input, sandbox); err != nil {
			return nil, fmt.Errorf("materializing input: %w", err)
		}
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, req.Argv[0], req.Argv[1:]...)
	cmd.Dir = sandbox
	cmd.Env = sortedEnv(req.Env)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	logger.Debug("running process", "argv", req.Argv, "sandbox", sandbox)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runErr != nil {
		// The command was killed by cancellation or timeout.
		if runCtx.Err() != nil {
			if req.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, req.Timeout, req.Argv)
			}
			return nil, runCtx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("running %v: %w", req.Argv, runErr)
		}
	}

	res := &Result{ExitCode: cmd.ProcessState.ExitCode(), Duration: elapsed}
	if res.Stdout, err = r.store.Put(ctx, stdout.Bytes()); err != nil {
		return nil, fmt.Errorf("storing stdout: %w", err)
	}
	if res.Stderr, err = r.store.Put(ctx, stderr.Bytes()); err != nil {
		return nil, fmt.Errorf("storing stderr: %w", err)
	}
	if len(req.OutputGlobs) > 0 {
		res.Outputs, err = snapshot.Capture(ctx, r.store, sandbox, req.OutputGlobs)
		if err != nil {
			return nil, fmt.Errorf("capturing outputs: %w", err)
		}
	}

	logger.Debug("process finished",
		"argv", req.Argv,
		"exit_code", res.ExitCode,
		"duration", elapsed,
		"outputs", len(res.Outputs.Files))
	return res, nil
}

// sortedEnv returns a copy of env sorted by name so the environment the
// child sees is order-independent, matching how requests are fingerprinted.
func sortedEnv(env []string) []string {
	out := append([]string(nil), env...)
	sort.Strings(out)
	return out
}
