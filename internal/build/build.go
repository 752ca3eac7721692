// Package build binds target manifests to the engine: it registers the
// standard rules that turn a target address into content-addressed results.
// Pure rules (file contents, source snapshots) re-read the file system when
// invalidated; the process-running rule is side-effecting and replays from
// the execution cache when its realized inputs are unchanged.
package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/buildgridgo/internal/digest"
	"github.com/specialistvlad/buildgridgo/internal/process"
	"github.com/specialistvlad/buildgridgo/internal/rule"
	"github.com/specialistvlad/buildgridgo/internal/snapshot"
	"github.com/specialistvlad/buildgridgo/internal/store"
	"github.com/specialistvlad/buildgridgo/internal/target"
)

// Output types produced by the standard rules.
const (
	TypeFile    = "build.File"
	TypeSources = "build.Sources"
	TypeResult  = "build.Result"
)

// ParamPath is the file path parameter of a TypeFile request.
const ParamPath = "path"

// ParamAddress is the target address parameter of TypeSources and
// TypeResult requests.
const ParamAddress = "address"

// Sources is the snapshot of a target's matched source files.
type Sources struct {
	Address string   `json:"address"`
	Digest  string   `json:"digest"`
	Files   []string `json:"files"`
}

// Result is the outcome of building one target. For a target without a cmd
// it is its source snapshot passed through; otherwise it carries the
// process's exit state and output snapshot.
type Result struct {
	Address  string   `json:"address"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout,omitempty"`
	Stderr   string   `json:"stderr,omitempty"`
	Outputs  string   `json:"outputs,omitempty"`
	Files    []string `json:"files,omitempty"`
}

// FileRequest asks for the contents of one file by absolute path.
func FileRequest(path string) rule.Request {
	return rule.Request{
		Type:   TypeFile,
		Params: rule.Params{{Name: ParamPath, Value: path}},
	}
}

// SourcesRequest asks for the source snapshot of a target.
func SourcesRequest(a target.Address) rule.Request {
	return rule.Request{
		Type:   TypeSources,
		Params: rule.Params{{Name: ParamAddress, Value: a.String()}},
	}
}

// ResultRequest asks for a target to be built.
func ResultRequest(a target.Address) rule.Request {
	return rule.Request{
		Type:   TypeResult,
		Params: rule.Params{{Name: ParamAddress, Value: a.String()}},
	}
}

// Register installs the standard rules against a loaded target set.
func Register(reg *rule.Registry, set *target.Set, runner *process.Runner, s store.Store) error {
	rules := []*rule.Rule{
		{
			Name:   "file",
			Output: TypeFile,
			Codec:  rule.BytesCodec(),
			Body:   fileBody,
		},
		{
			Name:   "sources",
			Output: TypeSources,
			Codec:  rule.JSONCodec(func() any { return new(Sources) }),
			Body:   sourcesBody(set, s),
		},
		{
			Name:          "build",
			Output:        TypeResult,
			SideEffecting: true,
			Codec:         rule.JSONCodec(func() any { return new(Result) }),
			Body:          resultBody(set, runner, s),
		},
	}
	for _, r := range rules {
		if err := reg.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// fileBody reads one file. The declared path makes the node dirty when a
// watcher reports a change beneath it.
func fileBody(ctx context.Context, ex rule.Exec, params rule.Params) (any, error) {
	path := params.Get(ParamPath)
	if path == "" {
		return nil, fmt.Errorf("file rule needs a %q param", ParamPath)
	}
	ex.DeclarePath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func sourcesBody(set *target.Set, s store.Store) rule.BodyFunc {
	return func(ctx context.Context, ex rule.Exec, params rule.Params) (any, error) {
		t, err := lookup(set, params)
		if err != nil {
			return nil, err
		}
		dir := filepath.Join(set.Root(), filepath.FromSlash(t.Dir))
		ex.DeclarePath(dir)
		snap, err := snapshot.Capture(ctx, s, dir, t.Srcs)
		if err != nil {
			return nil, fmt.Errorf("capturing sources of %q: %w", t.Address(), err)
		}
		return &Sources{
			Address: t.Address().String(),
			Digest:  snap.Digest.String(),
			Files:   snap.Files,
		}, nil
	}
}

func resultBody(set *target.Set, runner *process.Runner, s store.Store) rule.BodyFunc {
	return func(ctx context.Context, ex rule.Exec, params rule.Params) (any, error) {
		t, err := lookup(set, params)
		if err != nil {
			return nil, err
		}

		// Dep results first, then own sources, resolved concurrently.
		reqs := make([]rule.Request, 0, len(t.Deps)+1)
		for _, dep := range t.Deps {
			reqs = append(reqs, ResultRequest(dep))
		}
		reqs = append(reqs, SourcesRequest(t.Address()))
		values, err := ex.GetAll(ctx, reqs...)
		if err != nil {
			return nil, err
		}

		sources := values[len(values)-1].Data.(*Sources)
		if len(t.Cmd) == 0 {
			return &Result{
				Address: t.Address().String(),
				Outputs: sources.Digest,
				Files:   sources.Files,
			}, nil
		}

		input, err := buildInput(ctx, s, sources, values[:len(values)-1])
		if err != nil {
			return nil, err
		}
		res, err := runner.Run(ctx, process.Request{
			Argv:        t.Cmd,
			Env:         envList(t.Env),
			Input:       input,
			OutputGlobs: t.Outs,
			Timeout:     t.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("building %q: %w", t.Address(), err)
		}
		if !res.Success() {
			return nil, commandError(ctx, s, t, res)
		}
		return &Result{
			Address:  t.Address().String(),
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout.String(),
			Stderr:   res.Stderr.String(),
			Outputs:  res.Outputs.Digest.String(),
			Files:    res.Outputs.Files,
		}, nil
	}
}

// buildInput merges the target's own sources with the output snapshots of
// its deps into one sandbox tree. Dep outputs land first, so a source file
// wins a path collision.
func buildInput(ctx context.Context, s store.Store, sources *Sources, deps []rule.Value) (snapshot.Snapshot, error) {
	snaps := make([]snapshot.Snapshot, 0, len(deps)+1)
	for _, v := range deps {
		dep := v.Data.(*Result)
		if dep.Outputs == "" {
			continue
		}
		snap, err := parseSnapshot(dep.Outputs, dep.Files)
		if err != nil {
			return snapshot.Snapshot{}, fmt.Errorf("dep %q: %w", dep.Address, err)
		}
		snaps = append(snaps, snap)
	}
	own, err := parseSnapshot(sources.Digest, sources.Files)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	snaps = append(snaps, own)
	return snapshot.Merge(ctx, s, snaps...)
}

// commandError surfaces a failed command with the tail of its stderr, so the
// failure is actionable without digging digests out of the store.
func commandError(ctx context.Context, s store.Store, t *target.Target, res *process.Result) error {
	detail := ""
	if raw, err := s.Get(ctx, res.Stderr); err == nil && len(raw) > 0 {
		detail = ": " + tail(string(raw), 512)
	}
	return fmt.Errorf("target %q: %v exited %d%s", t.Address(), t.Cmd, res.ExitCode, detail)
}

func lookup(set *target.Set, params rule.Params) (*target.Target, error) {
	raw := params.Get(ParamAddress)
	if raw == "" {
		return nil, fmt.Errorf("target rule needs an %q param", ParamAddress)
	}
	addr, err := target.ParseAddress(raw, ".")
	if err != nil {
		return nil, err
	}
	return set.Lookup(addr)
}

func parseSnapshot(dg string, files []string) (snapshot.Snapshot, error) {
	parsed, err := digest.Parse(dg)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return snapshot.Snapshot{Digest: parsed, Files: files}, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for name, value := range env {
		out = append(out, name+"="+value)
	}
	return out
}

func tail(s string, max int) string {
	s = strings.TrimRight(s, "\n")
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
