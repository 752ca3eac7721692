// Package target loads BUILD.hcl manifests. A manifest declares the targets
// of one directory; a target names its sources, its dependencies on other
// targets, and optionally the command that produces its outputs. Loaded
// targets are plain data: turning them into executable work is the build
// package's job.
package target

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// ManifestName is the file name of a target manifest.
const ManifestName = "BUILD.hcl"

// Target is one declared build target.
type Target struct {
	// Dir is the manifest's directory relative to the workspace root,
	// slash-separated, "." for the root itself.
	Dir string

	// Name is the target's label within its directory.
	Name string

	// Srcs are glob patterns, relative to Dir, selecting the target's
	// source files.
	Srcs []string

	// Deps are addresses of targets this one consumes outputs from.
	Deps []Address

	// Cmd is the command that builds the target. Empty for pure source
	// targets.
	Cmd []string

	// Env is the complete environment for Cmd.
	Env map[string]string

	// Outs are glob patterns, relative to the sandbox, selecting the files
	// Cmd produces.
	Outs []string

	// Timeout bounds Cmd. Zero means the engine default applies.
	Timeout time.Duration
}

// Address returns the target's own address.
func (t *Target) Address() Address {
	return Address{Dir: t.Dir, Name: t.Name}
}

// Address identifies a target as "dir:name".
type Address struct {
	Dir  string
	Name string
}

// String renders the address in manifest syntax.
func (a Address) String() string {
	return a.Dir + ":" + a.Name
}

// ParseAddress parses "dir:name". The dir part is cleaned; a bare "name"
// with no colon resolves against fromDir, so intra-manifest deps can omit
// their own directory.
func ParseAddress(s, fromDir string) (Address, error) {
	dir, name, found := strings.Cut(s, ":")
	if !found {
		dir, name = fromDir, s
	}
	if dir == "" {
		dir = fromDir
	}
	dir = path.Clean(dir)
	if name == "" || strings.ContainsAny(name, "/:") {
		return Address{}, fmt.Errorf("invalid target address %q", s)
	}
	return Address{Dir: dir, Name: name}, nil
}

type targetBlock struct {
	Name    string            `hcl:"name,label"`
	Srcs    []string          `hcl:"srcs,optional"`
	Deps    []string          `hcl:"deps,optional"`
	Cmd     []string          `hcl:"cmd,optional"`
	Env     map[string]string `hcl:"env,optional"`
	Outs    []string          `hcl:"outs,optional"`
	Timeout string            `hcl:"timeout,optional"`
}

type manifest struct {
	Targets []*targetBlock `hcl:"target,block"`
}

// Set holds every target loaded from a workspace, keyed by address.
type Set struct {
	root    string
	targets map[Address]*Target
}

// Root returns the workspace root the set was loaded from.
func (s *Set) Root() string {
	return s.root
}

// Lookup finds a target by address.
func (s *Set) Lookup(a Address) (*Target, error) {
	t, ok := s.targets[a]
	if !ok {
		return nil, fmt.Errorf("no such target %q", a)
	}
	return t, nil
}

// Len returns the number of loaded targets.
func (s *Set) Len() int {
	return len(s.targets)
}

// Addresses returns every target address, sorted.
func (s *Set) Addresses() []Address {
	out := make([]Address, 0, len(s.targets))
	for a := range s.targets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dir != out[j].Dir {
			return out[i].Dir < out[j].Dir
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// evalContext exposes the build platform to manifest expressions, so a cmd
// can say "out-${arch}" without shelling out.
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"os":   cty.StringVal(runtime.GOOS),
			"arch": cty.StringVal(runtime.GOARCH),
		},
	}
}

// Load walks root, parses every BUILD.hcl it finds, and returns the combined
// target set. Dependencies are resolved across manifests; a dep naming a
// target that no manifest declares is an error.
func Load(root string) (*Set, error) {
	root = filepath.Clean(root)
	var manifests []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == ManifestName {
			manifests = append(manifests, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	set := &Set{root: root, targets: map[Address]*Target{}}
	parser := hclparse.NewParser()
	for _, m := range manifests {
		if err := set.loadManifest(parser, root, m); err != nil {
			return nil, err
		}
	}

	for _, t := range set.targets {
		for _, dep := range t.Deps {
			if _, ok := set.targets[dep]; !ok {
				return nil, fmt.Errorf("target %q depends on undeclared target %q", t.Address(), dep)
			}
		}
	}
	return set, nil
}

func (s *Set) loadManifest(parser *hclparse.Parser, root, path string) error {
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("parsing %s: %w", path, diags)
	}
	var m manifest
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &m); diags.HasErrors() {
		return fmt.Errorf("decoding %s: %w", path, diags)
	}

	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil {
		return err
	}
	dir := filepath.ToSlash(rel)

	for _, b := range m.Targets {
		t, err := b.toTarget(dir)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if _, dup := s.targets[t.Address()]; dup {
			return fmt.Errorf("%s: duplicate target %q", path, t.Address())
		}
		s.targets[t.Address()] = t
	}
	return nil
}

func (b *targetBlock) toTarget(dir string) (*Target, error) {
	if b.Name == "" || strings.ContainsAny(b.Name, "/:") {
		return nil, fmt.Errorf("invalid target name %q", b.Name)
	}
	if len(b.Cmd) == 0 && len(b.Outs) > 0 {
		return nil, fmt.Errorf("target %q declares outs without a cmd", b.Name)
	}
	t := &Target{
		Dir:  dir,
		Name: b.Name,
		Srcs: b.Srcs,
		Cmd:  b.Cmd,
		Env:  b.Env,
		Outs: b.Outs,
	}
	for _, d := range b.Deps {
		addr, err := ParseAddress(d, dir)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", b.Name, err)
		}
		t.Deps = append(t.Deps, addr)
	}
	if b.Timeout != "" {
		timeout, err := time.ParseDuration(b.Timeout)
		if err != nil {
			return nil, fmt.Errorf("target %q: invalid timeout: %w", b.Name, err)
		}
		t.Timeout = timeout
	}
	return t, nil
}
