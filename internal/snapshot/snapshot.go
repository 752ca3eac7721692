// Package snapshot captures file system subtrees into the content store.
// A snapshot is the canonical digest of a directory tree: matching files
// are ingested by content, directories by their sorted entry lists, so the
// same tree always produces the same digest regardless of capture order.
package snapshot

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/specialistvlad/buildgridgo/internal/digest"
	"github.com/specialistvlad/buildgridgo/internal/store"
)

// Snapshot is a captured subtree: the digest of its root directory plus the
// root-relative paths of the files it contains, sorted.
type Snapshot struct {
	Digest digest.Digest
	Files  []string
}

// Empty reports whether the snapshot captured no files.
func (s Snapshot) Empty() bool {
	return len(s.Files) == 0
}

// Capture walks root, ingests every file matching one of the glob patterns
// into the store, and returns the snapshot of the resulting tree. An empty
// pattern list matches everything. Patterns are matched against the
// root-relative slash-separated path; a pattern without a slash also matches
// by base name at any depth.
func Capture(ctx context.Context, s store.Store, root string, patterns []string) (Snapshot, error) {
	root = filepath.Clean(root)
	files := map[string]digest.Digest{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		ok, err := Match(patterns, rel)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		dg, err := s.Put(ctx, data)
		if err != nil {
			return fmt.Errorf("storing %s: %w", rel, err)
		}
		files[rel] = dg
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("capturing %s: %w", root, err)
	}

	return fromFiles(ctx, s, files)
}

// Write materializes the snapshot's tree under root, creating directories
// as needed. Existing files are overwritten.
func Write(ctx context.Context, s store.Store, snap Snapshot, root string) error {
	return store.WalkDirectory(ctx, s, snap.Digest, func(path string, dg digest.Digest) error {
		data, err := s.Get(ctx, dg)
		if err != nil {
			return err
		}
		dst := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return os.WriteFile(dst, data, 0o644)
	})
}

// Merge combines snapshots into one tree. Later snapshots win on path
// collisions.
func Merge(ctx context.Context, s store.Store, snaps ...Snapshot) (Snapshot, error) {
	files := map[string]digest.Digest{}
	for _, snap := range snaps {
		err := store.WalkDirectory(ctx, s, snap.Digest, func(path string, dg digest.Digest) error {
			files[path] = dg
			return nil
		})
		if err != nil {
			return Snapshot{}, err
		}
	}
	return fromFiles(ctx, s, files)
}

// fromFiles builds the nested directory objects bottom-up and writes every
// level into the store.
func fromFiles(ctx context.Context, s store.Store, files map[string]digest.Digest) (Snapshot, error) {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	root, err := buildLevel(ctx, s, "", paths, files)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Digest: root, Files: paths}, nil
}

func buildLevel(ctx context.Context, s store.Store, prefix string, paths []string, files map[string]digest.Digest) (digest.Digest, error) {
	var dir store.Directory

	// paths is sorted, so entries of one subdirectory are contiguous.
	for i := 0; i < len(paths); {
		rel := strings.TrimPrefix(paths[i], prefix)
		slash := strings.IndexByte(rel, '/')
		if slash < 0 {
			err := dir.Add(store.DirEntry{Name: rel, Digest: files[paths[i]].String()})
			if err != nil {
				return digest.Digest{}, err
			}
			i++
			continue
		}
		child := rel[:slash]
		childPrefix := prefix + child + "/"
		j := i
		for j < len(paths) && strings.HasPrefix(paths[j], childPrefix) {
			j++
		}
		childDigest, err := buildLevel(ctx, s, childPrefix, paths[i:j], files)
		if err != nil {
			return digest.Digest{}, err
		}
		err = dir.Add(store.DirEntry{Name: child, Digest: childDigest.String(), IsDir: true})
		if err != nil {
			return digest.Digest{}, err
		}
		i = j
	}

	return store.WriteDirectory(ctx, s, &dir)
}

// Match reports whether the slash-separated relative path matches any of the
// patterns. Patterns use path.Match syntax per segment; "**" matches any
// number of segments. An empty pattern list matches everything.
func Match(patterns []string, rel string) (bool, error) {
	if len(patterns) == 0 {
		return true, nil
	}
	for _, pat := range patterns {
		ok, err := matchOne(pat, rel)
		if err != nil {
			return false, fmt.Errorf("bad glob %q: %w", pat, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func matchOne(pat, rel string) (bool, error) {
	if !strings.Contains(pat, "/") && !strings.Contains(pat, "**") {
		return filepath.Match(pat, filepath.Base(rel))
	}
	return matchSegments(strings.Split(pat, "/"), strings.Split(rel, "/"))
}

func matchSegments(pat, segs []string) (bool, error) {
	for len(pat) > 0 {
		if pat[0] == "**" {
			if len(pat) == 1 {
				return true, nil
			}
			for skip := 0; skip <= len(segs); skip++ {
				ok, err := matchSegments(pat[1:], segs[skip:])
				if err != nil || ok {
					return ok, err
				}
			}
			return false, nil
		}
		if len(segs) == 0 {
			return false, nil
		}
		ok, err := filepath.Match(pat[0], segs[0])
		if err != nil || !ok {
			return ok, err
		}
		pat, segs = pat[1:], segs[1:]
	}
	return len(segs) == 0, nil
}
