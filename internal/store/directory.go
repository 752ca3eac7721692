package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/specialistvlad/buildgridgo/internal/digest"
)

// DirEntry is one entry of a Directory: a named file or subdirectory digest.
type DirEntry struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
	IsDir  bool   `json:"is_dir"`
}

// Directory is the canonical representation of one directory level. Entries
// are kept sorted by name so the serialization, and therefore the digest, is
// independent of insertion order. Unchanged subdirectories serialize to the
// same digest across builds and are shared structurally.
type Directory struct {
	Entries []DirEntry `json:"entries"`
}

// Add inserts an entry, keeping the entry list sorted and rejecting
// duplicate names.
func (d *Directory) Add(e DirEntry) error {
	i := sort.Search(len(d.Entries), func(i int) bool { return d.Entries[i].Name >= e.Name })
	if i < len(d.Entries) && d.Entries[i].Name == e.Name {
		return fmt.Errorf("duplicate directory entry %q", e.Name)
	}
	d.Entries = append(d.Entries, DirEntry{})
	copy(d.Entries[i+1:], d.Entries[i:])
	d.Entries[i] = e
	return nil
}

// Marshal returns the canonical serialization of the directory.
func (d *Directory) Marshal() ([]byte, error) {
	if !sort.SliceIsSorted(d.Entries, func(i, j int) bool { return d.Entries[i].Name < d.Entries[j].Name }) {
		return nil, fmt.Errorf("directory entries are not sorted")
	}
	return json.Marshal(d)
}

// WriteDirectory serializes the directory into the store and returns its digest.
func WriteDirectory(ctx context.Context, s Store, d *Directory) (digest.Digest, error) {
	raw, err := d.Marshal()
	if err != nil {
		return digest.Digest{}, err
	}
	return s.Put(ctx, raw)
}

// ReadDirectory loads and decodes a directory by digest.
func ReadDirectory(ctx context.Context, s Store, dg digest.Digest) (*Directory, error) {
	raw, err := s.Get(ctx, dg)
	if err != nil {
		return nil, err
	}
	var d Directory
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decoding directory %s: %w", dg, err)
	}
	return &d, nil
}

// WalkDirectory calls fn with the store-relative path of every file reachable
// from the directory at dg, depth first.
func WalkDirectory(ctx context.Context, s Store, dg digest.Digest, fn func(path string, d digest.Digest) error) error {
	return walkDirectory(ctx, s, dg, "", fn)
}

func walkDirectory(ctx context.Context, s Store, dg digest.Digest, prefix string, fn func(path string, d digest.Digest) error) error {
	dir, err := ReadDirectory(ctx, s, dg)
	if err != nil {
		return err
	}
	for _, e := range dir.Entries {
		entryDigest, err := digest.Parse(e.Digest)
		if err != nil {
			return fmt.Errorf("directory %s entry %q: %w", dg, e.Name, err)
		}
		path := e.Name
		if prefix != "" {
			path = prefix + "/" + e.Name
		}
		if e.IsDir {
			if err := walkDirectory(ctx, s, entryDigest, path, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(path, entryDigest); err != nil {
			return err
		}
	}
	return nil
}
