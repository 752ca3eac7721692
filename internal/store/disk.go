package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/specialistvlad/buildgridgo/internal/digest"
)

// Disk is a persistent content store rooted at a directory. Content lives at
// <root>/<hex[0:2]>/<hex>, sharded by the first hash byte to keep directory
// fanout bounded. Writes go through a temp file plus rename, so a concurrent
// reader never observes a partial blob and concurrent writers of the same
// digest are harmless.
type Disk struct {
	root string
}

// NewDisk creates (if needed) and opens a disk store rooted at root.
func NewDisk(root string) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &Disk{root: root}, nil
}

// Put writes the content if it is not already present.
func (s *Disk) Put(ctx context.Context, content []byte) (digest.Digest, error) {
	d := digest.FromBytes(content)
	path := s.blobPath(d)

	if _, err := os.Stat(path); err == nil {
		return d, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return digest.Digest{}, fmt.Errorf("creating shard dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return digest.Digest{}, fmt.Errorf("creating temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return digest.Digest{}, fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return digest.Digest{}, fmt.Errorf("closing blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return digest.Digest{}, fmt.Errorf("committing blob: %w", err)
	}
	return d, nil
}

// Get reads the content for d, or returns ErrNotFound.
func (s *Disk) Get(ctx context.Context, d digest.Digest) ([]byte, error) {
	content, err := os.ReadFile(s.blobPath(d))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", d, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", d, err)
	}
	if uint64(len(content)) != d.Length {
		return nil, fmt.Errorf("blob %s has %d bytes on disk, want %d", d, len(content), d.Length)
	}
	return content, nil
}

// Has reports whether d is present on disk.
func (s *Disk) Has(ctx context.Context, d digest.Digest) (bool, error) {
	_, err := os.Stat(s.blobPath(d))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("statting blob %s: %w", d, err)
	}
	return true, nil
}

func (s *Disk) blobPath(d digest.Digest) string {
	hex := d.Hex()
	return filepath.Join(s.root, hex[:2], hex)
}
