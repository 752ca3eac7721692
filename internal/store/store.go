package store

import (
	"context"
	"errors"

	"github.com/specialistvlad/buildgridgo/internal/digest"
)

// ErrNotFound is returned by Get when the requested content is absent.
var ErrNotFound = errors.New("content not found in store")

// Store is a content-addressed byte store. Put is idempotent: identical bytes
// always yield the identical digest, and re-putting existing content is a
// no-op. Get returns ErrNotFound (possibly wrapped) when the digest is not
// present.
type Store interface {
	Put(ctx context.Context, content []byte) (digest.Digest, error)
	Get(ctx context.Context, d digest.Digest) ([]byte, error)
	Has(ctx context.Context, d digest.Digest) (bool, error)
}

// IsNotFound reports whether err indicates missing content.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
