package store

import (
	"context"

	"github.com/specialistvlad/buildgridgo/internal/ctxlog"
	"github.com/specialistvlad/buildgridgo/internal/digest"
)

// Fallback pairs a local store with a remote one. Reads are served locally
// and fall through to the remote on a miss, backfilling the local copy.
// Writes go to the local store and are mirrored to the remote best-effort:
// a remote outage degrades to local-only operation with a warning, it never
// fails the build.
type Fallback struct {
	local  Store
	remote Store
}

// NewFallback wires a local store in front of a remote one.
func NewFallback(local, remote Store) *Fallback {
	return &Fallback{local: local, remote: remote}
}

// Put writes locally, then mirrors to the remote.
func (s *Fallback) Put(ctx context.Context, content []byte) (digest.Digest, error) {
	d, err := s.local.Put(ctx, content)
	if err != nil {
		return digest.Digest{}, err
	}
	if _, err := s.remote.Put(ctx, content); err != nil {
		ctxlog.FromContext(ctx).Warn("Remote store write failed, continuing with local copy.", "digest", d.String(), "error", err)
	}
	return d, nil
}

// Get reads locally first, then from the remote. Remote hits are backfilled
// into the local store.
func (s *Fallback) Get(ctx context.Context, d digest.Digest) ([]byte, error) {
	content, err := s.local.Get(ctx, d)
	if err == nil {
		return content, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	content, err = s.remote.Get(ctx, d)
	if err != nil {
		return nil, err
	}
	if _, err := s.local.Put(ctx, content); err != nil {
		ctxlog.FromContext(ctx).Warn("Backfilling local store failed.", "digest", d.String(), "error", err)
	}
	return content, nil
}

// Has reports presence in either store.
func (s *Fallback) Has(ctx context.Context, d digest.Digest) (bool, error) {
	ok, err := s.local.Has(ctx, d)
	if err != nil || ok {
		return ok, err
	}
	ok, err = s.remote.Has(ctx, d)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Remote store check failed.", "digest", d.String(), "error", err)
		return false, nil
	}
	return ok, nil
}
