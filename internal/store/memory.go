package store

import (
	"context"
	"sync"

	"github.com/specialistvlad/buildgridgo/internal/digest"
)

// Memory is an ephemeral in-memory content store. It uses sync.Map because
// the workload is insert-once read-many per key, and keys are independent.
type Memory struct {
	content sync.Map // digest.Digest -> []byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Put stores the content under its digest. The caller keeps ownership of the
// slice; the store keeps its own copy.
func (m *Memory) Put(ctx context.Context, content []byte) (digest.Digest, error) {
	d := digest.FromBytes(content)
	if _, loaded := m.content.Load(d); loaded {
		return d, nil
	}
	buf := make([]byte, len(content))
	copy(buf, content)
	m.content.LoadOrStore(d, buf)
	return d, nil
}

// Get returns a copy of the content for d, or ErrNotFound.
func (m *Memory) Get(ctx context.Context, d digest.Digest) ([]byte, error) {
	val, ok := m.content.Load(d)
	if !ok {
		return nil, ErrNotFound
	}
	stored := val.([]byte)
	buf := make([]byte, len(stored))
	copy(buf, stored)
	return buf, nil
}

// Has reports whether the store holds content for d.
func (m *Memory) Has(ctx context.Context, d digest.Digest) (bool, error) {
	_, ok := m.content.Load(d)
	return ok, nil
}
