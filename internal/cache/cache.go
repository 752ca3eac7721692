// Package cache implements the execution cache: a mapping from a node's
// cache key to the digest of its previously computed result.
//
// The key is the node identity plus the ordered digests of the dependency
// results the rule body actually consumed, not the rule's declared
// signature: rules may skip dependencies conditionally and only consumed
// results affect correctness. For side-effecting nodes the key additionally
// carries the engine's environment fingerprint.
//
// Alongside keyed entries the cache records, per node, the ordered request
// list of the last execution. After invalidation the engine replays those
// requests, recomputes the key from the fresh dependency digests, and only
// re-executes the body when the key changed.
package cache

import (
	"context"
	"strings"
	"sync"

	"github.com/specialistvlad/buildgridgo/internal/digest"
	"github.com/specialistvlad/buildgridgo/internal/rule"
)

// Key addresses one cached execution result.
type Key struct {
	NodeKey     string
	DepDigests  string
	Fingerprint string
}

// NewKey builds a cache key from a node identity, the ordered digests of the
// consumed dependency results, and the environment fingerprint (empty for
// pure rules).
func NewKey(nodeKey string, deps []digest.Digest, fingerprint string) Key {
	var b strings.Builder
	for _, d := range deps {
		b.WriteString(d.String())
		b.WriteByte('\x1e')
	}
	return Key{NodeKey: nodeKey, DepDigests: b.String(), Fingerprint: fingerprint}
}

// Run records one realized execution of a node: the ordered requests the
// body issued, the dependency digests it observed, and the result.
type Run struct {
	Requests    []rule.Request
	DepDigests  []digest.Digest
	Fingerprint string
	Result      digest.Digest
}

// Key returns the cache key of the recorded run.
func (r *Run) Key(nodeKey string) Key {
	return NewKey(nodeKey, r.DepDigests, r.Fingerprint)
}

// Cache is safe for concurrent use. Writes are idempotent: for a given key
// the result digest is always the same, so last-write-wins needs no further
// coordination.
type Cache interface {
	Lookup(ctx context.Context, key Key) (digest.Digest, bool, error)
	Store(ctx context.Context, key Key, result digest.Digest) error
	LastRun(ctx context.Context, nodeKey string) (*Run, bool, error)
	RecordRun(ctx context.Context, nodeKey string, run *Run) error
}

// Memory is the in-process cache implementation.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key]digest.Digest
	runs    map[string]*Run
}

// NewMemory creates an empty cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[Key]digest.Digest),
		runs:    make(map[string]*Run),
	}
}

// Lookup returns the cached result digest for key, if present.
func (c *Memory) Lookup(ctx context.Context, key Key) (digest.Digest, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[key]
	return d, ok, nil
}

// Store inserts the result digest for key.
func (c *Memory) Store(ctx context.Context, key Key, result digest.Digest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
	return nil
}

// LastRun returns the most recent realized run of a node.
func (c *Memory) LastRun(ctx context.Context, nodeKey string) (*Run, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	run, ok := c.runs[nodeKey]
	return run, ok, nil
}

// RecordRun stores the realized run of a node, replacing any earlier record.
func (c *Memory) RecordRun(ctx context.Context, nodeKey string, run *Run) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[nodeKey] = run
	return nil
}

// Len returns the number of keyed entries, for tests and stats.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
