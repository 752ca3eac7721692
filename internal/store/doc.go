// Package store implements content-addressed storage: bytes are written once
// and retrieved by their digest. Writes are idempotent and commutative, so
// every implementation is safe for concurrent use without coordination beyond
// atomic insert-if-absent.
//
// # Implementations
//
//   - Memory: ephemeral map-backed store for tests and single runs.
//   - Disk: persistent store with a sharded directory layout and atomic writes.
//   - Redis: remote byte-addressed store behind the engine's protocol
//     boundary; the local contract (content-addressed Get/Put, ErrNotFound on
//     miss) is preserved regardless of the backing service.
//   - Fallback: pairs a local store with a remote one and degrades to
//     local-only operation when the remote is unreachable.
//
// Directory trees are modeled as digests over a canonical serialization of
// their entries (see Directory), which gives structural sharing of unchanged
// subtrees across builds.
package store
