// Package graph owns the node arena of the engine: the append-only set of
// (rule, parameters) pairs discovered during scheduling, their realized
// dependency edges, and their declared filesystem paths.
//
// Nodes are interned: GetOrCreate is idempotent and hands out the same *Node
// for the same identity for the process lifetime, indexed by a stable
// integer ID. Dependency edges are recorded as requests are issued, which
// lets cycle detection walk the in-flight waits-for relation with a local
// visited set instead of relying on reference identity, and lets
// invalidation walk dependents of a changed path.
package graph
