// Package engine evaluates requested nodes to completion: it resolves
// requests into graph nodes, runs rule bodies on a bounded worker pool,
// deduplicates in-flight work, memoizes results, and re-validates
// side-effecting work against the execution cache.
//
// # Scheduling model
//
// Each node has at most one in-flight computation per epoch. The first
// demander starts it; later demanders attach as waiters and the result is
// broadcast to all of them. Rule bodies suspend cooperatively at dependency
// requests: the worker slot is released while waiting and reacquired to
// resume, so deep dependency chains cannot exhaust the pool.
//
// # Cancellation
//
// Node computations run on engine-scoped contexts and are cancelled by
// reference counting: when the last attached waiter's context dies, the
// computation is cancelled, transitively releasing the computations only it
// was waiting on. A waiter that abandons a dependency because a sibling
// failed stays attached until the dependency completes, so already-launched
// work runs to completion and its cache value is preserved.
//
// # Invalidation
//
// Changed filesystem paths dirty every node whose declared paths overlap
// them, plus transitive dependents. Dirty nodes re-resolve on next demand;
// side-effecting nodes replay their previously realized dependency requests
// first and skip the body when the cache key is unchanged.
package engine
