// Package rule defines the unit of computation the engine schedules: a named
// pure function declaring an output type and issuing typed requests for its
// dependencies at runtime.
//
// # Lifecycle
//
// Rules are registered into a Registry during process startup and the
// registry is frozen before the first scheduling call. Registration after
// freezing is a configuration error. Resolution matches a Request's output
// type (and optional selector) against declared rule outputs exactly; zero
// matches and multiple matches are distinct, fatal resolution errors.
//
// # Purity contract
//
// A rule body must be deterministic given the results of the dependencies it
// actually consumed. The engine caches on exactly that realized set, so a
// non-deterministic body can be served a stale result; that is a contract
// violation by the rule author, not a recoverable runtime condition.
package rule
