package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/specialistvlad/buildgridgo/internal/cache"
	"github.com/specialistvlad/buildgridgo/internal/ctxlog"
	"github.com/specialistvlad/buildgridgo/internal/digest"
	"github.com/specialistvlad/buildgridgo/internal/graph"
	"github.com/specialistvlad/buildgridgo/internal/rule"
	"github.com/specialistvlad/buildgridgo/internal/workunit"
)

// run executes one computation of a node: acquire a worker slot, try the
// execution cache, and only then invoke the rule body.
func (e *Engine) run(ctx context.Context, ent *entry, c *computation) {
	n := ent.node
	logger := e.logger.With("node", n.String())
	ctx = ctxlog.WithLogger(ctx, logger)

	rl, ok := e.reg.Lookup(n.RuleID)
	if !ok {
		// Nodes are only created through resolution, so this is engine state
		// corruption, not a user error.
		e.finish(ent, c, rule.Value{}, &Error{Kind: KindConfiguration, Node: n.String(), Err: fmt.Errorf("rule %q vanished from registry", n.RuleID)})
		return
	}

	wu, ctx := e.recorder.Begin(ctx, rl.Name, n.String())

	ex := &execState{e: e, node: n}
	if err := ex.resume(ctx); err != nil {
		wu.Close(workunit.OutcomeCancelled)
		e.finish(ent, c, rule.Value{}, err)
		return
	}
	defer ex.suspend()

	if value, hit := e.tryCached(ctx, ex, rl); hit {
		logger.Debug("Cache hit, skipping rule body.", "digest", value.Digest.String())
		wu.Close(workunit.OutcomeCached)
		e.finish(ent, c, value, nil)
		return
	}

	// The replay above may have recorded edges for requests the body will
	// not reissue. Drop them so only realized dependencies remain.
	e.graph.ClearDeps(n.ID)
	ex.realized = nil

	logger.Debug("Executing rule body.", "rule", rl.Name)
	value, err := rl.Body(ctx, ex, n.Params)
	if err != nil {
		wrapped := wrapNode(n.String(), err)
		if wrapped.Kind == KindCancelled {
			wu.Close(workunit.OutcomeCancelled)
		} else {
			logger.Error("Rule body failed.", "error", err)
			wu.Close(workunit.OutcomeFailure)
		}
		e.finish(ent, c, rule.Value{}, wrapped)
		return
	}

	result, err := e.commit(ctx, ex, rl, value)
	if err != nil {
		wu.Close(workunit.OutcomeFailure)
		e.finish(ent, c, rule.Value{}, err)
		return
	}
	wu.Close(workunit.OutcomeSuccess)
	e.finish(ent, c, result, nil)
}

// commit encodes a body's return value into the content store and populates
// the execution cache with the realized dependency key.
func (e *Engine) commit(ctx context.Context, ex *execState, rl *rule.Rule, value any) (rule.Value, error) {
	n := ex.node
	raw, err := rl.Codec.Encode(value)
	if err != nil {
		return rule.Value{}, &Error{Kind: KindExecutionFailure, Node: n.String(), Err: err}
	}
	d, err := e.store.Put(ctx, raw)
	if err != nil {
		return rule.Value{}, &Error{Kind: KindInfrastructure, Node: n.String(), Err: fmt.Errorf("storing result: %w", err)}
	}

	run := &cache.Run{
		Requests:    ex.requests(),
		DepDigests:  ex.depDigests(),
		Fingerprint: e.fingerprintFor(rl),
		Result:      d,
	}
	// Cache population is best-effort: an unreachable cache degrades to
	// re-execution, it must not fail the request.
	if err := e.cache.Store(ctx, run.Key(n.Key()), d); err != nil {
		ctxlog.FromContext(ctx).Warn("Execution cache write failed, result not cached.", "error", err)
	} else if err := e.cache.RecordRun(ctx, n.Key(), run); err != nil {
		ctxlog.FromContext(ctx).Warn("Execution cache run record failed.", "error", err)
	}

	return rule.Value{Digest: d, Data: value}, nil
}

// tryCached re-validates the node's previous execution: replay the recorded
// dependency requests, rebuild the cache key from the fresh digests, and on
// a hit load the result from the content store. Only side-effecting rules
// consult the cache; pure rules are cheap and re-run after invalidation,
// which is what lets a leaf re-hash a changed file.
func (e *Engine) tryCached(ctx context.Context, ex *execState, rl *rule.Rule) (rule.Value, bool) {
	if !rl.SideEffecting {
		return rule.Value{}, false
	}
	n := ex.node
	logger := ctxlog.FromContext(ctx)

	last, ok, err := e.cache.LastRun(ctx, n.Key())
	if err != nil {
		logger.Warn("Execution cache unavailable, re-executing.", "error", err)
		return rule.Value{}, false
	}
	if !ok || last.Fingerprint != e.fingerprintFor(rl) {
		return rule.Value{}, false
	}

	deps := make([]digest.Digest, len(last.Requests))
	for i, req := range last.Requests {
		v, err := ex.Get(ctx, req)
		if err != nil {
			logger.Debug("Replay of recorded dependency failed, re-executing.", "request", req.Key(), "error", err)
			return rule.Value{}, false
		}
		deps[i] = v.Digest
	}

	key := cache.NewKey(n.Key(), deps, last.Fingerprint)
	result, hit, err := e.cache.Lookup(ctx, key)
	if err != nil {
		logger.Warn("Execution cache lookup failed, re-executing.", "error", err)
		return rule.Value{}, false
	}
	if !hit {
		return rule.Value{}, false
	}

	raw, err := e.store.Get(ctx, result)
	if err != nil {
		// Missing or unreachable content degrades to re-execution.
		logger.Warn("Cached result content unavailable, re-executing.", "digest", result.String(), "error", err)
		return rule.Value{}, false
	}
	value, err := rl.Codec.Decode(raw)
	if err != nil {
		logger.Warn("Cached result undecodable, re-executing.", "digest", result.String(), "error", err)
		return rule.Value{}, false
	}
	return rule.Value{Digest: result, Data: value}, true
}

// realizedDep is one dependency result a rule body actually consumed.
type realizedDep struct {
	req rule.Request
	dig digest.Digest
}

// execState implements rule.Exec for one computation. The held flag tracks
// worker-slot ownership across cooperative suspension points; it is only
// touched from the body's own goroutine.
type execState struct {
	e    *Engine
	node *graph.Node
	held bool

	mu       sync.Mutex
	realized []realizedDep
}

// suspend gives up the worker slot, if held.
func (x *execState) suspend() {
	if x.held {
		x.e.sem.Release(1)
		x.held = false
	}
}

// resume reacquires the worker slot before rule code runs again.
func (x *execState) resume(ctx context.Context) error {
	if x.held {
		return nil
	}
	if err := x.e.sem.Acquire(ctx, 1); err != nil {
		return &Error{Kind: classify(err), Node: x.node.String(), Err: err}
	}
	x.held = true
	return nil
}

// Get resolves a single dependency request, suspending the calling body
// until the result is available.
func (x *execState) Get(ctx context.Context, req rule.Request) (rule.Value, error) {
	x.suspend()
	v, err := x.resolveOne(ctx, req)
	if rerr := x.resume(ctx); rerr != nil {
		return rule.Value{}, rerr
	}
	if err != nil {
		return rule.Value{}, err
	}
	x.record(req, v)
	return v, nil
}

// GetAll resolves sibling requests concurrently. No ordering holds between
// siblings; every launched sibling runs to completion even if another
// fails, preserving cache value, and the first failure (in request order)
// propagates.
func (x *execState) GetAll(ctx context.Context, reqs ...rule.Request) ([]rule.Value, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	x.suspend()

	values := make([]rule.Value, len(reqs))
	errs := make([]error, len(reqs))
	var g errgroup.Group
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			values[i], errs[i] = x.resolveOne(ctx, req)
			return nil
		})
	}
	g.Wait()

	if rerr := x.resume(ctx); rerr != nil {
		return nil, rerr
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	// Realized order is request order, independent of completion order, so
	// the cache key is deterministic.
	for i, req := range reqs {
		x.record(req, values[i])
	}
	return values, nil
}

// DeclarePath registers a filesystem dependency of the current node.
func (x *execState) DeclarePath(path string) {
	x.e.graph.DeclarePath(x.node.ID, path)
}

// resolveOne resolves a request into a node, records the dependency edge,
// checks for cycles, and demands the node's result.
func (x *execState) resolveOne(ctx context.Context, req rule.Request) (rule.Value, error) {
	rl, err := x.e.reg.Resolve(req)
	if err != nil {
		return rule.Value{}, wrapNode(x.node.String(), err)
	}
	dep := x.e.graph.GetOrCreate(rl.Name, req.Params)

	// Record the edge before checking, so two nodes racing to close a loop
	// can never both miss it.
	x.e.graph.AddDep(x.node.ID, dep.ID)
	if trail := x.e.graph.FindPath(dep.ID, x.node.ID); trail != nil {
		return rule.Value{}, x.cycleError(trail)
	}

	v, err := x.e.demand(ctx, dep)
	if err != nil {
		return rule.Value{}, wrapNode(x.node.String(), err)
	}
	return v, nil
}

func (x *execState) record(req rule.Request, v rule.Value) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.realized = append(x.realized, realizedDep{req: req, dig: v.Digest})
}

func (x *execState) requests() []rule.Request {
	x.mu.Lock()
	defer x.mu.Unlock()
	reqs := make([]rule.Request, len(x.realized))
	for i, r := range x.realized {
		reqs[i] = r.req
	}
	return reqs
}

func (x *execState) depDigests() []digest.Digest {
	x.mu.Lock()
	defer x.mu.Unlock()
	digs := make([]digest.Digest, len(x.realized))
	for i, r := range x.realized {
		digs[i] = r.dig
	}
	return digs
}

// cycleError renders the full cycle path, closing the loop back to the
// requesting node.
func (x *execState) cycleError(trail []graph.NodeID) *Error {
	names := make([]string, 0, len(trail)+1)
	names = append(names, x.node.String())
	for _, id := range trail {
		if n := x.e.graph.Node(id); n != nil {
			names = append(names, n.String())
		}
	}
	return &Error{
		Kind:  KindCyclicDependency,
		Node:  x.node.String(),
		Chain: names,
		Err:   fmt.Errorf("dependency cycle detected"),
	}
}
