package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/specialistvlad/buildgridgo/internal/cache"
	"github.com/specialistvlad/buildgridgo/internal/ctxlog"
	"github.com/specialistvlad/buildgridgo/internal/digest"
	"github.com/specialistvlad/buildgridgo/internal/graph"
	"github.com/specialistvlad/buildgridgo/internal/rule"
	"github.com/specialistvlad/buildgridgo/internal/store"
	"github.com/specialistvlad/buildgridgo/internal/workunit"
)

// Config tunes one engine instance.
type Config struct {
	// Workers bounds how many rule bodies execute concurrently. Suspended
	// bodies do not hold a slot. Defaults to 2*GOMAXPROCS.
	Workers int64
	// RequestTimeout applies per top-level Execute call. Zero disables it.
	RequestTimeout time.Duration
	// FingerprintEnv lists the environment variable names folded into the
	// environment fingerprint of side-effecting nodes.
	FingerprintEnv []string
}

// Engine schedules node computations. Construction freezes the rule
// registry: registration is closed once scheduling can begin.
type Engine struct {
	logger   *slog.Logger
	reg      *rule.Registry
	graph    *graph.Graph
	store    store.Store
	cache    cache.Cache
	recorder *workunit.Recorder

	sem            *semaphore.Weighted
	requestTimeout time.Duration
	fingerprint    string
	session        uuid.UUID

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	entries map[graph.NodeID]*entry
}

// New wires an engine over a registry, content store, and execution cache,
// and freezes the registry.
func New(logger *slog.Logger, reg *rule.Registry, st store.Store, c cache.Cache, cfg Config) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = int64(2 * runtime.GOMAXPROCS(0))
	}
	reg.Freeze()

	baseCtx, baseCancel := context.WithCancel(ctxlog.WithLogger(context.Background(), logger))
	e := &Engine{
		logger:         logger,
		reg:            reg,
		graph:          graph.New(),
		store:          st,
		cache:          c,
		recorder:       workunit.NewRecorder(),
		sem:            semaphore.NewWeighted(workers),
		requestTimeout: cfg.RequestTimeout,
		fingerprint:    computeFingerprint(cfg.FingerprintEnv),
		session:        uuid.New(),
		baseCtx:        baseCtx,
		baseCancel:     baseCancel,
		entries:        make(map[graph.NodeID]*entry),
	}
	logger.Debug("Engine created.", "session", e.session.String(), "workers", workers, "fingerprint", e.fingerprint)
	return e
}

// Close cancels every in-flight computation. The engine must not be used
// afterward.
func (e *Engine) Close() {
	e.baseCancel()
}

// Session returns the engine's session id.
func (e *Engine) Session() uuid.UUID {
	return e.session
}

// Recorder exposes the workunit recorder of this engine.
func (e *Engine) Recorder() *workunit.Recorder {
	return e.recorder
}

// Store exposes the engine's content store, for materializing outputs.
func (e *Engine) Store() store.Store {
	return e.store
}

// Execute runs a top-level request to completion and returns its result.
func (e *Engine) Execute(ctx context.Context, req rule.Request) (rule.Value, error) {
	if e.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.requestTimeout)
		defer cancel()
	}

	rl, err := e.reg.Resolve(req)
	if err != nil {
		return rule.Value{}, &Error{Kind: classify(err), Err: err}
	}
	n := e.graph.GetOrCreate(rl.Name, req.Params)
	return e.demand(ctx, n)
}

// Invalidate dirties every node whose declared filesystem dependencies
// overlap a changed path, plus transitive dependents. It returns how many
// nodes were dirtied. Dirty nodes re-resolve on next demand; they only
// re-execute if their cache key changed after re-hashing inputs.
func (e *Engine) Invalidate(changed []string) int {
	dirty := e.graph.Invalidate(changed)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range dirty {
		if ent, ok := e.entries[id]; ok {
			ent.markDirty()
		}
	}
	if len(dirty) > 0 {
		e.logger.Debug("Invalidated nodes for changed paths.", "changed", changed, "dirtied", len(dirty))
	}
	return len(dirty)
}

// CollectGarbage removes graph nodes unreachable from the given live
// requests. Only safe between scheduling epochs.
func (e *Engine) CollectGarbage(live []rule.Request) (int, error) {
	roots := make([]graph.NodeID, 0, len(live))
	for _, req := range live {
		rl, err := e.reg.Resolve(req)
		if err != nil {
			return 0, &Error{Kind: classify(err), Err: err}
		}
		roots = append(roots, e.graph.GetOrCreate(rl.Name, req.Params).ID)
	}
	collected := e.graph.GC(roots)

	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.entries {
		if e.graph.Node(id) == nil {
			delete(e.entries, id)
		}
	}
	return collected, nil
}

// entryFor interns the scheduling entry of a node.
func (e *Engine) entryFor(n *graph.Node) *entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[n.ID]
	if !ok {
		ent = &entry{node: n}
		e.entries[n.ID] = ent
	}
	return ent
}

// fingerprintFor returns the environment fingerprint component of a rule's
// cache key: empty for pure rules.
func (e *Engine) fingerprintFor(rl *rule.Rule) string {
	if rl.SideEffecting {
		return e.fingerprint
	}
	return ""
}

// computeFingerprint folds the platform and the selected environment
// variables into a stable identifier.
func computeFingerprint(envNames []string) string {
	parts := []string{
		"os=" + runtime.GOOS,
		"arch=" + runtime.GOARCH,
		"go=" + runtime.Version(),
	}
	names := append([]string(nil), envNames...)
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("env.%s=%s", name, os.Getenv(name)))
	}
	return digest.FromBytes([]byte(strings.Join(parts, "\x1e"))).Hex()[:16]
}
