// Package testutil provides the shared engine test harness: an in-memory
// store and cache, an open registry for the test to populate, and an engine
// factory that handles lifecycle cleanup.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/specialistvlad/buildgridgo/internal/cache"
	"github.com/specialistvlad/buildgridgo/internal/engine"
	"github.com/specialistvlad/buildgridgo/internal/rule"
	"github.com/specialistvlad/buildgridgo/internal/store"
)

// Harness bundles the collaborators an engine test needs.
type Harness struct {
	T        *testing.T
	Logger   *slog.Logger
	Registry *rule.Registry
	Store    *store.Memory
	Cache    *cache.Memory
}

// NewHarness creates a harness with an open registry. Logs are discarded
// unless the test runs verbose.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	var out io.Writer = io.Discard
	if testing.Verbose() {
		out = os.Stderr
	}
	return &Harness{
		T:        t,
		Logger:   slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})),
		Registry: rule.NewRegistry(),
		Store:    store.NewMemory(),
		Cache:    cache.NewMemory(),
	}
}

// MustRegister registers a rule or fails the test.
func (h *Harness) MustRegister(rl *rule.Rule) {
	h.T.Helper()
	if err := h.Registry.Register(rl); err != nil {
		h.T.Fatalf("registering rule %q: %v", rl.Name, err)
	}
}

// Engine builds the engine, freezing the registry, and closes it when the
// test ends.
func (h *Harness) Engine(cfg engine.Config) *engine.Engine {
	h.T.Helper()
	e := engine.New(h.Logger, h.Registry, h.Store, h.Cache, cfg)
	h.T.Cleanup(e.Close)
	return e
}
