package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/specialistvlad/buildgridgo/internal/build"
	"github.com/specialistvlad/buildgridgo/internal/ctxlog"
	"github.com/specialistvlad/buildgridgo/internal/target"
	"github.com/specialistvlad/buildgridgo/internal/watch"
	"github.com/specialistvlad/buildgridgo/internal/workunit"
)

// ErrBuildFailed reports that at least one requested target failed.
var ErrBuildFailed = errors.New("build failed")

// Run executes the configured targets. In watch mode it then stays alive,
// rebuilding whenever the workspace changes, until the context is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	addrs, err := a.requestedAddresses()
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		a.logger.Warn("No targets declared, nothing to build.")
		return nil
	}

	buildErr := a.buildAll(ctx, addrs)
	if !a.config.Watch {
		return buildErr
	}
	if buildErr != nil && !errors.Is(buildErr, ErrBuildFailed) {
		return buildErr
	}

	return a.watchLoop(ctx, addrs)
}

// requestedAddresses resolves the configured target names, defaulting to
// every declared target.
func (a *App) requestedAddresses() ([]target.Address, error) {
	if len(a.config.Targets) == 0 {
		return a.targets.Addresses(), nil
	}
	addrs := make([]target.Address, 0, len(a.config.Targets))
	for _, raw := range a.config.Targets {
		addr, err := target.ParseAddress(raw, ".")
		if err != nil {
			return nil, err
		}
		if _, err := a.targets.Lookup(addr); err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// buildAll executes every address concurrently and prints one line per
// target plus a summary. A failing target does not stop its siblings.
func (a *App) buildAll(ctx context.Context, addrs []target.Address) error {
	a.logger.Info("Starting build.", "targets", len(addrs))
	start := time.Now()

	type outcome struct {
		addr    target.Address
		elapsed time.Duration
		err     error
	}
	results := make([]outcome, len(addrs))

	var g errgroup.Group
	for i, addr := range addrs {
		i, addr := i, addr
		g.Go(func() error {
			began := time.Now()
			_, err := a.engine.Execute(ctx, build.ResultRequest(addr))
			results[i] = outcome{addr: addr, elapsed: time.Since(began), err: err}
			return nil
		})
	}
	_ = g.Wait()

	var passed, cached, failed int
	for _, res := range results {
		wu := a.outcomeFor(res.addr)
		switch {
		case res.err != nil:
			failed++
			a.printer.Result(res.addr.String(), workunit.OutcomeFailure, res.elapsed)
			a.printer.Error(res.err)
		case wu == workunit.OutcomeCached:
			cached++
			a.printer.Result(res.addr.String(), workunit.OutcomeCached, res.elapsed)
		default:
			passed++
			a.printer.Result(res.addr.String(), workunit.OutcomeSuccess, res.elapsed)
		}
	}
	a.printer.Summary(passed, cached, failed, time.Since(start))

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d targets", ErrBuildFailed, failed, len(addrs))
	}
	return nil
}

// outcomeFor finds the most recent workunit of a target's build node, so
// the printed line distinguishes executed from cache-replayed targets.
func (a *App) outcomeFor(addr target.Address) workunit.Outcome {
	node := fmt.Sprintf("build(address=%s)", addr)
	found := workunit.OutcomeUnknown
	var visit func(w *workunit.Workunit)
	visit = func(w *workunit.Workunit) {
		if w.Node == node {
			found = w.Outcome()
		}
		for _, child := range w.Children() {
			visit(child)
		}
	}
	for _, root := range a.engine.Recorder().Roots() {
		visit(root)
	}
	return found
}

// watchLoop rebuilds on file changes until the context dies. Change batches
// arriving while a build runs coalesce into the next one.
func (a *App) watchLoop(ctx context.Context, addrs []target.Address) error {
	interval := a.config.WatchInterval
	if interval <= 0 {
		interval = watch.DefaultInterval
	}

	var mu sync.Mutex
	var pending []string
	kick := make(chan struct{}, 1)
	watcher := watch.New(a.config.WorkspaceRoot, func(paths []string) {
		mu.Lock()
		pending = append(pending, paths...)
		mu.Unlock()
		select {
		case kick <- struct{}{}:
		default:
		}
	}, watch.WithInterval(interval), watch.WithIgnore(".git"))

	watchErr := make(chan error, 1)
	go func() { watchErr <- watcher.Run(ctx) }()
	a.logger.Info("Watching for changes.", "root", a.config.WorkspaceRoot, "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return <-watchErr
		case <-kick:
			mu.Lock()
			changed := pending
			pending = nil
			mu.Unlock()

			if dirtied := a.engine.Invalidate(changed); dirtied == 0 {
				continue
			}
			if err := a.buildAll(ctx, addrs); err != nil && !errors.Is(err, ErrBuildFailed) {
				return err
			}
		}
	}
}
