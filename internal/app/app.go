// Package app assembles the build engine from configuration: logger, content
// store, target manifests, standard rules, and the engine itself. The cli
// package parses flags into a Config; App owns everything downstream of it.
package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/specialistvlad/buildgridgo/internal/build"
	"github.com/specialistvlad/buildgridgo/internal/cache"
	"github.com/specialistvlad/buildgridgo/internal/engine"
	"github.com/specialistvlad/buildgridgo/internal/printer"
	"github.com/specialistvlad/buildgridgo/internal/process"
	"github.com/specialistvlad/buildgridgo/internal/rule"
	"github.com/specialistvlad/buildgridgo/internal/store"
	"github.com/specialistvlad/buildgridgo/internal/target"
)

// App encapsulates the application's dependencies and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *Config
	targets *target.Set
	engine  *engine.Engine
	printer *printer.Printer
}

// NewApp constructs a fully wired application: isolated logger, content
// store per configuration, loaded target set, standard rules, engine.
func NewApp(outW io.Writer, cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	st, err := newStore(logger, cfg)
	if err != nil {
		return nil, err
	}

	targets, err := target.Load(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("loading targets: %w", err)
	}
	logger.Debug("Target manifests loaded.", "root", cfg.WorkspaceRoot, "targets", targets.Len())

	reg := rule.NewRegistry()
	runner := process.NewRunner(st, "")
	if err := build.Register(reg, targets, runner, st); err != nil {
		return nil, fmt.Errorf("registering rules: %w", err)
	}

	eng := engine.New(logger, reg, st, cache.NewMemory(), engine.Config{
		Workers:        cfg.Workers,
		RequestTimeout: cfg.RequestTimeout,
		FingerprintEnv: cfg.FingerprintEnv,
	})

	return &App{
		outW:    outW,
		logger:  logger,
		config:  cfg,
		targets: targets,
		engine:  eng,
		printer: printer.New(outW, !cfg.NoColor),
	}, nil
}

// Engine returns the application's engine. This is primarily for testing.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Targets returns the loaded target set. This is primarily for testing.
func (a *App) Targets() *target.Set {
	return a.targets
}

// Close releases the engine.
func (a *App) Close() {
	a.engine.Close()
}

// newStore builds the configured store stack: memory or disk locally,
// optionally backed by a shared redis store.
func newStore(logger *slog.Logger, cfg *Config) (store.Store, error) {
	var local store.Store
	if cfg.StoreDir != "" {
		disk, err := store.NewDisk(cfg.StoreDir)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		local = disk
		logger.Debug("Using on-disk content store.", "dir", cfg.StoreDir)
	} else {
		local = store.NewMemory()
		logger.Debug("Using in-memory content store.")
	}

	if cfg.RedisAddr == "" {
		return local, nil
	}
	remote, err := store.NewRedis(&redis.Options{Addr: cfg.RedisAddr}, cfg.RedisNamespace)
	if err != nil {
		return nil, fmt.Errorf("connecting remote store: %w", err)
	}
	logger.Debug("Remote content store attached.", "addr", cfg.RedisAddr)
	return store.NewFallback(local, remote), nil
}
