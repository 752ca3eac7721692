package app

import (
	"fmt"
	"time"
)

// Config holds everything an App instance needs to run.
type Config struct {
	// WorkspaceRoot is the directory scanned for BUILD.hcl manifests.
	WorkspaceRoot string

	// Targets are the addresses to build. Empty means every declared target.
	Targets []string

	// StoreDir is the on-disk content store location. Empty keeps the store
	// in memory.
	StoreDir string

	// RedisAddr enables a remote store layered behind the local one.
	RedisAddr      string
	RedisNamespace string

	LogLevel  string
	LogFormat string
	NoColor   bool

	Workers        int64
	RequestTimeout time.Duration
	FingerprintEnv []string

	// Watch keeps the process alive, rebuilding on file changes.
	Watch         bool
	WatchInterval time.Duration
}

// Validate rejects configurations the app cannot start with.
func (c *Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace root must not be empty")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative")
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}
