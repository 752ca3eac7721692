package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/specialistvlad/buildgridgo/internal/app"
)

// ExitError is an error carrying a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating the program should exit cleanly (help was printed), or
// an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("buildgridgo", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
BuildGridGo - An incremental, content-addressed build engine.

Usage:
  buildgridgo [options] [TARGET...]

Arguments:
  TARGET
    Target addresses in "dir:name" form. Builds every declared target
    when omitted.

Options:
`)
		flagSet.PrintDefaults()
	}

	rootFlag := flagSet.String("root", ".", "Workspace root to scan for BUILD.hcl manifests.")
	storeDirFlag := flagSet.String("store-dir", "", "On-disk content store directory. Empty keeps the store in memory.")
	redisFlag := flagSet.String("remote-store", "", "Address of a shared redis content store, e.g. 'localhost:6379'. Empty disables it.")
	redisNamespaceFlag := flagSet.String("remote-namespace", "buildgridgo", "Key namespace within the remote store.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "warn", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	noColorFlag := flagSet.Bool("no-color", false, "Disable colored result output.")
	workersFlag := flagSet.Int64("workers", 0, "Concurrent rule executions. 0 picks a default from the CPU count.")
	timeoutFlag := flagSet.Duration("timeout", 0, "Per-request timeout, e.g. '5m'. 0 disables it.")
	watchFlag := flagSet.Bool("watch", false, "Stay alive and rebuild on file changes.")
	watchIntervalFlag := flagSet.Duration("watch-interval", 500*time.Millisecond, "Poll interval in watch mode.")
	envFlag := flagSet.String("fingerprint-env", "", "Comma-separated environment variable names folded into the cache key of command-running targets.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	var fingerprintEnv []string
	for _, name := range strings.Split(*envFlag, ",") {
		if name = strings.TrimSpace(name); name != "" {
			fingerprintEnv = append(fingerprintEnv, name)
		}
	}

	config := &app.Config{
		WorkspaceRoot:  *rootFlag,
		Targets:        flagSet.Args(),
		StoreDir:       *storeDirFlag,
		RedisAddr:      *redisFlag,
		RedisNamespace: *redisNamespaceFlag,
		LogFormat:      logFormat,
		LogLevel:       logLevel,
		NoColor:        *noColorFlag,
		Workers:        *workersFlag,
		RequestTimeout: *timeoutFlag,
		FingerprintEnv: fingerprintEnv,
		Watch:          *watchFlag,
		WatchInterval:  *watchIntervalFlag,
	}
	if err := config.Validate(); err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return config, false, nil
}
