package cli_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/buildgridgo/internal/cli"
)

func TestParse_Defaults(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	cfg, exit, err := cli.Parse(nil, &out)
	require.NoError(t, err)
	assert.False(t, exit)
	assert.Equal(t, ".", cfg.WorkspaceRoot)
	assert.Empty(t, cfg.Targets)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.False(t, cfg.Watch)
}

func TestParse_FlagsAndTargets(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	cfg, exit, err := cli.Parse([]string{
		"-root", "/workspace",
		"-store-dir", "/var/cache/bgg",
		"-remote-store", "localhost:6379",
		"-log-level", "DEBUG",
		"-workers", "8",
		"-timeout", "2m",
		"-watch",
		"-fingerprint-env", "CC, PATH ,",
		"lib:parse", "app:app",
	}, &out)
	require.NoError(t, err)
	assert.False(t, exit)
	assert.Equal(t, "/workspace", cfg.WorkspaceRoot)
	assert.Equal(t, []string{"lib:parse", "app:app"}, cfg.Targets)
	assert.Equal(t, "/var/cache/bgg", cfg.StoreDir)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, int64(8), cfg.Workers)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
	assert.True(t, cfg.Watch)
	assert.Equal(t, []string{"CC", "PATH"}, cfg.FingerprintEnv)
}

func TestParse_Help(t *testing.T) {
	t.Parallel()
	var out strings.Builder
	cfg, exit, err := cli.Parse([]string{"-h"}, &out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParse_InvalidValues(t *testing.T) {
	t.Parallel()
	cases := [][]string{
		{"-log-format", "yaml"},
		{"-log-level", "chatty"},
		{"-no-such-flag"},
	}
	for _, args := range cases {
		var out strings.Builder
		_, _, err := cli.Parse(args, &out)
		require.Error(t, err, "args %v", args)
		var exitErr *cli.ExitError
		require.True(t, errors.As(err, &exitErr))
		assert.Equal(t, 2, exitErr.Code)
	}
}
