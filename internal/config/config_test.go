// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JKSTAT_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 10*time.Second, cfg.Poll.DataTimeout)
	assert.Equal(t, 2*time.Second, cfg.Poll.FlushTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Poll.RequestGap)
	assert.Equal(t, 3, cfg.Poll.Retries)
	assert.Equal(t, 115200, cfg.Connection.Baud)
	assert.Empty(t, cfg.Logging.Level)
	assert.Equal(t, "_jkbms._tcp", cfg.Discovery.Service)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
connection:
  ble: "C8:47:8C:00:11:22"
poll:
  interval: 1m
  retries: 5
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "C8:47:8C:00:11:22", cfg.Connection.BLE)
	assert.Equal(t, time.Minute, cfg.Poll.Interval)
	assert.Equal(t, 5, cfg.Poll.Retries)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 10*time.Second, cfg.Poll.DataTimeout, "unset keys keep defaults")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("JKSTAT_CONFIG", "")
	t.Setenv("JKSTAT_POLL_INTERVAL", "30s")
	t.Setenv("JKSTAT_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Poll.Interval)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_ConfigEnvSelectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  path: /tmp/x.yaml\n"), 0o644))
	t.Setenv("JKSTAT_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.yaml", cfg.Store.Path)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "an explicit path must exist")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll:\n  interval: 0s\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "poll.interval")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}
