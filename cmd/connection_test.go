// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/jkstat/internal/config"
	"github.com/Thermoquad/jkstat/internal/session"
	"github.com/Thermoquad/jkstat/internal/simulator"
)

func newSimulatorServer(t *testing.T, ctx context.Context) string {
	t.Helper()
	srv := httptest.NewServer(simulatorHandler(ctx, func() *simulator.Simulator {
		return simulator.New(simulator.Options{MTU: 64, StreamInterval: -1})
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketConnection_SessionRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := OpenWebSocketConnection(ctx, newSimulatorServer(t, ctx), "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	sess := session.New(conn, session.Options{
		DataTimeout: 3 * time.Second,
		FlushAfter:  200 * time.Millisecond,
		RequestGap:  time.Millisecond,
	})
	sess.Start(ctx)

	info, err := sess.DeviceInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, simulator.DefaultDeviceInfo().SerialNumber, info.SerialNumber)

	cells, err := sess.CellData(ctx)
	require.NoError(t, err)
	assert.Len(t, cells.CellVoltage, len(simulator.DefaultCellData().CellVoltage))

	stats := sess.Statistics()
	assert.Greater(t, stats.Fragments, uint64(4), "frames are split into 64 byte fragments")
}

func TestWebSocketConnection_ReadAfterClose(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := OpenWebSocketConnection(ctx, newSimulatorServer(t, ctx), "", "", false)
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	_, err = conn.Read(make([]byte, 16))
	assert.Error(t, err)
}

func TestOpenWebSocketConnection_RejectsScheme(t *testing.T) {
	_, err := OpenWebSocketConnection(context.Background(), "http://localhost:1/ws", "", "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

func TestConnectionTarget(t *testing.T) {
	tests := []struct {
		name string
		conn config.ConnectionConfig
		want string
	}{
		{"bluetooth wins", config.ConnectionConfig{BLE: "C8:47:8C:00:00:01", URL: "ws://x/ws", Port: "/dev/ttyUSB0"}, "C8:47:8C:00:00:01"},
		{"url before port", config.ConnectionConfig{URL: "ws://x/ws", Port: "/dev/ttyUSB0"}, "ws://x/ws"},
		{"port", config.ConnectionConfig{Port: "/dev/ttyUSB0"}, "/dev/ttyUSB0"},
		{"none", config.ConnectionConfig{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, connectionTarget(tt.conn))
		})
	}
}

func TestOpenConnection_NothingConfigured(t *testing.T) {
	saved := cfg
	t.Cleanup(func() { cfg = saved })
	cfg = config.Default()
	cfg.Connection = config.ConnectionConfig{}

	_, _, err := OpenConnection(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be specified")
}
