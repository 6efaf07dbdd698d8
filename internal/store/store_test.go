// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

func TestStore_SaveAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	fixed := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	s := New(path)
	s.now = func() time.Time { return fixed }
	s.SetDevice("C8:47:8C:00:11:22", "JK_B2A24S15P")
	s.Update(&jkbms.DeviceInfo{DeviceModel: "BK-BLE-1.0", SerialNumber: "3070512345"})
	s.Update(&jkbms.CellData{
		CellVoltage:        []float64{3.301, 3.302},
		BatteryTemperature: []float64{21.5, 22, 0, 0},
		BatteryCurrent:     -1.25,
		RemainPercent:      87,
		BalancingAction:    jkbms.BalancingCharging,
	})
	require.NoError(t, s.Save())

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file is renamed away")

	loaded, err := Open(path)
	require.NoError(t, err)
	snap := loaded.Snapshot()

	assert.Equal(t, "C8:47:8C:00:11:22", snap.Device)
	require.NotNil(t, snap.DeviceInfo)
	assert.Equal(t, "3070512345", snap.DeviceInfo.SerialNumber)
	require.NotNil(t, snap.CellData)
	assert.Equal(t, []float64{3.301, 3.302}, snap.CellData.CellVoltage)
	assert.Equal(t, -1.25, snap.CellData.BatteryCurrent)
	assert.Equal(t, uint8(87), snap.CellData.RemainPercent)
	assert.Equal(t, jkbms.BalancingCharging, snap.CellData.BalancingAction)
	assert.True(t, snap.LastUpdate.Equal(fixed))
}

func TestOpen_Missing(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, s.Snapshot().CellData)
	assert.Equal(t, "--", s.LastUpdateFormatted())
}

func TestOpen_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cell_data: [unterminated"), 0o600))
	_, err := Open(path)
	assert.Error(t, err)
}

func TestStore_SetDeviceClearsOtherDevice(t *testing.T) {
	s := New("")
	s.SetDevice("AA", "one")
	s.UpdateCellData(&jkbms.CellData{RemainPercent: 50})

	s.SetDevice("AA", "renamed")
	assert.NotNil(t, s.Snapshot().CellData, "same device keeps records")

	s.SetDevice("BB", "two")
	assert.Nil(t, s.Snapshot().CellData)
	assert.NoError(t, s.Save(), "in-memory store saves as a no-op")
}

func TestFormatLastUpdate(t *testing.T) {
	last := time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC)

	tests := []struct {
		elapsed  time.Duration
		expected string
	}{
		{30 * time.Second, "09:05 (just now)"},
		{5 * time.Minute, "09:05 (5m ago)"},
		{3*time.Hour + 10*time.Minute, "09:05 (3h ago)"},
		{50 * time.Hour, "09:05 (2d ago)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatLastUpdate(last, last.Add(tt.elapsed)))
	}
	assert.Equal(t, "--", FormatLastUpdate(time.Time{}, last))
}
