// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/jkstat/internal/simulator"
	"github.com/Thermoquad/jkstat/pkg/capture"
	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

// recordExchange captures a request and the fragmented responses to it
func recordExchange(t *testing.T, w *capture.Writer, sim *simulator.Simulator, command uint8) {
	t.Helper()
	require.NoError(t, w.Record(capture.DirTX, jkbms.BuildRequest(command)))

	frames, err := sim.Responses(command)
	require.NoError(t, err)
	for _, f := range frames {
		for _, frag := range sim.Fragment(f) {
			_, err := w.Write(frag)
			require.NoError(t, err)
		}
	}
}

func TestReplay_DecodesCapture(t *testing.T) {
	var file bytes.Buffer
	w := capture.NewWriter(&file)
	sim := simulator.New(simulator.Options{MTU: 20})

	recordExchange(t, w, sim, jkbms.CmdDeviceInfo)
	recordExchange(t, w, sim, jkbms.CmdCellData)

	var out bytes.Buffer
	stats, err := replay(capture.NewReader(&file), &out)
	require.NoError(t, err)

	// device info, settings, cell data (flushed at end of capture)
	assert.Equal(t, uint64(3), stats.TotalMessages)
	assert.Equal(t, uint64(1), stats.DeviceInfos)
	assert.Equal(t, uint64(1), stats.CellDataFrames)
	assert.Equal(t, uint64(1), stats.Unsupported)
	assert.Zero(t, stats.CRCErrors)
	assert.Zero(t, stats.DiscardedBytes)

	text := out.String()
	assert.Contains(t, text, "DEVICE_INFO")
	assert.Contains(t, text, "SETTINGS")
	assert.Contains(t, text, "CELL_DATA")
	assert.Contains(t, text, simulator.DefaultDeviceInfo().SerialNumber)
	assert.NotContains(t, text, "REQUEST", "requests are hidden without --show-tx")
}

func TestReplay_ShowTX(t *testing.T) {
	saved := replayShowTX
	t.Cleanup(func() { replayShowTX = saved })
	replayShowTX = true

	var file bytes.Buffer
	w := capture.NewWriter(&file)
	require.NoError(t, w.Record(capture.DirTX, jkbms.DeviceInfoRequest()))

	var out bytes.Buffer
	stats, err := replay(capture.NewReader(&file), &out)
	require.NoError(t, err)

	assert.Zero(t, stats.TotalMessages)
	assert.Equal(t, 1, strings.Count(out.String(), "REQUEST"))
}

func TestReplay_CorruptFrame(t *testing.T) {
	sim := simulator.New(simulator.Options{})
	frame, err := sim.Frame(jkbms.RecordTypeCellData)
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF

	var file bytes.Buffer
	w := capture.NewWriter(&file)
	_, err = w.Write(frame)
	require.NoError(t, err)

	var out bytes.Buffer
	stats, err := replay(capture.NewReader(&file), &out)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), stats.CRCErrors)
	assert.Contains(t, out.String(), "CRC MISMATCH")
	assert.Contains(t, out.String(), "Anomaly: "+jkbms.AnomalyCRCError.String())
}

func TestReplay_TruncatedCapture(t *testing.T) {
	var file bytes.Buffer
	w := capture.NewWriter(&file)
	_, err := w.Write([]byte{0x55, 0xAA, 0xEB, 0x90})
	require.NoError(t, err)
	file.Truncate(file.Len() - 2)

	_, err = replay(capture.NewReader(&file), &bytes.Buffer{})
	assert.Error(t, err)
}
