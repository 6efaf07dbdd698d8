// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

func TestFrame_CounterAndChecksum(t *testing.T) {
	sim := New(Options{})

	first, err := sim.Frame(jkbms.RecordTypeCellData)
	require.NoError(t, err)
	second, err := sim.Frame(jkbms.RecordTypeCellData)
	require.NoError(t, err)

	assert.True(t, jkbms.ValidateResponse(first))
	assert.True(t, jkbms.ValidateResponse(second))
	assert.Equal(t, uint8(0), first[5])
	assert.Equal(t, uint8(1), second[5])

	record, err := jkbms.ParseMessage(second)
	require.NoError(t, err)
	cells, ok := record.(*jkbms.CellData)
	require.True(t, ok)
	assert.Len(t, cells.CellVoltage, 16)
}

func TestResponses(t *testing.T) {
	sim := New(Options{})

	frames, err := sim.Responses(jkbms.CmdDeviceInfo)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, uint8(jkbms.RecordTypeDeviceInfo), frames[0][4])
	assert.Equal(t, uint8(jkbms.RecordTypeSettings), frames[1][4])

	_, err = sim.Responses(0x42)
	assert.Error(t, err)
}

func TestFragment(t *testing.T) {
	sim := New(Options{MTU: 100})
	frame, err := sim.Frame(jkbms.RecordTypeDeviceInfo)
	require.NoError(t, err)

	frags := sim.Fragment(frame)
	require.Len(t, frags, 3)
	assert.Len(t, frags[2], 100)
}

func TestJitterStaysDecodable(t *testing.T) {
	sim := New(Options{Jitter: true, Seed: 7})
	for i := 0; i < 20; i++ {
		frame, err := sim.Frame(jkbms.RecordTypeCellData)
		require.NoError(t, err)
		_, err = jkbms.ParseMessage(frame)
		require.NoError(t, err)
	}
}

func TestServe_AnswersRequests(t *testing.T) {
	host, device := net.Pipe()
	defer host.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim := New(Options{MTU: 64, StreamInterval: -1})
	go sim.Serve(ctx, device)

	_, err := host.Write(jkbms.CellDataRequest())
	require.NoError(t, err)

	require.NoError(t, host.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got []byte
	buf := make([]byte, 512)
	for len(got) < jkbms.ResponseFrameLen {
		n, err := host.Read(buf)
		require.NoError(t, err)
		assert.LessOrEqual(t, n, 64, "fragments respect the MTU")
		got = append(got, buf[:n]...)
	}

	require.Len(t, got, jkbms.ResponseFrameLen)
	record, err := jkbms.ParseMessage(got)
	require.NoError(t, err)
	assert.Equal(t, uint8(jkbms.RecordTypeCellData), record.RecordType())
}
