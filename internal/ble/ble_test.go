// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ble

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyQueue_PreservesFragments(t *testing.T) {
	q := newNotifyQueue()
	buf := []byte{0x55, 0xAA, 0xEB, 0x90}
	q.push(buf)
	buf[0] = 0x00 // the stack reuses its buffer
	q.push([]byte{0x02, 0x05})

	p := make([]byte, 64)
	n, err := q.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x55, 0xAA, 0xEB, 0x90}, p[:n])

	n, err = q.Read(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x05}, p[:n])
}

func TestNotifyQueue_ShortReadBuffer(t *testing.T) {
	q := newNotifyQueue()
	q.push([]byte{1, 2, 3, 4, 5})

	p := make([]byte, 3)
	n, _ := q.Read(p)
	assert.Equal(t, []byte{1, 2, 3}, p[:n])
	n, _ = q.Read(p)
	assert.Equal(t, []byte{4, 5}, p[:n])
}

func TestNotifyQueue_CloseUnblocksReader(t *testing.T) {
	q := newNotifyQueue()
	done := make(chan error, 1)
	go func() {
		_, err := q.Read(make([]byte, 8))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}

	q.push([]byte{1})
	_, err := q.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF, "pushes after close are dropped")
}

func TestIsBMS(t *testing.T) {
	assert.True(t, isBMS("JK_B2A24S15P", false))
	assert.True(t, isBMS("jk-bms", false))
	assert.True(t, isBMS("", true))
	assert.False(t, isBMS("Thermostat", false))
}

func TestUUIDs(t *testing.T) {
	assert.Equal(t, "0000ffe0-0000-1000-8000-00805f9b34fb", serviceUUID.String())
	assert.Equal(t, "0000ffe1-0000-1000-8000-00805f9b34fb", characteristicUUID.String())
}
