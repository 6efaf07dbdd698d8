// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/jkstat/internal/metrics"
	"github.com/Thermoquad/jkstat/internal/simulator"
	"github.com/Thermoquad/jkstat/pkg/capture"
	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

func testOptions() Options {
	return Options{
		DataTimeout: 2 * time.Second,
		FlushAfter:  50 * time.Millisecond,
		RequestGap:  time.Millisecond,
	}
}

// startSimulated connects a session to a simulator over an in-memory pipe
func startSimulated(t *testing.T, simOpts simulator.Options, opts Options) (*Session, context.CancelFunc) {
	t.Helper()
	host, device := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	sim := simulator.New(simOpts)
	go sim.Serve(ctx, device)

	s := New(host, opts)
	s.Start(ctx)

	t.Cleanup(func() {
		cancel()
		host.Close()
		device.Close()
	})
	return s, cancel
}

func TestSession_DeviceInfo(t *testing.T) {
	s, _ := startSimulated(t, simulator.Options{StreamInterval: -1}, testOptions())

	info, err := s.DeviceInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, simulator.DefaultDeviceInfo().SerialNumber, info.SerialNumber)
}

func TestSession_CellDataByFlush(t *testing.T) {
	// No streaming: the lone frame completes only through the idle flush
	s, _ := startSimulated(t, simulator.Options{StreamInterval: -1}, testOptions())

	c, err := s.CellData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, simulator.DefaultCellData().CellVoltage, c.CellVoltage)
}

func TestSession_CellDataByStream(t *testing.T) {
	opts := testOptions()
	opts.FlushAfter = time.Hour
	s, _ := startSimulated(t, simulator.Options{StreamInterval: 20 * time.Millisecond, MTU: 20}, opts)

	c, err := s.CellData(context.Background())
	require.NoError(t, err)
	assert.Len(t, c.CellVoltage, 16)

	stats := s.Statistics()
	assert.GreaterOrEqual(t, stats.Fragments, uint64(16))
	assert.GreaterOrEqual(t, stats.CellDataFrames, uint64(1))
}

func TestSession_Timeout(t *testing.T) {
	host, device := net.Pipe()
	defer host.Close()
	defer device.Close()

	// Swallow requests without answering
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := device.Read(buf); err != nil {
				return
			}
		}
	}()

	opts := testOptions()
	opts.DataTimeout = 50 * time.Millisecond
	s := New(host, opts)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	_, err := s.CellData(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSession_ClosedLink(t *testing.T) {
	host, device := net.Pipe()
	s := New(host, testOptions())
	s.Start(context.Background())

	device.Close()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("reader did not stop")
	}
	assert.NoError(t, s.Err(), "EOF is a clean shutdown")

	_, err := s.CellData(context.Background())
	assert.Error(t, err)
	host.Close()
}

func TestSession_PollWithMetricsAndCapture(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	var captured bytes.Buffer
	cw := capture.NewWriter(&captured)

	var mu sync.Mutex
	var records []jkbms.Record

	opts := testOptions()
	opts.Metrics = m
	opts.Capture = cw
	opts.OnRecord = func(r jkbms.Record) {
		mu.Lock()
		records = append(records, r)
		mu.Unlock()
	}

	s, _ := startSimulated(t, simulator.Options{StreamInterval: -1}, opts)

	r, err := s.Poll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, r.DeviceInfo)
	require.NotNil(t, r.CellData)
	assert.Equal(t, 1, r.Attempts)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Messages.WithLabelValues("CELL_DATA")))
	assert.Equal(t, 76.0, testutil.ToFloat64(m.RemainPercent))

	mu.Lock()
	assert.GreaterOrEqual(t, len(records), 2)
	mu.Unlock()

	entries, err := capture.NewReader(bytes.NewReader(captured.Bytes())).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, capture.DirTX, entries[0].Dir)
	assert.Equal(t, jkbms.DeviceInfoRequest(), entries[0].Data)
}

func TestSession_RunRetriesAndStops(t *testing.T) {
	host, device := net.Pipe()
	defer host.Close()
	defer device.Close()

	// Count requests, never answer
	var mu sync.Mutex
	requests := 0
	go func() {
		buf := make([]byte, jkbms.RequestFrameLen)
		for {
			n, err := device.Read(buf)
			if err != nil {
				return
			}
			if n > 0 {
				mu.Lock()
				requests++
				mu.Unlock()
			}
		}
	}()

	opts := testOptions()
	opts.DataTimeout = 20 * time.Millisecond
	opts.Retries = 2
	reg := prometheus.NewRegistry()
	opts.Metrics = metrics.New(reg)

	s := New(host, opts)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	polled := make(chan error, 1)
	runErr := make(chan error, 1)
	go func() {
		runErr <- s.Run(ctx, time.Hour, func(r *Reading, err error) {
			polled <- err
		})
	}()

	select {
	case err := <-polled:
		assert.ErrorIs(t, err, ErrTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not complete")
	}
	cancel()

	select {
	case err := <-runErr:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}

	mu.Lock()
	// One device info request plus three cell data attempts
	assert.Equal(t, 4, requests)
	mu.Unlock()
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.PollFailures))
}

func TestSession_OnMessageReportsEveryFrame(t *testing.T) {
	var mu sync.Mutex
	var got []*Message

	opts := testOptions()
	opts.OnMessage = func(m *Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
	}
	s, _ := startSimulated(t, simulator.Options{StreamInterval: -1}, opts)

	_, err := s.DeviceInfo(context.Background())
	require.NoError(t, err)

	// The settings frame that follows device info arrives through the flush
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NoError(t, got[0].Err)
	assert.Equal(t, uint8(jkbms.RecordTypeDeviceInfo), got[0].Record.RecordType())
	assert.ErrorIs(t, got[1].Err, jkbms.ErrUnsupportedRecord)
	assert.Len(t, got[1].Raw, jkbms.ResponseFrameLen)
}

func TestSession_RejectedFrameCarriesAnomaly(t *testing.T) {
	frame, err := simulator.New(simulator.Options{}).Frame(jkbms.RecordTypeCellData)
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF

	host, device := net.Pipe()
	defer host.Close()
	defer device.Close()

	got := make(chan *Message, 1)
	opts := testOptions()
	opts.OnMessage = func(m *Message) {
		select {
		case got <- m:
		default:
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(host, opts)
	s.Start(ctx)

	go func() {
		_, _ = device.Write(append(frame, jkbms.ResponseHeader[:]...))
	}()

	var m *Message
	select {
	case m = <-got:
	case <-time.After(time.Second):
		t.Fatal("corrupt frame never reached OnMessage")
	}
	assert.ErrorIs(t, m.Err, jkbms.ErrBadCRC)
	assert.Nil(t, m.Record)
	require.Len(t, m.Anomalies, 1)
	assert.Equal(t, jkbms.AnomalyCRCError, m.Anomalies[0].Type)
	assert.Equal(t, uint64(1), s.Statistics().CRCErrors)
}
