// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/jkstat/internal/session"
	"github.com/Thermoquad/jkstat/internal/simulator"
)

// pipeDialer hands out in-memory links to a simulator, failing the first
// failures dials
type pipeDialer struct {
	mu       sync.Mutex
	failures int
	dials    int
}

func (d *pipeDialer) dial(ctx context.Context) (Connection, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failures {
		return nil, "", errors.New("adapter busy")
	}

	client, device := net.Pipe()
	sim := simulator.New(simulator.Options{MTU: 128, StreamInterval: -1})
	go func() {
		_ = sim.Serve(ctx, device)
		device.Close()
	}()
	return client, "pipe", nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []linkEvent
}

func (r *eventRecorder) record(ev linkEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []linkEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]linkEventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.kind
	}
	return kinds
}

func testSessionOptions() session.Options {
	return session.Options{
		DataTimeout: 2 * time.Second,
		FlushAfter:  100 * time.Millisecond,
		RequestGap:  time.Millisecond,
	}
}

func TestLinkManager_RetriesDialThenServes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dialer := &pipeDialer{failures: 1}
	rec := &eventRecorder{}
	lm := newLinkManager(dialer.dial, testSessionOptions(), rec.record)

	var serial string
	err := lm.run(ctx, func(ctx context.Context, sess *session.Session) error {
		current, info := lm.current()
		assert.Same(t, sess, current)
		assert.Equal(t, "pipe", info)

		d, err := sess.DeviceInfo(ctx)
		if err == nil {
			serial = d.SerialNumber
		}
		cancel()
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, simulator.DefaultDeviceInfo().SerialNumber, serial)
	assert.Equal(t, []linkEventKind{linkDialFailed, linkConnected}, rec.kinds())
	assert.Equal(t, minBackoff, rec.events[0].retryIn)

	sess, _ := lm.current()
	assert.Nil(t, sess, "session is cleared once serving ends")
}

func TestLinkManager_ReportsLostLink(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec := &eventRecorder{}
	lm := newLinkManager((&pipeDialer{}).dial, testSessionOptions(), func(ev linkEvent) {
		rec.record(ev)
		if ev.kind == linkLost {
			cancel()
		}
	})

	lost := errors.New("device went away")
	err := lm.run(ctx, func(ctx context.Context, sess *session.Session) error {
		return lost
	})
	require.NoError(t, err)

	require.Equal(t, []linkEventKind{linkConnected, linkLost}, rec.kinds())
	assert.ErrorIs(t, rec.events[1].err, lost)
	assert.Equal(t, "pipe", rec.events[1].connInfo)
}

func TestNextBackoff(t *testing.T) {
	d := minBackoff
	var seen []time.Duration
	for i := 0; i < 7; i++ {
		d = nextBackoff(d)
		seen = append(seen, d)
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		maxBackoff, maxBackoff, maxBackoff,
	}, seen)
}

func TestSleepCtx(t *testing.T) {
	assert.True(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepCtx(ctx, time.Hour))
}
