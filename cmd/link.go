// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/jkstat/internal/session"
)

const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

// linkEventKind classifies link lifecycle notifications
type linkEventKind int

const (
	linkConnected linkEventKind = iota
	linkLost
	linkDialFailed
)

// linkEvent reports a link lifecycle change
type linkEvent struct {
	kind     linkEventKind
	connInfo string
	err      error
	retryIn  time.Duration
}

// dialFunc opens a connection
type dialFunc func(ctx context.Context) (Connection, string, error)

// serveFunc uses one established session until it returns
type serveFunc func(ctx context.Context, sess *session.Session) error

// linkManager keeps a session alive, reconnecting with exponential backoff
// whenever the link drops
type linkManager struct {
	dial    dialFunc
	opts    session.Options
	onEvent func(linkEvent)

	mu       sync.RWMutex
	sess     *session.Session
	connInfo string
}

func newLinkManager(dial dialFunc, opts session.Options, onEvent func(linkEvent)) *linkManager {
	if onEvent == nil {
		onEvent = func(linkEvent) {}
	}
	return &linkManager{dial: dial, opts: opts, onEvent: onEvent}
}

// current returns the active session, or nil while disconnected
func (lm *linkManager) current() (*session.Session, string) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.sess, lm.connInfo
}

func (lm *linkManager) setCurrent(sess *session.Session, connInfo string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.sess = sess
	lm.connInfo = connInfo
}

// run dials, serves and redials until ctx is cancelled
func (lm *linkManager) run(ctx context.Context, serve serveFunc) error {
	backoff := minBackoff

	for {
		conn, connInfo, err := lm.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			lm.onEvent(linkEvent{kind: linkDialFailed, err: err, retryIn: backoff})
			if !sleepCtx(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = minBackoff
		err = lm.serveOnce(ctx, conn, connInfo, serve)
		if ctx.Err() != nil {
			return nil
		}
		lm.onEvent(linkEvent{kind: linkLost, connInfo: connInfo, err: err, retryIn: backoff})
		if !sleepCtx(ctx, backoff) {
			return nil
		}
	}
}

func (lm *linkManager) serveOnce(ctx context.Context, conn Connection, connInfo string, serve serveFunc) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	sess := session.New(conn, lm.opts)
	sess.Start(sessCtx)
	lm.setCurrent(sess, connInfo)
	defer lm.setCurrent(nil, connInfo)

	lm.onEvent(linkEvent{kind: linkConnected, connInfo: connInfo})
	err := serve(sessCtx, sess)
	if lm.opts.Logger != nil {
		lm.opts.Logger.Debug("link session ended", zap.String("link", connInfo), zap.Error(err))
	}
	return err
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// sleepCtx waits for d, returning false if ctx ends first
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// sessionOptions builds session options from the loaded configuration
func sessionOptions() session.Options {
	return session.Options{
		DataTimeout: cfg.Poll.DataTimeout,
		FlushAfter:  cfg.Poll.FlushTimeout,
		RequestGap:  cfg.Poll.RequestGap,
		Retries:     cfg.Poll.Retries,
		Logger:      logger,
	}
}
