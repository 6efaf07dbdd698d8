// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ble

import (
	"io"
	"sync"
)

// notifyQueue turns notification callbacks into blocking reads.
// A notification larger than the read buffer is returned over several reads.
type notifyQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending [][]byte
	closed  bool
}

func newNotifyQueue() *notifyQueue {
	q := &notifyQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push copies buf; the stack may reuse it after the callback returns
func (q *notifyQueue) push(buf []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(buf) == 0 {
		return
	}
	q.pending = append(q.pending, append([]byte(nil), buf...))
	q.cond.Signal()
}

func (q *notifyQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.pending) == 0 {
		return 0, io.EOF
	}

	n := copy(p, q.pending[0])
	if n < len(q.pending[0]) {
		q.pending[0] = q.pending[0][n:]
	} else {
		q.pending = q.pending[1:]
	}
	return n, nil
}

func (q *notifyQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
