// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"log/slog"
	"sync"

	"github.com/eapache/queue"
)

// Queue runs functions serially in submission order.
type Queue struct {
	label  string
	logger *slog.Logger

	mu      sync.Mutex
	pending *queue.Queue
	running bool
	closed  bool
	idle    *sync.Cond
}

// NewQueue returns an empty queue. label appears in log lines. A nil
// logger discards output.
func NewQueue(label string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	q := &Queue{
		label:   label,
		logger:  logger,
		pending: queue.New(),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Label returns the queue's label.
func (q *Queue) Label() string { return q.label }

// Submit appends fn to the queue. It returns false if the queue is
// closed, in which case fn will never run.
func (q *Queue) Submit(fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pending.Add(fn)
	if !q.running {
		q.running = true
		go q.drain()
	}
	return true
}

// Len returns the number of functions waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Length()
}

// Wait blocks until nothing is queued or running. Functions submitted
// while Wait blocks are waited for too.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.running {
		q.idle.Wait()
	}
}

// Close rejects further submissions and waits for the backlog to run.
// It must not be called from a function running on q.
func (q *Queue) Close() {
	q.Shutdown()
	q.Wait()
}

// Shutdown rejects further submissions without waiting. Functions
// already queued still run.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.pending.Length() == 0 {
			q.running = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		fn := q.pending.Remove().(func())
		q.mu.Unlock()

		q.run(fn)
	}
}

func (q *Queue) run(fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			q.logger.Error("notification handler panicked",
				"queue", q.label,
				"panic", recovered,
			)
		}
	}()
	fn()
}
