// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"log/slog"
)

// WatchToken is the token id reserved for the regeneration watch. It is
// never handed out for a registration.
const WatchToken int32 = 0

// Delivery is where a wake for one token goes.
type Delivery struct {
	// Queue runs Handler. A nil Queue runs it on the dispatcher's
	// default handler queue.
	Queue *Queue

	// Handler receives the token id.
	Handler func(token int32)
}

// Resolver looks up the delivery for a token. ok is false when the
// token is unknown or has no handler. When ok is true, release must be
// called exactly once after the handler has returned; it typically
// drops a lease taken on the token's record.
type Resolver func(token int32) (delivery Delivery, release func(), ok bool)

// Dispatcher routes wakes to handlers. The inbound queue only resolves
// tokens and runs the watch hook; handlers never run on it, so closing
// the dispatcher never waits on a handler.
type Dispatcher struct {
	inbound  *Queue
	handlers *Queue
	resolve  Resolver
	onWatch func()
	logger  *slog.Logger
}

// NewDispatcher returns a dispatcher that resolves tokens with resolve
// and calls onWatch for wakes addressed to WatchToken. A nil logger
// discards output.
func NewDispatcher(resolve Resolver, onWatch func(), logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		inbound:  NewQueue("inbound", logger),
		handlers: NewQueue("default", logger),
		resolve:  resolve,
		onWatch:  onWatch,
		logger:   logger,
	}
}

// Wake schedules delivery for token. It never blocks on a handler.
func (d *Dispatcher) Wake(token int32) {
	if !d.inbound.Submit(func() { d.deliver(token) }) {
		d.logger.Debug("wake after dispatcher close", "token", token)
	}
}

// Wait blocks until every wake submitted so far has been handed to its
// queue and the default handler queue is idle. It does not wait for
// handlers on other queues.
func (d *Dispatcher) Wait() {
	d.inbound.Wait()
	d.handlers.Wait()
}

// Close stops accepting wakes and drains the inbound queue. Handlers
// already queued on the default queue still run, but Close does not
// wait for them, so a handler may call Close.
func (d *Dispatcher) Close() {
	d.inbound.Close()
	d.handlers.Shutdown()
}

func (d *Dispatcher) deliver(token int32) {
	if token == WatchToken {
		if d.onWatch != nil {
			d.onWatch()
		}
		return
	}

	delivery, release, ok := d.resolve(token)
	if !ok {
		d.logger.Debug("wake for unknown token", "token", token)
		return
	}

	run := func() {
		defer release()
		delivery.Handler(token)
	}
	queue := delivery.Queue
	if queue == nil {
		queue = d.handlers
	}
	if !queue.Submit(run) {
		d.logger.Debug("wake for token on closed queue", "token", token, "queue", queue.Label())
		release()
	}
}
