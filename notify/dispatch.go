// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/notify/lib/dispatch"
	"github.com/bureau-foundation/notify/lib/watch"
)

// RegisterDispatch registers name for delivery by calling handler on
// queue. Calls for one queue never overlap, and each wake runs the
// handler at most once. A nil queue runs handlers on the client's
// default handler queue, shared by every such registration. A handler
// may call Close.
//
// Dispatch registrations ride the multiplex channel. When implicit
// enabling is configured, the first one also turns on multiplexed
// delivery and auto-regeneration for the client.
func (c *Client) RegisterDispatch(ctx context.Context, name string, queue *dispatch.Queue, handler Handler) (Token, error) {
	if handler == nil {
		return 0, fmt.Errorf("%w: nil handler", ErrInvalidRequest)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.Client.ImplicitEnable {
		c.multiplex = true
		if !c.autoRegenerate {
			c.autoRegenerate = true
			if c.resolved {
				c.startWatcher()
			}
		}
	}

	token, err := c.beginRegistration(ctx, name)
	if err != nil {
		return 0, err
	}
	cb := &callback{queue: queue, handler: handler}
	if isSelfName(name) {
		return c.registerSelf(token, name, &selfRegistration{delivery: KindPort}, cb), nil
	}

	mux, err := c.retainMultiplexer()
	if err != nil {
		return 0, err
	}
	registration := &brokerRegistration{
		clientID:    uint64(token),
		resource:    -1,
		peer:        -1,
		multiplexed: true,
	}
	if err := c.session.RegisterPort(ctx, name, mux.pair.Send, int32(token)); err != nil {
		c.releaseResources(registration)
		return 0, wrapBroker("register dispatch", err)
	}

	record := c.insert(token, name, KindPort)
	record.broker = registration
	record.callback = cb
	return token, nil
}

// resolveDelivery is the dispatcher's view of the token table.
func (c *Client) resolveDelivery(token int32) (dispatch.Delivery, func(), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, ok := c.tokens[Token(token)]
	if !ok || record.callback == nil {
		return dispatch.Delivery{}, nil, false
	}
	record.leases++
	cb := record.callback
	return dispatch.Delivery{
		Queue:   cb.queue,
		Handler: func(token int32) { cb.handler(Token(token)) },
	}, func() { c.unlease(record) }, true
}

// watchWake runs on the dispatcher for wakes addressed to WatchToken.
func (c *Client) watchWake() {
	err := c.Regenerate(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidRequest):
		c.logger.Debug("restart watch fired without a broker change")
	default:
		c.logger.Warn("regeneration after broker restart failed", "error", err)
	}
}

// startWatcher begins watching the broker socket. A failure leaves
// regeneration to Check and explicit Regenerate calls. The caller holds
// c.mu.
func (c *Client) startWatcher() {
	if c.watcher != nil {
		return
	}
	watcher, err := watch.New(
		c.config.Broker.SocketPath,
		c.config.Regeneration.WatchInterval,
		func() { c.dispatcher.Wake(dispatch.WatchToken) },
		c.logger,
	)
	if err != nil {
		c.logger.Warn("cannot watch for broker restarts", "path", c.config.Broker.SocketPath, "error", err)
		return
	}
	c.watcher = watcher
}
