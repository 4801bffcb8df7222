// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"fmt"

	"github.com/bureau-foundation/notify/lib/endpoint"
)

// multiplexer is the shared channel that carries wakes for every
// multiplexed and dispatch registration. The broker holds its send
// side; a reader goroutine demultiplexes by token id.
//
// The channel's ledger entry is owned by the client, which holds one
// reference for the life of the multiplexer. Each registration on the
// channel holds another.
type multiplexer struct {
	pair endpoint.Pair
	stop chan struct{}
	done chan struct{}
}

// retainMultiplexer returns the multiplex channel with a reference held
// for one registration, creating the channel if needed. The caller
// holds c.mu.
func (c *Client) retainMultiplexer() (*multiplexer, error) {
	if c.mux == nil {
		pair, err := endpoint.NewSocketPair()
		if err != nil {
			return nil, fmt.Errorf("%w: creating multiplex channel: %w", ErrFailed, err)
		}
		c.endpoints.Retain(pair.Receive, true, pair.Send)
		c.mux = &multiplexer{
			pair: pair,
			stop: make(chan struct{}),
			done: make(chan struct{}),
		}
		go c.readMultiplexer(c.mux)
		c.logger.Debug("multiplex channel created", "receive", pair.Receive)
	}
	c.endpoints.Retain(c.mux.pair.Receive, false, -1)
	return c.mux, nil
}

// releaseMultiplexer drops one registration's reference. The channel
// itself stays until teardown. The caller holds c.mu.
func (c *Client) releaseMultiplexer() {
	if c.mux == nil {
		return
	}
	if _, err := c.endpoints.Release(c.mux.pair.Receive, 0); err != nil {
		c.logger.Warn("releasing multiplex channel reference", "error", err)
	}
}

// stopReader ends the reader goroutine. The caller must not hold c.mu.
func (m *multiplexer) stopReader() {
	close(m.stop)
	<-m.done
}

// multiplexPollMillis bounds how long Reset waits for the reader.
const multiplexPollMillis = 100

func (c *Client) readMultiplexer(mux *multiplexer) {
	defer close(mux.done)

	buffer := make([]byte, 64*endpoint.WakeSize)
	for {
		select {
		case <-mux.stop:
			return
		default:
		}

		ready, err := endpoint.Wait(mux.pair.Receive, multiplexPollMillis)
		if err != nil {
			c.logger.Warn("multiplex reader stopped", "error", err)
			return
		}
		if !ready {
			continue
		}

		tokens, closed, err := endpoint.ReadWakes(mux.pair.Receive, buffer)
		if err != nil {
			c.logger.Warn("multiplex reader stopped", "error", err)
			return
		}
		if closed {
			return
		}
		for _, token := range tokens {
			c.routeMultiplexed(Token(token))
		}
	}
}

// routeMultiplexed delivers one wake read from the multiplex channel.
func (c *Client) routeMultiplexed(token Token) {
	if token == WatchToken {
		c.dispatcher.Wake(int32(token))
		return
	}

	c.mu.Lock()
	record, ok := c.tokens[token]
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("multiplexed wake for unknown token", "token", token)
		return
	}
	if record.callback != nil {
		c.mu.Unlock()
		c.dispatcher.Wake(int32(token))
		return
	}
	forward := -1
	if record.broker != nil {
		forward = record.broker.peer
	}
	record.leases++
	c.mu.Unlock()

	// The lease keeps the private descriptor open while it is written.
	if forward >= 0 {
		if err := endpoint.WriteWake(forward, int32(token)); err != nil {
			c.logger.Debug("forwarding multiplexed wake", "token", token, "error", err)
		}
	}
	c.unlease(record)
}
