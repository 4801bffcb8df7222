// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"fmt"
	"math"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/notify/lib/dispatch"
	"github.com/bureau-foundation/notify/lib/endpoint"
	"github.com/bureau-foundation/notify/lib/ledger"
)

// tokenRecord is one live registration. Exactly one of self and broker
// is set.
type tokenRecord struct {
	id   Token
	name *nameRecord
	kind Kind

	self   *selfRegistration
	broker *brokerRegistration

	// callback is set for dispatch registrations.
	callback *callback

	// leases counts in-flight users outside c.mu. A removed record is
	// finalized when the last lease is released.
	leases  int
	removed bool
}

type callback struct {
	queue   *dispatch.Queue
	handler Handler
}

// selfRegistration is delivered in-process.
type selfRegistration struct {
	// delivery is the mechanism the caller asked for.
	delivery Kind
	signal   unix.Signal
	pair     endpoint.Pair

	// posted is set by every post and cleared by Check. It starts set
	// so the first Check reports true.
	posted    bool
	suspended bool
	pending   bool
}

// brokerRegistration is backed by a broker registration. Every one is
// replayed when the broker restarts.
type brokerRegistration struct {
	clientID uint64
	signal   unix.Signal

	// resource is the receive descriptor in resourceLedger, or -1 for
	// plain, signal and check registrations. peer is its send side.
	resourceLedger *ledger.Ledger
	resource       int
	peer           int

	// multiplexed registrations hand the broker the multiplex channel
	// instead of peer, and hold a reference on the channel's entry.
	multiplexed bool

	slot      uint32
	lastValue uint32
	// fresh makes the next Check report true. Set at registration and
	// again after regeneration.
	fresh bool

	state     uint64
	stateTime time.Time
	stateSet  bool
	suspended bool
}

// allocateToken returns the next unused token id. The caller holds
// c.mu.
func (c *Client) allocateToken() (Token, error) {
	for range len(c.tokens) + 1 {
		if c.nextToken == math.MaxInt32 {
			c.nextToken = 0
		}
		c.nextToken++
		token := Token(c.nextToken)
		if _, live := c.tokens[token]; !live {
			return token, nil
		}
	}
	return 0, fmt.Errorf("%w: token space exhausted", ErrFailed)
}

// insert adds a record for a successful registration. The caller holds
// c.mu.
func (c *Client) insert(token Token, name string, kind Kind) *tokenRecord {
	record := &tokenRecord{
		id:   token,
		name: c.retainName(name, token),
		kind: kind,
	}
	c.tokens[token] = record
	return record
}

// remove takes token out of the table and drops its name reference.
// Resources are released now, or when the last lease ends. The caller
// holds c.mu.
func (c *Client) remove(record *tokenRecord) {
	delete(c.tokens, record.id)
	c.releaseName(record.name, record.id)
	record.removed = true
	if record.leases == 0 {
		c.finalize(record)
	}
}

// lease returns the record for token with a lease held. The caller
// holds c.mu and must pair it with unlease.
func (c *Client) lease(token Token) (*tokenRecord, bool) {
	record, ok := c.tokens[token]
	if !ok {
		return nil, false
	}
	record.leases++
	return record, true
}

// unlease ends a lease taken with lease. It takes c.mu.
func (c *Client) unlease(record *tokenRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record.leases--
	if record.removed && record.leases == 0 {
		c.finalize(record)
	}
}

// finalize releases a removed record's descriptors. The caller holds
// c.mu.
func (c *Client) finalize(record *tokenRecord) {
	switch {
	case record.self != nil:
		if err := record.self.pair.Close(); err != nil {
			c.logger.Debug("closing self registration descriptors", "token", record.id, "error", err)
		}
	case record.broker != nil:
		c.releaseResources(record.broker)
	}
}

// releaseResources drops a broker registration's ledger references.
// The caller holds c.mu.
func (c *Client) releaseResources(registration *brokerRegistration) {
	if registration.resourceLedger != nil && registration.resource >= 0 {
		if _, err := registration.resourceLedger.Release(registration.resource, ledger.ReleaseBorrowed); err != nil {
			c.logger.Warn("releasing registration resource", "handle", registration.resource, "error", err)
		}
		registration.resource = -1
		registration.peer = -1
	}
	if registration.multiplexed {
		c.releaseMultiplexer()
		registration.multiplexed = false
	}
}

// IsValidToken reports whether token is live.
func (c *Client) IsValidToken(token Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tokens[token]
	return ok
}

// lookup returns the live record for token or ErrInvalidToken. The
// caller holds c.mu.
func (c *Client) lookup(token Token) (*tokenRecord, error) {
	record, ok := c.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidToken, token)
	}
	return record, nil
}
