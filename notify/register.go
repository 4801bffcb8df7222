// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/notify/lib/endpoint"
	"github.com/bureau-foundation/notify/lib/ledger"
)

// beginRegistration validates name, resolves the broker for non-self
// names and allocates the token the registration will carry. The caller
// holds c.mu.
func (c *Client) beginRegistration(ctx context.Context, name string) (Token, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	if !isSelfName(name) {
		if err := c.ensureSession(ctx); err != nil {
			return 0, err
		}
	}
	return c.allocateToken()
}

// RegisterPlain registers name with no delivery. The token can carry a
// state value and be used with Post fan-out bookkeeping.
func (c *Client) RegisterPlain(ctx context.Context, name string) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := c.beginRegistration(ctx, name)
	if err != nil {
		return 0, err
	}
	if isSelfName(name) {
		return c.registerSelf(token, name, &selfRegistration{delivery: KindPlain}, nil), nil
	}

	clientID, err := c.session.RegisterPlain(ctx, name, int32(token))
	if err != nil {
		return 0, wrapBroker("register plain", err)
	}
	record := c.insert(token, name, KindPlain)
	record.broker = &brokerRegistration{clientID: clientID, resource: -1, peer: -1}
	return token, nil
}

// RegisterSignal registers name for delivery by raising signal on this
// process.
func (c *Client) RegisterSignal(ctx context.Context, name string, signal unix.Signal) (Token, error) {
	if signal <= 0 || signal > 64 {
		return 0, fmt.Errorf("%w: invalid signal %d", ErrInvalidRequest, int(signal))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := c.beginRegistration(ctx, name)
	if err != nil {
		return 0, err
	}
	if isSelfName(name) {
		return c.registerSelf(token, name, &selfRegistration{delivery: KindSignal, signal: signal}, nil), nil
	}

	clientID, err := c.session.RegisterSignal(ctx, name, int(signal), int32(token))
	if err != nil {
		return 0, wrapBroker("register signal", err)
	}
	record := c.insert(token, name, KindSignal)
	record.broker = &brokerRegistration{clientID: clientID, signal: signal, resource: -1, peer: -1}
	return token, nil
}

// RegisterPort registers name for delivery on a socketpair endpoint and
// returns the endpoint's receive descriptor. Each delivery is one
// 4-byte big-endian token id. The descriptor stays open until every
// registration using it is cancelled.
func (c *Client) RegisterPort(ctx context.Context, name string, options PortOptions) (Token, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := c.beginRegistration(ctx, name)
	if err != nil {
		return 0, -1, err
	}
	if isSelfName(name) {
		if options.ReuseEndpoint {
			return 0, -1, fmt.Errorf("%w: in-process names always allocate their own endpoint", ErrInvalidPort)
		}
		pair, err := endpoint.NewSocketPair()
		if err != nil {
			return 0, -1, fmt.Errorf("%w: %w", ErrFailed, err)
		}
		c.registerSelf(token, name, &selfRegistration{delivery: KindPort, pair: pair}, nil)
		return token, pair.Receive, nil
	}

	receive, err := c.registerDescriptor(ctx, token, name, KindPort, c.endpoints,
		options.ReuseEndpoint, options.Endpoint, endpoint.NewSocketPair, ErrInvalidPort)
	if err != nil {
		return 0, -1, err
	}
	return token, receive, nil
}

// RegisterFile registers name for delivery on a pipe and returns the
// pipe's read descriptor. Each delivery is one 4-byte big-endian token
// id.
func (c *Client) RegisterFile(ctx context.Context, name string, options FileOptions) (Token, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := c.beginRegistration(ctx, name)
	if err != nil {
		return 0, -1, err
	}
	if isSelfName(name) {
		if options.ReuseDescriptor {
			return 0, -1, fmt.Errorf("%w: in-process names always allocate their own pipe", ErrInvalidFile)
		}
		pair, err := endpoint.NewPipe()
		if err != nil {
			return 0, -1, fmt.Errorf("%w: %w", ErrFailed, err)
		}
		c.registerSelf(token, name, &selfRegistration{delivery: KindFile, pair: pair}, nil)
		return token, pair.Receive, nil
	}

	receive, err := c.registerDescriptor(ctx, token, name, KindFile, c.pipes,
		options.ReuseDescriptor, options.Descriptor, endpoint.NewPipe, ErrInvalidFile)
	if err != nil {
		return 0, -1, err
	}
	return token, receive, nil
}

// registerDescriptor acquires a descriptor pair through resources,
// registers it with the broker and inserts the token. Every
// acquisition is undone if the broker refuses. The caller holds c.mu.
func (c *Client) registerDescriptor(
	ctx context.Context,
	token Token,
	name string,
	kind Kind,
	resources *ledger.Ledger,
	reuse bool,
	reuseHandle int,
	allocate func() (endpoint.Pair, error),
	invalid error,
) (int, error) {
	var receive, peer int
	if reuse {
		entry, ok := resources.Lookup(reuseHandle)
		if !ok || !entry.OwnsReceive || entry.Peer < 0 {
			return -1, fmt.Errorf("%w: descriptor %d was not allocated by this client", invalid, reuseHandle)
		}
		receive, peer = reuseHandle, entry.Peer
	} else {
		pair, err := allocate()
		if err != nil {
			return -1, fmt.Errorf("%w: %w", ErrFailed, err)
		}
		receive, peer = pair.Receive, pair.Send
	}
	resources.Retain(receive, true, peer)

	registration := &brokerRegistration{
		clientID:       uint64(token),
		resourceLedger: resources,
		resource:       receive,
		peer:           peer,
	}

	target := peer
	if c.multiplex {
		mux, err := c.retainMultiplexer()
		if err != nil {
			c.releaseResources(registration)
			return -1, err
		}
		registration.multiplexed = true
		target = mux.pair.Send
	}

	var err error
	if kind == KindPort {
		err = c.session.RegisterPort(ctx, name, target, int32(token))
	} else {
		err = c.session.RegisterFile(ctx, name, target, int32(token))
	}
	if err != nil {
		c.releaseResources(registration)
		return -1, wrapBroker("register "+kind.String(), err)
	}

	record := c.insert(token, name, kind)
	record.broker = registration
	return receive, nil
}

// RegisterCheck registers name for delivery through a shared counter.
// Use Check to see whether the name was posted.
func (c *Client) RegisterCheck(ctx context.Context, name string) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := c.beginRegistration(ctx, name)
	if err != nil {
		return 0, err
	}
	if isSelfName(name) {
		return c.registerSelf(token, name, &selfRegistration{delivery: KindMemorySlot}, nil), nil
	}

	registration, err := c.session.RegisterCheck(ctx, name, int32(token))
	if err != nil {
		return 0, wrapBroker("register check", err)
	}
	if err := c.mapCounters(registration.SharedMemorySize); err != nil {
		if cancelErr := c.session.Cancel(ctx, uint64(token)); cancelErr != nil {
			c.logger.Debug("cancel after failed mapping", "token", token, "error", cancelErr)
		}
		return 0, err
	}

	record := c.insert(token, name, KindMemorySlot)
	record.broker = &brokerRegistration{
		clientID: uint64(token),
		resource: -1,
		peer:     -1,
		slot:     registration.SlotIndex,
		fresh:    true,
	}
	if registration.NameID != 0 {
		record.name.setID(registration.NameID)
	}
	return token, nil
}
