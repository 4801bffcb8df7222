// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
)

// GetState returns the state value of token's name. State is shared by
// every registration of the name in every process.
func (c *Client) GetState(ctx context.Context, token Token) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.lookup(token)
	if err != nil {
		return 0, err
	}
	if record.self != nil {
		return record.name.selfState, nil
	}
	value, err := c.session.GetState(ctx, record.broker.clientID)
	if err != nil {
		return 0, wrapBroker("get state", err)
	}
	return value, nil
}

// SetState sets the state value of token's name. The value is kept
// locally and restored if the broker restarts.
func (c *Client) SetState(ctx context.Context, token Token, value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.lookup(token)
	if err != nil {
		return err
	}
	if record.self != nil {
		record.name.selfState = value
		return nil
	}
	registration := record.broker
	if err := c.session.SetState(ctx, registration.clientID, value); err != nil {
		return wrapBroker("set state", err)
	}
	registration.state = value
	registration.stateTime = c.clock.Now()
	registration.stateSet = true
	return nil
}

// Suspend holds deliveries for token. Posts while suspended coalesce
// into a single delivery on Resume.
func (c *Client) Suspend(ctx context.Context, token Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.lookup(token)
	if err != nil {
		return err
	}
	if record.self != nil {
		record.self.suspended = true
		return nil
	}
	if err := c.session.Suspend(ctx, record.broker.clientID); err != nil {
		return wrapBroker("suspend", err)
	}
	record.broker.suspended = true
	return nil
}

// Resume releases deliveries held by Suspend.
func (c *Client) Resume(ctx context.Context, token Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.lookup(token)
	if err != nil {
		return err
	}
	if record.self != nil {
		record.self.suspended = false
		if record.self.pending {
			record.self.pending = false
			c.deliverSelf(record)
		}
		return nil
	}
	if err := c.session.Resume(ctx, record.broker.clientID); err != nil {
		return wrapBroker("resume", err)
	}
	record.broker.suspended = false
	return nil
}
