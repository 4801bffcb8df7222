// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/bureau-foundation/notify/lib/broker"
	"github.com/bureau-foundation/notify/lib/shm"
)

// Regenerate replays every broker-backed registration if the broker has
// restarted since it was last resolved. It returns ErrInvalidRequest
// when the broker has not restarted; in that case no registration
// requests are made, and no request at all when the counter array is
// mapped. The client maps it on resolution whenever the broker
// publishes one.
//
// Registrations the new broker refuses are logged and stay in the token
// table. Cached name ids are dropped, except ones the replayed check
// registrations report again.
func (c *Client) Regenerate(ctx context.Context) error {
	c.mu.Lock()
	if !c.resolved {
		c.mu.Unlock()
		return fmt.Errorf("%w: broker has not been resolved", ErrInvalidRequest)
	}
	cached := c.identity.ProcessID
	counters := c.counters
	c.mu.Unlock()

	if counters != nil {
		if pid, ok := counters.Load(shm.BrokerSlot); ok && int(pid) == cached {
			return fmt.Errorf("%w: broker %d has not restarted", ErrInvalidRequest, cached)
		}
	}

	// The new broker may not be accepting connections yet, so the probe
	// retries without holding c.mu.
	identity, err := c.probeIdentity(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.resolved {
		return fmt.Errorf("%w: client was reset", ErrInvalidRequest)
	}
	if identity.ProcessID == c.identity.ProcessID {
		return fmt.Errorf("%w: broker %d has not restarted", ErrInvalidRequest, identity.ProcessID)
	}
	if err := c.acceptIdentity(identity); err != nil {
		return err
	}

	c.logger.Info("broker restarted, regenerating registrations",
		"previous_pid", c.identity.ProcessID,
		"pid", identity.ProcessID,
		"tokens", len(c.tokens),
	)
	c.identity = identity
	c.replay(ctx)
	return nil
}

// probeIdentity asks the broker for its identity, retrying with
// exponential backoff while it is unreachable.
func (c *Client) probeIdentity(ctx context.Context) (broker.Identity, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.Regeneration.InitialInterval
	policy.MaxInterval = c.config.Regeneration.MaxInterval
	policy.MaxElapsedTime = c.config.Regeneration.MaxElapsed
	policy.Clock = c.clock
	policy.Reset()
	retry := backoff.WithContext(policy, ctx)

	for attempt := 1; ; attempt++ {
		identity, err := c.session.Identity(ctx)
		if err == nil {
			return identity, nil
		}
		var rejected *broker.Error
		if errors.As(err, &rejected) {
			return broker.Identity{}, wrapBroker("resolving broker", err)
		}

		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			return broker.Identity{}, wrapBroker("resolving restarted broker", err)
		}
		c.logger.Debug("broker not reachable, retrying",
			"attempt", attempt,
			"retry_in", wait,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return broker.Identity{}, wrapBroker("resolving restarted broker", ctx.Err())
		case <-c.clock.After(wait):
		}
	}
}

// replay re-registers every broker-backed token in token order. The
// caller holds c.mu.
func (c *Client) replay(ctx context.Context) {
	// The new broker recreated the counter array. Check registrations
	// remap it at their size; otherwise only slot 0 is mapped again.
	if c.counters != nil {
		if err := c.counters.Close(); err != nil {
			c.logger.Debug("unmapping counter array", "error", err)
		}
		c.counters = nil
	}
	for _, record := range c.names {
		record.resetIDs()
	}

	replayed, failed := 0, 0
	for _, id := range c.sortedTokens() {
		record := c.tokens[id]
		registration := record.broker
		if registration == nil {
			continue
		}
		if err := c.reregister(ctx, record); err != nil {
			failed++
			c.logger.Warn("re-registering after broker restart",
				"token", id,
				"name", record.name.name,
				"kind", record.kind.String(),
				"error", err,
			)
			continue
		}
		replayed++

		if registration.stateSet {
			if err := c.session.SetState(ctx, registration.clientID, registration.state); err != nil {
				c.logger.Warn("restoring state after broker restart", "token", id, "error", err)
			}
		}
		if registration.suspended {
			if err := c.session.Suspend(ctx, registration.clientID); err != nil {
				c.logger.Warn("restoring suspension after broker restart", "token", id, "error", err)
			}
		}
	}
	c.mapIdentitySlot()
	c.logger.Info("regeneration complete", "replayed", replayed, "failed", failed)
}

// reregister issues record's registration again. The caller holds c.mu.
func (c *Client) reregister(ctx context.Context, record *tokenRecord) error {
	registration := record.broker
	name := record.name.name
	token := int32(record.id)

	switch record.kind {
	case KindPlain:
		clientID, err := c.session.RegisterPlain(ctx, name, token)
		if err != nil {
			return err
		}
		registration.clientID = clientID

	case KindSignal:
		clientID, err := c.session.RegisterSignal(ctx, name, int(registration.signal), token)
		if err != nil {
			return err
		}
		registration.clientID = clientID

	case KindPort, KindFile:
		target := registration.peer
		if registration.multiplexed {
			if c.mux == nil {
				return errors.New("multiplex channel is gone")
			}
			target = c.mux.pair.Send
		}
		if target < 0 {
			return errors.New("registration has no descriptor to send")
		}
		if record.kind == KindPort {
			return c.session.RegisterPort(ctx, name, target, token)
		}
		return c.session.RegisterFile(ctx, name, target, token)

	case KindMemorySlot:
		result, err := c.session.RegisterCheck(ctx, name, token)
		if err != nil {
			return err
		}
		if err := c.mapCounters(result.SharedMemorySize); err != nil {
			return err
		}
		registration.slot = result.SlotIndex
		registration.fresh = true
		if result.NameID != 0 {
			record.name.setID(result.NameID)
		}

	default:
		return fmt.Errorf("kind %s cannot be re-registered", record.kind)
	}
	return nil
}
