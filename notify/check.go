// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/notify/lib/shm"
)

// Check reports whether token's name was posted since the previous
// Check. The first Check of a registration reports true.
//
// Check registrations and in-process registrations of any kind support
// Check.
// For check registrations no broker round trip is made unless the
// counter array shows that the broker restarted, in which case the
// client regenerates first and reports true.
func (c *Client) Check(ctx context.Context, token Token) (bool, error) {
	if err := c.verifyBroker(ctx); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.lookup(token)
	if err != nil {
		return false, err
	}
	if record.self != nil {
		posted := record.self.posted
		record.self.posted = false
		return posted, nil
	}
	if record.kind != KindMemorySlot {
		return false, fmt.Errorf("%w: token %d is a %s registration", ErrInvalidRequest, token, record.kind)
	}

	registration := record.broker
	if c.counters == nil {
		return false, fmt.Errorf("%w: counter array is not mapped", ErrFailed)
	}
	value, ok := c.counters.Load(registration.slot)
	if !ok {
		return false, fmt.Errorf("%w: slot %d is outside the counter array", ErrFailed, registration.slot)
	}
	if registration.fresh {
		registration.fresh = false
		registration.lastValue = value
		return true, nil
	}
	changed := value != registration.lastValue
	registration.lastValue = value
	return changed, nil
}

// verifyBroker regenerates if the counter array names a different
// broker process than the cached identity.
func (c *Client) verifyBroker(ctx context.Context) error {
	c.mu.Lock()
	counters := c.counters
	cached := c.identity.ProcessID
	c.mu.Unlock()

	if counters == nil {
		return nil
	}
	pid, ok := counters.Load(shm.BrokerSlot)
	if !ok || int(pid) == cached {
		return nil
	}
	err := c.Regenerate(ctx)
	if err != nil && !errors.Is(err, ErrInvalidRequest) {
		return err
	}
	return nil
}

// mapIdentitySlot maps at least slot 0 of the counter array so restarts
// can be detected without a request. A broker without a counter array
// is not an error. The caller holds c.mu.
func (c *Client) mapIdentitySlot() {
	if c.counters != nil {
		return
	}
	if err := c.mapCounters(shm.SlotSize); err != nil {
		c.logger.Debug("counter array not mapped", "path", c.config.Broker.SharedMemoryPath, "error", err)
	}
}

// mapCounters maps the counter array if it is not mapped or has grown
// past size. The caller holds c.mu.
func (c *Client) mapCounters(size int) error {
	if c.counters != nil && c.counters.Size() >= size-size%shm.SlotSize {
		return nil
	}
	counters, err := shm.Map(c.config.Broker.SharedMemoryPath, size)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailed, err)
	}
	if c.counters != nil {
		if err := c.counters.Close(); err != nil {
			c.logger.Debug("unmapping old counter array", "error", err)
		}
	}
	c.counters = counters
	return nil
}
