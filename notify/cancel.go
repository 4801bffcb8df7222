// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
)

// Cancel ends a registration. It always succeeds for a live token:
// the broker is told best-effort and its answer is ignored. Descriptors
// the registration held are closed once no other registration and no
// in-flight delivery uses them.
func (c *Client) Cancel(ctx context.Context, token Token) error {
	// c.mu is held throughout so a concurrent Post never uses the id
	// cache of a name whose last token is going away.
	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.lookup(token)
	if err != nil {
		return err
	}
	registration := record.broker
	c.remove(record)

	if registration != nil {
		if err := c.session.Cancel(ctx, registration.clientID); err != nil {
			c.logger.Debug("broker cancel failed", "token", token, "name", record.name.name, "error", err)
		}
	}
	return nil
}
