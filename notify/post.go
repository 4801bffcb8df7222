// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
)

// fetchIDAfter returns the post count at which a name's id is fetched.
func (c *Client) fetchIDAfter() int {
	return max(c.config.Client.FetchIDAfter, 2)
}

// Post posts name to every registration on it, in any process.
//
// For a name this process has registered, the first post sends the
// name, the post that reaches the fetch threshold also fetches the
// name's numeric id, and later posts send only the id without waiting
// for the broker. Names with no live registration here are always
// posted by name and nothing is cached for them.
func (c *Client) Post(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	c.mu.Lock()
	if isSelfName(name) {
		c.postSelf(name)
		c.mu.Unlock()
		return nil
	}
	if err := c.ensureSession(ctx); err != nil {
		c.mu.Unlock()
		return err
	}

	record, ok := c.names[name]
	if !ok {
		c.mu.Unlock()
		if err := c.session.PostByName(ctx, name); err != nil {
			return wrapBroker("post", err)
		}
		return nil
	}

	switch record.idState {
	case idValue:
		id := record.id
		c.mu.Unlock()
		if err := c.session.PostByID(ctx, id); err != nil {
			return wrapBroker("post by id", err)
		}
		return nil

	case idSeenOnce:
		if record.posts+1 >= c.fetchIDAfter() {
			defer c.mu.Unlock()
			id, err := c.session.PostAndFetchID(ctx, name)
			if err != nil {
				return wrapBroker("post and fetch id", err)
			}
			record.posts++
			record.setID(id)
			return nil
		}
	}

	// Unset, or seen but still below the fetch threshold.
	defer c.mu.Unlock()
	if err := c.session.PostByName(ctx, name); err != nil {
		return wrapBroker("post", err)
	}
	record.posts++
	record.idState = idSeenOnce
	return nil
}
