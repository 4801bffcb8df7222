// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/notify/lib/endpoint"
)

// registerSelf inserts an in-process registration. Self registrations
// hold no ledger references and are never replayed. Every kind starts
// posted, so its first Check reports true. The caller holds c.mu.
func (c *Client) registerSelf(token Token, name string, registration *selfRegistration, cb *callback) Token {
	registration.posted = true
	if registration.pair == (endpoint.Pair{}) {
		registration.pair = endpoint.Pair{Receive: -1, Send: -1}
	}
	record := c.insert(token, name, KindSelfProcess)
	record.self = registration
	record.callback = cb
	return token
}

// postSelf delivers name to its in-process registrations. The caller
// holds c.mu.
func (c *Client) postSelf(name string) {
	names, ok := c.names[name]
	if !ok {
		return
	}
	for token := range names.members {
		record := c.tokens[token]
		if record == nil || record.self == nil {
			continue
		}
		if record.self.suspended {
			record.self.pending = true
			continue
		}
		c.deliverSelf(record)
	}
}

// deliverSelf performs one delivery. The caller holds c.mu.
func (c *Client) deliverSelf(record *tokenRecord) {
	registration := record.self
	registration.posted = true

	if record.callback != nil {
		c.dispatcher.Wake(int32(record.id))
		return
	}

	var err error
	switch registration.delivery {
	case KindSignal:
		err = unix.Kill(os.Getpid(), registration.signal)
	case KindPort, KindFile:
		err = endpoint.WriteWake(registration.pair.Send, int32(record.id))
	}
	if err != nil {
		c.logger.Debug("in-process delivery failed",
			"token", record.id,
			"name", record.name.name,
			"error", err,
		)
	}
}
