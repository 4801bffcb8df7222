// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch runs notification callbacks.
//
// A [Queue] runs submitted functions one at a time, in submission
// order, on a goroutine it starts when work arrives and lets exit when
// the backlog drains. Each callback registration may name its own
// Queue; registrations sharing a Queue never run concurrently.
//
// A [Dispatcher] consumes wakes addressed by token id. It resolves the
// token to a [Delivery] through a caller-supplied [Resolver], submits
// the handler to the delivery's queue, and calls the resolver's
// release function once the handler has returned. Wakes for
// [WatchToken] invoke the dispatcher's watch function instead.
package dispatch
