// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package notify is the client library for the notification broker.
//
// Processes register interest in named events and post events under
// those names. A registration returns a [Token] and delivers through
// one of several mechanisms:
//
//   - plain: no delivery; the registration exists for its state value
//   - signal: the broker raises a signal on this process
//   - port: a wake message on a socketpair endpoint
//   - file: a wake written to a pipe
//   - check: a counter slot in a shared read-only array, polled with
//     [Client.Check]
//   - dispatch: a callback run on a [dispatch.Queue]
//
// Names beginning with [SelfPrefix] never reach the broker. They are
// delivered within this process.
//
// A [Client] owns all per-process state: the token table, the name
// registry with its cached numeric ids, the descriptor ledgers, and
// the cached broker identity. Most programs use [Default]. [Client.Reset]
// returns a client to empty, for example in a forked child.
//
// # Posting
//
// [Client.Post] avoids round trips for frequently posted names. The
// first post of a registered name sends the name string. A later post
// sends the name and fetches the broker's numeric id for it, and every
// post after that sends only the id without waiting for a reply.
//
// # Broker restarts
//
// The broker keeps registrations in memory. When it restarts,
// [Client.Regenerate] replays every broker-backed registration against
// the new instance, restoring state values and suspension. With
// auto-regeneration enabled a watcher triggers this when the broker's
// socket reappears; [Client.Check] also triggers it when the shared
// counter array reports a different broker process.
package notify
