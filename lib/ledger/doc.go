// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ledger reference-counts descriptors that several
// registrations share.
//
// Many notify registrations can end up on one physical resource: a
// caller registers a second name on an endpoint it already has, or every
// callback registration rides the one multiplex endpoint. A [Ledger]
// keeps one entry per distinct receive descriptor and releases the
// descriptor exactly once, when the last registration lets go.
//
// Each entry records whether this process allocated the receive side
// (and must close it) or only borrowed it, plus an optional peer
// descriptor: the send side the client keeps so it can hand the
// resource to a restarted broker. The peer is a borrowed reference in
// the sense that the broker holds its own copy; it is closed only when
// the final [Ledger.Release] carries [ReleaseBorrowed]. The two are
// released independently because one registration may own a private
// endpoint while also borrowing the shared multiplex channel.
//
// The client keeps two ledgers, one for endpoints and one for pipes.
// Ledger methods lock internally and do not need to be atomic with the
// client's token table.
package ledger
