// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package brokertest provides an in-memory broker for tests and for the
// mock broker binary.
//
// [Broker] implements broker.Session with real delivery: port and file
// registrations receive wakes on the descriptor they registered,
// signal registrations receive the signal, and check registrations see
// their counter slot incremented in a shared counter file. Every call
// is counted per action so tests can assert exactly which RPCs a client
// made. [Broker.Restart] simulates a crash and restart: registrations
// and name ids are forgotten and the process id changes.
//
// [Serve] exposes a Broker on a Unix socket through broker.Server for
// end-to-end tests.
package brokertest
