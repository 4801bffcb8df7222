// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded message types for the
// client↔broker Unix socket protocol. The socket session in lib/broker,
// the broker server in the same package, and the test broker all import
// this package so the wire types are defined once.
//
// Every exchange is one connection: the client writes one [Request],
// optionally with descriptors attached as SCM_RIGHTS ancillary data,
// half-closes its write side, and reads one [Response]. Fire-and-forget
// actions ([ActionPostByID]) skip the read.
package ipc
