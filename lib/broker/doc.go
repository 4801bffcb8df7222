// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker is the client's view of the notification broker.
//
// [Session] is the complete RPC surface the client library consumes:
// registration by delivery kind, the three post paths, cancellation,
// per-registration state and suspension, and the broker's identity.
// The notify package depends only on this interface.
//
// [SocketSession] implements Session over the broker's Unix socket using
// the CBOR protocol in lib/ipc. Each call is one connection. Descriptors
// for port and file registrations travel as SCM_RIGHTS ancillary data,
// so the broker receives its own copy and the client keeps its own.
//
// [Server] is the other end: it accepts connections, decodes requests,
// reads peer credentials and attached descriptors, and forwards each
// request to a Session backend. The test broker and the mock broker
// binary serve an in-memory backend through it.
//
// [IsBrokerProcess] is the best-effort check the client uses to refuse
// registering from inside the broker itself.
package broker
