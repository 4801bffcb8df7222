// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package endpoint allocates the kernel resources that carry wakes from
// the broker to a client, and defines the wake wire format.
//
// Two resource shapes exist:
//
//   - [NewSocketPair]: an AF_UNIX SOCK_SEQPACKET pair, the client's
//     "port". Message boundaries are preserved, so one read returns one
//     wake.
//   - [NewPipe]: a pipe2 pair for file-descriptor delivery. Reads may
//     return several wakes at once; [DecodeTokens] splits them.
//
// In both cases the client keeps [Pair].Receive and hands [Pair].Send to
// the broker. Send is non-blocking: when the reader falls behind and the
// buffer is full, further wakes are dropped rather than stalling the
// writer, which matches the coalescing semantics of a notification.
//
// A wake is the token id as four bytes, big-endian.
package endpoint
