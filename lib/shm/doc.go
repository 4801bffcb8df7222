// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package shm maps the broker's shared counter array.
//
// The broker keeps one uint32 counter per checked name in a file and
// increments it on every post. Clients map the file read-only and
// compare a slot against the value they last saw, which answers "did
// anything happen?" without a round trip. Slot 0 holds the broker's
// process id so a client can notice a restarted broker by reading
// memory.
//
// Counters are stored in host byte order and accessed atomically. The
// writer side ([Create]) exists for the test broker and the mock broker
// binary.
package shm
