// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for notify packages.
//
// [SocketDir] creates a short temporary directory for Unix sockets,
// whose paths are limited to 108 bytes (sun_path). t.TempDir() paths
// are often longer than that.
//
// [RequireReceive], [RequireClosed] and [RequireEventually] wrap the
// timeout safety valve (select against time.After) so that individual
// tests never call time.After themselves. These helpers are the only
// place in the test suite that waits on the wall clock.
//
// All helpers call t.Fatalf on failure.
package testutil
