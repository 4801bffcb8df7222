// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the notify binaries:
// fatal error reporting to stderr before a logger exists, and mapping
// an error from run() to a process exit code.
//
// Together with lib/version this is the only non-CLI code that writes
// to stderr or stdout directly.
package process
