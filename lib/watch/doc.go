// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package watch detects a broker restart by watching for its socket to
// be created again.
//
// A restarted broker removes its stale socket and binds a new one.
// [Watcher] installs an inotify watch on the socket's directory and
// calls a function every time a file with the socket's name is created
// or moved into place. The watch survives any number of restarts and
// runs until [Watcher.Stop].
package watch
