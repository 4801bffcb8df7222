// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// notifyutil posts, waits for and inspects notification names from the
// shell.
//
//	notifyutil post NAME...
//	notifyutil wait [--count N] [--timeout D] NAME
//	notifyutil get NAME
//	notifyutil set NAME VALUE
//	notifyutil check [--interval D] [--timeout D] NAME
//
// Output is human-readable when stdout is a terminal and one JSON
// object per line otherwise. check exits 0 when the name was posted
// and 1 when the timeout passed first.
package main
