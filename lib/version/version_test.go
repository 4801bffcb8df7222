// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"bytes"
	"strings"
	"testing"
)

func TestInfoMarksDirtyBuilds(t *testing.T) {
	saved := []string{GitCommit, GitDirty, BuildTime, Version}
	t.Cleanup(func() {
		GitCommit, GitDirty, BuildTime, Version = saved[0], saved[1], saved[2], saved[3]
	})

	GitCommit, BuildTime, Version = "abc1234", "2026-01-02T03:04:05Z", "1.2.3"

	GitDirty = "false"
	if got, want := Info(), "1.2.3 (abc1234, 2026-01-02T03:04:05Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
	GitDirty = "true"
	if got, want := Info(), "1.2.3 (abc1234-dirty, 2026-01-02T03:04:05Z)"; got != want {
		t.Errorf("Info() = %q, want %q", got, want)
	}
}

func TestFullIncludesProtocol(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, Info()) {
		t.Errorf("Full() = %q does not start with Info()", full)
	}
	if !strings.Contains(full, "Broker protocol: 1") {
		t.Errorf("Full() = %q is missing the protocol version", full)
	}
}

func TestFprint(t *testing.T) {
	var buffer bytes.Buffer
	Fprint(&buffer, "notifyutil")
	if got, want := buffer.String(), "notifyutil "+Info()+"\n"; got != want {
		t.Errorf("Fprint wrote %q, want %q", got, want)
	}
}
