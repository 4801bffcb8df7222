// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/bureau-foundation/notify/lib/ipc"
)

// These variables are set via -ldflags at build time, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/notify/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

// Info returns a formatted version string suitable for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, GitCommit, dirty, BuildTime)
}

// Full returns Info plus the Go version, platform and broker protocol
// version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s\n  Broker protocol: %d",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH, ipc.Version)
}

// Print writes "binary Info()" to stdout.
func Print(binary string) {
	Fprint(os.Stdout, binary)
}

// Fprint writes "binary Info()" to w.
func Fprint(w io.Writer, binary string) {
	fmt.Fprintf(w, "%s %s\n", binary, Info())
}
