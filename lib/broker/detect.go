// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"
	"os"
	"path/filepath"

	ps "github.com/mitchellh/go-ps"
)

// commLength is the kernel's limit on a process name (TASK_COMM_LEN
// minus the terminator). Process tables report names truncated to it.
const commLength = 15

// IsBrokerProcess reports whether the current process is the broker,
// judged by comparing its executable name with executable. Only the
// base name of executable is used. An empty executable never matches.
func IsBrokerProcess(executable string) (bool, error) {
	if executable == "" {
		return false, nil
	}
	process, err := ps.FindProcess(os.Getpid())
	if err != nil {
		return false, fmt.Errorf("inspecting own process: %w", err)
	}
	if process == nil {
		return false, fmt.Errorf("own process %d not found in process table", os.Getpid())
	}
	return matchesExecutable(process.Executable(), executable), nil
}

func matchesExecutable(actual, executable string) bool {
	want := filepath.Base(executable)
	if len(want) > commLength {
		want = want[:commLength]
	}
	if len(actual) > commLength {
		actual = actual[:commLength]
	}
	return actual == want
}
