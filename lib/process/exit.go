// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitCoder is implemented by errors that choose their own exit code.
type ExitCoder interface {
	ExitCode() int
}

// ExitError carries an exit code without a message, for commands whose
// result is the exit status itself.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// ExitCode implements ExitCoder.
func (e *ExitError) ExitCode() int { return e.Code }

// ExitCode returns the exit code for err: 0 for nil, the code chosen
// by an ExitCoder anywhere in the chain, and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// Exit exits with ExitCode(err), reporting err on stderr unless it
// is an ExitError.
func Exit(err error) {
	os.Exit(report(os.Stderr, err))
}

// report writes err to w unless it is nil or a bare ExitError, and
// returns the exit code.
func report(w io.Writer, err error) int {
	code := ExitCode(err)
	if err == nil {
		return code
	}
	var bare *ExitError
	if !errors.As(err, &bare) {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	if code == 0 {
		code = 1
	}
	return code
}
