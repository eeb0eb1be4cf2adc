// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitError carries a specific exit status out of run(). Fatal exits
// with Code instead of 1. A nil Err exits silently.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Fatal writes "error: err" to stderr and exits. Use it in main() for
// errors returned by run().
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

// report writes err to w and returns the exit status for it.
func report(w io.Writer, err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(w, "error: %v\n", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
