package cmd

import (
	"errors"
	"fmt"
)

// exitCodeError carries a process exit code up through cobra's RunE chain.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error {
	return e.err
}

// exitError creates an error that causes the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &exitCodeError{code: code, err: fmt.Errorf("%s: %w", message, err)}
}

// exitCode extracts the exit code from err, defaulting to 1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded *exitCodeError
	if errors.As(err, &coded) {
		return coded.code
	}
	return 1
}
