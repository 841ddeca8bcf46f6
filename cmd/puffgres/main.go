// Command puffgres runs the CDC pipeline from Postgres logical
// replication into turbopuffer namespaces (spec.md 6): apply mapping
// files, run the live pipeline, backfill a relation, inspect status,
// and manage the dead-letter queue.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "puffgres:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor implements spec.md 6's exit-code contract: 0 success
// (handled by Execute returning nil), 1 user error (bad flags, a
// rejected mapping), 2 runtime failure (a database or target error
// surfaced after startup).
func exitCodeFor(err error) int {
	if _, ok := err.(*userError); ok {
		return 1
	}
	return 2
}

// userError marks an error as a usage/validation mistake rather than
// a runtime failure, for exitCodeFor's classification.
type userError struct{ cause error }

func (e *userError) Error() string { return e.cause.Error() }
func (e *userError) Unwrap() error { return e.cause }

func userErr(err error) error {
	if err == nil {
		return nil
	}
	return &userError{cause: err}
}
