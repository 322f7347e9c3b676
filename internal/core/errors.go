// Package core implements the arcmig reconciliation engine: signature
// normalization, checksum indexing, manifest handling, migration
// planning, plan execution and tree auditing.
package core

import (
	"errors"
	"fmt"
)

// Error taxonomy. Validation and conflict conditions are collected into
// rejected-entry reports and never stop the batch; concurrency errors
// stop the whole run before any mutation.
var (
	// ErrInvalidSignature is returned when a signature string is empty
	// or reduces to nothing after normalization.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrAlreadyRunning is returned when the exclusive run lock is held
	// by another process. The run must exit immediately, not queue.
	ErrAlreadyRunning = errors.New("another run is already in progress")
)

// IntegrityError reports a checksum mismatch where an exact match was
// required. It is never auto-resolved and is always surfaced for manual
// review.
type IntegrityError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error: %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// AmbiguityError reports that more than one candidate matched where a
// single match was required (e.g. two same-content files competing for
// one manifest name). Ambiguous cases are surfaced, never guessed.
type AmbiguityError struct {
	Subject    string
	Candidates []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous match for %s: %d candidates", e.Subject, len(e.Candidates))
}
