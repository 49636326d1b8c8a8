package ports

import (
	"errors"
	"fmt"

	"github.com/ahrav/go-consensus/internal/domain"
)

// Common pipeline errors shared across stage implementations.
var (
	// ErrNoBracket indicates a root-finding bracket whose endpoints do
	// not straddle a sign change.
	ErrNoBracket = errors.New("no sign change in bracket")

	// ErrNoConvergence indicates an iterative solver that exhausted its
	// iteration budget.
	ErrNoConvergence = errors.New("solver did not converge")

	// ErrEmptyStageName is returned when a stage is constructed with an
	// empty name.
	ErrEmptyStageName = errors.New("stage name cannot be empty")

	// ErrSnapshotClosed indicates a read from a snapshot whose backing
	// handle was already released.
	ErrSnapshotClosed = errors.New("snapshot closed")
)

// StageError wraps a failure inside one pipeline stage with the stage
// and criterion it occurred on.
type StageError struct {
	// Stage is the name of the stage that failed.
	Stage string

	// Criterion is the criterion being processed when the failure
	// occurred.
	Criterion domain.Criterion

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for StageError.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s (criterion %s): %v", e.Stage, e.Criterion, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }
