// Package ports defines the core interfaces that form the contract
// between the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the pipeline
// testable.
package ports

import (
	"context"

	"github.com/ahrav/go-consensus/internal/domain"
)

// Stage is one step of the per-criterion score pipeline. Each Stage
// reads the fields of the state produced by its predecessors and returns
// a state with its own fields filled in.
// Stages must be stateless after construction and safe for concurrent
// execution across criteria.
type Stage interface {
	// Name returns a unique identifier for this stage, used for
	// logging, metrics labels, and error reporting.
	Name() string

	// Execute runs the stage on the provided state and returns the
	// resulting state. The input state must not be mutated; stage
	// outputs go into fresh collections.
	// Stages should respect context cancellation and return promptly.
	Execute(ctx context.Context, state domain.State) (domain.State, error)

	// Validate checks that the stage is properly configured and ready
	// for execution. It is called during pipeline construction.
	Validate() error
}
