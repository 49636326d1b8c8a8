// Package stages implements the score pipeline's computation stages:
// trust propagation, voting rights, preference learning, scale
// calibration, normalization, aggregation, and display squashing.
// Every stage satisfies ports.Stage, is stateless after construction,
// and is safe for concurrent execution across criteria.
package stages

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// Common errors returned by pipeline stages.
var (
	// ErrMissingTrust is returned when a stage requiring trust scores
	// runs before trust propagation.
	ErrMissingTrust = errors.New("trust scores not present in state")

	// ErrMissingModels is returned when a stage requiring user models
	// runs before preference learning.
	ErrMissingModels = errors.New("user models not present in state")

	// ErrMissingVotingRights is returned when a stage requiring voting
	// rights runs before the voting-rights stage.
	ErrMissingVotingRights = errors.New("voting rights not present in state")

	// ErrNonPositiveMultiplier indicates a scaling whose multiplier
	// collapsed to zero or below; multipliers are strictly positive by
	// construction.
	ErrNonPositiveMultiplier = errors.New("scaling multiplier must be positive")
)

// Package-level validator instance for stage configuration validation.
var validate = validator.New()
