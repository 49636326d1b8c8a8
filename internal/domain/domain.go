// Package domain contains pure, dependency-free domain models and types
// for the score pipeline.
package domain

import "fmt"

// UserID uniquely identifies a contributor across pipeline runs.
type UserID string

// EntityID uniquely identifies a rated entity across pipeline runs.
type EntityID string

// Criterion names an independent rating dimension. Every criterion is
// processed by its own pipeline pass.
type Criterion string

// User is a contributor as seen by the pipeline: an identifier, a
// pre-trusted flag, and an optional trust value carried over from a
// previous run. PriorTrust is nil when the user has never been assigned
// a trust score.
type User struct {
	ID         UserID   `json:"id"`
	Pretrusted bool     `json:"pretrusted"`
	PriorTrust *float64 `json:"prior_trust,omitempty"`
}

// Vouch is a directed trust statement from one user to another.
// The (Giver, Receiver) pair is unique within a snapshot.
type Vouch struct {
	Giver    UserID  `json:"giver"`
	Receiver UserID  `json:"receiver"`
	Weight   float64 `json:"weight"`
}

// Comparison is a single pairwise judgment by one user on one criterion.
// Value lies in [-ValueMax, +ValueMax]; a positive value means EntityB is
// preferred over EntityA.
type Comparison struct {
	User     UserID   `json:"user"`
	EntityA  EntityID `json:"entity_a"`
	EntityB  EntityID `json:"entity_b"`
	Value    float64  `json:"value"`
	ValueMax float64  `json:"value_max"`
}

// Validate checks the structural constraints on a comparison: a strictly
// positive ValueMax, a value within range, and distinct entities.
// Structural problems fail loudly at the ingestion boundary rather than
// inside the numerical kernels.
func (c Comparison) Validate() error {
	if c.ValueMax <= 0 {
		return fmt.Errorf("%w: value_max=%g", ErrNonPositiveValueMax, c.ValueMax)
	}
	if c.Value < -c.ValueMax || c.Value > c.ValueMax {
		return fmt.Errorf("%w: value=%g, value_max=%g", ErrValueOutOfRange, c.Value, c.ValueMax)
	}
	if c.EntityA == c.EntityB {
		return fmt.Errorf("%w: entity=%s", ErrSelfComparison, c.EntityA)
	}
	if c.User == "" || c.EntityA == "" || c.EntityB == "" {
		return ErrEmptyIdentifier
	}
	return nil
}

// Normalized returns the comparison value scaled to [-1, 1].
// The caller must have validated the comparison first.
func (c Comparison) Normalized() float64 { return c.Value / c.ValueMax }

// PairKey returns the unordered entity pair of a comparison, with the
// entities in lexicographic order. It is used to detect duplicate
// comparisons of the same pair.
func (c Comparison) PairKey() (EntityID, EntityID) {
	if c.EntityA < c.EntityB {
		return c.EntityA, c.EntityB
	}
	return c.EntityB, c.EntityA
}

// PublicKey identifies a (user, entity) rating whose visibility is
// governed by the contributor's privacy setting.
type PublicKey struct {
	User   UserID
	Entity EntityID
}

// ValidateComparisons checks a batch of comparisons for one criterion:
// each comparison must be individually valid and no (user, unordered
// pair) may appear twice. It returns the first violation found, in input
// order, so ingestion failures are reproducible.
func ValidateComparisons(comparisons []Comparison) error {
	type pairUser struct {
		user UserID
		lo   EntityID
		hi   EntityID
	}
	seen := make(map[pairUser]struct{}, len(comparisons))
	for i, c := range comparisons {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("comparison %d: %w", i, err)
		}
		lo, hi := c.PairKey()
		key := pairUser{user: c.User, lo: lo, hi: hi}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("comparison %d: %w: user=%s pair=(%s,%s)",
				i, ErrDuplicateComparison, c.User, lo, hi)
		}
		seen[key] = struct{}{}
	}
	return nil
}
