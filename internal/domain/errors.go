package domain

import "errors"

// Structural errors surfaced at the ingestion boundary. The numerical
// pipeline assumes its inputs have already passed these checks.
var (
	// ErrNonPositiveValueMax indicates a comparison whose scale bound is
	// zero or negative.
	ErrNonPositiveValueMax = errors.New("comparison value_max must be positive")

	// ErrValueOutOfRange indicates a comparison value outside
	// [-value_max, +value_max].
	ErrValueOutOfRange = errors.New("comparison value out of range")

	// ErrSelfComparison indicates a comparison of an entity with itself.
	ErrSelfComparison = errors.New("entity compared with itself")

	// ErrDuplicateComparison indicates a second comparison of the same
	// unordered pair by the same user on one criterion.
	ErrDuplicateComparison = errors.New("duplicate comparison of pair")

	// ErrEmptyIdentifier indicates a record with a missing user or
	// entity id.
	ErrEmptyIdentifier = errors.New("empty identifier")

	// ErrNonPositiveVouch indicates a vouch with weight <= 0.
	ErrNonPositiveVouch = errors.New("vouch weight must be positive")
)

// ValidateVouches checks that every vouch has a positive weight, names
// both endpoints, and that no (giver, receiver) edge appears twice.
func ValidateVouches(vouches []Vouch) error {
	type edge struct{ giver, receiver UserID }
	seen := make(map[edge]struct{}, len(vouches))
	for _, v := range vouches {
		if v.Weight <= 0 {
			return ErrNonPositiveVouch
		}
		if v.Giver == "" || v.Receiver == "" {
			return ErrEmptyIdentifier
		}
		e := edge{giver: v.Giver, receiver: v.Receiver}
		if _, dup := seen[e]; dup {
			return errors.New("duplicate vouch edge " + string(v.Giver) + "->" + string(v.Receiver))
		}
		seen[e] = struct{}{}
	}
	return nil
}
