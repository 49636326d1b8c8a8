package stages

import (
	"context"
	"fmt"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

var _ ports.Stage = (*VotingRightsAssigner)(nil)

// VotingRightsAssigner computes per-(user, entity) voting weights from
// trust scores and participation, honoring an affine overtrust cap.
//
// For each entity, a user's raw weight is their trust score, discounted
// by a privacy penalty when their comparison of the entity was not made
// public. The weight is then clipped to an overtrust cap that grows
// with the total trust engaged on the entity but stays bounded, so a
// flood of low-trust accounts cannot dominate an entity that trusted
// users also scored.
type VotingRightsAssigner struct {
	// name is the unique identifier for this stage instance.
	name string
	// config contains validated configuration parameters.
	config VotingConfig
}

// VotingConfig defines the configuration parameters for the
// VotingRightsAssigner.
type VotingConfig struct {
	// PrivacyPenalty multiplies the weight of users whose comparison
	// of an entity is not public. A value of 1 disables the penalty.
	//
	// Default: 0.5
	PrivacyPenalty float64 `yaml:"privacy_penalty" json:"privacy_penalty" validate:"gt=0,max=1"`

	// MinOvertrust is the baseline of the overtrust cap. It guarantees
	// entities scored only by untrusted users still accumulate some
	// voting weight.
	//
	// Default: 2.0
	MinOvertrust float64 `yaml:"min_overtrust" json:"min_overtrust" validate:"gte=0"`

	// OvertrustRatio scales the trust-dependent part of the cap.
	// The cap is MinOvertrust + OvertrustRatio * s/(1+s) where s is the
	// total trust of the entity's raters, so the bonus saturates as
	// participation grows.
	//
	// Default: 0.1
	OvertrustRatio float64 `yaml:"overtrust_ratio" json:"overtrust_ratio" validate:"gte=0"`
}

// DefaultVotingConfig returns a VotingConfig with production defaults.
func DefaultVotingConfig() VotingConfig {
	return VotingConfig{
		PrivacyPenalty: 0.5,
		MinOvertrust:   2.0,
		OvertrustRatio: 0.1,
	}
}

// NewVotingRightsAssigner creates a VotingRightsAssigner with the given
// configuration. Returns ports.ErrEmptyStageName if name is empty, or a
// wrapped validation error if the configuration is invalid.
func NewVotingRightsAssigner(name string, config VotingConfig) (*VotingRightsAssigner, error) {
	if name == "" {
		return nil, ports.ErrEmptyStageName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &VotingRightsAssigner{name: name, config: config}, nil
}

// Name returns the unique identifier for this stage instance.
func (va *VotingRightsAssigner) Name() string { return va.name }

// Validate checks that the stage is properly configured.
func (va *VotingRightsAssigner) Validate() error {
	if err := validate.Struct(va.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Execute assigns a voting weight to every (user, entity) pair where
// the user compared the entity for the state's criterion.
//
// Weights are non-negative, never exceed the user's trust, and for each
// entity sum to at most the total trust of its raters.
func (va *VotingRightsAssigner) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	if state.Trust == nil {
		return state, fmt.Errorf("%s: %w", va.name, ErrMissingTrust)
	}
	if err := ctx.Err(); err != nil {
		return state, err
	}

	raters := make(map[domain.EntityID]map[domain.UserID]bool)
	for _, c := range state.Comparisons {
		for _, e := range [2]domain.EntityID{c.EntityA, c.EntityB} {
			if raters[e] == nil {
				raters[e] = make(map[domain.UserID]bool)
			}
			raters[e][c.User] = true
		}
	}

	rights := make(map[domain.UserID]map[domain.EntityID]float64)
	for _, entity := range domain.SortedEntityIDs(raters) {
		users := raters[entity]

		var sumTrust float64
		for u := range users {
			sumTrust += state.Trust[u]
		}
		overtrustCap := va.config.MinOvertrust + va.config.OvertrustRatio*sumTrust/(1+sumTrust)

		for u := range users {
			weight := state.Trust[u]
			if !state.IsPublic(u, entity) {
				weight *= va.config.PrivacyPenalty
			}
			weight = min(weight, overtrustCap)
			if rights[u] == nil {
				rights[u] = make(map[domain.EntityID]float64)
			}
			rights[u][entity] = weight
		}
	}
	state.VotingRights = rights
	return state, nil
}
