package stages

import (
	"context"
	"fmt"

	"github.com/ahrav/go-consensus/infrastructure/robust"
	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

var _ ports.Stage = (*CollectiveAggregator)(nil)

// oneSigmaShift is the probability mass between the median and one
// standard deviation of a Gaussian. Shifting the aggregation quantile
// by this amount in each direction yields the collective uncertainty
// interval.
const oneSigmaShift = 0.3413447460685429

// CollectiveAggregator computes per-entity collective scores as
// Lipschitz-bounded weighted quantiles of the normalized user scores.
// With the default median quantile the collective score is a robust
// weighted median: a single user, however extreme their score, moves
// any entity's collective score by a bounded amount proportional to
// their weight.
//
// Scores are published under three weighting policies: voting rights
// as computed, every participant weighted equally, and voting rights
// restricted to users with positive trust.
type CollectiveAggregator struct {
	// name is the unique identifier for this stage instance.
	name string
	// config contains validated configuration parameters.
	config AggregateConfig
}

// AggregateConfig defines the configuration parameters for the
// CollectiveAggregator.
type AggregateConfig struct {
	// Lipschitz caps the influence of any single user on an entity's
	// collective score.
	//
	// Default: 0.1
	Lipschitz float64 `yaml:"lipschitz" json:"lipschitz" validate:"gt=0"`

	// Quantile selects which weighted quantile is published as the
	// collective score. 0.5 is a robust weighted median.
	//
	// Default: 0.5
	Quantile float64 `yaml:"quantile" json:"quantile" validate:"gt=0,lt=1"`

	// MinTotalWeight excludes entities whose participating weight sum
	// is at or below this threshold.
	//
	// Default: 0
	MinTotalWeight float64 `yaml:"min_total_weight" json:"min_total_weight" validate:"gte=0"`

	// Tolerance is the root-finding tolerance of the quantile solver.
	//
	// Default: 1e-6
	Tolerance float64 `yaml:"tolerance" json:"tolerance" validate:"gt=0"`
}

// DefaultAggregateConfig returns an AggregateConfig with production
// defaults.
func DefaultAggregateConfig() AggregateConfig {
	return AggregateConfig{
		Lipschitz:      0.1,
		Quantile:       0.5,
		MinTotalWeight: 0,
		Tolerance:      1e-6,
	}
}

// NewCollectiveAggregator creates a CollectiveAggregator with the given
// configuration. Returns ports.ErrEmptyStageName if name is empty, or a
// wrapped validation error if the configuration is invalid.
func NewCollectiveAggregator(name string, config AggregateConfig) (*CollectiveAggregator, error) {
	if name == "" {
		return nil, ports.ErrEmptyStageName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &CollectiveAggregator{name: name, config: config}, nil
}

// Name returns the unique identifier for this stage instance.
func (ca *CollectiveAggregator) Name() string { return ca.name }

// Validate checks that the stage is properly configured.
func (ca *CollectiveAggregator) Validate() error {
	if err := validate.Struct(ca.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Execute fills state.Collective with per-mode entity scores.
// Entities whose weight sum does not clear the minimum are left out of
// that mode's map.
func (ca *CollectiveAggregator) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	if state.NormalizedModels == nil {
		return state, fmt.Errorf("%s: %w", ca.name, ErrMissingModels)
	}
	if state.VotingRights == nil {
		return state, fmt.Errorf("%s: %w", ca.name, ErrMissingVotingRights)
	}

	users := domain.SortedUserIDs(state.NormalizedModels)

	raters := make(map[domain.EntityID][]domain.UserID)
	for _, u := range users {
		for _, e := range state.NormalizedModels[u].Entities() {
			raters[e] = append(raters[e], u)
		}
	}

	collective := make(map[domain.ScoreMode]map[domain.EntityID]domain.Score, len(domain.ScoreModes))
	for _, mode := range domain.ScoreModes {
		collective[mode] = make(map[domain.EntityID]domain.Score)
	}

	for _, e := range domain.SortedEntityIDs(raters) {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		for _, mode := range domain.ScoreModes {
			score, ok := ca.aggregateEntity(state, e, raters[e], mode)
			if ok {
				collective[mode][e] = score
			}
		}
	}
	state.Collective = collective
	return state, nil
}

// aggregateEntity computes one entity's collective score under one
// weighting policy. It reports false when the participating weight does
// not clear the minimum.
func (ca *CollectiveAggregator) aggregateEntity(
	state domain.State,
	entity domain.EntityID,
	raters []domain.UserID,
	mode domain.ScoreMode,
) (domain.Score, bool) {
	var values, weights, leftUnc, rightUnc []float64
	var total float64
	for _, u := range raters {
		s := state.NormalizedModels[u][entity]
		w := ca.userWeight(state, u, entity, mode)
		if w <= 0 {
			continue
		}
		values = append(values, s.Value)
		weights = append(weights, w)
		leftUnc = append(leftUnc, s.LeftUnc)
		rightUnc = append(rightUnc, s.RightUnc)
		total += w
	}
	if total <= ca.config.MinTotalWeight || total == 0 {
		return domain.Score{}, false
	}

	value := robust.QrQuantile(ca.config.Lipschitz, ca.config.Quantile, ca.config.Tolerance,
		values, weights, leftUnc, rightUnc)

	lowQ := max(ca.config.Quantile-oneSigmaShift, 0.001)
	highQ := min(ca.config.Quantile+oneSigmaShift, 0.999)
	low := robust.QrQuantile(ca.config.Lipschitz, lowQ, ca.config.Tolerance, values, weights, leftUnc, rightUnc)
	high := robust.QrQuantile(ca.config.Lipschitz, highQ, ca.config.Tolerance, values, weights, leftUnc, rightUnc)

	return domain.Score{
		Value:    value,
		LeftUnc:  max(value-low, 0),
		RightUnc: max(high-value, 0),
	}, true
}

// userWeight resolves one user's weight for an entity under a policy.
func (ca *CollectiveAggregator) userWeight(state domain.State, user domain.UserID, entity domain.EntityID, mode domain.ScoreMode) float64 {
	switch mode {
	case domain.ModeAllEqual:
		return 1
	case domain.ModeTrustedOnly:
		if state.Trust[user] <= 0 {
			return 0
		}
		return state.VotingRights[user][entity]
	default:
		return state.VotingRights[user][entity]
	}
}
