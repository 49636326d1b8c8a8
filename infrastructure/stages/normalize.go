package stages

import (
	"context"
	"fmt"

	"github.com/ahrav/go-consensus/infrastructure/robust"
	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

var _ ports.Stage = (*ScoreNormalizer)(nil)

// ScoreNormalizer standardizes the pooled scaled scores to a fixed
// spread and anchors a low quantile at a fixed target. Both steps are a
// single affine transform applied identically to every user, so
// relative judgments are untouched; the transform only fixes the units
// of the common scale before aggregation.
//
// The spread and anchor are estimated with qr statistics weighted by
// voting rights, so untrusted users do not get to define the units.
type ScoreNormalizer struct {
	// name is the unique identifier for this stage instance.
	name string
	// config contains validated configuration parameters.
	config NormalizeConfig
}

// NormalizeConfig defines the configuration parameters for the
// ScoreNormalizer.
type NormalizeConfig struct {
	// Lipschitz caps single-user influence on the spread and anchor
	// estimates.
	//
	// Default: 10.0
	Lipschitz float64 `yaml:"lipschitz" json:"lipschitz" validate:"gt=0"`

	// DevQuantile is the quantile of absolute deviations used as the
	// robust spread.
	//
	// Default: 0.9
	DevQuantile float64 `yaml:"dev_quantile" json:"dev_quantile" validate:"gt=0,lt=1"`

	// ShiftQuantile is the low quantile anchored at TargetScore.
	//
	// Default: 0.1
	ShiftQuantile float64 `yaml:"shift_quantile" json:"shift_quantile" validate:"gt=0,lt=1"`

	// TargetScore is where the ShiftQuantile of the pooled scores
	// lands after normalization.
	//
	// Default: 0.2
	TargetScore float64 `yaml:"target_score" json:"target_score"`

	// Tolerance is the root-finding tolerance of the qr estimators.
	//
	// Default: 1e-6
	Tolerance float64 `yaml:"tolerance" json:"tolerance" validate:"gt=0"`
}

// DefaultNormalizeConfig returns a NormalizeConfig with production
// defaults. The default target anchors the low quantile at twice the
// aggregation Lipschitz constant.
func DefaultNormalizeConfig() NormalizeConfig {
	return NormalizeConfig{
		Lipschitz:     10.0,
		DevQuantile:   0.9,
		ShiftQuantile: 0.1,
		TargetScore:   0.2,
		Tolerance:     1e-6,
	}
}

// NewScoreNormalizer creates a ScoreNormalizer with the given
// configuration. Returns ports.ErrEmptyStageName if name is empty, or a
// wrapped validation error if the configuration is invalid.
func NewScoreNormalizer(name string, config NormalizeConfig) (*ScoreNormalizer, error) {
	if name == "" {
		return nil, ports.ErrEmptyStageName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &ScoreNormalizer{name: name, config: config}, nil
}

// Name returns the unique identifier for this stage instance.
func (sn *ScoreNormalizer) Name() string { return sn.name }

// Validate checks that the stage is properly configured.
func (sn *ScoreNormalizer) Validate() error {
	if err := validate.Struct(sn.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Execute standardizes the scaled models into state.NormalizedModels.
// With no scaled scores the stage writes an empty model map.
func (sn *ScoreNormalizer) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	if state.ScaledModels == nil {
		return state, fmt.Errorf("%s: %w", sn.name, ErrMissingModels)
	}
	if state.VotingRights == nil {
		return state, fmt.Errorf("%s: %w", sn.name, ErrMissingVotingRights)
	}
	if err := ctx.Err(); err != nil {
		return state, err
	}

	users := domain.SortedUserIDs(state.ScaledModels)

	var values, weights, leftUnc, rightUnc []float64
	for _, u := range users {
		model := state.ScaledModels[u]
		for _, e := range model.Entities() {
			s := model[e]
			values = append(values, s.Value)
			weights = append(weights, state.VotingRights[u][e])
			leftUnc = append(leftUnc, s.LeftUnc)
			rightUnc = append(rightUnc, s.RightUnc)
		}
	}

	spread := robust.QrStandardDeviation(sn.config.Lipschitz, sn.config.DevQuantile, sn.config.Tolerance,
		values, weights, leftUnc, rightUnc)
	if spread <= 0 {
		spread = 1
	}
	for i := range values {
		values[i] /= spread
		leftUnc[i] /= spread
		rightUnc[i] /= spread
	}

	low := robust.QrQuantile(sn.config.Lipschitz, sn.config.ShiftQuantile, sn.config.Tolerance,
		values, weights, leftUnc, rightUnc)
	shift := low - sn.config.TargetScore

	normalized := make(map[domain.UserID]domain.UserModel, len(users))
	for _, u := range users {
		model := state.ScaledModels[u]
		out := make(domain.UserModel, len(model))
		for _, e := range model.Entities() {
			s := model[e]
			out[e] = domain.Score{
				Value:    s.Value/spread - shift,
				LeftUnc:  s.LeftUnc / spread,
				RightUnc: s.RightUnc / spread,
			}
		}
		normalized[u] = out
	}
	state.NormalizedModels = normalized
	return state, nil
}
