package stages

import (
	"context"
	"fmt"
	"math"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

var _ ports.Stage = (*ScoreSquasher)(nil)

// ScoreSquasher maps the unbounded internal scores into the open
// display interval (-ScoreMax, +ScoreMax) with the bounded monotone map
// x -> ScoreMax * x / sqrt(1 + x^2). Uncertainties shrink by the local
// derivative, so a score deep in the saturated tail displays with a
// tight interval even when its internal interval is wide.
type ScoreSquasher struct {
	// name is the unique identifier for this stage instance.
	name string
	// config contains validated configuration parameters.
	config SquashConfig
}

// SquashConfig defines the configuration parameters for the
// ScoreSquasher.
type SquashConfig struct {
	// ScoreMax is the open bound of the display interval.
	//
	// Default: 100
	ScoreMax float64 `yaml:"score_max" json:"score_max" validate:"gt=0"`
}

// DefaultSquashConfig returns a SquashConfig with production defaults.
func DefaultSquashConfig() SquashConfig {
	return SquashConfig{ScoreMax: 100}
}

// NewScoreSquasher creates a ScoreSquasher with the given
// configuration. Returns ports.ErrEmptyStageName if name is empty, or a
// wrapped validation error if the configuration is invalid.
func NewScoreSquasher(name string, config SquashConfig) (*ScoreSquasher, error) {
	if name == "" {
		return nil, ports.ErrEmptyStageName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &ScoreSquasher{name: name, config: config}, nil
}

// Name returns the unique identifier for this stage instance.
func (ss *ScoreSquasher) Name() string { return ss.name }

// Validate checks that the stage is properly configured.
func (ss *ScoreSquasher) Validate() error {
	if err := validate.Struct(ss.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Execute squashes the normalized user models and the collective scores
// into their display forms.
func (ss *ScoreSquasher) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	if err := ctx.Err(); err != nil {
		return state, err
	}

	display := make(map[domain.UserID]domain.UserModel, len(state.NormalizedModels))
	for _, u := range domain.SortedUserIDs(state.NormalizedModels) {
		model := state.NormalizedModels[u]
		out := make(domain.UserModel, len(model))
		for _, e := range model.Entities() {
			out[e] = ss.squashScore(model[e])
		}
		display[u] = out
	}
	state.DisplayModels = display

	displayCollective := make(map[domain.ScoreMode]map[domain.EntityID]domain.Score, len(state.Collective))
	for mode, scores := range state.Collective {
		out := make(map[domain.EntityID]domain.Score, len(scores))
		for _, e := range domain.SortedEntityIDs(scores) {
			out[e] = ss.squashScore(scores[e])
		}
		displayCollective[mode] = out
	}
	state.DisplayCollective = displayCollective
	return state, nil
}

// squashScore maps one score and its interval into display units.
func (ss *ScoreSquasher) squashScore(s domain.Score) domain.Score {
	x := s.Value
	scale := ss.config.ScoreMax
	derivative := scale / math.Pow(1+x*x, 1.5)
	return domain.Score{
		Value:    scale * x / math.Sqrt(1+x*x),
		LeftUnc:  derivative * s.LeftUnc,
		RightUnc: derivative * s.RightUnc,
	}
}
