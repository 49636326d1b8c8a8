package stages

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ahrav/go-consensus/infrastructure/robust"
	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

var _ ports.Stage = (*ScaleCalibrator)(nil)

// ratioEpsilon is the smallest deviation from the common-entity mean
// that still yields a usable per-entity ratio. Smaller deviations make
// the ratio numerically meaningless and are skipped.
const ratioEpsilon = 1e-9

// ScaleCalibrator aligns user score models onto a common scale through
// an affine transform per user, following the Mehestan scheme.
//
// Different users compress their judgments differently: one user's +2
// may mean another user's +8. The calibrator estimates, for every pair
// of users sharing rated entities, how their scales relate, then
// combines those pairwise estimates into a consensus multiplier and
// translation per user. Every combination step uses a Lipschitz
// resilient mean, so a single hostile user moves any calibration
// parameter by a bounded amount no matter how extreme their scores.
//
// The most active users (the scalers) are calibrated against each
// other; everyone else is calibrated against the scalers only, which
// keeps low-activity or throwaway accounts from influencing the common
// scale. Users with no usable partner keep their prior calibration if
// one is known, and the identity otherwise.
type ScaleCalibrator struct {
	// name is the unique identifier for this stage instance.
	name string
	// config contains validated configuration parameters.
	config ScalingConfig
}

// ScalingConfig defines the configuration parameters for the
// ScaleCalibrator.
type ScalingConfig struct {
	// Lipschitz caps the influence of any single pairwise estimate on
	// a user's consensus multiplier and translation.
	//
	// Default: 1.0
	Lipschitz float64 `yaml:"lipschitz" json:"lipschitz" validate:"gt=0"`

	// MinScalerActivity is the minimum number of rated entities for a
	// user to qualify as a scaler.
	//
	// Default: 1
	MinScalerActivity int `yaml:"min_scaler_activity" json:"min_scaler_activity" validate:"gte=1"`

	// NScalersMax caps the number of scalers. The most active users
	// qualify first.
	//
	// Default: 100
	NScalersMax int `yaml:"n_scalers_max" json:"n_scalers_max" validate:"gte=1"`

	// PNormResilience is the Lipschitz constant of the resilient mean
	// that aggregates per-entity score ratios into a multiplicative
	// estimate.
	//
	// Default: 4.0
	PNormResilience float64 `yaml:"p_norm_resilience" json:"p_norm_resilience" validate:"gt=0"`

	// UserComparisonLipschitz is the Lipschitz constant of the
	// resilient mean that aggregates per-entity translation estimates.
	//
	// Default: 10.0
	UserComparisonLipschitz float64 `yaml:"user_comparison_lipschitz" json:"user_comparison_lipschitz" validate:"gt=0"`

	// NEntityFullyCompareMax caps how many common entities count
	// toward the weight of a pairwise estimate, so enormous overlaps
	// do not drown out other partners.
	//
	// Default: 100
	NEntityFullyCompareMax int `yaml:"n_entity_fully_compare_max" json:"n_entity_fully_compare_max" validate:"gte=1"`

	// Tolerance is the root-finding tolerance of the resilient means.
	//
	// Default: 1e-6
	Tolerance float64 `yaml:"tolerance" json:"tolerance" validate:"gt=0"`
}

// DefaultScalingConfig returns a ScalingConfig with production defaults.
func DefaultScalingConfig() ScalingConfig {
	return ScalingConfig{
		Lipschitz:               1.0,
		MinScalerActivity:       1,
		NScalersMax:             100,
		PNormResilience:         4.0,
		UserComparisonLipschitz: 10.0,
		NEntityFullyCompareMax:  100,
		Tolerance:               1e-6,
	}
}

// NewScaleCalibrator creates a ScaleCalibrator with the given
// configuration. Returns ports.ErrEmptyStageName if name is empty, or a
// wrapped validation error if the configuration is invalid.
func NewScaleCalibrator(name string, config ScalingConfig) (*ScaleCalibrator, error) {
	if name == "" {
		return nil, ports.ErrEmptyStageName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &ScaleCalibrator{name: name, config: config}, nil
}

// Name returns the unique identifier for this stage instance.
func (sc *ScaleCalibrator) Name() string { return sc.name }

// Validate checks that the stage is properly configured.
func (sc *ScaleCalibrator) Validate() error {
	if err := validate.Struct(sc.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// pairEstimate is the outcome of comparing one user's scale against a
// single partner: a multiplicative estimate, a translation estimate,
// and the weight both carry in the consensus.
type pairEstimate struct {
	multiplier  float64
	translation float64
	weight      float64
}

// Execute computes a Scaling per user with a raw model and applies it,
// filling state.Scalings and state.ScaledModels.
func (sc *ScaleCalibrator) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	if state.RawModels == nil {
		return state, fmt.Errorf("%s: %w", sc.name, ErrMissingModels)
	}
	for _, u := range domain.SortedUserIDs(state.PriorScalings) {
		if state.PriorScalings[u].Multiplier <= 0 {
			return state, fmt.Errorf("%s: prior scaling for user %s: %w", sc.name, u, ErrNonPositiveMultiplier)
		}
	}

	users := domain.SortedUserIDs(state.RawModels)
	scalers := sc.selectScalers(state.RawModels)
	scalerSet := make(map[domain.UserID]bool, len(scalers))
	for _, s := range scalers {
		scalerSet[s] = true
	}

	// Scalers calibrate against each other's raw models first.
	scalings := make(map[domain.UserID]domain.Scaling, len(users))
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		if !scalerSet[u] {
			continue
		}
		scalings[u] = sc.calibrate(state, u, scalers, state.RawModels)
	}

	// Non-scalers calibrate against the scalers' calibrated models, so
	// they land on the common scale the scalers agreed on. They never
	// calibrate against each other and cannot influence scalers.
	calibrated := make(map[domain.UserID]domain.UserModel, len(scalers))
	for _, s := range scalers {
		calibrated[s] = applyScaling(scalings[s], state.RawModels[s])
	}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return state, err
		}
		if scalerSet[u] {
			continue
		}
		scalings[u] = sc.calibrate(state, u, scalers, calibrated)
	}

	scaled := make(map[domain.UserID]domain.UserModel, len(users))
	for _, u := range users {
		if scalerSet[u] {
			scaled[u] = calibrated[u]
			continue
		}
		scaled[u] = applyScaling(scalings[u], state.RawModels[u])
	}

	state.Scalings = scalings
	state.ScaledModels = scaled
	return state, nil
}

// applyScaling transforms every score of a model by the calibration.
func applyScaling(s domain.Scaling, model domain.UserModel) domain.UserModel {
	out := make(domain.UserModel, len(model))
	for _, e := range model.Entities() {
		out[e] = s.Apply(model[e])
	}
	return out
}

// selectScalers returns the ids of the most active qualifying users in
// a deterministic order: activity descending, id ascending on ties.
func (sc *ScaleCalibrator) selectScalers(models map[domain.UserID]domain.UserModel) []domain.UserID {
	type candidate struct {
		id       domain.UserID
		activity int
	}
	var candidates []candidate
	for id, m := range models {
		if len(m) >= sc.config.MinScalerActivity {
			candidates = append(candidates, candidate{id: id, activity: len(m)})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].activity != candidates[j].activity {
			return candidates[i].activity > candidates[j].activity
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > sc.config.NScalersMax {
		candidates = candidates[:sc.config.NScalersMax]
	}
	ids := make([]domain.UserID, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// calibrate computes the consensus scaling of one user from pairwise
// estimates against the given partners. The user's own scale enters the
// consensus as an identity estimate weighted by their activity, so a
// user with no usable partner keeps their prior scaling, or the
// identity when none is known.
func (sc *ScaleCalibrator) calibrate(
	state domain.State,
	user domain.UserID,
	partners []domain.UserID,
	partnerModels map[domain.UserID]domain.UserModel,
) domain.Scaling {
	model := state.RawModels[user]

	var estimates []pairEstimate
	for _, partner := range partners {
		if partner == user {
			continue
		}
		est, ok := sc.comparePair(model, partnerModels[partner], state.Trust[partner])
		if !ok {
			continue
		}
		estimates = append(estimates, est)
	}

	if len(estimates) == 0 {
		if prior, ok := state.PriorScalings[user]; ok {
			return prior
		}
		return domain.IdentityScaling()
	}

	activity := min(len(model), sc.config.NEntityFullyCompareMax)
	selfWeight := state.Trust[user] * float64(activity)

	n := len(estimates) + 1
	multipliers := make([]float64, 0, n)
	translations := make([]float64, 0, n)
	weights := make([]float64, 0, n)
	multipliers = append(multipliers, 1)
	translations = append(translations, 0)
	weights = append(weights, selfWeight)
	totalWeight := selfWeight
	for _, est := range estimates {
		multipliers = append(multipliers, est.multiplier)
		translations = append(translations, est.translation)
		weights = append(weights, est.weight)
		totalWeight += est.weight
	}
	if totalWeight <= 0 {
		if prior, ok := state.PriorScalings[user]; ok {
			return prior
		}
		return domain.IdentityScaling()
	}

	m := robust.LipschitzResilientMean(sc.config.Lipschitz, sc.config.Tolerance, multipliers, weights, nil, nil)
	t := robust.LipschitzResilientMean(sc.config.Lipschitz, sc.config.Tolerance, translations, weights, nil, nil)
	if m <= 0 {
		// A consensus multiplier at or below zero would flip or erase
		// the user's preferences; fall back to the neutral scale.
		m = 1
	}
	return domain.Scaling{
		Multiplier:     m,
		Translation:    t,
		MultiplierUnc:  robust.QrStandardDeviation(sc.config.Lipschitz, 0, sc.config.Tolerance, multipliers, weights, nil, nil),
		TranslationUnc: robust.QrStandardDeviation(sc.config.Lipschitz, 0, sc.config.Tolerance, translations, weights, nil, nil),
	}
}

// comparePair estimates how a partner's scale relates to the user's
// over their common entities. The multiplicative estimate aggregates
// per-entity ratios of deviations from the common-entity means; the
// translation estimate aggregates per-entity offsets once the
// multiplier is fixed. Pairs without a usable ratio produce no
// estimate.
func (sc *ScaleCalibrator) comparePair(mine, theirs domain.UserModel, partnerTrust float64) (pairEstimate, bool) {
	var common []domain.EntityID
	for _, e := range mine.Entities() {
		if _, ok := theirs[e]; ok {
			common = append(common, e)
		}
	}
	if len(common) < 2 {
		return pairEstimate{}, false
	}

	var meanMine, meanTheirs float64
	for _, e := range common {
		meanMine += mine[e].Value
		meanTheirs += theirs[e].Value
	}
	meanMine /= float64(len(common))
	meanTheirs /= float64(len(common))

	var ratios []float64
	for _, e := range common {
		dev := mine[e].Value - meanMine
		if math.Abs(dev) < ratioEpsilon {
			continue
		}
		ratios = append(ratios, (theirs[e].Value-meanTheirs)/dev)
	}
	if len(ratios) == 0 {
		return pairEstimate{}, false
	}
	m := robust.LipschitzResilientMean(sc.config.PNormResilience, sc.config.Tolerance, ratios, nil, nil, nil)

	translations := make([]float64, len(common))
	for i, e := range common {
		translations[i] = theirs[e].Value - m*mine[e].Value
	}
	t := robust.LipschitzResilientMean(sc.config.UserComparisonLipschitz, sc.config.Tolerance, translations, nil, nil, nil)

	weight := partnerTrust * float64(min(len(common), sc.config.NEntityFullyCompareMax))
	return pairEstimate{multiplier: m, translation: t, weight: weight}, true
}
