package domain

import "sort"

// MaxUncertainty is the sentinel used when an uncertainty bound cannot be
// established, for example when a likelihood bracket has no sign change.
// It is a large finite value rather than +Inf so that downstream affine
// transforms stay NaN-free.
const MaxUncertainty = 1000.0

// Score is a point estimate with an asymmetric confidence interval
// [Value-LeftUnc, Value+RightUnc]. Both uncertainties are non-negative at
// every pipeline stage.
type Score struct {
	Value    float64 `json:"score"`
	LeftUnc  float64 `json:"uncertainty_left"`
	RightUnc float64 `json:"uncertainty_right"`
}

// UserModel maps the entities a user has rated to their scores.
// The same type carries raw, scaled, and normalized models; the stage a
// model belongs to is determined by its position in the pipeline state.
type UserModel map[EntityID]Score

// Entities returns the model's entity ids in lexicographic order.
// Every iteration over a model goes through this ordering so pipeline
// output is deterministic.
func (m UserModel) Entities() []EntityID {
	ids := make([]EntityID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns a copy of the model that shares no storage with the
// original. Stages transform clones so earlier pipeline state stays
// unmodified.
func (m UserModel) Clone() UserModel {
	out := make(UserModel, len(m))
	for id, s := range m {
		out[id] = s
	}
	return out
}

// Scaling is the affine calibration (multiplier, translation) assigned to
// one user on one criterion, with the uncertainty of each parameter.
// Multiplier is strictly positive.
type Scaling struct {
	Multiplier     float64 `json:"multiplier"`
	Translation    float64 `json:"translation"`
	MultiplierUnc  float64 `json:"multiplier_uncertainty"`
	TranslationUnc float64 `json:"translation_uncertainty"`
}

// IdentityScaling is the neutral calibration applied to users the scaling
// stage has no information about.
func IdentityScaling() Scaling {
	return Scaling{Multiplier: 1, Translation: 0}
}

// Apply transforms a score by the affine calibration and propagates the
// parameter uncertainties into the score interval.
func (s Scaling) Apply(sc Score) Score {
	abs := sc.Value
	if abs < 0 {
		abs = -abs
	}
	return Score{
		Value:    s.Multiplier*sc.Value + s.Translation,
		LeftUnc:  s.Multiplier*sc.LeftUnc + abs*s.MultiplierUnc + s.TranslationUnc,
		RightUnc: s.Multiplier*sc.RightUnc + abs*s.MultiplierUnc + s.TranslationUnc,
	}
}

// ScoreMode distinguishes the weighting policies under which user and
// collective scores are published.
type ScoreMode string

const (
	// ModeDefault weighs users by their computed voting rights.
	ModeDefault ScoreMode = "default"

	// ModeAllEqual gives every participating user the same weight,
	// privacy penalty aside.
	ModeAllEqual ScoreMode = "all_equal"

	// ModeTrustedOnly restricts the aggregate to users with positive
	// trust.
	ModeTrustedOnly ScoreMode = "trusted_only"
)

// ScoreModes lists the published modes in their write order.
var ScoreModes = []ScoreMode{ModeDefault, ModeAllEqual, ModeTrustedOnly}

// SortedUserIDs returns the keys of a per-user map in lexicographic
// order. It exists so that callers iterating user maps share one
// deterministic ordering.
func SortedUserIDs[V any](m map[UserID]V) []UserID {
	ids := make([]UserID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SortedEntityIDs returns the keys of a per-entity map in lexicographic
// order.
func SortedEntityIDs[V any](m map[EntityID]V) []EntityID {
	ids := make([]EntityID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
