package domain

// State carries one criterion's data through the pipeline. Each stage
// reads the fields produced by its predecessors and fills in its own;
// stages never mutate fields they did not produce, so a stage failure
// leaves the upstream state intact.
//
// The zero value plus Criterion, Users, Comparisons, Public, and the
// prior fields is a valid input to the first stage.
type State struct {
	// Criterion is the rating dimension this state belongs to.
	Criterion Criterion

	// Users holds every user in the snapshot, including users without
	// comparisons on this criterion (they can still vouch).
	Users []User

	// Vouches holds the directed trust statements between users.
	Vouches []Vouch

	// Comparisons holds this criterion's pairwise judgments.
	Comparisons []Comparison

	// Public records which (user, entity) ratings are public. Missing
	// keys mean private.
	Public map[PublicKey]bool

	// PriorScalings carries calibrations from a previous run, used to
	// seed users the scaling stage cannot calibrate in this run.
	PriorScalings map[UserID]Scaling

	// PriorModels carries user models from a previous run. Preference
	// learning warm-starts its coordinate descent from these scores.
	PriorModels map[UserID]UserModel

	// Trust is the per-user trust in [0,1] produced by trust
	// propagation, or carried over from priors when propagation is
	// skipped.
	Trust map[UserID]float64

	// VotingRights is the per-(user, entity) weight produced by the
	// voting-rights stage.
	VotingRights map[UserID]map[EntityID]float64

	// RawModels holds the per-user preference-learning output.
	RawModels map[UserID]UserModel

	// ScaledModels holds the Mehestan-calibrated models.
	ScaledModels map[UserID]UserModel

	// Scalings holds the calibration parameters chosen per user.
	Scalings map[UserID]Scaling

	// NormalizedModels holds the globally standardized models.
	NormalizedModels map[UserID]UserModel

	// Collective holds the per-mode collective scores.
	Collective map[ScoreMode]map[EntityID]Score

	// DisplayModels and DisplayCollective hold the squashed outputs.
	DisplayModels     map[UserID]UserModel
	DisplayCollective map[ScoreMode]map[EntityID]Score
}

// ComparedEntities returns the ids of every entity that appears in at
// least one comparison, in lexicographic order. Only these entities can
// ever appear in the collective model.
func (s *State) ComparedEntities() []EntityID {
	set := make(map[EntityID]struct{}, 2*len(s.Comparisons))
	for _, c := range s.Comparisons {
		set[c.EntityA] = struct{}{}
		set[c.EntityB] = struct{}{}
	}
	return SortedEntityIDs(set)
}

// ComparisonsByUser groups the state's comparisons per user, preserving
// input order within each user.
func (s *State) ComparisonsByUser() map[UserID][]Comparison {
	out := make(map[UserID][]Comparison)
	for _, c := range s.Comparisons {
		out[c.User] = append(out[c.User], c)
	}
	return out
}

// IsPublic reports whether a user's rating of an entity is public.
func (s *State) IsPublic(user UserID, entity EntityID) bool {
	return s.Public[PublicKey{User: user, Entity: entity}]
}
