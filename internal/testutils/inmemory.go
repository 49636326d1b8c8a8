// Package testutils provides in-memory snapshot and output fixtures
// plus a deterministic dataset generator for pipeline tests and
// benchmarks.
package testutils

import (
	"sort"
	"sync"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// Snapshot is an in-memory ports.PipelineInput. Populate the fields and
// hand it to the pipeline; the accessors return deterministic copies so
// a run cannot mutate the fixture.
type Snapshot struct {
	UserList    []domain.User
	EntityList  []domain.EntityID
	VouchList   []domain.Vouch
	Comparison  map[domain.Criterion][]domain.Comparison
	PublicFlags map[domain.PublicKey]bool
	Scalings    map[domain.Criterion]map[domain.UserID]domain.Scaling
	Models      map[domain.Criterion]map[domain.UserID]domain.UserModel

	closed bool
}

var _ ports.PipelineInput = (*Snapshot)(nil)

// NewSnapshot returns an empty snapshot ready to be populated.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Comparison:  make(map[domain.Criterion][]domain.Comparison),
		PublicFlags: make(map[domain.PublicKey]bool),
		Scalings:    make(map[domain.Criterion]map[domain.UserID]domain.Scaling),
		Models:      make(map[domain.Criterion]map[domain.UserID]domain.UserModel),
	}
}

// Close releases the snapshot; subsequent reads fail with
// ports.ErrSnapshotClosed. It exists so tests can exercise the
// pipeline's input failure paths the way a file- or database-backed
// snapshot would surface them.
func (s *Snapshot) Close() { s.closed = true }

// Users returns every contributor in the snapshot.
func (s *Snapshot) Users() ([]domain.User, error) {
	if s.closed {
		return nil, ports.ErrSnapshotClosed
	}
	out := make([]domain.User, len(s.UserList))
	copy(out, s.UserList)
	return out, nil
}

// Entities returns every entity id in the snapshot.
func (s *Snapshot) Entities() ([]domain.EntityID, error) {
	if s.closed {
		return nil, ports.ErrSnapshotClosed
	}
	out := make([]domain.EntityID, len(s.EntityList))
	copy(out, s.EntityList)
	return out, nil
}

// Vouches returns the directed trust statements between users.
func (s *Snapshot) Vouches() ([]domain.Vouch, error) {
	if s.closed {
		return nil, ports.ErrSnapshotClosed
	}
	out := make([]domain.Vouch, len(s.VouchList))
	copy(out, s.VouchList)
	return out, nil
}

// Criteria returns the criteria with at least one comparison, in
// lexicographic order.
func (s *Snapshot) Criteria() ([]domain.Criterion, error) {
	if s.closed {
		return nil, ports.ErrSnapshotClosed
	}
	criteria := make([]domain.Criterion, 0, len(s.Comparison))
	for c, comparisons := range s.Comparison {
		if len(comparisons) > 0 {
			criteria = append(criteria, c)
		}
	}
	sort.Slice(criteria, func(i, j int) bool { return criteria[i] < criteria[j] })
	return criteria, nil
}

// Comparisons returns the pairwise judgments for one criterion.
func (s *Snapshot) Comparisons(criterion domain.Criterion) ([]domain.Comparison, error) {
	if s.closed {
		return nil, ports.ErrSnapshotClosed
	}
	src := s.Comparison[criterion]
	out := make([]domain.Comparison, len(src))
	copy(out, src)
	return out, nil
}

// MadePublic reports whether a user's rating of an entity is public.
func (s *Snapshot) MadePublic(user domain.UserID, entity domain.EntityID) bool {
	return s.PublicFlags[domain.PublicKey{User: user, Entity: entity}]
}

// PriorScaling returns a user's calibration from a previous run.
func (s *Snapshot) PriorScaling(user domain.UserID, criterion domain.Criterion) (domain.Scaling, bool) {
	scaling, ok := s.Scalings[criterion][user]
	return scaling, ok
}

// PriorUserModel returns a user's model from a previous run.
func (s *Snapshot) PriorUserModel(user domain.UserID, criterion domain.Criterion) (domain.UserModel, bool) {
	model, ok := s.Models[criterion][user]
	if !ok {
		return nil, false
	}
	return model.Clone(), true
}

// MarkAllPublic flags every (user, entity) pair present in the
// snapshot's comparisons as public.
func (s *Snapshot) MarkAllPublic() {
	for _, comparisons := range s.Comparison {
		for _, c := range comparisons {
			s.PublicFlags[domain.PublicKey{User: c.User, Entity: c.EntityA}] = true
			s.PublicFlags[domain.PublicKey{User: c.User, Entity: c.EntityB}] = true
		}
	}
}

// TrustEntry is one recorded trust write.
type TrustEntry struct {
	User  domain.UserID
	Trust float64
}

// RightsEntry is one recorded voting-rights write.
type RightsEntry struct {
	User      domain.UserID
	Entity    domain.EntityID
	Criterion domain.Criterion
	Weight    float64
}

// ModelEntry is one recorded user-model write.
type ModelEntry struct {
	User      domain.UserID
	Criterion domain.Criterion
	Entity    domain.EntityID
	Score     domain.Score
	Mode      domain.ScoreMode
}

// ScalingEntry is one recorded scaling write.
type ScalingEntry struct {
	User      domain.UserID
	Criterion domain.Criterion
	Scaling   domain.Scaling
}

// CollectiveEntry is one recorded collective-score write.
type CollectiveEntry struct {
	Entity    domain.EntityID
	Criterion domain.Criterion
	Score     domain.Score
	Mode      domain.ScoreMode
}

// Recorder is an in-memory ports.PipelineOutput that stores every write
// in arrival order. It is safe for concurrent use, although the
// pipeline flushes from a single goroutine.
type Recorder struct {
	mu         sync.Mutex
	Trust      []TrustEntry
	Rights     []RightsEntry
	Model      []ModelEntry
	Scaling    []ScalingEntry
	Collective []CollectiveEntry
}

var _ ports.PipelineOutput = (*Recorder)(nil)

// WriteTrust records a trust write.
func (r *Recorder) WriteTrust(user domain.UserID, trust float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Trust = append(r.Trust, TrustEntry{User: user, Trust: trust})
	return nil
}

// WriteVotingRights records a voting-rights write.
func (r *Recorder) WriteVotingRights(user domain.UserID, entity domain.EntityID, criterion domain.Criterion, weight float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Rights = append(r.Rights, RightsEntry{User: user, Entity: entity, Criterion: criterion, Weight: weight})
	return nil
}

// WriteUserModel records a user-model write.
func (r *Recorder) WriteUserModel(user domain.UserID, criterion domain.Criterion, entity domain.EntityID, score domain.Score, mode domain.ScoreMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Model = append(r.Model, ModelEntry{User: user, Criterion: criterion, Entity: entity, Score: score, Mode: mode})
	return nil
}

// WriteScaling records a scaling write.
func (r *Recorder) WriteScaling(user domain.UserID, criterion domain.Criterion, scaling domain.Scaling) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Scaling = append(r.Scaling, ScalingEntry{User: user, Criterion: criterion, Scaling: scaling})
	return nil
}

// WriteCollectiveScore records a collective-score write.
func (r *Recorder) WriteCollectiveScore(entity domain.EntityID, criterion domain.Criterion, score domain.Score, mode domain.ScoreMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Collective = append(r.Collective, CollectiveEntry{Entity: entity, Criterion: criterion, Score: score, Mode: mode})
	return nil
}

// CollectiveByEntity indexes the recorded collective scores of one mode
// by entity.
func (r *Recorder) CollectiveByEntity(mode domain.ScoreMode) map[domain.EntityID]domain.Score {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.EntityID]domain.Score)
	for _, e := range r.Collective {
		if e.Mode == mode {
			out[e.Entity] = e.Score
		}
	}
	return out
}

// TrustByUser indexes the recorded trust writes by user.
func (r *Recorder) TrustByUser() map[domain.UserID]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.UserID]float64, len(r.Trust))
	for _, e := range r.Trust {
		out[e.User] = e.Trust
	}
	return out
}
