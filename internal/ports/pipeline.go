package ports

import (
	"time"

	"github.com/ahrav/go-consensus/internal/domain"
)

// PipelineInput is the read-only snapshot a pipeline run consumes.
// Implementations back it with a database export, a file, or in-memory
// fixtures; the pipeline never mutates what it reads.
//
// All iterables must return stable, reproducible orderings for a given
// snapshot: pipeline determinism depends on it.
type PipelineInput interface {
	// Users returns every contributor in the snapshot.
	Users() ([]domain.User, error)

	// Entities returns every entity id in the snapshot.
	Entities() ([]domain.EntityID, error)

	// Vouches returns the directed trust statements between users.
	Vouches() ([]domain.Vouch, error)

	// Criteria returns the criteria with at least one comparison in the
	// snapshot.
	Criteria() ([]domain.Criterion, error)

	// Comparisons returns the pairwise judgments for one criterion.
	Comparisons(criterion domain.Criterion) ([]domain.Comparison, error)

	// MadePublic reports whether a user's rating of an entity is
	// public. Non-public ratings carry a privacy penalty in voting
	// rights.
	MadePublic(user domain.UserID, entity domain.EntityID) bool

	// PriorScaling returns the calibration assigned to a user on a
	// criterion by a previous run, if any.
	PriorScaling(user domain.UserID, criterion domain.Criterion) (domain.Scaling, bool)

	// PriorUserModel returns a user's model from a previous run, if
	// any.
	PriorUserModel(user domain.UserID, criterion domain.Criterion) (domain.UserModel, bool)
}

// PipelineOutput receives the five result collections of a pipeline run.
// The driver writes only after every criterion has completed; a failed
// run writes nothing.
type PipelineOutput interface {
	// WriteTrust stores a user's propagated trust.
	WriteTrust(user domain.UserID, trust float64) error

	// WriteVotingRights stores the weight of a user's vote on an
	// entity for one criterion.
	WriteVotingRights(user domain.UserID, entity domain.EntityID, criterion domain.Criterion, weight float64) error

	// WriteUserModel stores one entry of a user's score model.
	WriteUserModel(user domain.UserID, criterion domain.Criterion, entity domain.EntityID, score domain.Score, mode domain.ScoreMode) error

	// WriteScaling stores a user's calibration parameters.
	WriteScaling(user domain.UserID, criterion domain.Criterion, scaling domain.Scaling) error

	// WriteCollectiveScore stores one entity's collective score under a
	// weighting mode.
	WriteCollectiveScore(entity domain.EntityID, criterion domain.Criterion, score domain.Score, mode domain.ScoreMode) error
}

// MetricsCollector defines the interface for collecting operational
// metrics. Implementations integrate with observability platforms such
// as Prometheus or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)
}
