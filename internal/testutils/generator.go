package testutils

import (
	"fmt"
	"math/rand"

	"github.com/ahrav/go-consensus/internal/domain"
)

// GeneratorConfig shapes a synthetic snapshot. All counts are minimums
// of one once positive; zero values fall back to the defaults in
// DefaultGeneratorConfig.
type GeneratorConfig struct {
	// Users is the number of contributors.
	Users int
	// Entities is the number of rated entities.
	Entities int
	// ComparisonsPerUser is how many random pairs each user judges.
	ComparisonsPerUser int
	// Criteria lists the criteria to generate comparisons for.
	Criteria []domain.Criterion
	// PretrustedShare is the fraction of users marked pre-trusted.
	PretrustedShare float64
	// PublicShare is the fraction of ratings marked public.
	PublicShare float64
	// Noise is the standard deviation of the judgment noise added to
	// the ground-truth score gap before clamping to the value range.
	Noise float64
}

// DefaultGeneratorConfig returns a small but non-trivial snapshot
// shape.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Users:              20,
		Entities:           12,
		ComparisonsPerUser: 8,
		Criteria:           []domain.Criterion{"quality"},
		PretrustedShare:    0.25,
		PublicShare:        0.8,
		Noise:              1.0,
	}
}

// GenerateSnapshot builds a deterministic synthetic snapshot from a
// seed. Entities carry a hidden ground-truth score; users compare
// random pairs with noisy judgments of the truth, so pipelines run on
// the result should broadly recover the ground-truth ordering.
func GenerateSnapshot(config GeneratorConfig, seed int64) *Snapshot {
	defaults := DefaultGeneratorConfig()
	if config.Users <= 0 {
		config.Users = defaults.Users
	}
	if config.Entities <= 0 {
		config.Entities = defaults.Entities
	}
	if config.ComparisonsPerUser <= 0 {
		config.ComparisonsPerUser = defaults.ComparisonsPerUser
	}
	if len(config.Criteria) == 0 {
		config.Criteria = defaults.Criteria
	}
	if config.PublicShare <= 0 {
		config.PublicShare = defaults.PublicShare
	}
	if config.Noise <= 0 {
		config.Noise = defaults.Noise
	}

	rng := rand.New(rand.NewSource(seed))
	snapshot := NewSnapshot()

	truth := make([]float64, config.Entities)
	for i := range truth {
		truth[i] = rng.NormFloat64() * 2
		snapshot.EntityList = append(snapshot.EntityList, entityID(i))
	}

	for i := 0; i < config.Users; i++ {
		snapshot.UserList = append(snapshot.UserList, domain.User{
			ID:         userID(i),
			Pretrusted: rng.Float64() < config.PretrustedShare,
		})
	}
	// A sparse vouch graph: each user vouches for roughly two others.
	for i := 0; i < config.Users; i++ {
		for j := 0; j < 2; j++ {
			receiver := rng.Intn(config.Users)
			if receiver == i {
				continue
			}
			snapshot.VouchList = append(snapshot.VouchList, domain.Vouch{
				Giver:    userID(i),
				Receiver: userID(receiver),
				Weight:   1 + rng.Float64(),
			})
		}
	}

	const valueMax = 10.0
	for _, criterion := range config.Criteria {
		for i := 0; i < config.Users; i++ {
			seen := make(map[[2]int]bool)
			for c := 0; c < config.ComparisonsPerUser; c++ {
				a := rng.Intn(config.Entities)
				b := rng.Intn(config.Entities)
				if a == b {
					continue
				}
				lo, hi := a, b
				if lo > hi {
					lo, hi = hi, lo
				}
				if seen[[2]int{lo, hi}] {
					continue
				}
				seen[[2]int{lo, hi}] = true

				// Positive values mean the second entity is preferred.
				gap := truth[b] - truth[a] + rng.NormFloat64()*config.Noise
				value := max(min(gap*3, valueMax), -valueMax)
				snapshot.Comparison[criterion] = append(snapshot.Comparison[criterion], domain.Comparison{
					User:     userID(i),
					EntityA:  entityID(a),
					EntityB:  entityID(b),
					Value:    value,
					ValueMax: valueMax,
				})
				if rng.Float64() < config.PublicShare {
					snapshot.PublicFlags[domain.PublicKey{User: userID(i), Entity: entityID(a)}] = true
					snapshot.PublicFlags[domain.PublicKey{User: userID(i), Entity: entityID(b)}] = true
				}
			}
		}
	}
	return snapshot
}

func userID(i int) domain.UserID { return domain.UserID(fmt.Sprintf("user-%03d", i)) }

func entityID(i int) domain.EntityID { return domain.EntityID(fmt.Sprintf("entity-%03d", i)) }
