package stages

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

var _ ports.Stage = (*TrustPropagator)(nil)

// TrustPropagator implements damped EigenTrust over the vouch graph.
// Each user's donation budget is split between a fixed share directed at
// the pre-trusted set and a share proportional to their vouch weights.
// The resulting row-stochastic walk is damped toward the pre-trust
// vector, which makes the fixed-point iteration a contraction and bounds
// the influence any coalition of non-pretrusted users can accumulate.
//
// Trust scores are criterion-independent, so the pipeline driver runs
// this stage once and shares the result across criteria.
//
// Concurrency: the propagator is stateless and safe for concurrent use.
type TrustPropagator struct {
	// name is the unique identifier for this stage instance.
	name string
	// config contains validated configuration parameters.
	// Immutable after creation to ensure thread safety.
	config TrustConfig
}

// TrustConfig defines the configuration parameters for the TrustPropagator.
// All fields are validated during stage creation.
type TrustConfig struct {
	// Damping is the pull toward the pre-trust vector at each step of
	// the fixed-point iteration. The contraction factor of the
	// iteration is (1 - Damping), so convergence is guaranteed for any
	// value in (0, 1).
	//
	// Default: 0.2
	Damping float64 `yaml:"damping" json:"damping" validate:"gt=0,lt=1"`

	// PretrustDonation is the fraction of every user's outgoing trust
	// budget that is donated to the pre-trusted set, split evenly,
	// regardless of the user's vouches. The remainder is distributed
	// proportionally to vouch weights.
	//
	// Default: 0.1
	PretrustDonation float64 `yaml:"pretrust_donation" json:"pretrust_donation" validate:"gt=0,lt=1"`

	// Epsilon is the convergence threshold on the L2 norm of the trust
	// vector delta between iterations.
	//
	// Default: 1e-8
	Epsilon float64 `yaml:"epsilon" json:"epsilon" validate:"gt=0"`

	// MaxIterations bounds the fixed-point iteration. With the default
	// damping the delta shrinks by at least 0.8 per step, so a few
	// hundred iterations are ample for any epsilon above 1e-12.
	//
	// Default: 1000
	MaxIterations int `yaml:"max_iterations" json:"max_iterations" validate:"gt=0"`
}

// DefaultTrustConfig returns a TrustConfig with production defaults.
func DefaultTrustConfig() TrustConfig {
	return TrustConfig{
		Damping:          0.2,
		PretrustDonation: 0.1,
		Epsilon:          1e-8,
		MaxIterations:    1000,
	}
}

// NewTrustPropagator creates a TrustPropagator with the given configuration.
// Returns ports.ErrEmptyStageName if name is empty, or a wrapped validation
// error if the configuration is invalid.
func NewTrustPropagator(name string, config TrustConfig) (*TrustPropagator, error) {
	if name == "" {
		return nil, ports.ErrEmptyStageName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &TrustPropagator{name: name, config: config}, nil
}

// Name returns the unique identifier for this stage instance.
func (tp *TrustPropagator) Name() string { return tp.name }

// Validate checks that the stage is properly configured.
func (tp *TrustPropagator) Validate() error {
	if err := validate.Struct(tp.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Execute computes a trust score in [0, 1] for every user in the state.
//
// When no user is pre-trusted there is no anchor for propagation; the
// stage then carries over prior trust scores where available and writes
// nothing else. Users unreachable from the pre-trusted set through
// vouches receive trust 0.
func (tp *TrustPropagator) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	users := make([]domain.User, len(state.Users))
	copy(users, state.Users)
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	n := len(users)

	index := make(map[domain.UserID]int, n)
	for i, u := range users {
		index[u.ID] = i
	}

	var pretrusted []int
	for i, u := range users {
		if u.Pretrusted {
			pretrusted = append(pretrusted, i)
		}
	}

	if len(pretrusted) == 0 {
		trust := make(map[domain.UserID]float64)
		for _, u := range users {
			if u.PriorTrust != nil {
				trust[u.ID] = *u.PriorTrust
			}
		}
		state.Trust = trust
		return state, nil
	}

	rows := tp.buildWalkMatrix(state, users, index, pretrusted)

	// Pre-trust vector: uniform on the pre-trusted set, summing to 1.
	pretrust := make([]float64, n)
	for _, i := range pretrusted {
		pretrust[i] = 1.0 / float64(len(pretrusted))
	}

	trust := make([]float64, n)
	copy(trust, pretrust)

	next := make([]float64, n)
	for iter := 0; iter < tp.config.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		// next = (1 - damping) * C^T t + damping * p
		for i := range next {
			next[i] = tp.config.Damping * pretrust[i]
		}
		keep := 1 - tp.config.Damping
		for giver, row := range rows {
			contribution := keep * trust[giver]
			if contribution == 0 {
				continue
			}
			for receiver, share := range row {
				next[receiver] += contribution * share
			}
		}

		delta := floats.Distance(next, trust, 2)
		trust, next = next, trust
		if delta < tp.config.Epsilon {
			break
		}
	}

	// Rescale so the least trusted pre-trusted user maps to 1, then clip.
	minPretrusted := trust[pretrusted[0]]
	for _, i := range pretrusted[1:] {
		if trust[i] < minPretrusted {
			minPretrusted = trust[i]
		}
	}
	result := make(map[domain.UserID]float64, n)
	for i, u := range users {
		score := trust[i]
		if minPretrusted > 0 {
			score /= minPretrusted
		}
		result[u.ID] = min(max(score, 0), 1)
	}
	state.Trust = result
	return state, nil
}

// buildWalkMatrix assembles the sparse row-stochastic donation matrix.
// Row i holds the shares user i donates: a PretrustDonation fraction
// split evenly across the pre-trusted set plus the remainder split
// proportionally to vouch weights. Rows are normalized so that users
// without vouches still donate their full budget to the pre-trusted set.
func (tp *TrustPropagator) buildWalkMatrix(
	state domain.State,
	users []domain.User,
	index map[domain.UserID]int,
	pretrusted []int,
) []map[int]float64 {
	n := len(users)

	vouchTotals := make([]float64, n)
	for _, v := range state.Vouches {
		giver, ok := index[v.Giver]
		if !ok {
			continue
		}
		if _, ok := index[v.Receiver]; !ok {
			continue
		}
		vouchTotals[giver] += v.Weight
	}

	rows := make([]map[int]float64, n)
	donation := tp.config.PretrustDonation / float64(len(pretrusted))
	for i := range rows {
		row := make(map[int]float64, len(pretrusted))
		for _, p := range pretrusted {
			row[p] = donation
		}
		rows[i] = row
	}
	for _, v := range state.Vouches {
		giver, ok := index[v.Giver]
		if !ok || vouchTotals[giver] == 0 {
			continue
		}
		receiver, ok := index[v.Receiver]
		if !ok {
			continue
		}
		rows[giver][receiver] += (1 - tp.config.PretrustDonation) * v.Weight / vouchTotals[giver]
	}

	for _, row := range rows {
		var sum float64
		for _, share := range row {
			sum += share
		}
		if sum == 0 {
			continue
		}
		for j, share := range row {
			row[j] = share / sum
		}
	}
	return rows
}
