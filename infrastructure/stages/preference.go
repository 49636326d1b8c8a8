package stages

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-consensus/infrastructure/solver"
	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

var _ ports.Stage = (*PreferenceLearner)(nil)

// PreferenceLearner fits a per-user score model from pairwise
// comparisons using generalized Bradley-Terry with a uniform root law.
//
// For each user independently, entity scores are the MAP estimate under
// a Gaussian prior: the posterior is strictly convex per coordinate, so
// the learner runs exact coordinate descent where each one-dimensional
// update is a Brent root of the partial derivative. Score uncertainties
// are likelihood intervals: the distance a coordinate can move before
// the comparison log-likelihood drops by a fixed threshold.
//
// Users are independent, so Execute fans the fits out across a bounded
// worker group. The output is deterministic regardless of scheduling.
type PreferenceLearner struct {
	// name is the unique identifier for this stage instance.
	name string
	// config contains validated configuration parameters.
	config PreferenceConfig
}

// PreferenceConfig defines the configuration parameters for the
// PreferenceLearner.
type PreferenceConfig struct {
	// PriorStdDev is the standard deviation of the Gaussian prior on
	// every entity score. Smaller values shrink scores toward zero;
	// larger values approach the maximum-likelihood estimate.
	//
	// Default: 7.0
	PriorStdDev float64 `yaml:"prior_std_dev" json:"prior_std_dev" validate:"gt=0"`

	// ConvergenceError is the coordinate-descent stopping tolerance:
	// descent terminates when no coordinate moves by more than this.
	//
	// Default: 1e-5
	ConvergenceError float64 `yaml:"convergence_error" json:"convergence_error" validate:"gt=0"`

	// CgfError is the switch point below which the cumulant generating
	// function's derivative uses its series expansion to avoid 0/0.
	//
	// Default: 1e-5
	CgfError float64 `yaml:"cgf_error" json:"cgf_error" validate:"gt=0"`

	// HighLikelihoodRangeThreshold is the log-likelihood drop that
	// defines the uncertainty interval around each learned score.
	//
	// Default: 1.0
	HighLikelihoodRangeThreshold float64 `yaml:"hl_range_threshold" json:"hl_range_threshold" validate:"gt=0"`

	// MaxWorkers bounds the number of concurrent per-user fits.
	// Zero means one worker per CPU.
	MaxWorkers int `yaml:"max_workers" json:"max_workers" validate:"gte=0"`
}

// DefaultPreferenceConfig returns a PreferenceConfig with production
// defaults.
func DefaultPreferenceConfig() PreferenceConfig {
	return PreferenceConfig{
		PriorStdDev:                  7.0,
		ConvergenceError:             1e-5,
		CgfError:                     1e-5,
		HighLikelihoodRangeThreshold: 1.0,
	}
}

// NewPreferenceLearner creates a PreferenceLearner with the given
// configuration. Returns ports.ErrEmptyStageName if name is empty, or a
// wrapped validation error if the configuration is invalid.
func NewPreferenceLearner(name string, config PreferenceConfig) (*PreferenceLearner, error) {
	if name == "" {
		return nil, ports.ErrEmptyStageName
	}
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &PreferenceLearner{name: name, config: config}, nil
}

// Name returns the unique identifier for this stage instance.
func (pl *PreferenceLearner) Name() string { return pl.name }

// Validate checks that the stage is properly configured.
func (pl *PreferenceLearner) Validate() error {
	if err := validate.Struct(pl.config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// Execute learns a raw score model for every user with at least one
// comparison on the state's criterion. Users without comparisons get no
// model. An empty comparison set produces an empty model map.
func (pl *PreferenceLearner) Execute(ctx context.Context, state domain.State) (domain.State, error) {
	byUser := state.ComparisonsByUser()
	users := domain.SortedUserIDs(byUser)

	models := make(map[domain.UserID]domain.UserModel, len(users))
	var mu sync.Mutex

	workers := pl.config.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, user := range users {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			model, err := pl.learn(byUser[user], state.PriorModels[user])
			if err != nil {
				return fmt.Errorf("user %s: %w", user, err)
			}
			mu.Lock()
			models[user] = model
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return state, err
	}
	state.RawModels = models
	return state, nil
}

// gbtEdge is one comparison as seen from a single coordinate: the peer
// entity and the comparison value oriented so that a positive r pushes
// this coordinate down relative to the peer.
type gbtEdge struct {
	peer int
	r    float64
}

// learn fits the MAP score vector for one user's comparisons and
// attaches likelihood-interval uncertainties. Prior scores, when
// present, warm-start the descent; missing coordinates start at zero.
func (pl *PreferenceLearner) learn(comparisons []domain.Comparison, prior domain.UserModel) (domain.UserModel, error) {
	set := make(map[domain.EntityID]struct{}, 2*len(comparisons))
	for _, c := range comparisons {
		set[c.EntityA] = struct{}{}
		set[c.EntityB] = struct{}{}
	}
	entities := domain.SortedEntityIDs(set)
	index := make(map[domain.EntityID]int, len(entities))
	for i, e := range entities {
		index[e] = i
	}

	edges := make([][]gbtEdge, len(entities))
	for _, c := range comparisons {
		a, b := index[c.EntityA], index[c.EntityB]
		r := c.Normalized()
		edges[a] = append(edges[a], gbtEdge{peer: b, r: r})
		edges[b] = append(edges[b], gbtEdge{peer: a, r: -r})
	}

	neighbors := make([][]int, len(entities))
	for i, es := range edges {
		seen := make(map[int]struct{}, len(es))
		for _, e := range es {
			if _, dup := seen[e.peer]; dup {
				continue
			}
			seen[e.peer] = struct{}{}
			neighbors[i] = append(neighbors[i], e.peer)
		}
	}

	x0 := make([]float64, len(entities))
	for i, e := range entities {
		if s, ok := prior[e]; ok {
			x0[i] = s.Value
		}
	}

	priorVar := pl.config.PriorStdDev * pl.config.PriorStdDev
	update := func(coord int, x []float64) (float64, error) {
		gradient := func(v float64) float64 {
			g := v / priorVar
			for _, e := range edges[coord] {
				g += pl.psi(v-x[e.peer]) + e.r
			}
			return g
		}
		root, err := solver.BrentqExpand(gradient, x[coord]-1, x[coord]+1, pl.config.ConvergenceError, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("coordinate %d: %w", coord, err)
		}
		return root, nil
	}

	theta, err := solver.CoordinateDescent(update, x0, neighbors, nil, pl.config.ConvergenceError)
	if err != nil {
		return nil, err
	}

	model := make(domain.UserModel, len(entities))
	for i, e := range entities {
		left, right := pl.uncertainty(i, theta, edges[i])
		model[e] = domain.Score{Value: theta[i], LeftUnc: left, RightUnc: right}
	}
	return model, nil
}

// uncertainty computes the likelihood interval of one coordinate: how
// far it can move in each direction before the coordinate's comparison
// log-likelihood drops by the configured threshold. A bracket without a
// sign change yields domain.MaxUncertainty.
func (pl *PreferenceLearner) uncertainty(coord int, theta []float64, edges []gbtEdge) (left, right float64) {
	base := 0.0
	for _, e := range edges {
		d := theta[coord] - theta[e.peer]
		base += pl.cgf(d) + e.r*d
	}

	excess := func(delta float64) float64 {
		total := 0.0
		for _, e := range edges {
			d := theta[coord] + delta - theta[e.peer]
			total += pl.cgf(d) + e.r*d
		}
		return total - base - pl.config.HighLikelihoodRangeThreshold
	}

	right = pl.intervalRoot(excess, +1)
	left = pl.intervalRoot(excess, -1)
	return left, right
}

// intervalRoot finds the positive distance u with excess(sign*u) = 0 on
// (0, MaxUncertainty], falling back to MaxUncertainty when the bracket
// has no sign change.
func (pl *PreferenceLearner) intervalRoot(excess func(float64) float64, sign float64) float64 {
	f := func(u float64) float64 { return excess(sign * u) }
	root, err := solver.Brentq(f, 0, domain.MaxUncertainty, pl.config.ConvergenceError, 0)
	if err != nil {
		return domain.MaxUncertainty
	}
	return root
}

// cgf is the cumulant generating function of the uniform root law,
// log(sinh(d)/d), with a series expansion near zero and an asymptotic
// form for large magnitudes where sinh overflows. The additive constant
// shared by all regions is dropped; only differences are ever used.
func (pl *PreferenceLearner) cgf(d float64) float64 {
	a := math.Abs(d)
	switch {
	case a < 1e-1:
		return d*d/6 - d*d*d*d/180
	case a > 20:
		return a - math.Ln2 - math.Log(a)
	default:
		return math.Log(math.Sinh(a) / a)
	}
}

// psi is the derivative of cgf: coth(d) - 1/d, with the series value
// d/3 below the configured switch point.
func (pl *PreferenceLearner) psi(d float64) float64 {
	if math.Abs(d) < pl.config.CgfError {
		return d / 3
	}
	return 1/math.Tanh(d) - 1/d
}
