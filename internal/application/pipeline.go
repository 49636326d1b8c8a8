package application

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-consensus/infrastructure/middleware"
	"github.com/ahrav/go-consensus/infrastructure/stages"
	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// Pipeline drives the full scoring flow: trust propagation once, then
// per criterion voting rights, preference learning, scale calibration,
// normalization, aggregation, and squashing, with criteria processed in
// parallel.
//
// All criterion results are buffered and flushed to the output only
// after every criterion has succeeded, so a failing criterion never
// leaves partial writes behind.
type Pipeline struct {
	config  Config
	logger  *slog.Logger
	metrics ports.MetricsCollector

	trust     ports.Stage
	criterion []ports.Stage
}

// criterionResult buffers one criterion's completed state until the
// whole run is known to have succeeded.
type criterionResult struct {
	criterion domain.Criterion
	state     domain.State
}

// NewPipeline builds a pipeline from the configuration. A nil logger
// disables logging; a nil metrics collector disables metrics.
func NewPipeline(config Config, logger *slog.Logger, metrics ports.MetricsCollector) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	trust, err := stages.NewTrustPropagator("trust", config.Trust)
	if err != nil {
		return nil, fmt.Errorf("trust stage: %w", err)
	}
	voting, err := stages.NewVotingRightsAssigner("voting_rights", config.Voting)
	if err != nil {
		return nil, fmt.Errorf("voting rights stage: %w", err)
	}
	preference, err := stages.NewPreferenceLearner("preference", config.Preference)
	if err != nil {
		return nil, fmt.Errorf("preference stage: %w", err)
	}
	scaling, err := stages.NewScaleCalibrator("scaling", config.Scaling)
	if err != nil {
		return nil, fmt.Errorf("scaling stage: %w", err)
	}
	normalize, err := stages.NewScoreNormalizer("normalize", config.Normalize)
	if err != nil {
		return nil, fmt.Errorf("normalize stage: %w", err)
	}
	aggregate, err := stages.NewCollectiveAggregator("aggregate", config.Aggregate)
	if err != nil {
		return nil, fmt.Errorf("aggregate stage: %w", err)
	}
	squash, err := stages.NewScoreSquasher("squash", config.Squash)
	if err != nil {
		return nil, fmt.Errorf("squash stage: %w", err)
	}

	criterion := []ports.Stage{voting, preference, scaling, normalize, aggregate, squash}
	for i, stage := range criterion {
		criterion[i] = middleware.NewObservedStage(stage, metrics)
	}

	return &Pipeline{
		config:    config,
		logger:    logger,
		metrics:   metrics,
		trust:     middleware.NewObservedStage(trust, metrics),
		criterion: criterion,
	}, nil
}

// Workers returns the size of the per-criterion worker pool.
func (p *Pipeline) Workers() int {
	workers := runtime.NumCPU() - p.config.KeepFreeCPU
	if workers < 1 {
		workers = 1
	}
	return workers
}

// Run executes the pipeline over a snapshot and, on success, writes
// every result collection to the output. The first stage failure
// cancels the remaining criteria and nothing is written.
func (p *Pipeline) Run(ctx context.Context, input ports.PipelineInput, output ports.PipelineOutput) error {
	started := time.Now()

	users, err := input.Users()
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	vouches, err := input.Vouches()
	if err != nil {
		return fmt.Errorf("load vouches: %w", err)
	}
	if err := domain.ValidateVouches(vouches); err != nil {
		return fmt.Errorf("validate vouches: %w", err)
	}
	criteria, err := input.Criteria()
	if err != nil {
		return fmt.Errorf("load criteria: %w", err)
	}
	criteria = p.selectCriteria(criteria)

	// Trust is criterion-independent: propagate once and share.
	trustState, err := p.runStage(ctx, p.trust, "", domain.State{Users: users, Vouches: vouches})
	if err != nil {
		return err
	}

	p.logger.Info("trust propagation complete",
		"users", len(users),
		"criteria", len(criteria),
		"workers", p.Workers())

	results := make([]criterionResult, len(criteria))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers())
	for i, criterion := range criteria {
		g.Go(func() error {
			state, err := p.runCriterion(gctx, input, users, trustState.Trust, criterion)
			if err != nil {
				return err
			}
			results[i] = criterionResult{criterion: criterion, state: state}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.recordCounter("pipeline_runs_total", map[string]string{"status": "error"})
		return err
	}

	if err := p.flush(trustState.Trust, results, output); err != nil {
		p.recordCounter("pipeline_runs_total", map[string]string{"status": "error"})
		return err
	}

	p.recordCounter("pipeline_runs_total", map[string]string{"status": "success"})
	p.recordLatency("pipeline_run", time.Since(started), nil)
	p.logger.Info("pipeline run complete", "criteria", len(criteria), "elapsed", time.Since(started))
	return nil
}

// selectCriteria intersects the snapshot's criteria with the configured
// list, preserving snapshot order. An empty configured list keeps every
// criterion.
func (p *Pipeline) selectCriteria(criteria []domain.Criterion) []domain.Criterion {
	if len(p.config.Criteria) == 0 {
		return criteria
	}
	wanted := make(map[domain.Criterion]bool, len(p.config.Criteria))
	for _, c := range p.config.Criteria {
		wanted[c] = true
	}
	selected := criteria[:0:0]
	for _, c := range criteria {
		if wanted[c] {
			selected = append(selected, c)
		}
	}
	return selected
}

// runCriterion executes the per-criterion stage chain on a freshly
// assembled state. Criteria without comparisons complete trivially with
// empty outputs.
func (p *Pipeline) runCriterion(
	ctx context.Context,
	input ports.PipelineInput,
	users []domain.User,
	trust map[domain.UserID]float64,
	criterion domain.Criterion,
) (domain.State, error) {
	comparisons, err := input.Comparisons(criterion)
	if err != nil {
		return domain.State{}, fmt.Errorf("load comparisons for %s: %w", criterion, err)
	}
	if err := domain.ValidateComparisons(comparisons); err != nil {
		return domain.State{}, fmt.Errorf("criterion %s: %w", criterion, err)
	}

	state := domain.State{
		Criterion:     criterion,
		Users:         users,
		Comparisons:   comparisons,
		Trust:         trust,
		Public:        make(map[domain.PublicKey]bool),
		PriorScalings: make(map[domain.UserID]domain.Scaling),
		PriorModels:   make(map[domain.UserID]domain.UserModel),
	}

	gaugeLabels := map[string]string{"criterion": string(criterion)}
	p.recordGauge("comparisons", float64(len(comparisons)), gaugeLabels)
	p.recordGauge("entities", float64(len(state.ComparedEntities())), gaugeLabels)

	seen := make(map[domain.UserID]struct{})
	for _, c := range comparisons {
		for _, e := range [2]domain.EntityID{c.EntityA, c.EntityB} {
			key := domain.PublicKey{User: c.User, Entity: e}
			if input.MadePublic(c.User, e) {
				state.Public[key] = true
			}
		}
		seen[c.User] = struct{}{}
	}
	for u := range seen {
		if scaling, ok := input.PriorScaling(u, criterion); ok {
			state.PriorScalings[u] = scaling
		}
		if model, ok := input.PriorUserModel(u, criterion); ok {
			state.PriorModels[u] = model
		}
	}

	for _, stage := range p.criterion {
		state, err = p.runStage(ctx, stage, criterion, state)
		if err != nil {
			return domain.State{}, err
		}
	}
	return state, nil
}

// runStage executes one stage with error wrapping. Latency and outcome
// metrics are recorded by the stage's observability wrapper.
func (p *Pipeline) runStage(ctx context.Context, stage ports.Stage, criterion domain.Criterion, state domain.State) (domain.State, error) {
	started := time.Now()
	out, err := stage.Execute(ctx, state)
	if err != nil {
		return domain.State{}, &ports.StageError{Stage: stage.Name(), Criterion: criterion, Err: err}
	}
	p.logger.Debug("stage complete", "stage", stage.Name(), "criterion", criterion, "elapsed", time.Since(started))
	return out, nil
}

// flush writes every buffered collection in a deterministic order:
// trust first, then per criterion in submission order the voting
// rights, user models, scalings, and collective scores.
func (p *Pipeline) flush(trust map[domain.UserID]float64, results []criterionResult, output ports.PipelineOutput) error {
	for _, u := range domain.SortedUserIDs(trust) {
		if err := output.WriteTrust(u, trust[u]); err != nil {
			return fmt.Errorf("write trust: %w", err)
		}
	}

	for _, res := range results {
		state := res.state

		for _, u := range domain.SortedUserIDs(state.VotingRights) {
			byEntity := state.VotingRights[u]
			for _, e := range domain.SortedEntityIDs(byEntity) {
				if err := output.WriteVotingRights(u, e, res.criterion, byEntity[e]); err != nil {
					return fmt.Errorf("write voting rights: %w", err)
				}
			}
		}

		for _, u := range domain.SortedUserIDs(state.DisplayModels) {
			model := state.DisplayModels[u]
			for _, e := range model.Entities() {
				if err := output.WriteUserModel(u, res.criterion, e, model[e], domain.ModeDefault); err != nil {
					return fmt.Errorf("write user model: %w", err)
				}
			}
		}

		for _, u := range domain.SortedUserIDs(state.Scalings) {
			if err := output.WriteScaling(u, res.criterion, state.Scalings[u]); err != nil {
				return fmt.Errorf("write scaling: %w", err)
			}
		}

		for _, mode := range domain.ScoreModes {
			scores := state.DisplayCollective[mode]
			for _, e := range domain.SortedEntityIDs(scores) {
				if err := output.WriteCollectiveScore(e, res.criterion, scores[e], mode); err != nil {
					return fmt.Errorf("write collective score: %w", err)
				}
			}
		}
	}
	return nil
}

func (p *Pipeline) recordCounter(metric string, labels map[string]string) {
	if p.metrics != nil {
		p.metrics.RecordCounter(metric, 1, labels)
	}
}

func (p *Pipeline) recordLatency(operation string, d time.Duration, labels map[string]string) {
	if p.metrics != nil {
		p.metrics.RecordLatency(operation, d, labels)
	}
}

func (p *Pipeline) recordGauge(metric string, value float64, labels map[string]string) {
	if p.metrics != nil {
		p.metrics.RecordGauge(metric, value, labels)
	}
}
