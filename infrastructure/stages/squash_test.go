package stages

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-consensus/internal/domain"
)

func TestNewScoreSquasher(t *testing.T) {
	_, err := NewScoreSquasher("", DefaultSquashConfig())
	assert.Error(t, err)

	_, err = NewScoreSquasher("squash", SquashConfig{})
	assert.Error(t, err, "zero score max must be rejected")

	ss, err := NewScoreSquasher("squash", DefaultSquashConfig())
	require.NoError(t, err)
	assert.Equal(t, "squash", ss.Name())
	assert.NoError(t, ss.Validate())
}

func TestScoreSquasher_BoundsAndMonotonicity(t *testing.T) {
	ss, err := NewScoreSquasher("squash", DefaultSquashConfig())
	require.NoError(t, err)

	inputs := []float64{-1e9, -100, -5, -1, -0.1, 0, 0.1, 1, 5, 100, 1e9}
	var prev float64 = math.Inf(-1)
	for _, x := range inputs {
		got := ss.squashScore(domain.Score{Value: x})
		assert.Less(t, math.Abs(got.Value), 100.0, "input %g", x)
		assert.Greater(t, got.Value, prev, "squash must be strictly increasing at %g", x)
		prev = got.Value
	}

	zero := ss.squashScore(domain.Score{Value: 0, LeftUnc: 1, RightUnc: 2})
	assert.Zero(t, zero.Value)
	assert.InDelta(t, 100.0, zero.LeftUnc, 1e-9, "derivative at zero is score max")
	assert.InDelta(t, 200.0, zero.RightUnc, 1e-9)
}

func TestScoreSquasher_TailUncertaintiesShrink(t *testing.T) {
	ss, err := NewScoreSquasher("squash", DefaultSquashConfig())
	require.NoError(t, err)

	tail := ss.squashScore(domain.Score{Value: 50, LeftUnc: domain.MaxUncertainty, RightUnc: domain.MaxUncertainty})
	assert.Less(t, tail.LeftUnc, 1.0,
		"deep in the saturated tail even huge intervals display tightly")
	assert.Greater(t, tail.LeftUnc, 0.0)
}

func TestScoreSquasher_Execute(t *testing.T) {
	ss, err := NewScoreSquasher("squash", DefaultSquashConfig())
	require.NoError(t, err)

	state := domain.State{
		Criterion: "quality",
		NormalizedModels: map[domain.UserID]domain.UserModel{
			"a": {"x": {Value: -3, LeftUnc: 1, RightUnc: 1}, "y": {Value: 2, LeftUnc: 1, RightUnc: 1}},
		},
		Collective: map[domain.ScoreMode]map[domain.EntityID]domain.Score{
			domain.ModeDefault: {
				"x": {Value: -3, LeftUnc: 0.5, RightUnc: 0.5},
				"y": {Value: 2, LeftUnc: 0.5, RightUnc: 0.5},
			},
		},
	}

	out, err := ss.Execute(context.Background(), state)
	require.NoError(t, err)

	display := out.DisplayModels["a"]
	assert.InDelta(t, 100*-3/math.Sqrt(10), display["x"].Value, 1e-9)
	assert.InDelta(t, 100*2/math.Sqrt(5), display["y"].Value, 1e-9)

	collective := out.DisplayCollective[domain.ModeDefault]
	assert.Less(t, collective["x"].Value, collective["y"].Value,
		"squash preserves the collective ordering")
	for _, e := range []domain.EntityID{"x", "y"} {
		assert.Less(t, math.Abs(collective[e].Value), 100.0)
		assert.Greater(t, collective[e].LeftUnc, 0.0)
	}
}
