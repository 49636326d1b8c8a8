package stages

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-consensus/internal/domain"
)

// affineModel builds a user model m*base + t with zero uncertainties.
func affineModel(base map[domain.EntityID]float64, m, t float64) domain.UserModel {
	model := make(domain.UserModel, len(base))
	for e, v := range base {
		model[e] = domain.Score{Value: m*v + t}
	}
	return model
}

func TestNewScaleCalibrator(t *testing.T) {
	_, err := NewScaleCalibrator("", DefaultScalingConfig())
	assert.Error(t, err)

	bad := DefaultScalingConfig()
	bad.PNormResilience = 0
	_, err = NewScaleCalibrator("scaling", bad)
	assert.Error(t, err)

	sc, err := NewScaleCalibrator("scaling", DefaultScalingConfig())
	require.NoError(t, err)
	assert.Equal(t, "scaling", sc.Name())
	assert.NoError(t, sc.Validate())
}

func TestScaleCalibrator_RequiresModels(t *testing.T) {
	sc, err := NewScaleCalibrator("scaling", DefaultScalingConfig())
	require.NoError(t, err)

	_, err = sc.Execute(context.Background(), domain.State{Criterion: "quality"})
	assert.ErrorIs(t, err, ErrMissingModels)
}

func TestScaleCalibrator_TwoUserAlignment(t *testing.T) {
	// User two scores every item exactly twice as spread out as user
	// one, shifted by three. After calibration both users must land on
	// the same common scale: the multiplier ratio undoes the factor
	// two and the translations absorb the offset.
	base := map[domain.EntityID]float64{"a": -2, "b": -1, "c": 0, "d": 1, "e": 2}

	state := domain.State{
		Criterion: "quality",
		RawModels: map[domain.UserID]domain.UserModel{
			"one": affineModel(base, 1, 0),
			"two": affineModel(base, 2, 3),
		},
		Trust: map[domain.UserID]float64{"one": 1, "two": 1},
	}

	sc, err := NewScaleCalibrator("scaling", DefaultScalingConfig())
	require.NoError(t, err)

	out, err := sc.Execute(context.Background(), state)
	require.NoError(t, err)

	s1, s2 := out.Scalings["one"], out.Scalings["two"]
	require.Greater(t, s1.Multiplier, 0.0)
	require.Greater(t, s2.Multiplier, 0.0)

	ratio := s2.Multiplier / s1.Multiplier
	assert.InDelta(t, 0.5, ratio, 1e-3)
	assert.InDelta(t, -1.5, s2.Translation-s1.Translation*ratio, 1e-3)

	for e := range base {
		assert.InDelta(t, out.ScaledModels["one"][e].Value, out.ScaledModels["two"][e].Value, 1e-3,
			"calibrated scores agree on entity %s", e)
	}
}

func TestScaleCalibrator_SingleUserKeepsIdentity(t *testing.T) {
	sc, err := NewScaleCalibrator("scaling", DefaultScalingConfig())
	require.NoError(t, err)

	state := domain.State{
		Criterion: "quality",
		RawModels: map[domain.UserID]domain.UserModel{
			"solo": affineModel(map[domain.EntityID]float64{"a": 1, "b": 2}, 1, 0),
		},
		Trust: map[domain.UserID]float64{"solo": 1},
	}

	out, err := sc.Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, domain.IdentityScaling(), out.Scalings["solo"])
	assert.Equal(t, state.RawModels["solo"]["a"], out.ScaledModels["solo"]["a"])
}

func TestScaleCalibrator_PriorScalingFallback(t *testing.T) {
	sc, err := NewScaleCalibrator("scaling", DefaultScalingConfig())
	require.NoError(t, err)

	prior := domain.Scaling{Multiplier: 1.8, Translation: -0.4}
	state := domain.State{
		Criterion: "quality",
		RawModels: map[domain.UserID]domain.UserModel{
			"solo": affineModel(map[domain.EntityID]float64{"a": 1, "b": 2}, 1, 0),
		},
		PriorScalings: map[domain.UserID]domain.Scaling{"solo": prior},
		Trust:         map[domain.UserID]float64{"solo": 1},
	}

	out, err := sc.Execute(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, prior, out.Scalings["solo"])
}

func TestScaleCalibrator_RejectsCorruptPriorScaling(t *testing.T) {
	sc, err := NewScaleCalibrator("scaling", DefaultScalingConfig())
	require.NoError(t, err)

	state := domain.State{
		Criterion: "quality",
		RawModels: map[domain.UserID]domain.UserModel{
			"solo": affineModel(map[domain.EntityID]float64{"a": 1, "b": 2}, 1, 0),
		},
		PriorScalings: map[domain.UserID]domain.Scaling{
			"solo": {Multiplier: -1},
		},
		Trust: map[domain.UserID]float64{"solo": 1},
	}

	_, err = sc.Execute(context.Background(), state)
	assert.ErrorIs(t, err, ErrNonPositiveMultiplier)
}

func TestScaleCalibrator_AdversaryHasBoundedInfluence(t *testing.T) {
	// A crowd of agreeing users plus one adversary whose scores are a
	// thousandfold exaggeration. The resilient means cap the
	// adversary's pull on every honest user's calibration.
	base := map[domain.EntityID]float64{"a": -2, "b": -1, "c": 0, "d": 1, "e": 2}

	honest := func() domain.State {
		state := domain.State{
			Criterion: "quality",
			RawModels: make(map[domain.UserID]domain.UserModel),
			Trust:     make(map[domain.UserID]float64),
		}
		for i := 0; i < 5; i++ {
			id := domain.UserID(fmt.Sprintf("honest%d", i))
			state.RawModels[id] = affineModel(base, 1, 0)
			state.Trust[id] = 1
		}
		return state
	}

	clean, err := NewScaleCalibrator("scaling", DefaultScalingConfig())
	require.NoError(t, err)

	without, err := clean.Execute(context.Background(), honest())
	require.NoError(t, err)

	attacked := honest()
	attacked.RawModels["zzz-adversary"] = affineModel(base, 1000, 0)
	attacked.Trust["zzz-adversary"] = 1

	with, err := clean.Execute(context.Background(), attacked)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		id := domain.UserID(fmt.Sprintf("honest%d", i))
		deltaM := with.Scalings[id].Multiplier - without.Scalings[id].Multiplier
		assert.Less(t, deltaM, 2.0,
			"user %s multiplier moved %f under attack", id, deltaM)
	}
}

func TestScaleCalibrator_ScalerCapRestrictsCalibration(t *testing.T) {
	// With room for only one scaler, the most active user defines the
	// common scale and the rest calibrate against them alone.
	base := map[domain.EntityID]float64{"a": -1, "b": 0, "c": 1}
	bigger := map[domain.EntityID]float64{"a": -1, "b": 0, "c": 1, "d": 2}

	config := DefaultScalingConfig()
	config.NScalersMax = 1

	sc, err := NewScaleCalibrator("scaling", config)
	require.NoError(t, err)

	state := domain.State{
		Criterion: "quality",
		RawModels: map[domain.UserID]domain.UserModel{
			"active": affineModel(bigger, 1, 0),
			"other":  affineModel(base, 2, 0),
		},
		Trust: map[domain.UserID]float64{"active": 1, "other": 1},
	}

	out, err := sc.Execute(context.Background(), state)
	require.NoError(t, err)

	// The lone scaler has no partner and keeps the identity.
	assert.Equal(t, domain.IdentityScaling(), out.Scalings["active"])
	// The other user shrinks toward the scaler's tighter scale.
	assert.Less(t, out.Scalings["other"].Multiplier, 1.0)
}
