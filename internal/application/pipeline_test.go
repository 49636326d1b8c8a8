package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
	"github.com/ahrav/go-consensus/internal/testutils"
)

// tinySnapshot builds three users and four entities where "best" wins a
// majority of the six comparisons. Vouches connect everyone to the
// pre-trusted user so every rater carries weight.
func tinySnapshot() *testutils.Snapshot {
	s := testutils.NewSnapshot()
	s.UserList = []domain.User{
		{ID: "u1", Pretrusted: true},
		{ID: "u2"},
		{ID: "u3"},
	}
	s.EntityList = []domain.EntityID{"best", "w", "x", "y"}
	s.VouchList = []domain.Vouch{
		{Giver: "u1", Receiver: "u2", Weight: 1},
		{Giver: "u1", Receiver: "u3", Weight: 1},
	}
	s.Comparison["quality"] = []domain.Comparison{
		{User: "u1", EntityA: "w", EntityB: "best", Value: 8, ValueMax: 10},
		{User: "u1", EntityA: "x", EntityB: "best", Value: 7, ValueMax: 10},
		{User: "u2", EntityA: "y", EntityB: "best", Value: 9, ValueMax: 10},
		{User: "u2", EntityA: "w", EntityB: "x", Value: 2, ValueMax: 10},
		{User: "u3", EntityA: "x", EntityB: "y", Value: 3, ValueMax: 10},
		{User: "u3", EntityA: "w", EntityB: "best", Value: 6, ValueMax: 10},
	}
	s.MarkAllPublic()
	return s
}

func TestPipeline_EndToEnd(t *testing.T) {
	pipeline, err := NewPipeline(DefaultConfig(), nil, nil)
	require.NoError(t, err)

	recorder := &testutils.Recorder{}
	require.NoError(t, pipeline.Run(context.Background(), tinySnapshot(), recorder))

	trust := recorder.TrustByUser()
	require.Len(t, trust, 3)
	assert.InDelta(t, 1.0, trust["u1"], 1e-9)
	assert.Greater(t, trust["u2"], 0.0)
	assert.Greater(t, trust["u3"], 0.0)

	collective := recorder.CollectiveByEntity(domain.ModeDefault)
	require.Len(t, collective, 4, "every compared entity gets a collective score")

	for entity, score := range collective {
		assert.Less(t, score.Value, 100.0, "entity %s", entity)
		assert.Greater(t, score.Value, -100.0, "entity %s", entity)
		if entity != "best" {
			assert.Greater(t, collective["best"].Value, score.Value,
				"the majority favorite outranks %s", entity)
		}
	}

	assert.NotEmpty(t, recorder.Rights)
	assert.NotEmpty(t, recorder.Model)
	assert.NotEmpty(t, recorder.Scaling)
	for _, entry := range recorder.Model {
		assert.Less(t, entry.Score.Value, 100.0)
		assert.Greater(t, entry.Score.Value, -100.0)
	}
}

func TestPipeline_Deterministic(t *testing.T) {
	snapshot := testutils.GenerateSnapshot(testutils.GeneratorConfig{
		Users:              12,
		Entities:           8,
		ComparisonsPerUser: 6,
		Criteria:           []domain.Criterion{"quality", "reliability"},
	}, 42)

	pipeline, err := NewPipeline(DefaultConfig(), nil, nil)
	require.NoError(t, err)

	first := &testutils.Recorder{}
	require.NoError(t, pipeline.Run(context.Background(), snapshot, first))
	second := &testutils.Recorder{}
	require.NoError(t, pipeline.Run(context.Background(), snapshot, second))

	assert.Equal(t, first.Trust, second.Trust)
	assert.Equal(t, first.Rights, second.Rights)
	assert.Equal(t, first.Model, second.Model)
	assert.Equal(t, first.Scaling, second.Scaling)
	assert.Equal(t, first.Collective, second.Collective)
}

func TestPipeline_FailedCriterionWritesNothing(t *testing.T) {
	snapshot := tinySnapshot()
	// A duplicate judgment of the same pair by the same user is a
	// structural error that must fail the whole run.
	snapshot.Comparison["reliability"] = []domain.Comparison{
		{User: "u1", EntityA: "w", EntityB: "x", Value: 1, ValueMax: 10},
		{User: "u1", EntityA: "x", EntityB: "w", Value: -1, ValueMax: 10},
	}

	pipeline, err := NewPipeline(DefaultConfig(), nil, nil)
	require.NoError(t, err)

	recorder := &testutils.Recorder{}
	err = pipeline.Run(context.Background(), snapshot, recorder)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateComparison)

	assert.Empty(t, recorder.Trust, "a failed run must not write trust")
	assert.Empty(t, recorder.Rights)
	assert.Empty(t, recorder.Model)
	assert.Empty(t, recorder.Scaling)
	assert.Empty(t, recorder.Collective)
}

func TestPipeline_ConfiguredCriteria(t *testing.T) {
	snapshot := tinySnapshot()
	snapshot.Comparison["reliability"] = []domain.Comparison{
		{User: "u1", EntityA: "w", EntityB: "x", Value: 5, ValueMax: 10},
	}
	snapshot.MarkAllPublic()

	config := DefaultConfig()
	config.Criteria = []domain.Criterion{"quality"}
	pipeline, err := NewPipeline(config, nil, nil)
	require.NoError(t, err)

	recorder := &testutils.Recorder{}
	require.NoError(t, pipeline.Run(context.Background(), snapshot, recorder))

	require.NotEmpty(t, recorder.Collective)
	for _, entry := range recorder.Collective {
		assert.Equal(t, domain.Criterion("quality"), entry.Criterion,
			"criteria outside the configured list are skipped")
	}
}

func TestPipeline_EmptySnapshot(t *testing.T) {
	pipeline, err := NewPipeline(DefaultConfig(), nil, nil)
	require.NoError(t, err)

	recorder := &testutils.Recorder{}
	require.NoError(t, pipeline.Run(context.Background(), testutils.NewSnapshot(), recorder))
	assert.Empty(t, recorder.Collective)
}

func TestPipeline_ClosedSnapshot(t *testing.T) {
	pipeline, err := NewPipeline(DefaultConfig(), nil, nil)
	require.NoError(t, err)

	snapshot := tinySnapshot()
	snapshot.Close()

	recorder := &testutils.Recorder{}
	err = pipeline.Run(context.Background(), snapshot, recorder)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrSnapshotClosed)
	assert.Empty(t, recorder.Trust)
	assert.Empty(t, recorder.Collective)
}

func TestPipeline_CanceledContext(t *testing.T) {
	pipeline, err := NewPipeline(DefaultConfig(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	recorder := &testutils.Recorder{}
	err = pipeline.Run(ctx, tinySnapshot(), recorder)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, recorder.Trust)
}

func BenchmarkPipeline_Run(b *testing.B) {
	snapshot := testutils.GenerateSnapshot(testutils.DefaultGeneratorConfig(), 7)
	pipeline, err := NewPipeline(DefaultConfig(), nil, nil)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		recorder := &testutils.Recorder{}
		if err := pipeline.Run(context.Background(), snapshot, recorder); err != nil {
			b.Fatal(err)
		}
	}
}

func TestPipeline_Workers(t *testing.T) {
	config := DefaultConfig()
	config.KeepFreeCPU = 1 << 20
	pipeline, err := NewPipeline(config, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, pipeline.Workers(), "worker pool never drops below one")
}
