package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/phi-regress/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "runs.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func settings() model.RunSettings {
	return model.RunSettings{
		Trials:        3,
		DocumentCount: 100,
		PoolSize:      2,
		Seeds:         []int64{1000, 1001, 1002},
		Env:           map[string]string{"REDACT_MODE": "strict"},
		Confidence:    0.95,
		CriticalMode:  "fixed",
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "baseline", settings())
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusRunning, run.Status)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, "baseline", got.Command)
		assert.Equal(t, model.RunStatusRunning, got.Status)
		assert.Equal(t, settings(), got.Settings)
		assert.Nil(t, got.Summary)
		assert.Empty(t, got.Error)
	})

	t.Run("CompleteRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "ab", settings())
		require.NoError(t, err)

		summary := &model.RunSummary{
			Succeeded:      6,
			Failed:         0,
			Recommendation: model.DecisionAccept,
			Arms: map[model.Arm]model.ArmSummary{
				model.ArmBaseline:     {Succeeded: 3, Means: map[model.Metric]float64{model.MetricSensitivity: 95}},
				model.ArmExperimental: {Succeeded: 3, Means: map[model.Metric]float64{model.MetricSensitivity: 99}},
			},
			TopCauses: map[model.RootCause]int{model.RootCauseOCRCorruption: 4},
		}
		require.NoError(t, s.CompleteRun(ctx, run.ID, summary))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusComplete, got.Status)
		require.NotNil(t, got.Summary)
		assert.Equal(t, model.DecisionAccept, got.Summary.Recommendation)
		assert.Equal(t, 99.0, got.Summary.Arms[model.ArmExperimental].Means[model.MetricSensitivity])
		assert.Equal(t, 4, got.Summary.TopCauses[model.RootCauseOCRCorruption])
	})

	t.Run("FailRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "compare", settings())
		require.NoError(t, err)
		require.NoError(t, s.FailRun(ctx, run.ID, "baseline: not found"))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Equal(t, "baseline: not found", got.Error)
	})

	t.Run("UnknownRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetRun(ctx, "nonexistent")
		assert.True(t, eris.Is(err, ErrRunNotFound))
		assert.True(t, eris.Is(s.CompleteRun(ctx, "nonexistent", &model.RunSummary{}), ErrRunNotFound))
		assert.True(t, eris.Is(s.FailRun(ctx, "nonexistent", "x"), ErrRunNotFound))
	})

	t.Run("ListRunsFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, cmd := range []string{"baseline", "compare", "compare", "quick"} {
			_, err := s.CreateRun(ctx, cmd, settings())
			require.NoError(t, err)
		}

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		compares, err := s.ListRuns(ctx, RunFilter{Command: "compare"})
		require.NoError(t, err)
		assert.Len(t, compares, 2)

		limited, err := s.ListRuns(ctx, RunFilter{Limit: 3})
		require.NoError(t, err)
		assert.Len(t, limited, 3)

		complete, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
		require.NoError(t, err)
		assert.Empty(t, complete)
	})

	t.Run("TrialsRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "ab", settings())
		require.NoError(t, err)

		set := model.TrialSet{Results: []model.TrialResult{
			{Seed: 1000, Success: true, Failures: []model.FailureRecord{{Type: "NAME", Value: "x"}}},
			{Seed: 1001, Error: "trial: engine timed out after 5m0s"},
		}}
		require.NoError(t, s.AddTrials(ctx, model.TrialsForRun(run.ID, model.ArmExperimental, set)))
		require.NoError(t, s.AddTrials(ctx, model.TrialsForRun(run.ID, model.ArmBaseline, set)))
		// Re-recording replaces rather than duplicates.
		require.NoError(t, s.AddTrials(ctx, model.TrialsForRun(run.ID, model.ArmBaseline, set)))
		require.NoError(t, s.AddTrials(ctx, nil))

		trials, err := s.ListTrials(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, trials, 4)
		assert.Equal(t, model.ArmBaseline, trials[0].Arm)
		assert.Equal(t, 0, trials[0].Index)
		assert.Equal(t, int64(1000), trials[0].Seed)
		assert.True(t, trials[0].Success)
		assert.Equal(t, 1, trials[0].Failures)
		assert.False(t, trials[1].Success)
		assert.Contains(t, trials[1].Error, "timed out")
		assert.Equal(t, model.ArmExperimental, trials[2].Arm)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestNewSQLite_InMemory(t *testing.T) {
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
}
