package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/phi-regress/internal/analysis"
	"github.com/sells-group/phi-regress/internal/baseline"
	"github.com/sells-group/phi-regress/internal/config"
	"github.com/sells-group/phi-regress/internal/model"
	"github.com/sells-group/phi-regress/internal/notify"
	"github.com/sells-group/phi-regress/internal/store"
)

// fakeEngine scores sensitivity by $MODE and fails outright for $FAIL_SEED.
const fakeEngine = `#!/bin/sh
sens=95
if [ "$MODE" = "better" ]; then sens=99; fi
if [ "$MODE" = "worse" ]; then sens=90; fi
if [ "$PHI_REGRESS_SEED" = "$FAIL_SEED" ]; then echo "engine crashed" >&2; exit 2; fi
cat > "$PHI_REGRESS_OUTPUT_DIR/result.json" <<JSON
{"metrics": {"sensitivity": $sens, "specificity": 99, "precision": 96, "f1Score": 97, "f2Score": 97},
 "failures": [
  {"phiType": "NAME", "value": "O'Brien-Smith", "documentId": "d1"},
  {"phiType": "AGE", "value": "92", "documentId": "d2"},
  {"phiType": "SSN", "value": "123456789", "documentId": "d3"}
 ]}
JSON
`

// setupCLI points the global config at a fake engine and temp state, and
// captures report output.
func setupCLI(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	engine := filepath.Join(dir, "engine.sh")
	require.NoError(t, os.WriteFile(engine, []byte(fakeEngine), 0755))

	origCfg, origOut := cfg, stdout
	origSerial, origXLSX, origSave := serialMode, xlsxPath, compareSave
	t.Cleanup(func() {
		cfg, stdout = origCfg, origOut
		serialMode, xlsxPath, compareSave = origSerial, origXLSX, origSave
	})

	cfg = &config.Config{
		Engine: config.EngineConfig{
			Command:       engine,
			SeedFlag:      "--seed",
			DocumentsFlag: "--documents",
			OutputFlag:    "--output",
			ResultGlob:    "*.json",
			TimeoutSecs:   30,
		},
		Trials:     config.TrialsConfig{Count: 3, Documents: 10, BaseSeed: 100},
		Pool:       config.PoolConfig{Size: 2},
		Stats:      config.StatsConfig{Confidence: 0.95, CriticalMode: "fixed", CriticalValue: 2.78, Epsilon: 0.01, SpecificityTolerance: 2},
		Classifier: config.ClassifierConfig{OCRBase: 0.7, OCRStep: 0.1},
		Baseline:   config.BaselineConfig{Dir: filepath.Join(dir, "state")},
		Store:      config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "state", "runs.db")},
		Log:        config.LogConfig{Level: "error", Format: "json"},
	}
	serialMode, xlsxPath, compareSave = false, "", false

	var buf bytes.Buffer
	stdout = &buf
	return &buf, dir
}

func ledgerRuns(t *testing.T) []model.Run {
	t.Helper()
	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	return runs
}

func mustSession(t *testing.T, command string, trials int) *session {
	t.Helper()
	s, err := newSession(context.Background(), command, trials)
	require.NoError(t, err)
	return s
}

func TestBaselineThenCompare_Accept(t *testing.T) {
	out, _ := setupCLI(t)
	ctx := context.Background()

	require.NoError(t, runBaseline(ctx, mustSession(t, "baseline", cfg.Trials.Count)))
	assert.Contains(t, out.String(), "baseline: 3 succeeded, 0 failed")
	assert.Contains(t, out.String(), "Baseline saved to")

	snap, err := baseline.NewStore(cfg.Baseline.Dir).Load()
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 101, 102}, snap.Config.Seeds)
	assert.Equal(t, 95.0, snap.Analysis.Stats[model.MetricSensitivity].Mean)

	t.Setenv("MODE", "better")
	out.Reset()
	compareSave = true
	require.NoError(t, runCompare(ctx, mustSession(t, "compare", cfg.Trials.Count), snap))
	assert.Contains(t, out.String(), "Recommendation: ACCEPT")
	assert.Contains(t, out.String(), "Comparison saved to")

	matches, err := filepath.Glob(filepath.Join(cfg.Baseline.Dir, "comparison-*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	runs := ledgerRuns(t)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, model.RunStatusComplete, r.Status, r.Command)
		require.NotNil(t, r.Summary)
		assert.Equal(t, 3, r.Summary.Succeeded)
	}
}

func TestCompare_MissingBaseline(t *testing.T) {
	setupCLI(t)

	_, err := loadBaseline(baseline.NewStore(cfg.Baseline.Dir))
	require.Error(t, err)
	assert.True(t, eris.Is(err, baseline.ErrNotFound))
	assert.Contains(t, err.Error(), "run `phi-regress baseline` first")
}

func TestAnalyze_PartialFailures(t *testing.T) {
	out, _ := setupCLI(t)
	t.Setenv("FAIL_SEED", "101")

	require.NoError(t, runAnalyze(context.Background(), mustSession(t, "analyze", cfg.Trials.Count)))
	assert.Contains(t, out.String(), "analyze: 2 succeeded, 1 failed")
	assert.Contains(t, out.String(), "Failures: 6 in 3 clusters")

	runs := ledgerRuns(t)
	require.Len(t, runs, 1)
	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	trials, err := st.ListTrials(context.Background(), runs[0].ID)
	require.NoError(t, err)
	require.Len(t, trials, 3)
	assert.False(t, trials[1].Success)
	assert.Contains(t, trials[1].Error, "engine crashed")
}

func TestAnalyze_AllTrialsFail(t *testing.T) {
	setupCLI(t)
	cfg.Trials.Count = 1
	t.Setenv("FAIL_SEED", "100")

	err := runAnalyze(context.Background(), mustSession(t, "analyze", cfg.Trials.Count))
	require.Error(t, err)
	assert.True(t, eris.Is(err, analysis.ErrNoSuccessfulTrials))

	runs := ledgerRuns(t)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "no successful trials")
}

func TestAB_RejectsRegressionAndNotifies(t *testing.T) {
	out, dir := setupCLI(t)

	got := make(chan notify.Alert, 4)
	r := chi.NewRouter()
	r.Post("/hook", func(w http.ResponseWriter, req *http.Request) {
		var a notify.Alert
		if err := json.NewDecoder(req.Body).Decode(&a); err == nil {
			got <- a
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()
	cfg.Notify = config.NotifyConfig{WebhookURL: srv.URL + "/hook", MaxAttempts: 1}

	xlsxPath = filepath.Join(dir, "ab.xlsx")
	require.NoError(t, runAB(context.Background(), mustSession(t, "ab", cfg.Trials.Count), "MODE", "standard", "worse"))

	text := out.String()
	assert.Contains(t, text, "MODE=standard: 3 succeeded, 0 failed")
	assert.Contains(t, text, "MODE=worse: 3 succeeded, 0 failed")
	assert.Contains(t, text, "Recommendation: REJECT")

	select {
	case a := <-got:
		assert.Equal(t, notify.AlertRegression, a.Type)
		assert.Equal(t, "ab", a.Command)
	default:
		t.Fatal("expected a regression alert")
	}

	f, err := xlsx.OpenFile(xlsxPath)
	require.NoError(t, err)
	_, ok := f.Sheet["Verdicts"]
	assert.True(t, ok)

	runs := ledgerRuns(t)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Summary)
	assert.Equal(t, model.DecisionReject, runs[0].Summary.Recommendation)
	assert.Equal(t, 95.0, runs[0].Summary.Arms[model.ArmBaseline].Means[model.MetricSensitivity])
	assert.Equal(t, 90.0, runs[0].Summary.Arms[model.ArmExperimental].Means[model.MetricSensitivity])
}

func TestQuick_Diagnoses(t *testing.T) {
	out, _ := setupCLI(t)

	require.NoError(t, runQuick(context.Background(), mustSession(t, "quick", 1)))
	text := out.String()
	assert.Contains(t, text, "quick: 1 succeeded, 0 failed")
	assert.Contains(t, text, "APOSTROPHE_HYPHEN")
	assert.Contains(t, text, "AGE_OVER_89")
	assert.Contains(t, text, "NO_DASHES")
	assert.Contains(t, text, "Recommendations:")
	assert.NotContains(t, text, "STDDEV")
}

func TestQuick_TrialFails(t *testing.T) {
	setupCLI(t)
	t.Setenv("FAIL_SEED", "100")

	err := runQuick(context.Background(), mustSession(t, "quick", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quick: trial failed")
	assert.Contains(t, err.Error(), "engine crashed")
}

func TestSerialModeForcesSinglePool(t *testing.T) {
	setupCLI(t)
	serialMode = true
	s := mustSession(t, "analyze", 2)
	defer s.ledger.Close() //nolint:errcheck
	assert.Equal(t, 1, s.orch.PoolSize())
	assert.Equal(t, 1, s.settings(nil).PoolSize)
}

func TestInitStore_UnknownDriver(t *testing.T) {
	setupCLI(t)
	cfg.Store.Driver = "mongo"
	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitClassifier_BadWeights(t *testing.T) {
	_, dir := setupCLI(t)
	path := filepath.Join(dir, "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  nope: 1\n"), 0644))
	cfg.Classifier.WeightsFile = path

	_, err := initClassifier()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown rule id")
}

func TestSummarize(t *testing.T) {
	arms := map[model.Arm]model.TrialSet{model.ArmSingle: {Succeeded: 4, Failed: 1}}
	analyses := map[model.Arm]model.Analysis{model.ArmSingle: {
		Stats: map[model.Metric]model.MetricSummary{model.MetricSensitivity: {Mean: 96}},
		Clusters: []model.Cluster{
			{ClusterKey: model.ClusterKey{Type: "NAME", RootCause: model.RootCauseOCRCorruption}, Count: 3},
			{ClusterKey: model.ClusterKey{Type: "DATE", RootCause: model.RootCauseOCRCorruption}, Count: 2},
		},
	}}

	sum := summarize(arms, analyses, nil)
	assert.Equal(t, 4, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 96.0, sum.Means[model.MetricSensitivity])
	assert.Equal(t, 5, sum.TopCauses[model.RootCauseOCRCorruption])
	assert.Empty(t, sum.Recommendation)
}
