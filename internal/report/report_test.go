package report

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/phi-regress/internal/model"
)

func sampleAnalysis() model.Analysis {
	return model.Analysis{
		Stats: map[model.Metric]model.MetricSummary{
			model.MetricSensitivity: {N: 5, Mean: 95.5, StdDev: 1.25, Min: 93, Max: 97,
				CI: model.Interval{Lower: 93.1, Upper: 96.9, Mean: 95.5, StdDev: 1.25}},
			model.MetricSpecificity: {N: 5, Mean: 99.1, Min: 99.1, Max: 99.1,
				CI: model.Interval{Lower: 99.1, Upper: 99.1, Mean: 99.1}},
		},
		Succeeded:     5,
		Failed:        1,
		TotalFailures: 12345,
		Clusters: []model.Cluster{
			{ClusterKey: model.ClusterKey{Type: "NAME", RootCause: model.RootCauseSpecialCharacters, SubCategory: "APOSTROPHE"},
				Count: 12, Examples: []string{"O'Brien", "D'Angelo"}, ConfidenceSum: 10.2},
		},
		Recommendations: []model.Recommendation{
			{Priority: model.PriorityHigh, Action: "Extend name patterns", TargetArea: "name detection",
				Cluster: model.ClusterKey{Type: "NAME", RootCause: model.RootCauseSpecialCharacters, SubCategory: "APOSTROPHE"},
				Count: 12, Examples: []string{"O'Brien"}},
		},
	}
}

func sampleComparison() model.Comparison {
	return model.Comparison{
		Verdicts: []model.MetricVerdict{
			{Metric: model.MetricSensitivity, BaselineMean: 95, ExperimentalMean: 99, Difference: 4,
				TStatistic: model.Float(math.Inf(1)), DegreesOfFreedom: 8, PValue: 0, CriticalValue: 2.78,
				Significant: true, Magnitude: "negligible", Direction: model.DirectionBetter},
		},
		Recommendation: model.DecisionAccept,
		Reasons:        []string{"sensitivity improved significantly"},
		BaselineN:      5,
		ExperimentalN:  5,
	}
}

func TestAnalysis(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Analysis("baseline", sampleAnalysis())
	out := buf.String()

	assert.Contains(t, out, "baseline: 5 succeeded, 1 failed")
	assert.Contains(t, out, "sensitivity")
	assert.Contains(t, out, "95.50")
	assert.Contains(t, out, "[93.10, 96.90]")
	assert.NotContains(t, out, "precision")
	assert.Contains(t, out, "Failures: 12,345 in 1 clusters")
	assert.Contains(t, out, `"O'Brien", "D'Angelo"`)
	assert.Contains(t, out, "0.85")
}

func TestClusters_Limit(t *testing.T) {
	clusters := make([]model.Cluster, 15)
	for i := range clusters {
		clusters[i] = model.Cluster{ClusterKey: model.ClusterKey{Type: "T"}, Count: 15 - i}
	}
	var buf bytes.Buffer
	New(&buf).Clusters(100, clusters, 3)

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	// blank + summary + header + 3 rows
	assert.Equal(t, 6, lines)
}

func TestRecommendations(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Recommendations(sampleAnalysis().Recommendations)
	out := buf.String()
	assert.Contains(t, out, " 1. [HIGH] Extend name patterns (name detection, 12 failures)")
	assert.Contains(t, out, "NAME / SPECIAL_CHARACTERS / APOSTROPHE")

	buf.Reset()
	New(&buf).Recommendations(nil)
	assert.Contains(t, buf.String(), "No recommendations.")
}

func TestComparison(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Comparison(sampleComparison())
	out := buf.String()

	assert.Contains(t, out, "Baseline n=5, experimental n=5")
	assert.Contains(t, out, "+Inf")
	assert.Contains(t, out, "+4.00")
	assert.Contains(t, out, "BETTER")
	assert.Contains(t, out, "Recommendation: ACCEPT")
	assert.Contains(t, out, "  - sensitivity improved significantly")
}

func TestRuns(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{ID: "0123456789abcdef", Command: "compare", Status: model.RunStatusComplete,
			Summary:   &model.RunSummary{Succeeded: 4, Failed: 1, Recommendation: model.DecisionReject},
			CreatedAt: created, UpdatedAt: created.Add(90 * time.Second)},
		{ID: "short", Command: "baseline", Status: model.RunStatusFailed,
			Error:     "orchestrator: every trial failed for this arm",
			CreatedAt: created, UpdatedAt: created},
	}

	var buf bytes.Buffer
	New(&buf).Runs(runs)
	out := buf.String()

	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "4/5")
	assert.Contains(t, out, "REJECT")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "2026-03-01 12:00")
	assert.Contains(t, out, "orchestrator: every trial f...")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abcdefgh", TruncateID("abcdefgh-1234"))
	assert.Equal(t, "abc", TruncateID("abc"))
}

func TestFormatT(t *testing.T) {
	assert.Equal(t, "+Inf", formatT(math.Inf(1)))
	assert.Equal(t, "-Inf", formatT(math.Inf(-1)))
	assert.Equal(t, "-2.121", formatT(-3/math.Sqrt(2)))
}

func readSheet(t *testing.T, f *xlsx.File, name string) [][]string {
	t.Helper()
	sheet, ok := f.Sheet[name]
	require.True(t, ok, "sheet %s missing", name)
	var rows [][]string
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			cells[i] = c.String()
		}
		rows = append(rows, cells)
	}
	return rows
}

func TestExportXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.xlsx")
	cmp := sampleComparison()
	err := ExportXLSX(path, Workbook{
		Analyses: []LabeledAnalysis{
			{Label: "baseline", Analysis: sampleAnalysis()},
			{Label: "experimental", Analysis: sampleAnalysis()},
		},
		Comparison: &cmp,
	})
	require.NoError(t, err)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Sheets, 4)

	stats := readSheet(t, f, "Statistics")
	require.Len(t, stats, 5) // header + 2 metrics x 2 arms
	assert.Equal(t, "Arm", stats[0][0])
	assert.Equal(t, "baseline", stats[1][0])
	assert.Equal(t, "sensitivity", stats[1][1])
	assert.Equal(t, "experimental", stats[3][0])

	clusters := readSheet(t, f, "Clusters")
	require.Len(t, clusters, 3)
	assert.Equal(t, "O'Brien | D'Angelo", clusters[1][6])

	verdicts := readSheet(t, f, "Verdicts")
	assert.Equal(t, "sensitivity", verdicts[1][0])
	assert.Equal(t, "+Inf", verdicts[1][4])
	assert.Equal(t, "Recommendation", verdicts[2][0])
	assert.Equal(t, "ACCEPT", verdicts[2][1])
}

func TestExportXLSX_AnalysisOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.xlsx")
	require.NoError(t, ExportXLSX(path, Workbook{Analyses: []LabeledAnalysis{{Label: "single", Analysis: sampleAnalysis()}}}))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	_, ok := f.Sheet["Verdicts"]
	assert.False(t, ok)
}

func TestExportXLSX_Empty(t *testing.T) {
	err := ExportXLSX(filepath.Join(t.TempDir(), "empty.xlsx"), Workbook{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to export")
}
