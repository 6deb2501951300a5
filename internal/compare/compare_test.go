package compare

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/phi-regress/internal/config"
	"github.com/sells-group/phi-regress/internal/model"
	"github.com/sells-group/phi-regress/internal/stats"
)

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// arm builds samples where every metric is flat at 97 unless overridden.
func arm(n int, overrides map[model.Metric]float64) map[model.Metric][]float64 {
	out := make(map[model.Metric][]float64, len(model.Metrics))
	for _, m := range model.Metrics {
		v := 97.0
		if o, ok := overrides[m]; ok {
			v = o
		}
		out[m] = repeat(v, n)
	}
	return out
}

func TestSamples_SensitivityImprovementAccepted(t *testing.T) {
	base := arm(5, map[model.Metric]float64{model.MetricSensitivity: 95})
	exp := arm(5, map[model.Metric]float64{model.MetricSensitivity: 99})

	c := Samples(base, exp, DefaultPolicy())
	assert.Equal(t, model.DecisionAccept, c.Recommendation)
	assert.Equal(t, 5, c.BaselineN)
	assert.Equal(t, 5, c.ExperimentalN)

	v, ok := c.Verdict(model.MetricSensitivity)
	require.True(t, ok)
	assert.Equal(t, model.DirectionBetter, v.Direction)
	assert.True(t, v.Significant)
	assert.InDelta(t, 4.0, v.Difference, 1e-9)
	assert.True(t, math.IsInf(float64(v.TStatistic), 1))
	assert.NotEmpty(t, v.Reasons)

	spec, _ := c.Verdict(model.MetricSpecificity)
	assert.Equal(t, model.DirectionSame, spec.Direction)
	assert.False(t, spec.Significant)
}

func TestSamples_SensitivityRegressionRejected(t *testing.T) {
	base := arm(3, map[model.Metric]float64{model.MetricSensitivity: 99, model.MetricSpecificity: 95})
	exp := arm(3, map[model.Metric]float64{model.MetricSensitivity: 90, model.MetricSpecificity: 99})

	c := Samples(base, exp, DefaultPolicy())
	assert.Equal(t, model.DecisionReject, c.Recommendation)
	require.NotEmpty(t, c.Reasons)
	assert.Contains(t, c.Reasons[0], "sensitivity")

	v, _ := c.Verdict(model.MetricSensitivity)
	assert.Equal(t, model.DirectionWorse, v.Direction)
	assert.True(t, math.IsInf(float64(v.TStatistic), -1))
}

func TestDecide_Rules(t *testing.T) {
	tests := []struct {
		name string
		base map[model.Metric]float64
		exp  map[model.Metric]float64
		want model.Decision
	}{
		{
			name: "sensitivity win with large specificity loss",
			base: map[model.Metric]float64{model.MetricSensitivity: 95, model.MetricSpecificity: 99},
			exp:  map[model.Metric]float64{model.MetricSensitivity: 99, model.MetricSpecificity: 95},
			want: model.DecisionReview,
		},
		{
			name: "sensitivity win with specificity loss inside tolerance",
			base: map[model.Metric]float64{model.MetricSensitivity: 95, model.MetricSpecificity: 99},
			exp:  map[model.Metric]float64{model.MetricSensitivity: 99, model.MetricSpecificity: 98},
			want: model.DecisionAccept,
		},
		{
			name: "f2 win",
			base: map[model.Metric]float64{model.MetricF2: 90},
			exp:  map[model.Metric]float64{model.MetricF2: 92},
			want: model.DecisionAccept,
		},
		{
			name: "specificity win",
			base: map[model.Metric]float64{model.MetricSpecificity: 97},
			exp:  map[model.Metric]float64{model.MetricSpecificity: 99},
			want: model.DecisionAccept,
		},
		{
			name: "nothing moves",
			want: model.DecisionNoEffect,
		},
		{
			name: "only precision regresses",
			base: map[model.Metric]float64{model.MetricPrecision: 96},
			exp:  map[model.Metric]float64{model.MetricPrecision: 90},
			want: model.DecisionReview,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Samples(arm(4, tt.base), arm(4, tt.exp), DefaultPolicy())
			assert.Equal(t, tt.want, c.Recommendation)
			assert.NotEmpty(t, c.Reasons)
		})
	}
}

func TestMetric_NoisySamples(t *testing.T) {
	base := []float64{91.2, 93.5, 92.8, 94.1, 90.6}
	exp := []float64{91.5, 93.1, 92.9, 94.4, 90.9}

	v := Metric(model.MetricSensitivity, base, exp, DefaultPolicy())
	assert.False(t, v.Significant)
	assert.Equal(t, model.DirectionBetter, v.Direction)
	assert.Equal(t, "negligible", v.Magnitude)
	assert.LessOrEqual(t, v.BaselineCI.Lower, v.BaselineCI.Mean)
	assert.LessOrEqual(t, v.ExperimentalCI.Mean, v.ExperimentalCI.Upper)
	assert.Equal(t, stats.DefaultCriticalValue, v.CriticalValue)
}

func TestMetric_EpsilonBand(t *testing.T) {
	v := Metric(model.MetricPrecision, []float64{95, 95.004}, []float64{95.005, 95.006}, DefaultPolicy())
	assert.Equal(t, model.DirectionSame, v.Direction)
}

func TestSamples_StudentTReason(t *testing.T) {
	p := DefaultPolicy()
	p.TTest.Mode = stats.CriticalStudentT

	c := Samples(arm(3, nil), arm(3, nil), p)
	assert.Equal(t, model.DecisionNoEffect, c.Recommendation)
	assert.Contains(t, c.Reasons[len(c.Reasons)-1], "Student-t")
}

func TestAnalyses_UsesSucceededCounts(t *testing.T) {
	base := model.Analysis{Samples: arm(4, nil), Succeeded: 4, Failed: 1}
	exp := model.Analysis{Samples: arm(3, nil), Succeeded: 3}

	c := Analyses(base, exp, DefaultPolicy())
	assert.Equal(t, 4, c.BaselineN)
	assert.Equal(t, 3, c.ExperimentalN)
	assert.Len(t, c.Verdicts, len(model.Metrics))
}

func TestComparison_JSONWithInfiniteT(t *testing.T) {
	c := Samples(arm(3, map[model.Metric]float64{model.MetricSensitivity: 95}), arm(3, nil), DefaultPolicy())
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"+Inf"`)

	var back model.Comparison
	require.NoError(t, json.Unmarshal(data, &back))
	v, _ := back.Verdict(model.MetricSensitivity)
	assert.True(t, math.IsInf(float64(v.TStatistic), 1))
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.StatsConfig{
		Confidence:           0.9,
		CriticalMode:         "student_t",
		CriticalValue:        3.1,
		Epsilon:              0.05,
		SpecificityTolerance: 1.5,
	})
	assert.Equal(t, 0.05, p.Epsilon)
	assert.Equal(t, 1.5, p.SpecificityTolerance)
	assert.Equal(t, stats.CriticalStudentT, p.TTest.Mode)
	assert.Equal(t, 3.1, p.TTest.CriticalValue)
	assert.Equal(t, 0.9, p.TTest.Confidence)

	assert.Equal(t, DefaultPolicy(), PolicyFromConfig(config.StatsConfig{}))
}

// noisyArm spreads every metric around its mean with the given offsets,
// which sum to zero so the mean is exact.
func noisyArm(offsets []float64, means map[model.Metric]float64) map[model.Metric][]float64 {
	out := make(map[model.Metric][]float64, len(model.Metrics))
	for _, m := range model.Metrics {
		mean := 97.0
		if v, ok := means[m]; ok {
			mean = v
		}
		samples := make([]float64, len(offsets))
		for i, o := range offsets {
			samples[i] = mean + o
		}
		out[m] = samples
	}
	return out
}

func TestDecide_RulesNoisySamples(t *testing.T) {
	baseOffsets := []float64{-0.3, 0.1, 0.3, -0.1, 0}
	expOffsets := []float64{0.1, -0.3, 0, 0.3, -0.1}

	tests := []struct {
		name   string
		base   map[model.Metric]float64
		exp    map[model.Metric]float64
		want   model.Decision
		moved  []model.Metric
		reason string
	}{
		{
			name:   "sensitivity regression",
			base:   map[model.Metric]float64{model.MetricSensitivity: 99},
			exp:    map[model.Metric]float64{model.MetricSensitivity: 95},
			want:   model.DecisionReject,
			moved:  []model.Metric{model.MetricSensitivity},
			reason: "sensitivity significantly worse",
		},
		{
			name:   "sensitivity win with large specificity loss",
			base:   map[model.Metric]float64{model.MetricSensitivity: 95, model.MetricSpecificity: 99},
			exp:    map[model.Metric]float64{model.MetricSensitivity: 99, model.MetricSpecificity: 95},
			want:   model.DecisionReview,
			moved:  []model.Metric{model.MetricSensitivity, model.MetricSpecificity},
			reason: "specificity dropped",
		},
		{
			name:   "sensitivity win with specificity loss inside tolerance",
			base:   map[model.Metric]float64{model.MetricSensitivity: 95, model.MetricSpecificity: 99},
			exp:    map[model.Metric]float64{model.MetricSensitivity: 99, model.MetricSpecificity: 98},
			want:   model.DecisionAccept,
			moved:  []model.Metric{model.MetricSensitivity, model.MetricSpecificity},
			reason: "sensitivity significantly better",
		},
		{
			name:   "f2 win",
			base:   map[model.Metric]float64{model.MetricF2: 90},
			exp:    map[model.Metric]float64{model.MetricF2: 92},
			want:   model.DecisionAccept,
			moved:  []model.Metric{model.MetricF2},
			reason: "f2 significantly better",
		},
		{
			name:   "specificity win",
			base:   map[model.Metric]float64{model.MetricSpecificity: 97},
			exp:    map[model.Metric]float64{model.MetricSpecificity: 99},
			want:   model.DecisionAccept,
			moved:  []model.Metric{model.MetricSpecificity},
			reason: "specificity significantly better",
		},
		{
			name:   "small moves below the critical value",
			base:   map[model.Metric]float64{model.MetricSensitivity: 97, model.MetricF2: 96},
			exp:    map[model.Metric]float64{model.MetricSensitivity: 97.1, model.MetricF2: 95.9},
			want:   model.DecisionNoEffect,
			reason: "no metric changed significantly",
		},
		{
			name:   "only precision regresses",
			base:   map[model.Metric]float64{model.MetricPrecision: 96},
			exp:    map[model.Metric]float64{model.MetricPrecision: 90},
			want:   model.DecisionReview,
			moved:  []model.Metric{model.MetricPrecision},
			reason: "mixed significant changes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Samples(noisyArm(baseOffsets, tt.base), noisyArm(expOffsets, tt.exp), DefaultPolicy())
			assert.Equal(t, tt.want, c.Recommendation)
			assert.Contains(t, strings.Join(c.Reasons, "; "), tt.reason)

			moved := make(map[model.Metric]bool, len(tt.moved))
			for _, m := range tt.moved {
				moved[m] = true
			}
			for _, v := range c.Verdicts {
				tv := float64(v.TStatistic)
				assert.False(t, math.IsInf(tv, 0), "%s t=%v", v.Metric, tv)
				assert.Equal(t, stats.DefaultCriticalValue, v.CriticalValue)
				assert.Equal(t, moved[v.Metric], v.Significant, "%s t=%.3f", v.Metric, tv)
				if moved[v.Metric] {
					assert.Greater(t, math.Abs(tv), stats.DefaultCriticalValue)
				}
			}
		})
	}
}
