// Package compare decides whether an experimental trial set is an
// improvement over a baseline.
package compare

import (
	"fmt"
	"math"

	"github.com/sells-group/phi-regress/internal/config"
	"github.com/sells-group/phi-regress/internal/model"
	"github.com/sells-group/phi-regress/internal/stats"
)

// Policy holds the thresholds used to judge a comparison.
type Policy struct {
	// Epsilon is the smallest mean difference, in points, that counts as a move.
	Epsilon float64
	// SpecificityTolerance is the specificity drop, in points, that turns a
	// sensitivity win into a REVIEW.
	SpecificityTolerance float64
	TTest                stats.TTestOptions
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{Epsilon: 0.01, SpecificityTolerance: 2, TTest: stats.DefaultTTestOptions()}
}

// PolicyFromConfig builds a Policy from the stats configuration.
func PolicyFromConfig(cfg config.StatsConfig) Policy {
	p := DefaultPolicy()
	if cfg.Epsilon > 0 {
		p.Epsilon = cfg.Epsilon
	}
	if cfg.SpecificityTolerance > 0 {
		p.SpecificityTolerance = cfg.SpecificityTolerance
	}
	if cfg.CriticalMode != "" {
		p.TTest.Mode = stats.CriticalMode(cfg.CriticalMode)
	}
	if cfg.CriticalValue > 0 {
		p.TTest.CriticalValue = cfg.CriticalValue
	}
	if cfg.Confidence > 0 && cfg.Confidence < 1 {
		p.TTest.Confidence = cfg.Confidence
	}
	return p
}

// Analyses compares two analyses metric by metric.
func Analyses(baseline, experimental model.Analysis, p Policy) model.Comparison {
	c := Samples(baseline.Samples, experimental.Samples, p)
	c.BaselineN = baseline.Succeeded
	c.ExperimentalN = experimental.Succeeded
	return c
}

// Samples compares raw per-metric samples and applies the decision policy.
func Samples(baseline, experimental map[model.Metric][]float64, p Policy) model.Comparison {
	verdicts := make([]model.MetricVerdict, 0, len(model.Metrics))
	for _, m := range model.Metrics {
		verdicts = append(verdicts, Metric(m, baseline[m], experimental[m], p))
	}
	decision, reasons := Decide(verdicts, p)
	if p.TTest.Mode == stats.CriticalStudentT {
		reasons = append(reasons, fmt.Sprintf("significance uses Student-t critical values at %.0f%% confidence", p.TTest.Confidence*100))
	}
	return model.Comparison{
		Verdicts:       verdicts,
		Recommendation: decision,
		Reasons:        reasons,
		BaselineN:      len(baseline[model.MetricSensitivity]),
		ExperimentalN:  len(experimental[model.MetricSensitivity]),
	}
}

// Metric compares one metric. Positive differences mean the experimental
// arm scored higher.
func Metric(m model.Metric, baseline, experimental []float64, p Policy) model.MetricVerdict {
	level := p.TTest.Confidence
	tt := stats.WelchTTest(experimental, baseline, p.TTest)
	d := stats.CohensD(experimental, baseline)

	v := model.MetricVerdict{
		Metric:           m,
		BaselineMean:     stats.Mean(baseline),
		ExperimentalMean: stats.Mean(experimental),
		BaselineCI:       stats.ConfidenceInterval(baseline, level),
		ExperimentalCI:   stats.ConfidenceInterval(experimental, level),
		TStatistic:       model.Float(tt.T),
		DegreesOfFreedom: tt.DF,
		PValue:           tt.PValue,
		CriticalValue:    tt.Critical,
		Significant:      tt.Significant,
		EffectSize:       d,
		Magnitude:        stats.Magnitude(d),
	}
	v.Difference = v.ExperimentalMean - v.BaselineMean

	switch {
	case v.Difference > p.Epsilon:
		v.Direction = model.DirectionBetter
	case v.Difference < -p.Epsilon:
		v.Direction = model.DirectionWorse
	default:
		v.Direction = model.DirectionSame
	}

	sig := "not significant"
	if v.Significant {
		sig = "significant"
	}
	v.Reasons = append(v.Reasons, fmt.Sprintf("%s %s by %+.2f points (t=%s, |t| vs %.3f, %s, %s effect)",
		m, directionVerb(v.Direction), v.Difference, formatT(tt.T), tt.Critical, sig, v.Magnitude))
	return v
}

// Decide applies the ordered decision rules; the first match wins.
func Decide(verdicts []model.MetricVerdict, p Policy) (model.Decision, []string) {
	byMetric := make(map[model.Metric]model.MetricVerdict, len(verdicts))
	for _, v := range verdicts {
		byMetric[v.Metric] = v
	}
	sens := byMetric[model.MetricSensitivity]
	spec := byMetric[model.MetricSpecificity]
	f2 := byMetric[model.MetricF2]

	switch {
	case sigWorse(sens):
		return model.DecisionReject, []string{
			fmt.Sprintf("sensitivity significantly worse (%+.2f points): missed PHI increased", sens.Difference),
		}
	case sigBetter(sens) && sigWorse(spec) && spec.Difference < -p.SpecificityTolerance:
		return model.DecisionReview, []string{
			fmt.Sprintf("sensitivity significantly better (%+.2f points)", sens.Difference),
			fmt.Sprintf("but specificity dropped %.2f points, more than the %.2f point tolerance", -spec.Difference, p.SpecificityTolerance),
		}
	case sigBetter(sens):
		return model.DecisionAccept, []string{
			fmt.Sprintf("sensitivity significantly better (%+.2f points)", sens.Difference),
		}
	case sigBetter(f2):
		return model.DecisionAccept, []string{
			fmt.Sprintf("f2 significantly better (%+.2f points)", f2.Difference),
		}
	case sigBetter(spec):
		return model.DecisionAccept, []string{
			fmt.Sprintf("specificity significantly better (%+.2f points) with no significant sensitivity loss", spec.Difference),
		}
	case !anySignificant(verdicts):
		return model.DecisionNoEffect, []string{"no metric changed significantly"}
	default:
		var reasons []string
		for _, v := range verdicts {
			if v.Significant {
				reasons = append(reasons, fmt.Sprintf("%s %s significantly (%+.2f points)", v.Metric, directionVerb(v.Direction), v.Difference))
			}
		}
		return model.DecisionReview, append(reasons, "mixed significant changes need manual review")
	}
}

func sigBetter(v model.MetricVerdict) bool {
	return v.Significant && v.Direction == model.DirectionBetter
}

func sigWorse(v model.MetricVerdict) bool {
	return v.Significant && v.Direction == model.DirectionWorse
}

func anySignificant(verdicts []model.MetricVerdict) bool {
	for _, v := range verdicts {
		if v.Significant {
			return true
		}
	}
	return false
}

func directionVerb(d model.Direction) string {
	switch d {
	case model.DirectionBetter:
		return "improved"
	case model.DirectionWorse:
		return "regressed"
	default:
		return "unchanged"
	}
}

func formatT(t float64) string {
	if math.IsInf(t, 0) {
		if t > 0 {
			return "+Inf"
		}
		return "-Inf"
	}
	return fmt.Sprintf("%.3f", t)
}
