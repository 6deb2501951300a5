package model

import "time"

// Direction describes how the experimental arm moved relative to the baseline.
type Direction string

const (
	DirectionBetter Direction = "BETTER"
	DirectionWorse  Direction = "WORSE"
	DirectionSame   Direction = "SAME"
)

// Decision is the overall outcome of a comparison.
type Decision string

const (
	DecisionAccept   Decision = "ACCEPT"
	DecisionReject   Decision = "REJECT"
	DecisionReview   Decision = "REVIEW"
	DecisionNoEffect Decision = "NO_EFFECT"
)

// Interval is a confidence interval around a sample mean.
type Interval struct {
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// MetricSummary is the descriptive statistics of one metric.
type MetricSummary struct {
	N      int      `json:"n"`
	Mean   float64  `json:"mean"`
	StdDev float64  `json:"stddev"`
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	CI     Interval `json:"ci"`
}

// MetricVerdict is the comparison result for one metric.
type MetricVerdict struct {
	Metric           Metric    `json:"metric"`
	BaselineMean     float64   `json:"baseline_mean"`
	ExperimentalMean float64   `json:"experimental_mean"`
	Difference       float64   `json:"difference"`
	BaselineCI       Interval  `json:"baseline_ci"`
	ExperimentalCI   Interval  `json:"experimental_ci"`
	TStatistic       Float     `json:"t_statistic"`
	DegreesOfFreedom float64   `json:"degrees_of_freedom"`
	PValue           float64   `json:"p_value"`
	CriticalValue    float64   `json:"critical_value"`
	Significant      bool      `json:"significant"`
	EffectSize       float64   `json:"effect_size"`
	Magnitude        string    `json:"magnitude"`
	Direction        Direction `json:"direction"`
	Reasons          []string  `json:"reasons,omitempty"`
}

// Comparison is the overall verdict of a compare or ab invocation.
type Comparison struct {
	Verdicts       []MetricVerdict `json:"verdicts"`
	Recommendation Decision        `json:"recommendation"`
	Reasons        []string        `json:"reasons"`
	BaselineN      int             `json:"baseline_n"`
	ExperimentalN  int             `json:"experimental_n"`
}

// Verdict returns the verdict for m, if present.
func (c Comparison) Verdict(m Metric) (MetricVerdict, bool) {
	for _, v := range c.Verdicts {
		if v.Metric == m {
			return v, true
		}
	}
	return MetricVerdict{}, false
}

// Analysis is the aggregated view of one trial set.
type Analysis struct {
	Stats           map[Metric]MetricSummary `json:"stats"`
	Samples         map[Metric][]float64     `json:"samples"`
	Succeeded       int                      `json:"succeeded"`
	Failed          int                      `json:"failed"`
	TotalFailures   int                      `json:"total_failures"`
	Clusters        []Cluster                `json:"clusters,omitempty"`
	Recommendations []Recommendation         `json:"recommendations,omitempty"`
}

// RunSettings records the settings that produced an analysis.
type RunSettings struct {
	Trials        int               `json:"trials"`
	DocumentCount int               `json:"document_count"`
	PoolSize      int               `json:"pool_size"`
	Seeds         []int64           `json:"seeds"`
	Env           map[string]string `json:"env,omitempty"`
	Confidence    float64           `json:"confidence"`
	CriticalMode  string            `json:"critical_mode"`
}

// BaselineSnapshot is the persisted record of one baseline analysis.
type BaselineSnapshot struct {
	Timestamp time.Time   `json:"timestamp"`
	Config    RunSettings `json:"config"`
	Analysis  Analysis    `json:"analysis"`
}

// ComparisonArtifact is the optional record written by compare runs.
type ComparisonArtifact struct {
	Timestamp  time.Time        `json:"timestamp"`
	Baseline   BaselineSnapshot `json:"baseline"`
	Config     RunSettings      `json:"config"`
	Analysis   Analysis         `json:"analysis"`
	Comparison Comparison       `json:"comparison"`
}
