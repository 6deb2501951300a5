package model

import (
	"encoding/json"
	"math"
	"time"
)

// Metric names one of the detection-quality scalars reported by the engine.
type Metric string

const (
	MetricSensitivity Metric = "sensitivity"
	MetricSpecificity Metric = "specificity"
	MetricPrecision   Metric = "precision"
	MetricF1          Metric = "f1"
	MetricF2          Metric = "f2"
)

// Metrics lists the canonical metrics in reporting order.
var Metrics = []Metric{MetricSensitivity, MetricSpecificity, MetricPrecision, MetricF1, MetricF2}

// TrialConfig describes one invocation of the engine under test.
type TrialConfig struct {
	Seed          int64             `json:"seed"`
	DocumentCount int               `json:"document_count"`
	Env           map[string]string `json:"env,omitempty"`
}

// FailureRecord is a single missed detection reported by the engine.
type FailureRecord struct {
	Type       string `json:"type"`
	Value      string `json:"value"`
	Context    string `json:"context,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// TrialResult is the outcome of one trial. Failed trials carry only Seed,
// Error and Duration.
type TrialResult struct {
	Seed     int64              `json:"seed"`
	Success  bool               `json:"success"`
	Metrics  map[Metric]float64 `json:"metrics,omitempty"`
	Failures []FailureRecord    `json:"failures,omitempty"`
	Error    string             `json:"error,omitempty"`
	Duration time.Duration      `json:"duration"`
}

// TrialSet is the collected output of one orchestrated run.
type TrialSet struct {
	Results   []TrialResult `json:"results"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// Successful returns only the trials that produced metrics.
func (s TrialSet) Successful() []TrialResult {
	out := make([]TrialResult, 0, s.Succeeded)
	for _, r := range s.Results {
		if r.Success {
			out = append(out, r)
		}
	}
	return out
}

// FailureRate returns the fraction of trials that failed.
func (s TrialSet) FailureRate() float64 {
	total := s.Succeeded + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(total)
}

// MetricSampleSet holds one metric's values across successful trials.
type MetricSampleSet struct {
	Metric Metric    `json:"metric"`
	Values []float64 `json:"values"`
}

// SampleSet extracts the values of m from successful trials, in trial order.
// Failed trials contribute nothing.
func SampleSet(m Metric, results []TrialResult) MetricSampleSet {
	set := MetricSampleSet{Metric: m, Values: make([]float64, 0, len(results))}
	for _, r := range results {
		if !r.Success {
			continue
		}
		if v, ok := r.Metrics[m]; ok {
			set.Values = append(set.Values, v)
		}
	}
	return set
}

// Float is a float64 that survives JSON encoding of infinities, which
// the t statistic produces for zero-variance samples with different means.
type Float float64

// MarshalJSON encodes infinities as strings.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON accepts both numbers and the string forms written by MarshalJSON.
func (f *Float) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "+Inf":
			*f = Float(math.Inf(1))
		case "-Inf":
			*f = Float(math.Inf(-1))
		default:
			*f = Float(math.NaN())
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}
