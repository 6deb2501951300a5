// Package analysis reduces a trial set to per-metric statistics, failure
// clusters and recommendations.
package analysis

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/phi-regress/internal/classify"
	"github.com/sells-group/phi-regress/internal/cluster"
	"github.com/sells-group/phi-regress/internal/model"
	"github.com/sells-group/phi-regress/internal/recommend"
	"github.com/sells-group/phi-regress/internal/stats"
)

// ErrNoSuccessfulTrials means every trial in the set failed.
var ErrNoSuccessfulTrials = eris.New("analysis: no successful trials")

// Analyzer builds Analysis values. It is safe for concurrent use.
type Analyzer struct {
	classifier *classify.Classifier
	confidence float64
}

// New creates an Analyzer reporting intervals at the given confidence level.
func New(c *classify.Classifier, confidence float64) *Analyzer {
	if c == nil {
		c = classify.New(classify.Options{})
	}
	if confidence <= 0 || confidence >= 1 {
		confidence = 0.95
	}
	return &Analyzer{classifier: c, confidence: confidence}
}

// Analyze computes statistics over the successful trials of set and
// diagnoses every reported failure.
func (a *Analyzer) Analyze(set model.TrialSet) (model.Analysis, error) {
	ok := set.Successful()
	if len(ok) == 0 {
		return model.Analysis{Failed: set.Failed}, eris.Wrapf(ErrNoSuccessfulTrials, "analysis: %d of %d trials failed", set.Failed, len(set.Results))
	}

	out := a.Diagnose(set)
	out.Stats = make(map[model.Metric]model.MetricSummary, len(model.Metrics))
	out.Samples = make(map[model.Metric][]float64, len(model.Metrics))
	for _, m := range model.Metrics {
		samples := model.SampleSet(m, ok).Values
		out.Samples[m] = samples
		out.Stats[m] = stats.Summarize(samples, a.confidence)
	}
	return out, nil
}

// Diagnose classifies, clusters and recommends without computing statistics.
func (a *Analyzer) Diagnose(set model.TrialSet) model.Analysis {
	var failures []model.FailureRecord
	for _, r := range set.Successful() {
		failures = append(failures, r.Failures...)
	}

	clusters := cluster.Aggregate(a.classifier.ClassifyAll(failures))
	return model.Analysis{
		Succeeded:       set.Succeeded,
		Failed:          set.Failed,
		TotalFailures:   len(failures),
		Clusters:        clusters,
		Recommendations: recommend.Generate(clusters),
	}
}
