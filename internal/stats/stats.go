// Package stats implements the descriptive statistics, Welch's t-test and
// Cohen's d used to compare trial sets. All functions are pure.
package stats

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/phi-regress/internal/model"
)

// Mean returns the arithmetic mean, or 0 for an empty sample.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return stat.Mean(samples, nil)
}

// Variance returns the population variance (mean of squared deviations).
func Variance(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return stat.PopVariance(samples, nil)
}

// StdDev returns the population standard deviation.
func StdDev(samples []float64) float64 {
	return math.Sqrt(Variance(samples))
}

// Percentile returns the nearest-rank percentile for p in [0,1] computed on
// a sorted copy; the input is left untouched.
func Percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	p = math.Min(math.Max(p, 0), 1)
	v, err := stats.PercentileNearestRank(samples, p*100)
	if err != nil {
		return 0
	}
	return v
}

// ConfidenceInterval returns the percentile interval at the given level.
// Lower and Upper are widened to include the mean, so Lower <= Mean <= Upper.
func ConfidenceInterval(samples []float64, level float64) model.Interval {
	mean := Mean(samples)
	alpha := 1 - level
	lower := Percentile(samples, alpha/2)
	upper := Percentile(samples, 1-alpha/2)
	return model.Interval{
		Lower:  math.Min(lower, mean),
		Upper:  math.Max(upper, mean),
		Mean:   mean,
		StdDev: StdDev(samples),
	}
}

// Summarize computes the descriptive statistics of one metric.
func Summarize(samples []float64, level float64) model.MetricSummary {
	s := model.MetricSummary{
		N:      len(samples),
		Mean:   Mean(samples),
		StdDev: StdDev(samples),
		CI:     ConfidenceInterval(samples, level),
	}
	if len(samples) > 0 {
		s.Min, _ = stats.Min(samples)
		s.Max, _ = stats.Max(samples)
	}
	return s
}
