package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultCriticalValue is the fixed two-sided critical t used for
// significance. It corresponds to df of about 4 at 95% confidence.
const DefaultCriticalValue = 2.78

// CriticalMode selects how the significance threshold is chosen.
type CriticalMode string

const (
	// CriticalFixed compares |t| against a constant critical value.
	CriticalFixed CriticalMode = "fixed"
	// CriticalStudentT uses the Student-t quantile at the computed df.
	CriticalStudentT CriticalMode = "student_t"
)

// TTestOptions controls significance evaluation.
type TTestOptions struct {
	Mode          CriticalMode
	CriticalValue float64
	Confidence    float64
}

// DefaultTTestOptions returns the fixed-critical-value configuration.
func DefaultTTestOptions() TTestOptions {
	return TTestOptions{Mode: CriticalFixed, CriticalValue: DefaultCriticalValue, Confidence: 0.95}
}

// TTest is the outcome of Welch's two-sample t-test.
type TTest struct {
	T           float64
	DF          float64
	PValue      float64
	Critical    float64
	Significant bool
}

// WelchTTest compares the means of a and b without assuming equal variances.
// When both samples have zero variance the statistic is 0 (equal means) or
// an infinity signed like meanA-meanB instead of dividing by zero.
func WelchTTest(a, b []float64, opts TTestOptions) TTest {
	if opts.CriticalValue <= 0 {
		opts.CriticalValue = DefaultCriticalValue
	}
	if opts.Confidence <= 0 || opts.Confidence >= 1 {
		opts.Confidence = 0.95
	}

	nA, nB := float64(len(a)), float64(len(b))
	if nA == 0 || nB == 0 {
		return TTest{PValue: 1, Critical: opts.CriticalValue}
	}

	meanA, meanB := Mean(a), Mean(b)
	varA, varB := Variance(a), Variance(b)
	seA, seB := varA/nA, varB/nB

	if varA == 0 && varB == 0 {
		df := math.Max(nA+nB-2, 1)
		res := TTest{DF: df, PValue: 1, Critical: criticalValue(df, opts)}
		if meanA != meanB {
			res.T = math.Inf(1)
			if meanA < meanB {
				res.T = math.Inf(-1)
			}
			res.PValue = 0
			res.Significant = true
		}
		return res
	}

	t := (meanA - meanB) / math.Sqrt(seA+seB)
	df := welchDF(seA, seB, nA, nB)
	crit := criticalValue(df, opts)

	return TTest{
		T:           t,
		DF:          df,
		PValue:      twoSidedP(t, df),
		Critical:    crit,
		Significant: math.Abs(t) > crit,
	}
}

// welchDF is the Welch-Satterthwaite approximation. Single-observation
// samples contribute no denominator term; if neither does, the pooled df is used.
func welchDF(seA, seB, nA, nB float64) float64 {
	num := (seA + seB) * (seA + seB)
	var den float64
	if nA > 1 {
		den += seA * seA / (nA - 1)
	}
	if nB > 1 {
		den += seB * seB / (nB - 1)
	}
	if den == 0 {
		return math.Max(nA+nB-2, 1)
	}
	return num / den
}

func criticalValue(df float64, opts TTestOptions) float64 {
	if opts.Mode != CriticalStudentT {
		return opts.CriticalValue
	}
	alpha := 1 - opts.Confidence
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(1 - alpha/2)
}

func twoSidedP(t, df float64) float64 {
	if math.IsNaN(t) {
		return 1
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * (1 - dist.CDF(math.Abs(t)))
}

// CohensD returns the standardized mean difference of a relative to b using
// the root mean of the two variances. It is 0 when that pooled deviation is 0.
func CohensD(a, b []float64) float64 {
	pooled := math.Sqrt((Variance(a) + Variance(b)) / 2)
	if pooled == 0 {
		return 0
	}
	return (Mean(a) - Mean(b)) / pooled
}

// Magnitude bands an effect size.
func Magnitude(d float64) string {
	switch d = math.Abs(d); {
	case d < 0.2:
		return "negligible"
	case d < 0.5:
		return "small"
	case d < 0.8:
		return "medium"
	default:
		return "large"
	}
}
