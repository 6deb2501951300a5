// Package recommend turns failure clusters into prioritized remediation hints.
package recommend

import (
	"github.com/sells-group/phi-regress/internal/model"
)

const (
	// MaxRecommendations caps the list returned by Generate.
	MaxRecommendations = 10

	highThreshold   = 10
	mediumThreshold = 5
)

type remedy struct {
	action     string
	targetArea string
}

var remedies = map[model.RootCause]remedy{
	model.RootCauseOCRCorruption: {
		action:     "Add OCR-tolerant pattern variants (confusable characters, stray spaces)",
		targetArea: "detection patterns / OCR normalization",
	},
	model.RootCauseFormatVariation: {
		action:     "Extend the pattern to cover this formatting variant",
		targetArea: "detection patterns",
	},
	model.RootCauseSpecialCharacters: {
		action:     "Allow apostrophes, hyphens and accents in the matcher",
		targetArea: "detection patterns / tokenizer",
	},
	model.RootCausePatternMissing: {
		action:     "Add a detection pattern for this value shape",
		targetArea: "detection patterns",
	},
	model.RootCauseDataGenerationBug: {
		action:     "Fix the test data generator; the expected label is wrong",
		targetArea: "test data generation",
	},
}

// PriorityFor maps a cluster size to a priority.
func PriorityFor(count int) model.Priority {
	switch {
	case count >= highThreshold:
		return model.PriorityHigh
	case count >= mediumThreshold:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// Generate builds recommendations for the leading clusters. Input is expected
// sorted by descending count, as returned by cluster.Aggregate.
func Generate(clusters []model.Cluster) []model.Recommendation {
	n := len(clusters)
	if n > MaxRecommendations {
		n = MaxRecommendations
	}

	out := make([]model.Recommendation, 0, n)
	for _, c := range clusters[:n] {
		r, ok := remedies[c.RootCause]
		if !ok {
			r = remedies[model.RootCausePatternMissing]
		}
		out = append(out, model.Recommendation{
			Priority:   PriorityFor(c.Count),
			Action:     r.action,
			TargetArea: r.targetArea,
			Cluster:    c.ClusterKey,
			Count:      c.Count,
			Examples:   c.Examples,
		})
	}
	return out
}
