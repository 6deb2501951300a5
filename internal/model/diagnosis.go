package model

// RootCause is the categorical explanation assigned to one missed detection.
type RootCause string

const (
	RootCauseOCRCorruption     RootCause = "OCR_CORRUPTION"
	RootCauseFormatVariation   RootCause = "FORMAT_VARIATION"
	RootCauseSpecialCharacters RootCause = "SPECIAL_CHARACTERS"
	RootCausePatternMissing    RootCause = "PATTERN_MISSING"
	RootCauseDataGenerationBug RootCause = "DATA_GENERATION_BUG"
)

// FailureClassification is the diagnosis of a single FailureRecord.
type FailureClassification struct {
	RootCause   RootCause `json:"root_cause"`
	SubCategory string    `json:"sub_category,omitempty"`
	Confidence  float64   `json:"confidence"`
	Rule        string    `json:"rule"`
}

// ClassifiedFailure pairs a failure with its diagnosis.
type ClassifiedFailure struct {
	Record         FailureRecord         `json:"record"`
	Classification FailureClassification `json:"classification"`
}

// ClusterKey groups failures that share a type and root cause.
type ClusterKey struct {
	Type        string    `json:"type"`
	RootCause   RootCause `json:"root_cause"`
	SubCategory string    `json:"sub_category,omitempty"`
}

// MaxClusterExamples caps the distinct example values kept per cluster.
const MaxClusterExamples = 5

// Cluster is a group of same-cause failures.
type Cluster struct {
	ClusterKey
	Count         int      `json:"count"`
	Examples      []string `json:"examples"`
	ConfidenceSum float64  `json:"confidence_sum"`
}

// AvgConfidence returns the mean classification confidence of the cluster.
func (c Cluster) AvgConfidence() float64 {
	if c.Count == 0 {
		return 0
	}
	return c.ConfidenceSum / float64(c.Count)
}

// Priority ranks recommendations.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Recommendation is a remediation hint derived from a cluster.
type Recommendation struct {
	Priority   Priority   `json:"priority"`
	Action     string     `json:"action"`
	TargetArea string     `json:"target_area"`
	Cluster    ClusterKey `json:"cluster"`
	Count      int        `json:"count"`
	Examples   []string   `json:"examples,omitempty"`
}
