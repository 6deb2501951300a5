package model

import "time"

// RunStatus represents the current state of a ledger run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Arm labels which side of a comparison a trial belongs to.
type Arm string

const (
	ArmBaseline     Arm = "baseline"
	ArmExperimental Arm = "experimental"
	ArmSingle       Arm = "single"
)

// Run is one top-level command invocation recorded in the ledger.
type Run struct {
	ID        string      `json:"id"`
	Command   string      `json:"command"`
	Status    RunStatus   `json:"status"`
	Settings  RunSettings `json:"settings"`
	Summary   *RunSummary `json:"summary,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RunSummary is the compact outcome stored on a completed run.
type RunSummary struct {
	Succeeded      int                `json:"succeeded"`
	Failed         int                `json:"failed"`
	Means          map[Metric]float64 `json:"means,omitempty"`
	Recommendation Decision           `json:"recommendation,omitempty"`
	Arms           map[Arm]ArmSummary `json:"arms,omitempty"`
	TopCauses      map[RootCause]int  `json:"top_causes,omitempty"`
}

// ArmSummary summarises one arm of an A/B run.
type ArmSummary struct {
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Means     map[Metric]float64 `json:"means,omitempty"`
}

// RunTrial is one trial outcome attached to a run.
type RunTrial struct {
	RunID      string `json:"run_id"`
	Arm        Arm    `json:"arm"`
	Index      int    `json:"index"`
	Seed       int64  `json:"seed"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	Failures   int    `json:"failures"`
	DurationMs int64  `json:"duration_ms"`
}

// TrialsForRun converts a trial set into ledger rows.
func TrialsForRun(runID string, arm Arm, set TrialSet) []RunTrial {
	rows := make([]RunTrial, 0, len(set.Results))
	for i, r := range set.Results {
		rows = append(rows, RunTrial{
			RunID:      runID,
			Arm:        arm,
			Index:      i,
			Seed:       r.Seed,
			Success:    r.Success,
			Error:      r.Error,
			Failures:   len(r.Failures),
			DurationMs: r.Duration.Milliseconds(),
		})
	}
	return rows
}
