package models

import "time"

// RunStatus is the status string reported by the action executor.
type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunFailed  RunStatus = "failed"
)

// ActionOutput is the structured payload returned by a remediation run.
type ActionOutput struct {
	Findings  []string `json:"findings"`
	Changes   []string `json:"changes"`
	NextSteps []string `json:"nextSteps"`
	Summary   string   `json:"summary"`
}

// ActionRun records the most recent completed remediation for an anomaly.
type ActionRun struct {
	RunID     string        `json:"runId"`
	Status    RunStatus     `json:"status"`
	Output    *ActionOutput `json:"outputJson"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ActionRequest is the payload sent to the backend to run a remediation.
type ActionRequest struct {
	SiteID     string  `json:"siteId"`
	Anomaly    Anomaly `json:"anomaly"`
	EnrichOnly bool    `json:"enrichOnly"`
}

// ActionState is the per-identity lifecycle tracked by the orchestrator.
type ActionState string

const (
	ActionIdle      ActionState = "idle"
	ActionRunning   ActionState = "running"
	ActionCompleted ActionState = "completed"
	ActionFailed    ActionState = "failed"
)
