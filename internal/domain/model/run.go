package model

import "time"

// RunState is the position of a pipeline run in its state machine.
type RunState string

const (
	RunStateCheckingOccupancy   RunState = "checking_occupancy"
	RunStateSyncing             RunState = "syncing"
	RunStateRecordingDeployment RunState = "recording_deployment"
	RunStateSetup               RunState = "setup"
	RunStateReleasing           RunState = "releasing"
	RunStateDeploying           RunState = "deploying"
	RunStateVerifying           RunState = "verifying"
	RunStateSucceeded           RunState = "succeeded"
	RunStateRolledBack          RunState = "rolled_back"
	RunStateFailed              RunState = "failed"
)

// IsTerminal reports whether the run has finished.
func (s RunState) IsTerminal() bool {
	return s == RunStateSucceeded || s == RunStateRolledBack || s == RunStateFailed
}

// Run is a journal entry for one pipeline execution.
type Run struct {
	ID           string
	PRNumber     int
	Command      string
	Environment  string
	DeploymentID int64
	CommentID    int64
	CommentURL   string
	CommentBody  string
	State        RunState
	Message      string
	StartedAt    time.Time
	FinishedAt   time.Time // Zero while the run is in progress.
	Stages       []StageResult
}

// StageOutcome is the result of a single pipeline stage.
type StageOutcome string

const (
	StageOutcomeSucceeded StageOutcome = "succeeded"
	StageOutcomeFailed    StageOutcome = "failed"
)

// StageResult records one stage execution within a run.
type StageResult struct {
	RunID    string
	Stage    string
	Outcome  StageOutcome
	Output   string
	Duration time.Duration
	Started  time.Time
}
