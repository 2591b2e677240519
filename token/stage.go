package token

import "time"

// Stage is one ordered phase of the pipeline.
type Stage string

const (
	StagePreprocess Stage = "preprocess"
	StageExtract    Stage = "extract"
	StageAggregate  Stage = "aggregate"
	StageValidate   Stage = "validate"
	StageGenerate   Stage = "generate"
)

// Stages returns the fixed stage order the coordinator executes.
func Stages() []Stage {
	return []Stage{StagePreprocess, StageExtract, StageAggregate, StageValidate, StageGenerate}
}

// StageStatus tracks a stage's position in its lifecycle.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageResult records the outcome of a single stage execution. Failures
// are data, not control flow: a stage's internal error is flattened into
// Error at the invocation boundary and never propagates as a panic or an
// uncaught error past the coordinator.
type StageResult struct {
	Stage    Stage         `json:"stage"`
	Status   StageStatus   `json:"status"`
	Success  bool          `json:"success"`
	Tokens   []TokenResult `json:"tokens,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// PipelineResult is the terminal artifact of one pipeline execution.
// Callers always receive one, even on total failure; Errors carries every
// failure observed during the run.
type PipelineResult struct {
	TaskID       string                `json:"task_id"`
	Success      bool                  `json:"success"`
	Tokens       []TokenResult         `json:"tokens,omitempty"`
	StageResults map[Stage]StageResult `json:"stage_results"`
	Errors       []string              `json:"errors,omitempty"`
	Duration     time.Duration         `json:"duration"`
	StartedAt    time.Time             `json:"started_at"`
	CompletedAt  time.Time             `json:"completed_at"`
}
