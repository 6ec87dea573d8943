package history

import "time"

// RunRecord is one pipeline run as persisted in the database.
type RunRecord struct {
	ID              int64      `json:"id"`
	RunID           string     `json:"run_id"`
	Branch          string     `json:"branch"`
	Artifact        string     `json:"artifact,omitempty"`
	Outcome         string     `json:"outcome"` // success, failed, rejected
	FailedStage     string     `json:"failed_stage,omitempty"`
	QAOutcome       string     `json:"qa_outcome,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
}
