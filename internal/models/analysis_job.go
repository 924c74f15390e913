package models

import "time"

// Analysis job states.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// AnalysisJob is the outbox row written alongside a Feedback insert. Workers
// claim due rows by taking a lease through LockedUntil.
type AnalysisJob struct {
	BaseModel

	FeedbackID    string     `gorm:"size:64;not null;uniqueIndex" json:"feedback_id"`
	Feedback      *Feedback  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Status        string     `gorm:"size:16;not null;index:idx_analysis_jobs_due,priority:1" json:"status"`
	Attempts      int        `gorm:"default:0" json:"attempts"`
	MaxAttempts   int        `gorm:"default:5" json:"max_attempts"`
	NextAttemptAt time.Time  `gorm:"index:idx_analysis_jobs_due,priority:2" json:"next_attempt_at"`
	LockedUntil   *time.Time `json:"locked_until"`
	LockedBy      string     `gorm:"size:64" json:"locked_by"`
	LastError     string     `gorm:"type:text" json:"last_error"`
	CompletedAt   *time.Time `json:"completed_at"`
}
