package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Queue job states.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobDead      = "dead"
)

// QueueJob is a durable unit of background work. Rows are claimed by
// workers, retried with backoff, and moved to "dead" once MaxAttempts
// is exhausted.
type QueueJob struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	Task        string         `json:"task"         gorm:"type:varchar(64);not null;index"`
	Payload     datatypes.JSON `json:"payload"      gorm:"type:json;not null"`
	Status      string         `json:"status"       gorm:"type:varchar(16);not null;default:'queued';index:idx_queue_claim,priority:1"`
	Attempts    int            `json:"attempts"     gorm:"not null;default:0"`
	MaxAttempts int            `json:"max_attempts" gorm:"not null;default:1"`
	RunAt       time.Time      `json:"run_at"       gorm:"not null;index:idx_queue_claim,priority:2"`
	LockedAt    *time.Time     `json:"locked_at,omitempty"`
	LastError   string         `json:"last_error,omitempty" gorm:"type:text"`
	LastErrorAt *time.Time     `json:"last_error_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName returns the database table name for QueueJob.
func (QueueJob) TableName() string { return "queue_jobs" }
