package models

import (
	"time"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
const (
	StatusQueued     = "queued"
	StatusLeased     = "leased"
	StatusInProgress = "in_progress"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusDeadLetter = "dead_lettered"
)

// UserTier is the subscription level of the submitting account.
type UserTier string

const (
	TierFree       UserTier = "free"
	TierBasic      UserTier = "basic"
	TierPro        UserTier = "pro"
	TierEnterprise UserTier = "enterprise"
)

// Valid reports whether t is one of the known subscription levels.
func (t UserTier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPro, TierEnterprise:
		return true
	}
	return false
}

// RequestedPriority is the caller-supplied urgency hint.
type RequestedPriority string

const (
	PriorityUrgent RequestedPriority = "urgent"
	PriorityHigh   RequestedPriority = "high"
	PriorityNormal RequestedPriority = "normal"
	PriorityLow    RequestedPriority = "low"
)

// Valid reports whether p is one of the known urgency levels.
func (p RequestedPriority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// AnalysisJob represents one spreadsheet analysis persisted in Postgres.
type AnalysisJob struct {
	ID                string            `json:"id"`
	FileName          string            `json:"file_name"`
	FileKey           string            `json:"file_key"`
	FileSize          int64             `json:"file_size"`
	UserID            string            `json:"user_id"`
	UserTier          UserTier          `json:"user_tier"`
	RequestedPriority RequestedPriority `json:"requested_priority"`
	Queue             string            `json:"queue"`
	Priority          int               `json:"priority"`
	Complexity        float64           `json:"complexity"`
	DelaySeconds      int               `json:"delay_seconds"`
	Estimate          string            `json:"estimated_processing_time,omitempty"`
	AITier            int               `json:"ai_tier,omitempty"`
	ProcessingMS      int64             `json:"processing_ms,omitempty"`
	Status            string            `json:"status"`
	Attempts          int               `json:"attempts"`
	MaxAttempts       int               `json:"max_attempts"`
	NextRunAt         time.Time         `json:"next_run_at"`
	LastError         *string           `json:"last_error,omitempty"`
	IdempotencyKey    *string           `json:"idempotency_key,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// FileHistory is one previously analyzed file of comparable size, used by the
// complexity estimator. AITier records which model tier the analysis needed.
type FileHistory struct {
	FileSize int64 `json:"file_size"`
	AITier   int   `json:"ai_tier"`
}

// AuditLog is a simple audit event row.
type AuditLog struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
