package domain

import (
	"encoding/json"
	"time"
)

type JobType string

const (
	JobTypeAnalysis JobType = "analysis"
	JobTypeBatch    JobType = "batch"
	JobTypeDemo     JobType = "demo"
)

// DefaultPriority returns the default scheduling priority for a job type.
// Lower runs sooner.
func DefaultPriority(jobType JobType) int {
	switch jobType {
	case JobTypeDemo:
		return 3
	case JobTypeBatch:
		return 10
	default:
		return 5
	}
}

type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateDelayed   JobState = "delayed"
)

type BackoffPolicy struct {
	Type      string        `json:"type"`
	BaseDelay time.Duration `json:"base_delay"`
}

// Job is the canonical async unit of enrichment work.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	Seq         uint64          `json:"seq"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     BackoffPolicy   `json:"backoff"`
	State       JobState        `json:"state"`
	Result      json.RawMessage `json:"result,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	ReadyAt     time.Time       `json:"ready_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NextBackoffDelay returns the delay before the next retry. The delay doubles
// with every recorded attempt.
func (j *Job) NextBackoffDelay() time.Duration {
	base := j.Backoff.BaseDelay
	if base <= 0 {
		base = 2 * time.Second
	}
	return base << uint(j.Attempts)
}

type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Total     int `json:"total"`
}

// AnalysisJobPayload is carried by analysis and demo jobs.
type AnalysisJobPayload struct {
	ProspectID   string        `json:"prospect_id"`
	UserID       string        `json:"user_id"`
	Strategy     string        `json:"strategy,omitempty"`
	DemoType     string        `json:"demo_type,omitempty"`
	Business     BusinessFacts `json:"business"`
	CustomPrompt string        `json:"custom_prompt,omitempty"`
}

// BatchJobPayload fans out into individual analysis jobs.
type BatchJobPayload struct {
	UserID   string             `json:"user_id"`
	Strategy string             `json:"strategy,omitempty"`
	Items    []BatchProspectRef `json:"items"`
}

type BatchProspectRef struct {
	ProspectID string        `json:"prospect_id"`
	Business   BusinessFacts `json:"business"`
}
