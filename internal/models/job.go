package models

import (
	"time"

	"github.com/google/uuid"
)

// Job status enums. A job is not visible to workers until payment capture
// succeeds and it moves from pending to open.
const (
	JobStatusPending    = "pending"
	JobStatusOpen       = "open"
	JobStatusAssigned   = "assigned"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusClosed     = "closed"
	JobStatusCanceled   = "canceled"
)

type Job struct {
	ID                 uuid.UUID  `json:"id"`
	PosterID           uuid.UUID  `json:"poster_id"`
	WorkerID           *uuid.UUID `json:"worker_id,omitempty"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Status             string     `json:"status"`
	PaymentAmountCents int64      `json:"payment_amount_cents"`
	ServiceFeeCents    int64      `json:"service_fee_cents"`
	TotalAmountCents   int64      `json:"total_amount_cents"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HasWorker reports whether the job is in a state that binds a worker.
func (j *Job) HasWorker() bool {
	switch j.Status {
	case JobStatusAssigned, JobStatusInProgress, JobStatusCompleted, JobStatusClosed:
		return j.WorkerID != nil
	}
	return false
}
