package models

import (
	"time"

	"github.com/google/uuid"
)

// Dispute status enums.
const (
	DisputeStatusOpen          = "open"
	DisputeStatusInvestigating = "investigating"
	DisputeStatusResolved      = "resolved"
	DisputeStatusClosed        = "closed"
)

// Dispute type enums.
const (
	DisputeTypeQuality    = "quality"
	DisputeTypeNonPayment = "non_payment"
	DisputeTypeNoShow     = "no_show"
	DisputeTypeOther      = "other"
)

// Dispute is created only against completed jobs, by a party to the job.
type Dispute struct {
	ID         uuid.UUID  `json:"id"`
	JobID      uuid.UUID  `json:"job_id"`
	ReportedBy uuid.UUID  `json:"reported_by"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	Reason     string     `json:"reason"`
	Resolution *string    `json:"resolution,omitempty"`
	ResolvedBy *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
