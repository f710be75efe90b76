package models

import (
	"time"

	"github.com/google/uuid"
)

// Earning status enums.
const (
	EarningStatusPending    = "pending"
	EarningStatusProcessing = "processing"
	EarningStatusPaid       = "paid"
	EarningStatusCancelled  = "cancelled"
)

// Earning is created exactly once per (job, worker) at completion. The storage
// layer enforces at most one non-cancelled row per pair.
type Earning struct {
	ID              uuid.UUID  `json:"id"`
	JobID           uuid.UUID  `json:"job_id"`
	WorkerID        uuid.UUID  `json:"worker_id"`
	AmountCents     int64      `json:"amount_cents"`
	ServiceFeeCents int64      `json:"service_fee_cents"`
	NetAmountCents  int64      `json:"net_amount_cents"`
	Status          string     `json:"status"`
	DatePaid        *time.Time `json:"date_paid,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// PayoutAccount status enums, mirroring the processor's account lifecycle.
const (
	PayoutAccountPending    = "pending"
	PayoutAccountActive     = "active"
	PayoutAccountRestricted = "restricted"
	PayoutAccountDisabled   = "disabled"
)

// PayoutAccount is owned by the worker profile; the payout coordinator only
// reads it to decide whether a transfer can be attempted.
type PayoutAccount struct {
	WorkerID          uuid.UUID `json:"worker_id"`
	ExternalAccountID string    `json:"external_account_id"`
	Status            string    `json:"status"`
	UpdatedAt         time.Time `json:"updated_at"`
}
