package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentRecord status enums.
const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
)

// PaymentRecord type enums.
const (
	PaymentTypeJobPayment    = "job_payment"
	PaymentTypeWorkerPayment = "worker_payment"
	PaymentTypeRefund        = "refund"
	PaymentTypePayout        = "payout"
)

// PaymentRecord is created once per captured transaction. Only Status and
// ExternalTransactionID are mutated after insert.
type PaymentRecord struct {
	ID                    uuid.UUID `json:"id"`
	JobID                 uuid.UUID `json:"job_id"`
	UserID                uuid.UUID `json:"user_id"`
	AmountCents           int64     `json:"amount_cents"`
	ServiceFeeCents       int64     `json:"service_fee_cents"`
	ExternalTransactionID string    `json:"external_transaction_id,omitempty"`
	Status                string    `json:"status"`
	Type                  string    `json:"type"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// RefundRecord status enums.
const (
	RefundStatusPending   = "pending"
	RefundStatusCompleted = "completed"
	RefundStatusFailed    = "failed"
)

// RefundRecord references the PaymentRecord it reverses. The sum of completed
// refunds against one PaymentRecord never exceeds the captured amount.
type RefundRecord struct {
	ID               uuid.UUID `json:"id"`
	PaymentRecordID  uuid.UUID `json:"payment_record_id"`
	AmountCents      int64     `json:"amount_cents"`
	Status           string    `json:"status"`
	ExternalRefundID string    `json:"external_refund_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}
