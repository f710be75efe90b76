package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification type enums.
const (
	NotificationPaymentReceived = "payment_received"
	NotificationPaymentFailed   = "payment_failed"
	NotificationPayoutSent      = "payout_sent"
	NotificationPayoutDelayed   = "payout_delayed"
	NotificationPayoutSetup     = "payout_setup_required"
	NotificationJobUpdate       = "job_update"
	NotificationDisputeUpdate   = "dispute_update"
)

// Notification creation is fire-and-forget: a failed insert never rolls back
// the financial operation that produced it.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	SourceRef string    `json:"source_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
