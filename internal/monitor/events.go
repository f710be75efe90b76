package monitor

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/quickgig/backend/internal/events"
	"github.com/quickgig/backend/internal/models"
)

// Inbound processor event types.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventPaymentCanceled  = "payment.canceled"
	EventTransferCreated  = "transfer.created"
	EventTransferPaid     = "transfer.paid"
	EventAccountUpdated   = "account.updated"
)

// ProcessorEvent is a callback event received from the payment processor.
type ProcessorEvent struct {
	Type          string `json:"type"`
	ExternalID    string `json:"external_id"`
	AccountRef    string `json:"account_ref,omitempty"`
	AccountStatus string `json:"account_status,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// AccountUpdater reconciles the local payout-account mirror.
type AccountUpdater interface {
	UpdatePayoutAccountStatus(ctx context.Context, externalAccountID, status string) (uuid.UUID, error)
}

// PayoutRetrier re-attempts pending transfers for a worker.
type PayoutRetrier interface {
	RetryPendingForWorker(ctx context.Context, workerID uuid.UUID) error
}

// EventHandler applies inbound processor events to local records. Every event
// is reconciled idempotently against existing rows by external id; an event
// for an unknown id is logged and dropped, never blindly re-created.
type EventHandler struct {
	monitor  *Monitor
	accounts AccountUpdater
	payouts  PayoutRetrier
}

func NewEventHandler(m *Monitor, accounts AccountUpdater, payouts PayoutRetrier) *EventHandler {
	return &EventHandler{monitor: m, accounts: accounts, payouts: payouts}
}

// Handle applies one processor event.
func (h *EventHandler) Handle(ctx context.Context, evt ProcessorEvent) error {
	switch evt.Type {
	case EventPaymentSucceeded:
		return h.reconcilePayment(ctx, evt.ExternalID, models.PaymentStatusCompleted, events.PaymentSucceeded, "")
	case EventPaymentFailed, EventPaymentCanceled:
		return h.reconcilePayment(ctx, evt.ExternalID, models.PaymentStatusFailed, events.PaymentFailed, evt.Reason)
	case EventTransferCreated:
		// Informational; the transfer already exists locally as a
		// worker_payment record.
		return nil
	case EventTransferPaid:
		record, err := h.monitor.repo.GetPaymentByExternalID(ctx, evt.ExternalID)
		if err != nil {
			h.monitor.logger.Warn("transfer event for unknown external id", "external_id", evt.ExternalID)
			return nil
		}
		if record.Status == models.PaymentStatusCompleted {
			return nil
		}
		return h.monitor.repo.UpdatePaymentStatusByExternalID(ctx, evt.ExternalID, models.PaymentStatusCompleted)
	case EventAccountUpdated:
		workerID, err := h.accounts.UpdatePayoutAccountStatus(ctx, evt.AccountRef, evt.AccountStatus)
		if err != nil {
			h.monitor.logger.Warn("account event for unknown account", "account_ref", evt.AccountRef, "error", err)
			return nil
		}
		if evt.AccountStatus == models.PayoutAccountActive {
			return h.payouts.RetryPendingForWorker(ctx, workerID)
		}
		return nil
	}
	return fmt.Errorf("unrecognized processor event type %q", evt.Type)
}

func (h *EventHandler) reconcilePayment(ctx context.Context, externalID, status, signalKind, reason string) error {
	record, err := h.monitor.repo.GetPaymentByExternalID(ctx, externalID)
	if err != nil {
		h.monitor.logger.Warn("payment event for unknown external id", "external_id", externalID)
		return nil
	}
	h.monitor.Untrack(externalID)
	if record.Status == status {
		return nil
	}
	if err := h.monitor.repo.UpdatePaymentStatusByExternalID(ctx, externalID, status); err != nil {
		return err
	}
	h.monitor.publishFor(ctx, externalID, signalKind, reason)
	return nil
}
