// Package ledger owns the escrow money-state of a job: capture at creation,
// the service-fee split, and refund bookkeeping.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quickgig/backend/internal/events"
	"github.com/quickgig/backend/internal/models"
	"github.com/quickgig/backend/internal/notify"
	"github.com/quickgig/backend/internal/processor"
	"github.com/quickgig/backend/internal/resilience"
)

// FeeRatePercent is the canonical platform fee: 5% of the gross job amount.
// serviceFee = paymentAmount * 5 / 100; the poster is captured for
// paymentAmount + serviceFee and the worker nets paymentAmount - serviceFee.
const FeeRatePercent = 5

const captureRetries = 3

// ErrRefundExceedsCaptured is returned when a refund request would push the
// cumulative refunded amount past the captured amount. No state is mutated.
var ErrRefundExceedsCaptured = errors.New("refund exceeds captured amount")

// ErrPaymentNotCaptured is returned when refunding a payment that never
// completed capture.
var ErrPaymentNotCaptured = errors.New("payment is not captured")

// ErrPaymentNotFound is returned when the referenced payment record is missing.
var ErrPaymentNotFound = errors.New("payment record not found")

// ServiceFee computes the platform's cut of a gross amount in cents.
func ServiceFee(amountCents int64) int64 {
	return amountCents * FeeRatePercent / 100
}

// PaymentRepo is the payment-record storage surface the ledger needs.
type PaymentRepo interface {
	CreatePaymentRecord(ctx context.Context, p *models.PaymentRecord) error
	GetPaymentRecord(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status string) error
	SumCompletedRefunds(ctx context.Context, paymentRecordID uuid.UUID) (int64, error)
	CreateRefundRecord(ctx context.Context, r *models.RefundRecord) error
	CancelActiveEarning(ctx context.Context, jobID uuid.UUID) error
}

// CaptureResult reports the outcome of a capture attempt. Captured is true
// only when the processor confirmed the funds synchronously; Pending means the
// outcome is not yet known and the payment-status monitor owns resolution.
type CaptureResult struct {
	Record   *models.PaymentRecord
	Captured bool
	Pending  bool
}

type Service struct {
	repo      PaymentRepo
	processor processor.API
	gateway   *resilience.Gateway
	notifier  *notify.Notifier
	bus       *events.Bus
	logger    *slog.Logger
}

func NewService(repo PaymentRepo, proc processor.API, gateway *resilience.Gateway, notifier *notify.Notifier, bus *events.Bus, logger *slog.Logger) *Service {
	return &Service{repo: repo, processor: proc, gateway: gateway, notifier: notifier, bus: bus, logger: logger}
}

// CapturePayment captures the job's total (gross + fee) from the poster under
// the payment-first policy. On synchronous success a completed PaymentRecord
// exists when this returns. On terminal failure the poster is notified with
// the reason and the error is surfaced; no completed record is created. A
// processor outcome that is still pending yields a processing record handed to
// the status monitor.
func (s *Service) CapturePayment(ctx context.Context, job *models.Job, payerRef, paymentMethodRef string) (*CaptureResult, error) {
	var intent *processor.PaymentIntent
	err := s.gateway.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		var opErr error
		intent, opErr = s.processor.CreatePaymentIntent(ctx, processor.CreateIntentRequest{
			AmountCents:      job.TotalAmountCents,
			Currency:         "usd",
			PayerRef:         payerRef,
			PaymentMethodRef: paymentMethodRef,
			Metadata:         map[string]string{"job_id": job.ID.String()},
		})
		return opErr
	}, captureRetries)
	if err != nil {
		s.notifyCaptureFailure(ctx, job, err)
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	if intent.Status != processor.IntentStatusSucceeded {
		confirmErr := s.gateway.ExecuteWithRetry(ctx, func(ctx context.Context) error {
			confirmed, opErr := s.processor.ConfirmPaymentIntent(ctx, intent.ID)
			if opErr != nil {
				return opErr
			}
			intent = confirmed
			return nil
		}, captureRetries)
		if confirmErr != nil {
			if processor.IsTerminal(confirmErr) {
				s.notifyCaptureFailure(ctx, job, confirmErr)
				return nil, fmt.Errorf("capture declined: %w", confirmErr)
			}
			// Outcome unknown: persist a processing record so the monitor can
			// reconcile instead of losing track of a possibly captured payment.
			s.logger.Warn("capture outcome unknown, deferring to monitor", "job_id", job.ID, "intent_id", intent.ID, "error", confirmErr)
			intent.Status = processor.IntentStatusProcessing
		}
	}

	record := &models.PaymentRecord{
		ID:                    uuid.New(),
		JobID:                 job.ID,
		UserID:                job.PosterID,
		AmountCents:           job.PaymentAmountCents,
		ServiceFeeCents:       job.ServiceFeeCents,
		ExternalTransactionID: intent.ID,
		Type:                  models.PaymentTypeJobPayment,
	}

	switch intent.Status {
	case processor.IntentStatusSucceeded:
		record.Status = models.PaymentStatusCompleted
	case processor.IntentStatusFailed, processor.IntentStatusCanceled:
		reason := errors.New(intent.Status)
		if intent.LastError != nil {
			reason = intent.LastError
		}
		s.notifyCaptureFailure(ctx, job, reason)
		return nil, fmt.Errorf("capture failed: %w", reason)
	default:
		record.Status = models.PaymentStatusProcessing
	}

	if err := s.createRecordWithRetry(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to persist payment record: %w", err)
	}

	// Hand an unresolved capture to the status monitor immediately, not only
	// on the next restart's Resume.
	if record.Status == models.PaymentStatusProcessing {
		s.bus.Publish(events.Signal{Kind: events.PaymentPending, JobID: job.ID,
			RecordID: record.ID, ExternalID: record.ExternalTransactionID,
			AmountCents: record.AmountCents})
	}

	return &CaptureResult{
		Record:   record,
		Captured: record.Status == models.PaymentStatusCompleted,
		Pending:  record.Status == models.PaymentStatusProcessing,
	}, nil
}

func (s *Service) createRecordWithRetry(ctx context.Context, record *models.PaymentRecord) error {
	return s.gateway.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		return s.repo.CreatePaymentRecord(ctx, record)
	}, captureRetries)
}

func (s *Service) notifyCaptureFailure(ctx context.Context, job *models.Job, cause error) {
	s.notifier.Send(ctx, job.PosterID, "Payment failed",
		fmt.Sprintf("We could not capture payment for %q: %s. Please resubmit payment.", job.Title, processor.FailureReason(cause)),
		models.NotificationPaymentFailed, job.ID.String())
}

// Refund reverses amountCents of a captured payment. The cumulative refunded
// amount never exceeds the captured amount; a request past the bound fails
// before any processor call or write. A full refund flips the record to
// refunded and cancels any active earning on the job.
func (s *Service) Refund(ctx context.Context, paymentRecordID uuid.UUID, amountCents int64, reason string) (*models.RefundRecord, error) {
	record, err := s.repo.GetPaymentRecord(ctx, paymentRecordID)
	if err != nil {
		return nil, ErrPaymentNotFound
	}
	if record.Status != models.PaymentStatusCompleted && record.Status != models.PaymentStatusRefunded {
		return nil, ErrPaymentNotCaptured
	}

	captured := record.AmountCents + record.ServiceFeeCents
	refunded, err := s.repo.SumCompletedRefunds(ctx, paymentRecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum prior refunds: %w", err)
	}
	if amountCents <= 0 || amountCents > captured-refunded {
		return nil, ErrRefundExceedsCaptured
	}

	var procRefund *processor.Refund
	err = s.gateway.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		var opErr error
		procRefund, opErr = s.processor.CreateRefund(ctx, record.ExternalTransactionID, amountCents)
		return opErr
	}, captureRetries)
	if err != nil {
		return nil, fmt.Errorf("processor refund failed: %w", err)
	}

	refundRecord := &models.RefundRecord{
		ID:               uuid.New(),
		PaymentRecordID:  paymentRecordID,
		AmountCents:      amountCents,
		Status:           models.RefundStatusCompleted,
		ExternalRefundID: procRefund.ID,
	}
	if err := s.repo.CreateRefundRecord(ctx, refundRecord); err != nil {
		return nil, fmt.Errorf("failed to persist refund record: %w", err)
	}

	if refunded+amountCents >= captured {
		if err := s.repo.UpdatePaymentStatus(ctx, paymentRecordID, models.PaymentStatusRefunded); err != nil {
			s.logger.Error("refund completed but payment status update failed", "payment_record_id", paymentRecordID, "error", err)
		}
	}

	if err := s.repo.CancelActiveEarning(ctx, record.JobID); err != nil {
		s.logger.Error("failed to cancel earning after refund", "job_id", record.JobID, "error", err)
	}

	s.logger.Info("refund issued", "payment_record_id", paymentRecordID, "amount_cents", amountCents, "reason", reason)
	return refundRecord, nil
}
