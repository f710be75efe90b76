// Package jobs owns the job status state machine. Transitions validate the
// table and the requesting party before any side effect; money moves are
// delegated to the ledger and payout coordinator.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quickgig/backend/internal/ledger"
	"github.com/quickgig/backend/internal/models"
	"github.com/quickgig/backend/internal/payouts"
)

var (
	// ErrInvalidTransition is returned for any (from, to) pair outside the
	// transition table. No side effect is performed.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrUnauthorized is returned when the wrong party requests a transition.
	ErrUnauthorized = errors.New("actor is not authorized for this transition")
	// ErrNotFound is returned when the job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrWorkerRequired is returned when hiring without a worker id.
	ErrWorkerRequired = errors.New("worker id is required to assign a job")
)

// transitions is the full valid-transition table. canceled and closed are
// terminal.
var transitions = map[string][]string{
	models.JobStatusPending:    {models.JobStatusOpen, models.JobStatusCanceled},
	models.JobStatusOpen:       {models.JobStatusAssigned, models.JobStatusCanceled},
	models.JobStatusAssigned:   {models.JobStatusInProgress, models.JobStatusCanceled},
	models.JobStatusInProgress: {models.JobStatusCompleted, models.JobStatusCanceled},
	models.JobStatusCompleted:  {models.JobStatusClosed},
	models.JobStatusCanceled:   {},
	models.JobStatusClosed:     {},
}

// CanTransition reports whether from→to is in the transition table.
func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Repo is the job storage surface the state machine needs.
type Repo interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateJob(ctx context.Context, j *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateAssigned(ctx context.Context, id, workerID uuid.UUID) error
	MarkStarted(ctx context.Context, id uuid.UUID) error
	MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// Escrow is the ledger surface the state machine needs: capture on creation,
// refund on cancellation.
type Escrow interface {
	CapturePayment(ctx context.Context, job *models.Job, payerRef, paymentMethodRef string) (*ledger.CaptureResult, error)
	Refund(ctx context.Context, paymentRecordID uuid.UUID, amountCents int64, reason string) (*models.RefundRecord, error)
}

// PaymentLookup resolves the captured payment for a job.
type PaymentLookup interface {
	GetJobPaymentByJobID(ctx context.Context, jobID uuid.UUID) (*models.PaymentRecord, error)
}

// EnqueuePayoutTxFunc enqueues the payout job within the completion
// transaction. Provided by main as a closure over river.Client.InsertTx.
type EnqueuePayoutTxFunc func(ctx context.Context, tx pgx.Tx, args payouts.PayoutJobArgs) error

type Service struct {
	repo          Repo
	escrow        Escrow
	payments      PaymentLookup
	enqueuePayout EnqueuePayoutTxFunc
	logger        *slog.Logger
}

func NewService(repo Repo, escrow Escrow, payments PaymentLookup, enqueuePayout EnqueuePayoutTxFunc, logger *slog.Logger) *Service {
	return &Service{repo: repo, escrow: escrow, payments: payments, enqueuePayout: enqueuePayout, logger: logger}
}

// CreateJob creates a job in pending and captures payment under the
// payment-first policy. The job becomes open (worker-visible) only when
// capture succeeds synchronously; an asynchronous capture leaves the job
// pending until the status monitor resolves the payment.
func (s *Service) CreateJob(ctx context.Context, posterID uuid.UUID, title, description string, paymentAmountCents int64, payerRef, paymentMethodRef string) (*models.Job, error) {
	fee := ledger.ServiceFee(paymentAmountCents)
	job := &models.Job{
		ID:                 uuid.New(),
		PosterID:           posterID,
		Title:              title,
		Description:        description,
		Status:             models.JobStatusPending,
		PaymentAmountCents: paymentAmountCents,
		ServiceFeeCents:    fee,
		TotalAmountCents:   paymentAmountCents + fee,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	result, err := s.escrow.CapturePayment(ctx, job, payerRef, paymentMethodRef)
	if err != nil {
		// Job stays pending; the poster retries by resubmitting payment.
		return job, err
	}
	if result.Captured {
		if err := s.repo.UpdateStatus(ctx, job.ID, models.JobStatusOpen); err != nil {
			return job, fmt.Errorf("captured but failed to open job: %w", err)
		}
		job.Status = models.JobStatusOpen
	}
	return job, nil
}

// OpenAfterCapture flips a pending job to open once its payment resolves
// asynchronously. Invoked from the payment-succeeded signal. A capture that
// resolves after the poster already canceled the job is refunded; the money
// must not stay on a canceled job.
func (s *Service) OpenAfterCapture(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return ErrNotFound
	}
	switch job.Status {
	case models.JobStatusPending:
		return s.repo.UpdateStatus(ctx, jobID, models.JobStatusOpen)
	case models.JobStatusCanceled:
		s.refundCapturedPayment(ctx, job, "job canceled before capture resolved")
		return nil
	default:
		return nil
	}
}

// Transition executes one state change on behalf of actorID. workerID is
// consulted only for open→assigned, where it binds the hired worker.
func (s *Service) Transition(ctx context.Context, jobID, actorID uuid.UUID, to string, workerID *uuid.UUID) error {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return ErrNotFound
	}
	if !CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
	}

	switch to {
	case models.JobStatusOpen:
		// pending→open is driven by capture, not by a caller request.
		return fmt.Errorf("%w: open is entered via payment capture", ErrUnauthorized)
	case models.JobStatusAssigned:
		if actorID != job.PosterID {
			return ErrUnauthorized
		}
		if workerID == nil {
			return ErrWorkerRequired
		}
		return s.repo.UpdateAssigned(ctx, jobID, *workerID)
	case models.JobStatusInProgress:
		if job.WorkerID == nil || actorID != *job.WorkerID {
			return ErrUnauthorized
		}
		return s.repo.MarkStarted(ctx, jobID)
	case models.JobStatusCompleted:
		if job.WorkerID == nil || actorID != *job.WorkerID {
			return ErrUnauthorized
		}
		return s.complete(ctx, job)
	case models.JobStatusClosed:
		if actorID != job.PosterID {
			return ErrUnauthorized
		}
		return s.repo.UpdateStatus(ctx, jobID, models.JobStatusClosed)
	case models.JobStatusCanceled:
		if actorID != job.PosterID {
			return ErrUnauthorized
		}
		return s.cancel(ctx, job)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
}

// complete records the completion timestamp and enqueues the payout job in the
// same transaction, so the coordinator runs exactly once per completion.
func (s *Service) complete(ctx context.Context, job *models.Job) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.repo.MarkCompletedTx(ctx, tx, job.ID); err != nil {
		return err
	}
	if err := s.enqueuePayout(ctx, tx, payouts.PayoutJobArgs{
		JobID:    job.ID,
		WorkerID: *job.WorkerID,
	}); err != nil {
		return fmt.Errorf("failed to enqueue payout: %w", err)
	}
	return tx.Commit(ctx)
}

// cancel moves the job to canceled and refunds a captured, unrefunded
// payment. A refund failure does not block the cancellation; it is logged as
// a reconciliation item for operational follow-up.
func (s *Service) cancel(ctx context.Context, job *models.Job) error {
	if err := s.repo.UpdateStatus(ctx, job.ID, models.JobStatusCanceled); err != nil {
		return err
	}
	s.refundCapturedPayment(ctx, job, "job canceled")
	return nil
}

// refundCapturedPayment refunds the full captured amount of the job's payment,
// if one completed. A refund failure is logged as a reconciliation item for
// operational follow-up rather than surfaced.
func (s *Service) refundCapturedPayment(ctx context.Context, job *models.Job, reason string) {
	record, err := s.payments.GetJobPaymentByJobID(ctx, job.ID)
	if err != nil || record == nil {
		return
	}
	if record.Status != models.PaymentStatusCompleted {
		return
	}
	captured := record.AmountCents + record.ServiceFeeCents
	if _, err := s.escrow.Refund(ctx, record.ID, captured, reason); err != nil {
		s.logger.Error("reconciliation required: refund of captured payment failed",
			"job_id", job.ID, "payment_record_id", record.ID, "amount_cents", captured, "error", err)
	}
}

// GetJob returns one job.
func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, ErrNotFound
	}
	return job, nil
}
