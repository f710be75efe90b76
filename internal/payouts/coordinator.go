// Package payouts releases escrowed funds to the worker when a job completes.
// The earning row is created exactly once per (job, worker) via a conditional
// insert; the transfer itself may be retried safely behind that guard.
package payouts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quickgig/backend/internal/events"
	"github.com/quickgig/backend/internal/models"
	"github.com/quickgig/backend/internal/notify"
	"github.com/quickgig/backend/internal/processor"
	"github.com/quickgig/backend/internal/resilience"
)

const transferRetries = 3

// Repo is the earning and payout-account storage surface.
type Repo interface {
	// InsertEarningIfAbsent inserts e unless a non-cancelled earning already
	// exists for (job, worker). Reports whether a row was created.
	InsertEarningIfAbsent(ctx context.Context, e *models.Earning) (bool, error)
	MarkEarningPaid(ctx context.Context, id uuid.UUID, paidAt time.Time, externalTransferID string) error
	ListPendingEarningsByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Earning, error)
	GetPayoutAccount(ctx context.Context, workerID uuid.UUID) (*models.PayoutAccount, error)
}

// JobLookup resolves the completed job's amounts and parties.
type JobLookup interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// PaymentRecorder persists the worker_payment record for a successful
// transfer.
type PaymentRecorder interface {
	CreatePaymentRecord(ctx context.Context, p *models.PaymentRecord) error
}

type Coordinator struct {
	repo      Repo
	jobs      JobLookup
	payments  PaymentRecorder
	processor processor.API
	gateway   *resilience.Gateway
	notifier  *notify.Notifier
	bus       *events.Bus
	logger    *slog.Logger
}

func NewCoordinator(repo Repo, jobs JobLookup, payments PaymentRecorder, proc processor.API,
	gateway *resilience.Gateway, notifier *notify.Notifier, bus *events.Bus, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		repo:      repo,
		jobs:      jobs,
		payments:  payments,
		processor: proc,
		gateway:   gateway,
		notifier:  notifier,
		bus:       bus,
		logger:    logger,
	}
}

// HandleJobCompleted creates the worker's earning and initiates the transfer
// of net proceeds. Idempotent: a second invocation for the same (job, worker)
// is a no-op. A transfer failure leaves the earning pending and the job
// completed; the worker is told payment is delayed.
func (c *Coordinator) HandleJobCompleted(ctx context.Context, jobID, workerID uuid.UUID) error {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load completed job: %w", err)
	}

	earning := &models.Earning{
		ID:              uuid.New(),
		JobID:           jobID,
		WorkerID:        workerID,
		AmountCents:     job.PaymentAmountCents,
		ServiceFeeCents: job.ServiceFeeCents,
		NetAmountCents:  job.PaymentAmountCents - job.ServiceFeeCents,
		Status:          models.EarningStatusPending,
	}
	created, err := c.repo.InsertEarningIfAbsent(ctx, earning)
	if err != nil {
		return fmt.Errorf("failed to insert earning: %w", err)
	}
	if !created {
		c.logger.Info("earning already exists, completion handling is a no-op", "job_id", jobID, "worker_id", workerID)
		return nil
	}

	return c.attemptTransfer(ctx, job, earning)
}

// attemptTransfer moves the earning's net amount to the worker's payout
// account when one is active.
func (c *Coordinator) attemptTransfer(ctx context.Context, job *models.Job, earning *models.Earning) error {
	account, err := c.repo.GetPayoutAccount(ctx, earning.WorkerID)
	if err != nil || account == nil || account.Status != models.PayoutAccountActive {
		c.notifier.Send(ctx, earning.WorkerID, "Set up payouts",
			"Your earning is ready but no active payout account is on file. Complete payout setup to receive it.",
			models.NotificationPayoutSetup, earning.JobID.String())
		c.bus.Publish(events.Signal{Kind: events.PayoutDelayed, JobID: earning.JobID, RecordID: earning.ID,
			AmountCents: earning.NetAmountCents, Reason: "no active payout account"})
		return nil
	}

	// Double-check capability with the processor; a lookup failure falls back
	// to the local account status so a flaky lookup cannot block a payout the
	// transfer call would accept anyway.
	var remote *processor.Account
	lookupErr := c.gateway.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		var opErr error
		remote, opErr = c.processor.RetrieveAccount(ctx, account.ExternalAccountID)
		return opErr
	}, 1)
	if lookupErr == nil && !remote.PayoutsEnabled {
		c.notifier.Send(ctx, earning.WorkerID, "Payout on hold",
			"Your payout account cannot receive transfers yet. Resolve the outstanding requirements to get paid.",
			models.NotificationPayoutSetup, earning.JobID.String())
		c.bus.Publish(events.Signal{Kind: events.PayoutDelayed, JobID: earning.JobID, RecordID: earning.ID,
			AmountCents: earning.NetAmountCents, Reason: "payouts disabled on account"})
		return nil
	}

	var transfer *processor.Transfer
	err = c.gateway.ExecuteWithRetry(ctx, func(ctx context.Context) error {
		var opErr error
		transfer, opErr = c.processor.CreateTransfer(ctx, processor.TransferRequest{
			AmountCents:    earning.NetAmountCents,
			Currency:       "usd",
			DestinationRef: account.ExternalAccountID,
			Metadata: map[string]string{
				"job_id":     earning.JobID.String(),
				"earning_id": earning.ID.String(),
			},
		})
		return opErr
	}, transferRetries)
	if err != nil {
		c.logger.Error("transfer failed, earning stays pending", "earning_id", earning.ID, "error", err)
		c.notifier.Send(ctx, earning.WorkerID, "Payment delayed",
			"Your earning was recorded but the transfer could not be completed. We will retry shortly.",
			models.NotificationPayoutDelayed, earning.JobID.String())
		c.bus.Publish(events.Signal{Kind: events.PayoutDelayed, JobID: earning.JobID, RecordID: earning.ID,
			AmountCents: earning.NetAmountCents, Reason: processor.FailureReason(err)})
		return nil
	}

	now := time.Now().UTC()
	if err := c.repo.MarkEarningPaid(ctx, earning.ID, now, transfer.ID); err != nil {
		return fmt.Errorf("transfer sent but failed to mark earning paid: %w", err)
	}
	earning.Status = models.EarningStatusPaid
	earning.DatePaid = &now

	if err := c.payments.CreatePaymentRecord(ctx, &models.PaymentRecord{
		ID:                    uuid.New(),
		JobID:                 earning.JobID,
		UserID:                earning.WorkerID,
		AmountCents:           earning.NetAmountCents,
		ServiceFeeCents:       earning.ServiceFeeCents,
		ExternalTransactionID: transfer.ID,
		Status:                models.PaymentStatusCompleted,
		Type:                  models.PaymentTypeWorkerPayment,
	}); err != nil {
		c.logger.Error("failed to record worker payment", "earning_id", earning.ID, "transfer_id", transfer.ID, "error", err)
	}

	c.notifier.Send(ctx, earning.WorkerID, "You got paid",
		fmt.Sprintf("Your earning of %d cents for %q has been transferred to your payout account.", earning.NetAmountCents, job.Title),
		models.NotificationPayoutSent, earning.JobID.String())
	c.notifier.Send(ctx, job.PosterID, "Job payment released",
		fmt.Sprintf("Payment for %q has been released to the worker.", job.Title),
		models.NotificationJobUpdate, earning.JobID.String())
	c.bus.Publish(events.Signal{Kind: events.PayoutPaid, JobID: earning.JobID, RecordID: earning.ID,
		ExternalID: transfer.ID, AmountCents: earning.NetAmountCents})
	return nil
}

// RetryPendingForWorker re-attempts transfers for a worker's pending earnings.
// Driven by the processor's account-updated event once the payout account
// becomes active.
func (c *Coordinator) RetryPendingForWorker(ctx context.Context, workerID uuid.UUID) error {
	pending, err := c.repo.ListPendingEarningsByWorker(ctx, workerID)
	if err != nil {
		return fmt.Errorf("failed to list pending earnings: %w", err)
	}
	for _, earning := range pending {
		job, err := c.jobs.GetJob(ctx, earning.JobID)
		if err != nil {
			c.logger.Error("pending earning references missing job", "earning_id", earning.ID, "job_id", earning.JobID, "error", err)
			continue
		}
		if err := c.attemptTransfer(ctx, job, earning); err != nil {
			return err
		}
	}
	return nil
}
