// Package disputes handles post-completion disputes and routes resolution
// refunds through the escrow ledger.
package disputes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quickgig/backend/internal/events"
	"github.com/quickgig/backend/internal/models"
	"github.com/quickgig/backend/internal/notify"
)

var (
	// ErrJobNotCompleted is returned when opening a dispute on a job that is
	// not completed.
	ErrJobNotCompleted = errors.New("disputes may only be opened on completed jobs")
	// ErrNotParty is returned when the reporter is neither the poster nor the
	// assigned worker.
	ErrNotParty = errors.New("reporter is not a party to this job")
	// ErrDuplicateDispute is returned when the job already has an unresolved
	// dispute. Duplicates are rejected, not merged.
	ErrDuplicateDispute = errors.New("job already has an open dispute")
	// ErrResolutionRequired is returned when resolving without a resolution
	// note.
	ErrResolutionRequired = errors.New("resolution note is required")
	// ErrInvalidState is returned for a status change outside
	// open -> investigating -> resolved|closed.
	ErrInvalidState = errors.New("invalid dispute state change")
	// ErrNotFound is returned when the dispute or its job is missing.
	ErrNotFound = errors.New("dispute not found")
)

// Repo is the dispute storage surface.
type Repo interface {
	CreateDispute(ctx context.Context, d *models.Dispute) error
	GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetUnresolvedDisputeByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error)
	UpdateDisputeStatus(ctx context.Context, id uuid.UUID, status string) error
	ResolveDispute(ctx context.Context, id uuid.UUID, resolution string, resolvedBy uuid.UUID, resolvedAt time.Time) error
}

// JobLookup resolves the disputed job and its parties.
type JobLookup interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// Escrow is the refund surface of the ledger.
type Escrow interface {
	Refund(ctx context.Context, paymentRecordID uuid.UUID, amountCents int64, reason string) (*models.RefundRecord, error)
}

// PaymentLookup resolves the job's original captured payment.
type PaymentLookup interface {
	GetJobPaymentByJobID(ctx context.Context, jobID uuid.UUID) (*models.PaymentRecord, error)
}

type Service struct {
	repo     Repo
	jobs     JobLookup
	escrow   Escrow
	payments PaymentLookup
	notifier *notify.Notifier
	bus      *events.Bus
	logger   *slog.Logger
}

func NewService(repo Repo, jobs JobLookup, escrow Escrow, payments PaymentLookup,
	notifier *notify.Notifier, bus *events.Bus, logger *slog.Logger) *Service {
	return &Service{repo: repo, jobs: jobs, escrow: escrow, payments: payments,
		notifier: notifier, bus: bus, logger: logger}
}

// Open creates a dispute on a completed job. Only the poster or the assigned
// worker may report, and one unresolved dispute per job is allowed.
func (s *Service) Open(ctx context.Context, jobID, reporterID uuid.UUID, disputeType, reason string) (*models.Dispute, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, ErrNotFound
	}
	if job.Status != models.JobStatusCompleted {
		return nil, ErrJobNotCompleted
	}
	if reporterID != job.PosterID && (job.WorkerID == nil || reporterID != *job.WorkerID) {
		return nil, ErrNotParty
	}
	if existing, err := s.repo.GetUnresolvedDisputeByJob(ctx, jobID); err == nil && existing != nil {
		return nil, ErrDuplicateDispute
	}

	dispute := &models.Dispute{
		ID:         uuid.New(),
		JobID:      jobID,
		ReportedBy: reporterID,
		Type:       disputeType,
		Status:     models.DisputeStatusOpen,
		Reason:     reason,
	}
	if err := s.repo.CreateDispute(ctx, dispute); err != nil {
		return nil, fmt.Errorf("failed to create dispute: %w", err)
	}
	s.logger.Info("dispute opened", "dispute_id", dispute.ID, "job_id", jobID, "type", disputeType)
	return dispute, nil
}

// Investigate moves an open dispute to investigating.
func (s *Service) Investigate(ctx context.Context, disputeID uuid.UUID) error {
	dispute, err := s.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return ErrNotFound
	}
	if dispute.Status != models.DisputeStatusOpen {
		return fmt.Errorf("%w: %s -> investigating", ErrInvalidState, dispute.Status)
	}
	return s.repo.UpdateDisputeStatus(ctx, disputeID, models.DisputeStatusInvestigating)
}

// Resolve finishes an investigation. A non-empty resolution note is required;
// refundCents greater than zero issues a refund against the job's original
// captured payment through the ledger. Both parties are notified of the
// outcome regardless of refund.
func (s *Service) Resolve(ctx context.Context, disputeID, resolvedBy uuid.UUID, resolution string, refundCents int64) error {
	if strings.TrimSpace(resolution) == "" {
		return ErrResolutionRequired
	}
	dispute, err := s.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return ErrNotFound
	}
	if dispute.Status != models.DisputeStatusInvestigating {
		return fmt.Errorf("%w: %s -> resolved", ErrInvalidState, dispute.Status)
	}
	job, err := s.jobs.GetJob(ctx, dispute.JobID)
	if err != nil {
		return ErrNotFound
	}

	if refundCents > 0 {
		record, err := s.payments.GetJobPaymentByJobID(ctx, dispute.JobID)
		if err != nil {
			return fmt.Errorf("no captured payment to refund against: %w", err)
		}
		if _, err := s.escrow.Refund(ctx, record.ID, refundCents, "dispute "+disputeID.String()); err != nil {
			return fmt.Errorf("dispute refund failed: %w", err)
		}
	}

	if err := s.repo.ResolveDispute(ctx, disputeID, resolution, resolvedBy, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record resolution: %w", err)
	}

	s.notifyOutcome(ctx, job, dispute, resolution)
	s.bus.Publish(events.Signal{Kind: events.DisputeResolved, JobID: dispute.JobID,
		RecordID: dispute.ID, AmountCents: refundCents, Reason: resolution})
	return nil
}

// Close terminates a dispute without requiring a resolution note.
func (s *Service) Close(ctx context.Context, disputeID uuid.UUID) error {
	dispute, err := s.repo.GetDispute(ctx, disputeID)
	if err != nil {
		return ErrNotFound
	}
	switch dispute.Status {
	case models.DisputeStatusOpen, models.DisputeStatusInvestigating:
		return s.repo.UpdateDisputeStatus(ctx, disputeID, models.DisputeStatusClosed)
	}
	return fmt.Errorf("%w: %s -> closed", ErrInvalidState, dispute.Status)
}

func (s *Service) notifyOutcome(ctx context.Context, job *models.Job, dispute *models.Dispute, resolution string) {
	message := fmt.Sprintf("The dispute on %q has been resolved: %s", job.Title, resolution)
	s.notifier.Send(ctx, job.PosterID, "Dispute resolved", message, models.NotificationDisputeUpdate, dispute.ID.String())
	if job.WorkerID != nil {
		s.notifier.Send(ctx, *job.WorkerID, "Dispute resolved", message, models.NotificationDisputeUpdate, dispute.ID.String())
	}
}
