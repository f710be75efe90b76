package payouts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quickgig/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Repo = (*Repository)(nil)

// InsertEarningIfAbsent relies on the partial unique index on
// (job_id, worker_id) WHERE status <> 'cancelled'. Concurrent completion
// requests collapse to one earning row here, not in application code.
func (r *Repository) InsertEarningIfAbsent(ctx context.Context, e *models.Earning) (bool, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO earnings (id, job_id, worker_id, amount_cents, service_fee_cents, net_amount_cents, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, worker_id) WHERE status <> 'cancelled' DO NOTHING
		RETURNING created_at, updated_at
	`, e.ID, e.JobID, e.WorkerID, e.AmountCents, e.ServiceFeeCents, e.NetAmountCents, e.Status).
		Scan(&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) MarkEarningPaid(ctx context.Context, id uuid.UUID, paidAt time.Time, externalTransferID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE earnings SET status = 'paid', date_paid = $1, external_transfer_id = $2, updated_at = now()
		WHERE id = $3
	`, paidAt, externalTransferID, id)
	return err
}

func (r *Repository) ListPendingEarningsByWorker(ctx context.Context, workerID uuid.UUID) ([]*models.Earning, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, worker_id, amount_cents, service_fee_cents, net_amount_cents, status, date_paid, created_at, updated_at
		FROM earnings WHERE worker_id = $1 AND status = 'pending'
		ORDER BY created_at ASC
	`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Earning
	for rows.Next() {
		var e models.Earning
		err := rows.Scan(&e.ID, &e.JobID, &e.WorkerID, &e.AmountCents, &e.ServiceFeeCents,
			&e.NetAmountCents, &e.Status, &e.DatePaid, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *Repository) GetPayoutAccount(ctx context.Context, workerID uuid.UUID) (*models.PayoutAccount, error) {
	var a models.PayoutAccount
	err := r.pool.QueryRow(ctx, `
		SELECT worker_id, external_account_id, status, updated_at
		FROM payout_accounts WHERE worker_id = $1
	`, workerID).Scan(&a.WorkerID, &a.ExternalAccountID, &a.Status, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdatePayoutAccountStatus reconciles the local account mirror against an
// account-updated event from the processor.
func (r *Repository) UpdatePayoutAccountStatus(ctx context.Context, externalAccountID, status string) (uuid.UUID, error) {
	var workerID uuid.UUID
	err := r.pool.QueryRow(ctx, `
		UPDATE payout_accounts SET status = $1, updated_at = now()
		WHERE external_account_id = $2
		RETURNING worker_id
	`, status, externalAccountID).Scan(&workerID)
	return workerID, err
}
