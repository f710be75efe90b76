package jobs

import (
	"context"

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

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) CreateJob(ctx context.Context, j *models.Job) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, poster_id, title, description, status, payment_amount_cents, service_fee_cents, total_amount_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, j.ID, j.PosterID, j.Title, j.Description, j.Status, j.PaymentAmountCents, j.ServiceFeeCents, j.TotalAmountCents).
		Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var j models.Job
	err := r.pool.QueryRow(ctx, `
		SELECT id, poster_id, worker_id, title, description, status,
			payment_amount_cents, service_fee_cents, total_amount_cents,
			started_at, completed_at, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id).Scan(&j.ID, &j.PosterID, &j.WorkerID, &j.Title, &j.Description, &j.Status,
		&j.PaymentAmountCents, &j.ServiceFeeCents, &j.TotalAmountCents,
		&j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, updated_at = now() WHERE id = $2
	`, status, id)
	return err
}

// UpdateAssigned binds the hired worker and moves the job to assigned.
func (r *Repository) UpdateAssigned(ctx context.Context, id, workerID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'assigned', worker_id = $1, updated_at = now() WHERE id = $2
	`, workerID, id)
	return err
}

// MarkStarted records the start timestamp on entry to in_progress.
func (r *Repository) MarkStarted(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'in_progress', started_at = now(), updated_at = now() WHERE id = $1
	`, id)
	return err
}

// MarkCompletedTx records completion inside the caller's transaction so the
// payout enqueue commits atomically with the status change.
func (r *Repository) MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = now(), updated_at = now() WHERE id = $1
	`, id)
	return err
}
