package disputes

import (
	"context"
	"time"

	"github.com/google/uuid"
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

func (r *Repository) CreateDispute(ctx context.Context, d *models.Dispute) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO disputes (id, job_id, reported_by, type, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, d.ID, d.JobID, d.ReportedBy, d.Type, d.Status, d.Reason).Scan(&d.CreatedAt)
}

func (r *Repository) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := r.pool.QueryRow(ctx, `
		SELECT id, job_id, reported_by, type, status, reason, resolution, resolved_by, resolved_at, created_at
		FROM disputes WHERE id = $1
	`, id).Scan(&d.ID, &d.JobID, &d.ReportedBy, &d.Type, &d.Status, &d.Reason,
		&d.Resolution, &d.ResolvedBy, &d.ResolvedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetUnresolvedDisputeByJob returns an open or investigating dispute on the
// job, if any.
func (r *Repository) GetUnresolvedDisputeByJob(ctx context.Context, jobID uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := r.pool.QueryRow(ctx, `
		SELECT id, job_id, reported_by, type, status, reason, resolution, resolved_by, resolved_at, created_at
		FROM disputes WHERE job_id = $1 AND status IN ('open', 'investigating')
		LIMIT 1
	`, jobID).Scan(&d.ID, &d.JobID, &d.ReportedBy, &d.Type, &d.Status, &d.Reason,
		&d.Resolution, &d.ResolvedBy, &d.ResolvedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repository) UpdateDisputeStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE disputes SET status = $1 WHERE id = $2
	`, status, id)
	return err
}

func (r *Repository) ResolveDispute(ctx context.Context, id uuid.UUID, resolution string, resolvedBy uuid.UUID, resolvedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE disputes SET status = 'resolved', resolution = $1, resolved_by = $2, resolved_at = $3
		WHERE id = $4
	`, resolution, resolvedBy, resolvedAt, id)
	return err
}
