package notify

import (
	"context"

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

func (r *Repository) CreateNotification(ctx context.Context, n *models.Notification) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, source_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, n.ID, n.UserID, n.Title, n.Message, n.Type, n.SourceRef).Scan(&n.CreatedAt)
}
