package ledger

import (
	"context"

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

var _ PaymentRepo = (*Repository)(nil)

func (r *Repository) CreatePaymentRecord(ctx context.Context, p *models.PaymentRecord) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO payment_records (id, job_id, user_id, amount_cents, service_fee_cents, external_transaction_id, status, type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, p.ID, p.JobID, p.UserID, p.AmountCents, p.ServiceFeeCents, p.ExternalTransactionID, p.Status, p.Type).
		Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *Repository) GetPaymentRecord(ctx context.Context, id uuid.UUID) (*models.PaymentRecord, error) {
	return r.scanPaymentRecord(ctx, `
		SELECT id, job_id, user_id, amount_cents, service_fee_cents, external_transaction_id, status, type, created_at, updated_at
		FROM payment_records WHERE id = $1
	`, id)
}

// GetJobPaymentByJobID returns the job_payment record captured for a job.
func (r *Repository) GetJobPaymentByJobID(ctx context.Context, jobID uuid.UUID) (*models.PaymentRecord, error) {
	return r.scanPaymentRecord(ctx, `
		SELECT id, job_id, user_id, amount_cents, service_fee_cents, external_transaction_id, status, type, created_at, updated_at
		FROM payment_records WHERE job_id = $1 AND type = 'job_payment'
		ORDER BY created_at DESC LIMIT 1
	`, jobID)
}

// GetPaymentByExternalID resolves a record from a processor transaction id.
// Used by the status monitor and inbound event reconciliation.
func (r *Repository) GetPaymentByExternalID(ctx context.Context, externalID string) (*models.PaymentRecord, error) {
	return r.scanPaymentRecord(ctx, `
		SELECT id, job_id, user_id, amount_cents, service_fee_cents, external_transaction_id, status, type, created_at, updated_at
		FROM payment_records WHERE external_transaction_id = $1
	`, externalID)
}

func (r *Repository) scanPaymentRecord(ctx context.Context, query string, arg interface{}) (*models.PaymentRecord, error) {
	var p models.PaymentRecord
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&p.ID, &p.JobID, &p.UserID, &p.AmountCents, &p.ServiceFeeCents,
		&p.ExternalTransactionID, &p.Status, &p.Type, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payment_records SET status = $1, updated_at = now() WHERE id = $2
	`, status, id)
	return err
}

// UpdatePaymentStatusByExternalID reconciles a record against the processor's
// reported state, keyed by external transaction id.
func (r *Repository) UpdatePaymentStatusByExternalID(ctx context.Context, externalID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payment_records SET status = $1, updated_at = now() WHERE external_transaction_id = $2
	`, status, externalID)
	return err
}

// ListUnresolvedPayments returns records whose final state is not yet known,
// so the monitor can rebuild its tracking set after a restart.
func (r *Repository) ListUnresolvedPayments(ctx context.Context) ([]*models.PaymentRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, user_id, amount_cents, service_fee_cents, external_transaction_id, status, type, created_at, updated_at
		FROM payment_records
		WHERE status IN ('pending', 'processing') AND external_transaction_id <> ''
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PaymentRecord
	for rows.Next() {
		var p models.PaymentRecord
		err := rows.Scan(&p.ID, &p.JobID, &p.UserID, &p.AmountCents, &p.ServiceFeeCents,
			&p.ExternalTransactionID, &p.Status, &p.Type, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	return list, rows.Err()
}

func (r *Repository) CreateRefundRecord(ctx context.Context, rr *models.RefundRecord) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO refund_records (id, payment_record_id, amount_cents, status, external_refund_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, rr.ID, rr.PaymentRecordID, rr.AmountCents, rr.Status, rr.ExternalRefundID).Scan(&rr.CreatedAt)
}

func (r *Repository) SumCompletedRefunds(ctx context.Context, paymentRecordID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM refund_records
		WHERE payment_record_id = $1 AND status = 'completed'
	`, paymentRecordID).Scan(&sum)
	return sum, err
}

// CancelActiveEarning marks any non-cancelled earning on the job cancelled.
// No-op when the job has no earning yet.
func (r *Repository) CancelActiveEarning(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE earnings SET status = 'cancelled', updated_at = now()
		WHERE job_id = $1 AND status <> 'cancelled'
	`, jobID)
	return err
}
