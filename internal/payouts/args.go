package payouts

import (
	"github.com/google/uuid"
)

// PayoutJobArgs is the queue payload enqueued transactionally when a job
// completes. Uniqueness by args keeps one payout job per completion.
type PayoutJobArgs struct {
	JobID    uuid.UUID `json:"job_id"`
	WorkerID uuid.UUID `json:"worker_id"`
}

func (PayoutJobArgs) Kind() string { return "payout_transfer" }
