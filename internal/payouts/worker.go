package payouts

import (
	"context"

	"github.com/riverqueue/river"
)

// Worker executes payout transfers from the queue. The coordinator's
// conditional insert makes queue-level retries safe.
type Worker struct {
	river.WorkerDefaults[PayoutJobArgs]
	coordinator *Coordinator
}

func NewWorker(coordinator *Coordinator) *Worker {
	return &Worker{coordinator: coordinator}
}

func (w *Worker) Work(ctx context.Context, job *river.Job[PayoutJobArgs]) error {
	return w.coordinator.HandleJobCompleted(ctx, job.Args.JobID, job.Args.WorkerID)
}
