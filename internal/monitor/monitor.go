// Package monitor tracks payments whose final state is not yet known, polls
// the processor on a fixed interval, and reconciles local records. Tracking is
// bounded: a payment that stays unresolved past the retry cap is dropped with
// a single escalation signal, never polled forever.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quickgig/backend/internal/events"
	"github.com/quickgig/backend/internal/models"
	"github.com/quickgig/backend/internal/processor"
)

const (
	defaultInterval   = 30 * time.Second
	defaultMaxRetries = 10
	pollTimeout       = 10 * time.Second
)

// Repo is the payment-record surface the monitor reconciles against.
type Repo interface {
	ListUnresolvedPayments(ctx context.Context) ([]*models.PaymentRecord, error)
	GetPaymentByExternalID(ctx context.Context, externalID string) (*models.PaymentRecord, error)
	UpdatePaymentStatusByExternalID(ctx context.Context, externalID, status string) error
}

type Monitor struct {
	repo      Repo
	processor processor.API
	bus       *events.Bus
	logger    *slog.Logger

	interval   time.Duration
	maxRetries int

	mu      sync.Mutex
	tracked map[string]int // external transaction id -> unresolved poll count

	stop chan struct{}
	done chan struct{}
}

// New returns a monitor polling every interval with the given retry cap.
// Zero values fall back to defaults.
func New(repo Repo, proc processor.API, bus *events.Bus, logger *slog.Logger, interval time.Duration, maxRetries int) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Monitor{
		repo:       repo,
		processor:  proc,
		bus:        bus,
		logger:     logger,
		interval:   interval,
		maxRetries: maxRetries,
		tracked:    make(map[string]int),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Track starts polling the given external transaction id.
func (m *Monitor) Track(externalID string) {
	if externalID == "" {
		return
	}
	m.mu.Lock()
	if _, ok := m.tracked[externalID]; !ok {
		m.tracked[externalID] = 0
	}
	m.mu.Unlock()
}

// Untrack stops polling the given id, e.g. after an inbound processor event
// resolved it.
func (m *Monitor) Untrack(externalID string) {
	m.mu.Lock()
	delete(m.tracked, externalID)
	m.mu.Unlock()
}

// Tracked reports how many payments are currently being polled.
func (m *Monitor) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// Resume rebuilds the tracking set from persisted payment records, so a
// process restart leaves no unresolved payment untracked.
func (m *Monitor) Resume(ctx context.Context) error {
	unresolved, err := m.repo.ListUnresolvedPayments(ctx)
	if err != nil {
		return err
	}
	for _, record := range unresolved {
		m.Track(record.ExternalTransactionID)
	}
	if len(unresolved) > 0 {
		m.logger.Info("resumed tracking unresolved payments", "count", len(unresolved))
	}
	return nil
}

// Start runs the polling loop until Stop is called.
func (m *Monitor) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Poll(context.Background())
			}
		}
	}()
}

// Stop terminates the polling loop.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

// Poll re-queries the processor for every tracked payment and reconciles each
// outcome. One sweep of the fixed-interval loop.
func (m *Monitor) Poll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tracked))
	for id := range m.tracked {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, externalID := range ids {
		m.pollOne(ctx, externalID)
	}
}

func (m *Monitor) pollOne(ctx context.Context, externalID string) {
	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	intent, err := m.processor.RetrievePaymentIntent(pollCtx, externalID)
	cancel()
	if err != nil {
		m.logger.Warn("status poll failed", "external_id", externalID, "error", err)
		m.bumpOrEscalate(ctx, externalID, "status poll failing")
		return
	}

	switch intent.Status {
	case processor.IntentStatusSucceeded:
		m.resolve(ctx, externalID, models.PaymentStatusCompleted, events.PaymentSucceeded, "")
	case processor.IntentStatusFailed, processor.IntentStatusCanceled:
		reason := intent.Status
		if intent.LastError != nil {
			reason = processor.FailureReason(intent.LastError)
		}
		m.resolve(ctx, externalID, models.PaymentStatusFailed, events.PaymentFailed, reason)
	case processor.IntentStatusRequiresAction:
		m.publishFor(ctx, externalID, events.PaymentActionRequired, "additional authentication required")
		m.bumpOrEscalate(ctx, externalID, "awaiting customer action")
	default:
		m.bumpOrEscalate(ctx, externalID, "still "+intent.Status)
	}
}

// resolve marks the local record terminal, stops tracking, and emits exactly
// one signal for the outcome.
func (m *Monitor) resolve(ctx context.Context, externalID, status, signalKind, reason string) {
	if err := m.repo.UpdatePaymentStatusByExternalID(ctx, externalID, status); err != nil {
		// Leave it tracked; the next sweep retries the local write.
		m.logger.Error("failed to reconcile payment record", "external_id", externalID, "status", status, "error", err)
		m.bumpOrEscalate(ctx, externalID, "store write failing")
		return
	}
	m.Untrack(externalID)
	m.publishFor(ctx, externalID, signalKind, reason)
}

// bumpOrEscalate counts one unresolved poll and, past the cap, drops the
// payment with a single escalation signal for manual intervention.
func (m *Monitor) bumpOrEscalate(ctx context.Context, externalID, reason string) {
	m.mu.Lock()
	count, ok := m.tracked[externalID]
	if !ok {
		m.mu.Unlock()
		return
	}
	count++
	if count < m.maxRetries {
		m.tracked[externalID] = count
		m.mu.Unlock()
		return
	}
	delete(m.tracked, externalID)
	m.mu.Unlock()

	m.logger.Error("payment unresolved past retry cap, escalating", "external_id", externalID, "polls", count, "reason", reason)
	m.publishFor(ctx, externalID, events.PaymentEscalated, reason)
}

func (m *Monitor) publishFor(ctx context.Context, externalID, kind, reason string) {
	sig := events.Signal{Kind: kind, ExternalID: externalID, Reason: reason}
	if record, err := m.repo.GetPaymentByExternalID(ctx, externalID); err == nil {
		sig.JobID = record.JobID
		sig.RecordID = record.ID
		sig.AmountCents = record.AmountCents
	}
	m.bus.Publish(sig)
}
