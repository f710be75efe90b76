// Package events provides the engine's signal bus: an explicitly constructed
// callback registry that components publish payment and connection signals to.
// Handlers run synchronously on the publisher's goroutine.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Signal kinds emitted by the engine.
const (
	PaymentPending        = "payment.pending"
	PaymentSucceeded      = "payment.succeeded"
	PaymentFailed         = "payment.failed"
	PaymentActionRequired = "payment.action_required"
	PaymentEscalated      = "payment.escalated"
	PayoutPaid            = "payout.paid"
	PayoutDelayed         = "payout.delayed"
	DisputeResolved       = "dispute.resolved"
	StoreReconnected      = "store.reconnected"
	StoreReconnectFailed  = "store.reconnection_failed"
)

// Signal is one engine event. ExternalID is the processor-side id when the
// signal concerns a tracked payment or transfer.
type Signal struct {
	Kind        string     `json:"kind"`
	JobID       uuid.UUID  `json:"job_id,omitempty"`
	RecordID    uuid.UUID  `json:"record_id,omitempty"`
	ExternalID  string     `json:"external_id,omitempty"`
	AmountCents int64      `json:"amount_cents,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	At          time.Time  `json:"at"`
}

// Handler consumes one signal.
type Handler func(Signal)

// Bus is a per-engine callback registry. Subscriptions happen during wiring,
// before any publisher runs, so no lock guards the handler map.
type Bus struct {
	handlers map[string][]Handler
	catchAll []Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers fn for one signal kind.
func (b *Bus) Subscribe(kind string, fn Handler) {
	b.handlers[kind] = append(b.handlers[kind], fn)
}

// SubscribeAll registers fn for every signal kind.
func (b *Bus) SubscribeAll(fn Handler) {
	b.catchAll = append(b.catchAll, fn)
}

// Publish delivers sig to every matching handler. A zero At is stamped with
// the current time.
func (b *Bus) Publish(sig Signal) {
	if sig.At.IsZero() {
		sig.At = time.Now().UTC()
	}
	for _, fn := range b.handlers[sig.Kind] {
		fn(sig)
	}
	for _, fn := range b.catchAll {
		fn(sig)
	}
}
