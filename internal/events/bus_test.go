package events

import (
	"testing"

	"github.com/google/uuid"
)

func TestBus_DeliversToKindAndCatchAll(t *testing.T) {
	bus := NewBus()
	var byKind, all []Signal
	bus.Subscribe(PaymentSucceeded, func(sig Signal) { byKind = append(byKind, sig) })
	bus.SubscribeAll(func(sig Signal) { all = append(all, sig) })

	jobID := uuid.New()
	bus.Publish(Signal{Kind: PaymentSucceeded, JobID: jobID, ExternalID: "pi_1"})
	bus.Publish(Signal{Kind: PayoutDelayed, Reason: "no account"})

	if len(byKind) != 1 {
		t.Fatalf("kind handler deliveries: got %d, want 1", len(byKind))
	}
	if byKind[0].JobID != jobID || byKind[0].ExternalID != "pi_1" {
		t.Errorf("delivered signal: got %+v", byKind[0])
	}
	if len(all) != 2 {
		t.Errorf("catch-all deliveries: got %d, want 2", len(all))
	}
}

func TestBus_MultipleHandlersPerKind(t *testing.T) {
	bus := NewBus()
	calls := 0
	bus.Subscribe(PaymentFailed, func(Signal) { calls++ })
	bus.Subscribe(PaymentFailed, func(Signal) { calls++ })

	bus.Publish(Signal{Kind: PaymentFailed})
	if calls != 2 {
		t.Errorf("handler calls: got %d, want 2", calls)
	}
}

func TestBus_StampsPublishTime(t *testing.T) {
	bus := NewBus()
	var got Signal
	bus.SubscribeAll(func(sig Signal) { got = sig })

	bus.Publish(Signal{Kind: StoreReconnected})
	if got.At.IsZero() {
		t.Error("published signal has zero timestamp")
	}
}

func TestBus_NoHandlersIsFine(t *testing.T) {
	bus := NewBus()
	bus.Publish(Signal{Kind: PaymentEscalated})
}
