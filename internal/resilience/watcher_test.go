package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/quickgig/backend/internal/events"
)

// scriptedPinger returns the queued results in order, then repeats the last.
type scriptedPinger struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (p *scriptedPinger) Ping(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return err
}

func watchSignals(bus *events.Bus) chan events.Signal {
	ch := make(chan events.Signal, 16)
	bus.SubscribeAll(func(sig events.Signal) { ch <- sig })
	return ch
}

func waitSignal(t *testing.T, ch chan events.Signal) events.Signal {
	t.Helper()
	select {
	case sig := <-ch:
		return sig
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
		return events.Signal{}
	}
}

func TestConnWatcher_ReconnectsAfterConnectionLoss(t *testing.T) {
	// Healthy, then a dropped connection, then healthy again on the first probe.
	pinger := &scriptedPinger{results: []error{nil, syscall.ECONNRESET, nil}}
	bus := events.NewBus()
	signals := watchSignals(bus)
	w := NewConnWatcher(pinger, NewClassifier(), bus, slog.New(slog.DiscardHandler),
		5*time.Millisecond, time.Millisecond, 5)

	w.Start()
	defer w.Stop()

	sig := waitSignal(t, signals)
	if sig.Kind != events.StoreReconnected {
		t.Fatalf("signal: got %s, want store.reconnected", sig.Kind)
	}
	if w.Reconnecting() {
		t.Error("watcher stuck in reconnecting state after recovery")
	}
}

func TestConnWatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	results := []error{syscall.ECONNREFUSED}
	pinger := &scriptedPinger{results: results} // every ping fails
	bus := events.NewBus()
	signals := watchSignals(bus)
	w := NewConnWatcher(pinger, NewClassifier(), bus, slog.New(slog.DiscardHandler),
		5*time.Millisecond, time.Millisecond, 3)

	w.Start()
	defer w.Stop()

	sig := waitSignal(t, signals)
	if sig.Kind != events.StoreReconnectFailed {
		t.Fatalf("signal: got %s, want store.reconnection_failed", sig.Kind)
	}
	pinger.mu.Lock()
	calls := pinger.calls
	pinger.mu.Unlock()
	// 1 health check + 3 bounded probes, at minimum.
	if calls < 4 {
		t.Errorf("ping calls: got %d, want at least 4", calls)
	}
}

func TestConnWatcher_NonConnectionErrorDoesNotTriggerReconnect(t *testing.T) {
	pinger := &scriptedPinger{results: []error{errors.New("permission denied"), nil}}
	bus := events.NewBus()
	var mu sync.Mutex
	var published []events.Signal
	bus.SubscribeAll(func(sig events.Signal) {
		mu.Lock()
		published = append(published, sig)
		mu.Unlock()
	})
	w := NewConnWatcher(pinger, NewClassifier(), bus, slog.New(slog.DiscardHandler),
		5*time.Millisecond, time.Millisecond, 3)

	w.Start()
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	if w.Reconnecting() {
		t.Error("reconnecting after a non-connection error")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(published) != 0 {
		t.Errorf("signals: got %v, want none", published)
	}
}
