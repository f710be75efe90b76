package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quickgig/backend/internal/events"
)

// Pinger is the health-check surface of the backing store. *pgxpool.Pool
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnWatcher runs a periodic store health check. On a connection-level
// failure it enters a reconnecting state, suspends regular health checks, and
// probes at a fixed delay up to a bounded attempt count, emitting
// StoreReconnected or StoreReconnectFailed.
type ConnWatcher struct {
	store         Pinger
	classifier    *Classifier
	bus           *events.Bus
	logger        *slog.Logger
	checkInterval time.Duration
	retryDelay    time.Duration
	maxAttempts   int
	pingTimeout   time.Duration

	mu           sync.Mutex
	reconnecting bool

	stop chan struct{}
	done chan struct{}
}

// NewConnWatcher returns a watcher over store. checkInterval is the regular
// health-check cadence; retryDelay and maxAttempts bound the reconnect loop.
func NewConnWatcher(store Pinger, classifier *Classifier, bus *events.Bus, logger *slog.Logger,
	checkInterval, retryDelay time.Duration, maxAttempts int) *ConnWatcher {
	return &ConnWatcher{
		store:         store,
		classifier:    classifier,
		bus:           bus,
		logger:        logger,
		checkInterval: checkInterval,
		retryDelay:    retryDelay,
		maxAttempts:   maxAttempts,
		pingTimeout:   3 * time.Second,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Reconnecting reports whether the watcher is currently probing a lost
// connection. While true, regular health checks are suspended.
func (w *ConnWatcher) Reconnecting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reconnecting
}

// Start runs the health-check loop until Stop is called.
func (w *ConnWatcher) Start() {
	go w.run()
}

// Stop terminates the loop and waits for it to exit.
func (w *ConnWatcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *ConnWatcher) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.ping(); err != nil {
				if !w.classifier.ConnectionError(err) {
					w.logger.Warn("store health check failed", "error", err)
					continue
				}
				w.logger.Error("store connection lost, entering reconnect", "error", err)
				w.setReconnecting(true)
				w.reconnect()
				w.setReconnecting(false)
			}
		}
	}
}

// ping races the health check against a short timeout. A slow store is treated
// as unhealthy: the only consequence is probing, so failing closed is safe.
func (w *ConnWatcher) ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.pingTimeout)
	defer cancel()
	return w.store.Ping(ctx)
}

func (w *ConnWatcher) reconnect() {
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		select {
		case <-w.stop:
			return
		case <-time.After(w.retryDelay):
		}
		if err := w.ping(); err != nil {
			w.logger.Warn("reconnect attempt failed", "attempt", attempt, "max_attempts", w.maxAttempts, "error", err)
			continue
		}
		w.logger.Info("store connection restored", "attempts", attempt)
		w.bus.Publish(events.Signal{Kind: events.StoreReconnected})
		return
	}
	w.logger.Error("store reconnection failed, giving up", "attempts", w.maxAttempts)
	w.bus.Publish(events.Signal{Kind: events.StoreReconnectFailed, Reason: "reconnect attempts exhausted"})
}

func (w *ConnWatcher) setReconnecting(v bool) {
	w.mu.Lock()
	w.reconnecting = v
	w.mu.Unlock()
}
