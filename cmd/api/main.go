package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/quickgig/backend/internal/config"
	"github.com/quickgig/backend/internal/disputes"
	"github.com/quickgig/backend/internal/events"
	"github.com/quickgig/backend/internal/jobs"
	"github.com/quickgig/backend/internal/ledger"
	"github.com/quickgig/backend/internal/monitor"
	"github.com/quickgig/backend/internal/notify"
	"github.com/quickgig/backend/internal/payouts"
	"github.com/quickgig/backend/internal/processor"
	"github.com/quickgig/backend/internal/resilience"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(".")
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to PostgreSQL")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		logger.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		logger.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}

	// Signal bus and outbound publisher
	bus := events.NewBus()
	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		publisher, err = events.NewAMQPProducer(cfg.AMQPURL, cfg.SignalExchange, logger)
		if err != nil {
			logger.Warn("AMQP broker unavailable, signals will not be forwarded", "error", err)
			publisher = &events.NoopPublisher{Logger: logger}
		}
	} else {
		publisher = &events.NoopPublisher{Logger: logger}
	}
	defer publisher.Close()
	events.ForwardSignals(bus, publisher, logger)

	// Resilience
	classifier := resilience.NewClassifier()
	gateway := resilience.NewGateway(classifier, nil, logger)
	watcher := resilience.NewConnWatcher(pool, classifier, bus, logger,
		cfg.HealthCheckInterval(), cfg.ReconnectDelay(), cfg.ReconnectMaxAttempts)

	// Processor client
	proc := processor.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorAPIKey)

	// Repositories and services
	notifier := notify.NewNotifier(notify.NewRepository(pool), logger)
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, proc, gateway, notifier, bus, logger)

	payoutRepo := payouts.NewRepository(pool)
	jobsRepo := jobs.NewRepository(pool)
	coordinator := payouts.NewCoordinator(payoutRepo, jobsRepo, ledgerRepo, proc, gateway, notifier, bus, logger)

	// Jobs: payout enqueue is set after the River client exists (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn jobs.EnqueuePayoutTxFunc
	enqueuePayout := func(ctx context.Context, tx pgx.Tx, args payouts.PayoutJobArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args)
	}
	jobsSvc := jobs.NewService(jobsRepo, ledgerSvc, ledgerRepo, enqueuePayout, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, payouts.NewWorker(coordinator))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
	})
	if err != nil {
		logger.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args payouts.PayoutJobArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, &river.InsertOpts{
			UniqueOpts: river.UniqueOpts{ByArgs: true},
		})
		return err
	}
	insertMu.Unlock()

	// Monitor and inbound event handling
	mon := monitor.New(ledgerRepo, proc, bus, logger, cfg.MonitorInterval(), cfg.MonitorMaxRetries)
	eventHandler := monitor.NewEventHandler(mon, payoutRepo, coordinator)
	if err := mon.Resume(ctx); err != nil {
		logger.Error("Failed to resume payment tracking", "error", err)
		os.Exit(1)
	}

	// A capture whose outcome is not known synchronously is tracked as soon as
	// its record is persisted, not only on the next restart.
	bus.Subscribe(events.PaymentPending, func(sig events.Signal) {
		mon.Track(sig.ExternalID)
	})

	// A payment that resolves asynchronously opens its pending job.
	bus.Subscribe(events.PaymentSucceeded, func(sig events.Signal) {
		if sig.JobID == uuid.Nil {
			return
		}
		if err := jobsSvc.OpenAfterCapture(context.Background(), sig.JobID); err != nil {
			logger.Error("Failed to open job after capture", "job_id", sig.JobID, "error", err)
		}
	})

	disputesSvc := disputes.NewService(disputes.NewRepository(pool), jobsRepo, ledgerSvc, ledgerRepo, notifier, bus, logger)

	// Inbound messaging: processor callback events and admin dispute commands.
	if cfg.AMQPURL != "" {
		consumer, err := events.NewAMQPConsumer(cfg.AMQPURL, logger)
		if err != nil {
			logger.Warn("AMQP broker unavailable, inbound events fall back to status polling", "error", err)
		} else {
			defer consumer.Close()
			if err := consumer.ConsumeWithBindings(cfg.ProcessorEventExchange, cfg.ProcessorEventQueue,
				eventHandler.MessageBindings(logger)); err != nil {
				logger.Error("Failed to consume processor events", "error", err)
				os.Exit(1)
			}
			disputeCommands := disputes.NewCommandHandler(disputesSvc, logger)
			if err := consumer.ConsumeWithBindings(cfg.CommandExchange, cfg.CommandQueue,
				disputeCommands.Bindings()); err != nil {
				logger.Error("Failed to consume dispute commands", "error", err)
				os.Exit(1)
			}
		}
	}

	// Start background processes
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			logger.Error("River client stopped", "error", err)
		}
	}()
	mon.Start()
	defer mon.Stop()
	watcher.Start()
	defer watcher.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if watcher.Reconnecting() {
			http.Error(w, "store reconnecting", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: "0.0.0.0:" + cfg.ServerPort, Handler: mux}
	go func() {
		logger.Info("Starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")
	_ = server.Shutdown(ctx)
}
