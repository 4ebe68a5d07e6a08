package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"WagerLedger/internal/config"
	"WagerLedger/internal/core"
	"WagerLedger/internal/ingestion"
	"WagerLedger/internal/observability"
	"WagerLedger/internal/persistence"
	"WagerLedger/internal/persistence/migrations"
	"WagerLedger/internal/query"
	"WagerLedger/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.NewLogger("wagerd")
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("wagerd failed")
	}
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	policy, currency, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	logger.Info().
		Str("driver", cfg.DBDriver).
		Str("currency", currency.Code).
		Int64("fee_bps", policy.FeeBasisPoints).
		Msg("wagerd starting")

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Tracing ---
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("flush traces")
		}
	}()

	// --- Store ---
	db, dialect, err := persistence.Open(ctx, cfg.DBDriver, cfg.DataSource())
	if err != nil {
		return err
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)
	logger.Info().Str("dialect", dialect.String()).Msg("database connected")

	if cfg.AutoMigrate {
		migrator := persistence.NewMigrator(db, dialect, migrations.FS, logger.With().Str("component", "migrate").Logger())
		if err := migrator.Up(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	store := persistence.NewStore(db, dialect, cfg.LockTimeout, logger.With().Str("component", "store").Logger())

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("store", store.Ping)

	// --- NATS (optional) ---
	var (
		events      chan core.SettlementEvent
		publisher   *ingestion.OutboundPublisher
		subscriber  *ingestion.NATSSubscriber
		rawEvents   chan ingestion.RawEvent
		ingestLog   = logger.With().Str("component", "ingestion").Logger()
		engineEvent chan<- core.SettlementEvent
	)
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, ingestLog)
		if err != nil {
			return err
		}
		defer nc.Close()
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats connection " + nc.Status().String())
			}
			return nil
		})

		if err := ingestion.EnsureStreams(ctx, js, ingestLog); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		if err := ingestion.EnsureOutboundStream(ctx, js, ingestLog); err != nil {
			return fmt.Errorf("ensure outbound stream: %w", err)
		}

		events = make(chan core.SettlementEvent, cfg.EventBufferSize)
		engineEvent = events
		publisher = ingestion.NewOutboundPublisher(js, events, metrics, ingestLog)

		rawEvents = make(chan ingestion.RawEvent, cfg.IngestBufferSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawEvents, ingestLog)
		logger.Info().Str("url", cfg.NATSURL).Msg("NATS connected")
	} else {
		logger.Warn().Msg("WAGER_NATS_URL not set: settlement events are not published and inbound feeds are off")
	}

	// --- Engine and services ---
	engine, err := core.NewEngine(store, policy, engineEvent, metrics, logger.With().Str("component", "engine").Logger())
	if err != nil {
		return err
	}
	queries := query.NewQueryService(store, metrics, logger.With().Str("component", "query").Logger())

	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Service:       server.NewSettlementService(engine, queries, currency),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        logger.With().Str("component", "server").Logger(),
	})

	// --- Start goroutines ---
	errChan := make(chan error, 8)
	var producers sync.WaitGroup
	goProducer := func(name string, fn func() error) {
		producers.Add(1)
		go func() {
			defer producers.Done()
			if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	// 1. gRPC server
	goProducer("grpc", func() error { return grpcServer.StartGRPC(ctx) })

	// 2. HTTP/JSON gateway
	goProducer("http", func() error { return grpcServer.StartHTTPGateway(ctx) })

	// 3. Inbound arbitration results and deposit confirmations
	if subscriber != nil {
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		applier := ingestion.NewApplier(engine, cfg.ArbitrationThreshold, metrics, ingestLog)
		goProducer("applier", func() error { return applier.Run(ctx, rawEvents) })
	}

	// 4. Outbound settlement events; outlives the producers so it can drain
	pubCtx, pubCancel := context.WithCancel(context.Background())
	defer pubCancel()
	pubDone := make(chan struct{})
	if publisher != nil {
		go func() {
			defer close(pubDone)
			if err := publisher.Run(pubCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("publisher stopped")
			}
		}()
	} else {
		close(pubDone)
	}

	// 5. Prometheus metrics server
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	grpcServer.SetServing(true)
	logger.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("wagerd ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop intake first, let in-flight operations commit, then drain events.
	grpcServer.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancel()
	producers.Wait()

	// late emits after this point are dropped, never sent on a closed channel
	engine.CloseEvents()
	select {
	case <-pubDone:
	case <-time.After(cfg.ShutdownTimeout):
		logger.Warn().Int("pending", len(events)).Msg("event drain timed out")
		pubCancel()
		<-pubDone
	}

	shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	if err := metricsServer.Shutdown(shutCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown")
	}

	logger.Info().Msg("wagerd shutdown complete")
	return nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
