package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/nightmare634/voidstream/internal/action"
	"github.com/nightmare634/voidstream/internal/approval"
	"github.com/nightmare634/voidstream/internal/audit"
	"github.com/nightmare634/voidstream/internal/jwtauth"
	"github.com/nightmare634/voidstream/internal/platform/config"
	"github.com/nightmare634/voidstream/internal/platform/httpserver"
	"github.com/nightmare634/voidstream/internal/platform/logger"
	"github.com/nightmare634/voidstream/internal/platform/metrics"
	platformredis "github.com/nightmare634/voidstream/internal/platform/redis"
	"github.com/nightmare634/voidstream/internal/realtime"
	"github.com/nightmare634/voidstream/internal/record"
	"github.com/nightmare634/voidstream/internal/settlement"
	"github.com/nightmare634/voidstream/internal/stream"
	httptransport "github.com/nightmare634/voidstream/internal/transport/http"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal services packages.
func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var records record.Store = record.NewMemoryStore()
	if cfg.Store.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.Store.PostgresURL)
		if err != nil {
			log.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := record.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			log.Error("postgres migrate failed", "error", err)
			os.Exit(1)
		}
		records = pg
		log.Info("using postgres record store")
	} else {
		log.Info("using in-memory record store")
	}

	ledgerOpts := []audit.Option{audit.WithMetrics(m)}
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := audit.NewKafkaSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, log, m)
		if err != nil {
			log.Error("kafka sink unavailable", "error", err)
			os.Exit(1)
		}
		defer sink.Close(ctx)
		ledgerOpts = append(ledgerOpts, audit.WithSink(sink))
		log.Info("audit entries mirrored to kafka", "topic", cfg.Kafka.Topic)
	}
	ledger := audit.New(records, log, ledgerOpts...)

	streams := stream.NewService(records, ledger, log)
	executor := action.New(records, ledger, log, action.WithMetrics(m))

	workflowOpts := []approval.Option{approval.WithMetrics(m)}
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		workflowOpts = append(workflowOpts, approval.WithLocker(approval.NewRedisLocker(redisClient)))
		log.Info("approval lock backed by redis")
	}
	workflow := approval.NewWorkflow(records, executor, ledger, log, workflowOpts...)

	settle := settlement.NewStubDriver(log)

	fetcher := realtime.NewHTTPFetcher(cfg.Realtime.HTTPURL, nil)
	rtClient := realtime.NewClient(cfg.Realtime.WSURL, fetcher,
		realtime.WithLogger(log),
		realtime.WithMetrics(m),
		realtime.WithMaxReconnectAttempts(cfg.Realtime.MaxReconnectAttempts),
		realtime.WithPollInterval(cfg.Realtime.PollInterval),
		realtime.WithOnPermanentClose(func(err error) {
			log.Warn("live balance updates unavailable; polling continues", "error", err)
		}),
	)
	defer rtClient.Close()
	balances := realtime.NewBalanceCache(rtClient)

	validator := jwtauth.NewService(cfg.Server.JWTSigningKey, "voidstream", "voidstream-api")

	handler := httptransport.NewHandler(streams, workflow, ledger, settle, balances, log)
	router := httptransport.NewRouter(handler, validator, m, log)

	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting voidstream", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
