package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"splitledger/internal/audit"
	"splitledger/internal/budget/evaluator"
	budgetstore "splitledger/internal/budget/store"
	expensemetrics "splitledger/internal/expense/metrics"
	"splitledger/internal/expense/service"
	"splitledger/internal/group"
	"splitledger/internal/notify/hub"
	notifymetrics "splitledger/internal/notify/metrics"
	"splitledger/internal/notify/offline"
	"splitledger/internal/notify/router"
	"splitledger/internal/platform/config"
	"splitledger/internal/platform/httpserver"
	"splitledger/internal/platform/kafka/producer"
	"splitledger/internal/platform/logger"
	platformredis "splitledger/internal/platform/redis"
	"splitledger/internal/settlement/engine"
	settlementstore "splitledger/internal/settlement/store"
	httptransport "splitledger/internal/transport/http"
	"splitledger/pkg/platform/circuit"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		budgets interface {
			budgetstore.BudgetStore
			evaluator.StateStore
		}
		ledger engine.LedgerStore
		groups group.Store
	)
	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Error("open pgx pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		budgets = budgetstore.NewPostgres(db)
		ledger = settlementstore.NewPostgres(pool)
		groups = group.NewPostgres(db)
	} else {
		log.Warn("no postgres configured, using in-memory stores")
		budgets = budgetstore.NewMemory()
		ledger = settlementstore.NewMemory()
		groups = group.NewMemory()
	}

	var queue offline.Queue = offline.NewMemory()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		queue = offline.NewFailover(
			offline.NewRedis(redisClient.Client),
			offline.NewMemory(),
			circuit.New("offline-redis", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(2)),
			offline.WithFailoverLogger(log),
		)
	} else {
		log.Warn("no redis configured, offline notifications are in-memory only")
	}

	auditor := audit.Publisher(audit.NopPublisher{})
	if len(cfg.KafkaBrokers) > 0 {
		prod, err := producer.New(cfg.KafkaBrokers)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer prod.Close()
		if err := prod.EnsureTopics(ctx, 3, 1, audit.Topic); err != nil {
			log.Error("ensure kafka topics", "error", err)
			os.Exit(1)
		}
		worker := audit.NewWorker(audit.NewKafkaPublisher(prod), 256, log)
		go func() { _ = worker.Run(ctx) }()
		auditor = worker
	}

	notificationHub, err := hub.New(queue, groups,
		hub.WithLogger(log),
		hub.WithMetrics(notifymetrics.New()),
		hub.WithSendTimeout(cfg.SendTimeout),
	)
	if err != nil {
		log.Error("build hub", "error", err)
		os.Exit(1)
	}
	go func() { _ = notificationHub.RunJanitor(ctx, cfg.JanitorInterval) }()

	eventRouter, err := router.New(notificationHub, router.WithLogger(log))
	if err != nil {
		log.Error("build event router", "error", err)
		os.Exit(1)
	}

	ledgerEngine, err := engine.New(ledger, engine.WithLogger(log))
	if err != nil {
		log.Error("build settlement engine", "error", err)
		os.Exit(1)
	}
	budgetEvaluator, err := evaluator.New(budgets, evaluator.WithLogger(log))
	if err != nil {
		log.Error("build budget evaluator", "error", err)
		os.Exit(1)
	}

	svc, err := service.New(ledgerEngine, budgetEvaluator, budgets, eventRouter, groups,
		service.WithLogger(log),
		service.WithMetrics(expensemetrics.New()),
		service.WithAuditPublisher(auditor),
	)
	if err != nil {
		log.Error("build expense service", "error", err)
		os.Exit(1)
	}

	handler := httptransport.NewHandler(svc, notificationHub, queue, groups, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	log.Info("starting splitledger", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("splitledger stopped")
}
