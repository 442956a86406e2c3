package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/crestpay/anchor/internal/config"
	"github.com/crestpay/anchor/internal/directory"
	"github.com/crestpay/anchor/internal/handler"
	"github.com/crestpay/anchor/internal/horizon"
	"github.com/crestpay/anchor/internal/logging"
	"github.com/crestpay/anchor/internal/middleware"
	"github.com/crestpay/anchor/internal/migrate"
	"github.com/crestpay/anchor/internal/repository"
	"github.com/crestpay/anchor/internal/service/deposit"
	"github.com/crestpay/anchor/internal/service/settlement"
	"github.com/crestpay/anchor/internal/service/withdrawal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("anchor", cfg.LogLevel, cfg.AppEnv)

	db, err := connectDB(cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := migrate.Up(db, migrate.FindDir()); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	cursorRepo := repository.NewCursorRepository(db)
	depositRepo := repository.NewDepositRepository(db)
	balanceRepo := repository.NewBalanceRepository(db)
	withdrawalRepo := repository.NewWithdrawalRepository(db)
	unresolvedRepo := repository.NewUnresolvedRepository(db)
	customerRepo := repository.NewCustomerRepository(db)
	idempotencyRepo := repository.NewIdempotencyRepository(db)

	node := horizon.NewClient(cfg.HorizonURL, cfg.SubmittingAccount, cfg.SubmittingSeed, cfg.NetworkPassphrase)

	ingestor := deposit.NewIngestor(deposit.Params{
		DB:               db,
		Source:           node,
		Directory:        directory.New(customerRepo),
		Cursor:           cursorRepo,
		Deposits:         depositRepo,
		Balances:         balanceRepo,
		Unresolved:       unresolvedRepo,
		ReceivingAccount: cfg.ReceivingAccount,
		PollInterval:     cfg.IngestPollInterval(),
		PageLimit:        cfg.IngestPageLimit,
		MemoPolicy:       cfg.UnresolvedMemoPolicy,
		Logger:           logger.With("component", "ingestor"),
	})

	engine := settlement.NewEngine(
		withdrawalRepo,
		node,
		cfg.SettlementInterval(),
		cfg.SettlementBatchLimit,
		logger.With("component", "settlement"),
	)

	withdrawalSvc := withdrawal.NewService(withdrawalRepo, balanceRepo, db)
	withdrawalHandler := handler.NewWithdrawalHandler(withdrawalSvc)
	depositHandler := handler.NewDepositHandler(unresolvedRepo)
	healthHandler := handler.NewHealthHandler(db)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)
	mux.Handle("POST /api/v1/withdrawals",
		middleware.Idempotency(idempotencyRepo)(http.HandlerFunc(withdrawalHandler.Create)))
	mux.HandleFunc("GET /api/v1/withdrawals/{id}", withdrawalHandler.Get)
	mux.HandleFunc("GET /api/v1/withdrawals", withdrawalHandler.List)
	mux.HandleFunc("GET /api/v1/customers/{id}/balance", withdrawalHandler.GetBalance)
	mux.HandleFunc("GET /api/v1/deposits/unresolved", depositHandler.ListUnresolved)

	chain := middleware.Tracing(middleware.Logging(middleware.Recovery(mux)))

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           chain,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		ingestor.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		engine.Start(workerCtx)
	}()

	go func() {
		slog.Info("server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Workers stop at their next safe point: the ingestor after the
	// current event's transaction, the engine after the current
	// request reaches sending or a terminal state.
	stopWorkers()
	wg.Wait()
	slog.Info("stopped")
}

func connectDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connectDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetimeS) * time.Second)
	db.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTimeS) * time.Second)

	for i := range 30 {
		if err = db.Ping(); err == nil {
			return db, nil
		}
		slog.Info("waiting for database", "attempt", i+1)
		time.Sleep(time.Second)
	}

	db.Close()
	return nil, fmt.Errorf("connectDB: gave up after 30 attempts: %w", err)
}
