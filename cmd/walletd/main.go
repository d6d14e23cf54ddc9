// Command walletd runs the wallet ledger HTTP service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"wallet-ledger/internal/auth"
	"wallet-ledger/internal/config"
	"wallet-ledger/internal/httpapi"
	"wallet-ledger/internal/ledger"
	"wallet-ledger/internal/logging"
	"wallet-ledger/internal/store"

	"github.com/google/uuid"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "walletd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Setup(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logging.Info("starting walletd", "app", cfg.AppName, "env", cfg.Env)

	startCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.DBConnectTimeoutSeconds)*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse database url: %w", err)
	}
	maxConns := cfg.DBMaxConns
	if maxConns <= 0 {
		maxConns = clamp(runtime.GOMAXPROCS(0)*4, 4, 50)
	}
	poolCfg.MaxConns = int32(maxConns)
	poolCfg.MinConns = int32(cfg.DBMinConns)
	poolCfg.HealthCheckPeriod = 10 * time.Second
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(startCtx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(startCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	logging.Info("running migrations")
	if err := store.Migrate(startCtx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	systemWalletID, err := uuid.Parse(cfg.SystemWalletID)
	if err != nil {
		return fmt.Errorf("parse system_wallet_id: %w", err)
	}

	engine := ledger.NewEngine(pool, systemWalletID, cfg.DefaultAsset)
	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTAudience, cfg.JWTAlgorithms)
	handlers := httpapi.NewHandlers(engine, pool)
	router := httpapi.Router(handlers, verifier, httpapi.RouterConfig{MaxInflight: cfg.HTTPMaxInflight})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("listening", "addr", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
	case sig := <-stop:
		logging.Info("shutting down", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
	}

	return nil
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
