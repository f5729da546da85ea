package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/clinic-scheduling/internal/config"
	"github.com/clinicore/clinic-scheduling/internal/conversation"
	"github.com/clinicore/clinic-scheduling/internal/db"
	"github.com/clinicore/clinic-scheduling/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.Env, "session-reaper")
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.ReapInterval).
		Dur("idle_ttl", cfg.SessionIdleTTL).
		Msg("session-reaper starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	store := conversation.NewPgSessionStore(pgPool)

	// Run once at startup
	runOnce(rootCtx, store, cfg.SessionIdleTTL, logger)

	ticker := time.NewTicker(cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping session reaper")
			return
		case <-ticker.C:
			runOnce(rootCtx, store, cfg.SessionIdleTTL, logger)
		}
	}
}

func runOnce(ctx context.Context, store *conversation.PgSessionStore, idleTTL time.Duration, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	reaped, err := store.ReapStale(runCtx, idleTTL)
	if err != nil {
		logger.Error().Err(err).Msg("reap run error")
		return
	}
	logger.Info().Int64("reaped", reaped).Dur("took", time.Since(start)).Msg("reap run complete")
}
