package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	readinessTimeout = 2 * time.Second
	depPingTimeout   = time.Second
)

// HealthHandler serves liveness and readiness. Liveness never touches
// dependencies; readiness pings them with a short per-dependency timeout.
type HealthHandler struct {
	pgPool  *pgxpool.Pool
	redis   *redis.Client
	logger  zerolog.Logger
	env     string
	version string
}

func NewHealthHandler(pgPool *pgxpool.Pool, redis *redis.Client, logger zerolog.Logger, env, version string) *HealthHandler {
	return &HealthHandler{
		pgPool:  pgPool,
		redis:   redis,
		logger:  logger,
		env:     env,
		version: version,
	}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:  "ok",
		Version: h.version,
		Env:     h.env,
	})
}

// Readiness reports "error" (503) when Postgres is unreachable and
// "degraded" (200) when only Redis is: booking cannot proceed without the
// database, while lost locks merely widen the race window the exclusion
// constraint already covers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	deps := map[string]string{
		"postgres": h.ping(ctx, "postgres", h.pgPool.Ping),
		"redis": h.ping(ctx, "redis", func(ctx context.Context) error {
			return h.redis.Ping(ctx).Err()
		}),
	}

	status := "ok"
	switch {
	case deps["postgres"] != "ok":
		status = "error"
	case deps["redis"] != "ok":
		status = "degraded"
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.version,
		Env:          h.env,
		Dependencies: deps,
	})
}

func (h *HealthHandler) ping(ctx context.Context, name string, fn func(context.Context) error) string {
	pingCtx, cancel := context.WithTimeout(ctx, depPingTimeout)
	defer cancel()

	if err := fn(pingCtx); err != nil {
		h.logger.Warn().Err(err).Str("dependency", name).Msg("readiness ping failed")
		return "down"
	}
	return "ok"
}
