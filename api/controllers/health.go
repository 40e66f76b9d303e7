package controllers

import (
	"net/http"

	"github.com/nivenlabs/subflow-backend/api/responses"
	"github.com/nivenlabs/subflow-backend/pkg/config"
	"github.com/nivenlabs/subflow-backend/pkg/db"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
	"github.com/nivenlabs/subflow-backend/pkg/redis"
)

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Subflow-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports readiness only when every hard dependency answers.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP db.Pinger, redisP redis.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		w.Header().Set("X-Subflow-Env", cfg.App.Env)

		checks := map[string]string{}
		healthy := true

		if dbP == nil {
			checks["db"] = "not configured"
			healthy = false
		} else if err := dbP.Ping(ctx); err != nil {
			checks["db"] = err.Error()
			healthy = false
			if logg != nil {
				logg.Error(ctx, "readiness db ping failed", err)
			}
		} else {
			checks["db"] = "ok"
		}

		if redisP == nil {
			checks["redis"] = "not configured"
			healthy = false
		} else if err := redisP.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
			if logg != nil {
				logg.Error(ctx, "readiness redis ping failed", err)
			}
		} else {
			checks["redis"] = "ok"
		}

		status := http.StatusOK
		state := "ready"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		responses.WriteSuccessStatus(w, status, map[string]any{
			"status": state,
			"checks": checks,
		})
	}
}
