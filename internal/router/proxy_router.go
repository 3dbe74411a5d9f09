package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/amerfu/proxyd/internal/config"
	"github.com/amerfu/proxyd/internal/honeypot"
	"github.com/amerfu/proxyd/internal/middleware"
	"github.com/amerfu/proxyd/internal/pipeline"
)

// NewProxyRouter mounts the Request Pipeline's two entry points behind
// the same request-id/recover/log/CORS/metrics middleware stack
// NewRouter builds for the teacher's own API, per spec §8's "looks
// like a normal reverse proxy from the outside" requirement. hp is
// optional; when non-nil its decoy routes are mounted alongside the
// real ones.
func NewProxyRouter(cfg *config.Config, logger *zap.Logger, p *pipeline.Pipeline, hp *honeypot.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.MetricsMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Post("/v1/messages", p.ServeAnthropicMessages)
	r.Post("/v1/chat/completions", p.ServeChatCompletions)

	if hp != nil {
		hp.Mount(r)
	}

	return r
}
