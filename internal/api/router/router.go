// Package router assembles the API server's HTTP surface.
package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sanamente-ai/sanamente-platform/internal/channels/whatsapp"
	"github.com/sanamente-ai/sanamente-platform/internal/http/handlers"
	httpmiddleware "github.com/sanamente-ai/sanamente-platform/internal/http/middleware"
	"github.com/sanamente-ai/sanamente-platform/internal/ratelimit"
	"github.com/sanamente-ai/sanamente-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	WhatsAppWebhook    *whatsapp.WebhookHandler
	Messages           *handlers.MessagesHandler
	Operator           *handlers.OperatorHandler
	Limiter            *ratelimit.Limiter
	OperatorJWTSecret  string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks).
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.WhatsAppWebhook != nil {
			if cfg.Limiter != nil {
				public.With(cfg.Limiter.Middleware).Post("/webhooks/whatsapp", cfg.WhatsAppWebhook.ServeHTTP)
			} else {
				public.Post("/webhooks/whatsapp", cfg.WhatsAppWebhook.ServeHTTP)
			}
		}
	})

	// Internal send endpoint (web chat and clinician console).
	if cfg.Messages != nil {
		r.Route("/api", func(api chi.Router) {
			api.Use(httpmiddleware.OperatorJWT(cfg.OperatorJWTSecret))
			if cfg.Limiter != nil {
				api.Use(cfg.Limiter.Middleware)
			}
			api.Post("/conversations/{conversationID}/messages", cfg.Messages.Send)
		})
	}

	// Operator debugging surface.
	if cfg.Operator != nil {
		r.Route("/operator", func(op chi.Router) {
			op.Use(httpmiddleware.OperatorJWT(cfg.OperatorJWTSecret))
			op.Get("/conversations/{conversationID}/prompt-snapshot", cfg.Operator.GetPromptSnapshot)
			op.Get("/audit-events", cfg.Operator.ListAuditEvents)
		})
	}

	return r
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
