package router

import (
	"net/http"

	"purchase-settlement-api/internal/handler"
	"purchase-settlement-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler            *handler.Handler
	WebhookHandler     *handler.WebhookHandler
	PurchaseHandler    *handler.PurchaseHandler
	ReservationHandler *handler.ReservationHandler
	AdminHandler       *handler.AdminHandler
	AdminMiddleware    func(http.Handler) http.Handler
	MetricsHandler     http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", middleware.AdminKeyHeader},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	if cfg.WebhookHandler != nil {
		r.Post("/webhooks/nmkr", cfg.WebhookHandler.Receive)
		r.Get("/webhooks/nmkr", cfg.WebhookHandler.Probe)
		r.Options("/webhooks/nmkr", cfg.WebhookHandler.Probe)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		if cfg.PurchaseHandler != nil {
			r.Get("/purchases/{tx_id}", cfg.PurchaseHandler.GetPurchase)
			r.Get("/claims/{buyer}", cfg.PurchaseHandler.ListClaims)
		}

		if cfg.ReservationHandler != nil {
			r.Route("/reservations", func(r chi.Router) {
				r.Post("/", cfg.ReservationHandler.Create)
				r.Get("/{id}", cfg.ReservationHandler.Get)
				r.Post("/{id}/fail", cfg.ReservationHandler.Fail)
			})
		}

		// Operator endpoints, behind X-Admin-Key
		if cfg.AdminHandler != nil {
			r.Route("/admin", func(r chi.Router) {
				if cfg.AdminMiddleware != nil {
					r.Use(cfg.AdminMiddleware)
				}
				r.Get("/stats", cfg.AdminHandler.GetStats)
				r.Get("/anomalies", cfg.AdminHandler.ListAnomalies)
				r.Post("/inventory", cfg.AdminHandler.SeedInventory)
				r.Get("/inventory/{id}", cfg.AdminHandler.GetInventoryUnit)
				r.Post("/allowlist", cfg.AdminHandler.AddEligibleBuyer)
				r.Post("/reprocess", cfg.AdminHandler.Reprocess)
			})
		}
	})

	return r
}
