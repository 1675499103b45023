package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vietcare/booking-gateway/internal/admin"
	"github.com/vietcare/booking-gateway/internal/booking"
	"github.com/vietcare/booking-gateway/internal/chat"
	httpmiddleware "github.com/vietcare/booking-gateway/internal/http/middleware"
	"github.com/vietcare/booking-gateway/internal/session"
	"github.com/vietcare/booking-gateway/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	BookingHandler     *booking.Handler
	AdminHandler       *admin.Handler
	ChatHandler        *chat.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Per-IP rate limit for the /api surface. Zero disables limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
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

	// Public endpoints (health checks, metrics)
	r.Get("/health", handleHealth)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Patient-facing API, gated by the upstream session headers.
	r.Route("/api", func(api chi.Router) {
		if cfg.RateLimitPerSecond > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
		}
		api.Use(session.Middleware())

		if cfg.BookingHandler != nil {
			api.Mount("/booking", cfg.BookingHandler.Routes())
		}
		if cfg.ChatHandler != nil {
			api.Mount("/chat", cfg.ChatHandler.Routes())
		}

		// Admin surface for clinic staff.
		api.Route("/admin", func(adminRoutes chi.Router) {
			adminRoutes.Use(session.RequireAdmin())
			if cfg.AdminHandler != nil {
				adminRoutes.Mount("/", cfg.AdminHandler.Routes())
			}
			if cfg.ChatHandler != nil {
				adminRoutes.Post("/chat/reply", cfg.ChatHandler.HandleStaffReply)
			}
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
