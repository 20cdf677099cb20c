package http

import (
	"log/slog"

	"github.com/cabdesk/dispatch-notify/internal/handler/http/middleware"
	"github.com/cabdesk/dispatch-notify/internal/pkg/jwt"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/jwtauth/v5"
)

// RouterConfig holds the router's ambient settings
type RouterConfig struct {
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
	LogLevel       slog.Level
}

func NewRouter(
	cfg RouterConfig,
	logger *slog.Logger,
	JWTService jwt.Service,
	notificationHandler NotificationHandler,
	pushHandler PushHandler,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		MaxAge:           300,
	}))

	r.Use(chiMiddleware.RealIP)

	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  cfg.LogLevel,
		Schema: httplog.SchemaECS,
	}))

	r.Use(chiMiddleware.CleanPath)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/"))

	r.Route("/api/v1", func(r chi.Router) {
		// The push channel authenticates in-band
		r.Get("/ws", pushHandler.Serve)

		// Requires authentication
		r.Group(func(r chi.Router) {
			if cfg.RateLimit > 0 {
				r.Use(middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Handler)
			}
			r.Use(chiMiddleware.AllowContentType("application/json"))
			r.Use(jwtauth.Verifier(JWTService.JWTAuth()))
			r.Use(middleware.AuthRequired(JWTService))

			r.Route("/notifications", func(r chi.Router) {
				// Admin stream
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireAdmin)
					r.Post("/", notificationHandler.Publish)
					r.Get("/self", notificationHandler.Page)
					r.Get("/self/unread", notificationHandler.Unread)
					r.Put("/self/read-all", notificationHandler.MarkAllAsRead)
				})

				// Vendor stream
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireVendor)
					r.Get("/vendor", notificationHandler.Page)
					r.Get("/vendor/unread", notificationHandler.Unread)
					r.Put("/vendor/read-all", notificationHandler.MarkAllAsRead)
				})

				// Either role, confined to the caller's stream
				r.Put("/{id}/read", notificationHandler.MarkAsRead)
				r.Delete("/{id}", notificationHandler.Delete)
			})
		})
	})
	return r
}
