package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/murmur/internal/api/middleware"
	"github.com/eldtechnologies/murmur/internal/auth"
	"github.com/eldtechnologies/murmur/internal/handlers"
	"github.com/eldtechnologies/murmur/internal/store"
)

// RouterConfig holds the pieces the router wires together.
type RouterConfig struct {
	Handlers       handlers.Deps
	Auth           auth.Authenticator
	Realtime       http.Handler // GET /ws
	Redis          *store.RedisStore
	AllowedOrigins []string
	RateLimit      middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(cfg.Handlers)
	authMW := middleware.NewAuthMiddleware(cfg.Auth)
	limiter := middleware.NewRateLimiter(cfg.Redis.Client(), logger, cfg.RateLimit)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	// The realtime channel authenticates itself before upgrading.
	r.With(limiter.Middleware).Get("/ws", cfg.Realtime.ServeHTTP)

	// Authenticated routes (require bearer token)
	r.Group(func(r chi.Router) {
		r.Use(authMW.RequireAuth)
		r.Use(limiter.Middleware)

		r.Get("/threads/{friendID}", h.GetThread)
		r.Post("/messages/{friendID}", h.SendMessage)
		r.Get("/presence/{userID}", h.Presence)
		r.Get("/presence", h.PresenceList)
	})

	return r
}
