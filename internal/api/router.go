package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mahdi-taghi/business-assistant-ari/internal/api/middleware"
	"github.com/mahdi-taghi/business-assistant-ari/internal/handlers"
	"github.com/mahdi-taghi/business-assistant-ari/internal/session"
	"github.com/mahdi-taghi/business-assistant-ari/internal/store"
)

// Options configures the router.
type Options struct {
	Store          store.DataStore
	Redis          *store.RedisStore
	Bus            handlers.ChatSweeper
	Sessions       *session.Connector
	DataDB         handlers.Pinger
	AllowedOrigins []string
	RateLimit      middleware.RateLimiterConfig
	MaxBodyBytes   int64
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, opts Options) *chi.Mux {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 16 * 1024
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(opts.Redis.Client(), logger, opts.RateLimit)
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(handlers.Deps{
		Store:    opts.Store,
		Redis:    opts.Redis,
		Bus:      opts.Bus,
		Sessions: opts.Sessions,
		DataDB:   opts.DataDB,
		Logger:   logger,
	})
	auth := middleware.NewAuthMiddleware(opts.Store, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Websocket sessions refuse anonymous peers with a close code after the
	// upgrade, so auth here is optional.
	r.With(auth.OptionalAuth).Get("/ws/chat/{id}", h.ChatSocket)

	// Authenticated routes (require bearer token)
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/me", h.Me)
		r.Post("/chats", h.CreateChat)
		r.Get("/chats", h.ListChats)
		r.Post("/chats/{id}/toggle-archive", h.ToggleArchive)
		r.Delete("/chats/{id}", h.DeleteChat)
		r.Get("/chats/{id}/messages", h.ChatMessages)
	})

	return r
}
