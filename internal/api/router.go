package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/api/middleware"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/handlers"
	"github.com/parley-chat/parley/internal/store"
	"github.com/parley-chat/parley/internal/ws"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *config.Config, logger zerolog.Logger, db store.DataStore, redisStore *store.RedisStore, gateway *ws.Gateway) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting (no-op without Redis)
	limiter := middleware.NewRateLimiter(redisStore, logger)
	r.Use(limiter.Middleware)

	// CORS: single browser origin, credentials needed for the token cookie.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	tokens := auth.NewTokenManager(cfg.JWTSecret)
	chats := chat.NewService(db, logger)
	h := handlers.NewHandler(db, redisStore, chats, tokens, logger, cfg.IsDevelopment())
	authmw := middleware.NewAuthMiddleware(tokens, redisStore)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/ws", gateway.HandleWS)
	r.Post("/user/create", h.RegisterUser)
	r.Post("/user/login", h.Login)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth)

		r.Get("/user", h.GetUser)
		r.Get("/user/all", h.ListUsers)
		r.Get("/user/logout", h.Logout)
		r.Patch("/user/update", h.UpdateUser)
		r.Delete("/user/delete", h.DeleteUser)

		r.Post("/chat", h.CreateChat)
		r.Get("/chat", h.GetUserChats)
		r.Get("/chat/{chatID}", h.GetChat)
		r.Patch("/chat/{chatID}", h.RenameChat)
		r.Delete("/chat/{chatID}", h.DeleteChat)
		r.Post("/chat/{chatID}/members", h.AddChatMember)
		r.Delete("/chat/{chatID}/members", h.RemoveChatMember)

		r.Post("/chat/{chatID}/messages", h.SendMessage)
		r.Get("/chat/{chatID}/messages", h.GetMessages)
	})

	return r
}
