package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/video-stream/transcriber/internal/api/handlers"
	"github.com/video-stream/transcriber/internal/api/middleware"
	"github.com/video-stream/transcriber/internal/auth"
	"github.com/video-stream/transcriber/internal/config"
	"github.com/video-stream/transcriber/internal/db"
	"github.com/video-stream/transcriber/internal/db/models"
	"github.com/video-stream/transcriber/internal/engine"
	"github.com/video-stream/transcriber/internal/history"
	"github.com/video-stream/transcriber/internal/job"
	"github.com/video-stream/transcriber/internal/metrics"
	"github.com/video-stream/transcriber/internal/storage"
)

// Deps are the services the HTTP layer is built on.
type Deps struct {
	DB       *db.Database
	JWT      *auth.JWTService
	Queue    *job.JobQueue
	History  *history.Store
	Limiter  *middleware.RateLimiter
	Library  *storage.Library // nil disables the file routes
	Prober   engine.Prober
	Engines  []string
	Diarizer string
	Logger   *slog.Logger
}

// NewLoginLimiter allows 10 login attempts per IP per minute.
func NewLoginLimiter() *middleware.RateLimiter {
	return middleware.NewRateLimiter(10, time.Minute)
}

func NewRouter(cfg *config.Config, d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.MaxBodySize(1 << 20))

	// Handlers
	authHandler := handlers.NewAuthHandler(d.DB, d.JWT, d.Logger)
	transcriptionHandler := handlers.NewTranscriptionHandler(d.Queue)
	jobHandler := handlers.NewJobHandler(d.Queue)
	historyHandler := handlers.NewHistoryHandler(d.History, d.Queue, d.Logger)
	toolHandler := handlers.NewToolHandler(d.Queue, d.History)
	settingsHandler := handlers.NewSettingsHandler(d.DB, d.Queue, d.Logger)
	adminHandler := handlers.NewAdminHandler(d.DB, d.Limiter)
	systemHandler := handlers.NewSystemHandler(d.Queue, d.Engines, d.Diarizer, cfg.MaxConcurrent)

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", systemHandler.Health)
		r.With(d.Limiter.Handler).Post("/auth/login", authHandler.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(d.JWT))
			submit := middleware.RequireRole(models.RoleAdmin, models.RoleEditor)
			admin := middleware.RequireRole(models.RoleAdmin)

			r.Get("/auth/me", authHandler.Me)

			// Transcriptions
			r.With(submit).Post("/transcriptions", transcriptionHandler.Submit)
			r.With(submit).Post("/batches", transcriptionHandler.SubmitBatch)
			r.Get("/batches/{id}", transcriptionHandler.GetBatch)

			// Jobs
			r.Get("/jobs", jobHandler.ListJobs)
			r.Get("/jobs/active", jobHandler.Active)
			r.Get("/jobs/{id}", jobHandler.GetJob)
			r.Get("/jobs/{id}/progress", jobHandler.Progress)
			r.Get("/jobs/{id}/events", jobHandler.Events)
			r.Get("/jobs/{id}/result", jobHandler.Result)
			r.With(submit).Post("/jobs/{id}/cancel", jobHandler.CancelJob)
			r.With(submit).Delete("/jobs/{id}", jobHandler.CancelJob)

			// History
			r.Get("/history", historyHandler.List)
			r.With(admin).Delete("/history", historyHandler.Prune)

			// Tool calls
			r.Get("/tools", toolHandler.List)
			r.Post("/tools/{name}", toolHandler.Call)

			r.Get("/settings", settingsHandler.GetSettings)
			r.With(admin).Put("/settings", settingsHandler.UpdateSettings)

			r.Get("/system", systemHandler.Info)

			// Audio library
			if d.Library != nil {
				filesHandler := handlers.NewFilesHandler(d.Library, d.Prober)
				r.Get("/files/tree", filesHandler.GetTree)
				r.Get("/files/tree/*", filesHandler.GetTree)
				r.Get("/files/info/*", filesHandler.GetInfo)
				r.Get("/files/search", filesHandler.Search)
			}

			// Admin
			r.Route("/admin", func(r chi.Router) {
				r.Use(admin)
				r.Get("/users", adminHandler.ListUsers)
				r.Post("/users", adminHandler.CreateUser)
				r.Put("/users/{id}", adminHandler.UpdateUser)
				r.Delete("/users/{id}", adminHandler.DeleteUser)
				r.Get("/rate-limits", adminHandler.RateLimits)
				r.Delete("/rate-limits", adminHandler.ClearRateLimits)
			})
		})
	})

	return r
}
