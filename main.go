package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/video-stream/transcriber/internal/api"
	"github.com/video-stream/transcriber/internal/api/handlers"
	"github.com/video-stream/transcriber/internal/auth"
	"github.com/video-stream/transcriber/internal/config"
	"github.com/video-stream/transcriber/internal/db"
	"github.com/video-stream/transcriber/internal/engine"
	"github.com/video-stream/transcriber/internal/engine/diarize"
	"github.com/video-stream/transcriber/internal/engine/whisper"
	"github.com/video-stream/transcriber/internal/ffmpeg"
	"github.com/video-stream/transcriber/internal/gpu"
	"github.com/video-stream/transcriber/internal/history"
	"github.com/video-stream/transcriber/internal/job"
	"github.com/video-stream/transcriber/internal/logger"
	"github.com/video-stream/transcriber/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logg, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Log.Environment,
		WithSource:  cfg.Log.WithSource,
		File:        cfg.Log.File,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logg)
	if cfg.GeneratedSecret {
		logg.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	}

	if err := os.MkdirAll(cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data path: %w", err)
	}

	database, err := db.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer database.Close()

	if err := database.EnsureAdmin(cfg.AdminUsername, cfg.AdminPassword); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	store := history.New(database.DB())

	// Inference engines
	recognizer := whisper.NewService(cfg.WhisperURL, cfg.OpenAIURL, cfg.OpenAIKey, cfg.OpenAIModel, logg)
	var diarizer engine.Diarizer = diarize.Noop{}
	if cfg.DiarizeURL != "" {
		diarizer = diarize.NewHTTPClient(cfg.DiarizeURL, logg)
	}
	gpu.DetectGPU()
	logg.Info("engines configured", "recognizers", recognizer.Engines(), "diarizer", diarizer.Name())

	prober := ffmpeg.NewProber()
	queue := job.NewJobQueue(job.Config{
		MaxConcurrent:            cfg.MaxConcurrent,
		ChunkingThresholdSeconds: cfg.ChunkingThresholdSeconds,
		MaxFileSizeBytes:         cfg.MaxFileSizeBytes(),
		AllowedFormats:           cfg.AllowedFormats,
		Defaults:                 cfg.Defaults,
		ResolveDevice:            gpu.ResolveDevice,
	}, job.Deps{
		Prober:     prober,
		Recognizer: recognizer,
		Diarizer:   diarizer,
		History:    store,
		Logger:     logg,
	})
	if err := handlers.RestoreDefaults(database, queue); err != nil {
		logg.Warn("stored job defaults ignored", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n, err := queue.RecoverInterrupted(ctx); err != nil {
		logg.Error("mark interrupted jobs", "error", err)
	} else if n > 0 {
		logg.Warn("jobs interrupted by restart marked failed", "count", n)
	}
	queue.Start()

	limiter := api.NewLoginLimiter()
	defer limiter.Stop()

	var library *storage.Library
	if cfg.AudioPath != "" {
		library = storage.NewLibrary(cfg.AudioPath, cfg.AllowedFormats)
	}

	router := api.NewRouter(cfg, api.Deps{
		DB:       database,
		JWT:      auth.NewJWTService(cfg.JWTSecret, cfg.TokenTTL),
		Queue:    queue,
		History:  store,
		Limiter:  limiter,
		Library:  library,
		Prober:   prober,
		Engines:  recognizer.Engines(),
		Diarizer: diarizer.Name(),
		Logger:   logg,
	})

	if cfg.RetentionDays > 0 {
		go pruneLoop(ctx, store, queue, cfg.RetentionDays, logg)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logg.Info("starting server", "addr", srv.Addr, "max_concurrent", cfg.MaxConcurrent)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("http shutdown", "error", err)
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		logg.Error("job queue shutdown", "error", err)
	}
	return serveErr
}

// pruneLoop drops terminal history older than the retention window once an hour.
func pruneLoop(ctx context.Context, store *history.Store, queue *job.JobQueue, days int, log *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		ids, err := store.Prune(ctx, time.Now().AddDate(0, 0, -days))
		if err != nil {
			log.Error("prune history", "error", err)
		} else if len(ids) > 0 {
			queue.Forget(ids...)
			log.Info("pruned history", "count", len(ids), "retention_days", days)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
