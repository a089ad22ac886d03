package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aed-compliance/platform/internal/audit"
	"github.com/aed-compliance/platform/internal/cache"
	equipmentapi "github.com/aed-compliance/platform/internal/equipment/api"
	equipmentinfra "github.com/aed-compliance/platform/internal/equipment/infrastructure"
	inspectionapi "github.com/aed-compliance/platform/internal/inspection/api"
	inspectioninfra "github.com/aed-compliance/platform/internal/inspection/infrastructure"
	"github.com/aed-compliance/platform/internal/notification"
	"github.com/aed-compliance/platform/internal/organization"
	"github.com/aed-compliance/platform/internal/privacy"
	"github.com/aed-compliance/platform/internal/region"
	"github.com/aed-compliance/platform/internal/reminder"
	"github.com/aed-compliance/platform/internal/shared/auth"
	"github.com/aed-compliance/platform/internal/shared/config"
	"github.com/aed-compliance/platform/internal/shared/database"
	"github.com/aed-compliance/platform/internal/shared/logger"
	"github.com/aed-compliance/platform/internal/shared/metrics"
	secmiddleware "github.com/aed-compliance/platform/internal/shared/middleware"
	"github.com/aed-compliance/platform/internal/storage"
)

var version = "dev"

// App holds all application dependencies
type App struct {
	Config  *config.Config
	Log     *zap.Logger
	DB      *database.DB
	Cache   cache.Cache
	Regions *region.Table
}

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "aed-platform",
		Version:     version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("platform stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.ToContext(ctx, log)

	app := &App{Config: cfg, Log: log}

	regions, err := region.Load(cfg.Regions.Path)
	if err != nil {
		return fmt.Errorf("load region table: %w", err)
	}
	app.Regions = regions

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	app.DB = db

	applied, err := database.Migrate(ctx, db.Pool, log)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		log.Info("migrations applied", zap.Strings("versions", applied))
	}

	statsCache, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer statsCache.Close()
	app.Cache = statsCache

	// Notifications
	notifier := notification.NewService(notification.NewProvider(cfg.SMTP, log), log, notification.DefaultServiceConfig())
	// workers outlive the signal context so queued mail drains on shutdown
	if err := notifier.Start(logger.ToContext(context.Background(), log)); err != nil {
		return fmt.Errorf("start notifications: %w", err)
	}
	defer notifier.Stop()

	// Repositories
	auditRepo := audit.NewRepository(db.Pool)
	equipmentRepo := equipmentinfra.NewPostgresRepository(db.Pool, regions)
	orgRepo := organization.NewRepository(db.Pool, auditRepo)
	inspectionRepo := inspectioninfra.NewPostgresRepository(db.Pool, auditRepo, regions)

	var photos storage.ObjectStore
	if cfg.Storage.Bucket != "" {
		s3, err := storage.NewS3(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("photo storage: %w", err)
		}
		photos = s3
	} else {
		log.Warn("S3_BUCKET is empty, photo uploads are disabled")
	}

	// Handlers
	equipmentHandler := equipmentapi.NewHandler(equipmentRepo, statsCache, auditRepo, equipmentapi.Options{
		LeadDays: cfg.Reminders.LeadDays,
		StatsTTL: cfg.Cache.TTL,
	})
	inspectionHandler := inspectionapi.NewHandler(inspectionRepo, equipmentRepo, photos, inspectionapi.Options{
		MaxPhotoBytes: cfg.Storage.MaxPhotoBytes,
		Stats:         equipmentHandler,
		Recipients:    orgRepo,
		Notifier:      notifier,
	})
	orgHandler := organization.NewHandler(organization.NewService(orgRepo, equipmentRepo, regions, notifier))
	auditHandler := audit.NewHandler(auditRepo)

	// Expiry reminders
	reminders := reminder.NewJob(orgRepo, equipmentRepo, notifier, auditRepo, log, cfg.Reminders.LeadDays)
	if cfg.Reminders.Enabled {
		if err := reminders.Start(ctx, cfg.Reminders); err != nil {
			return err
		}
		defer reminders.Stop()
	}

	limiter := secmiddleware.NewIPRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	go limiter.Run(ctx, time.Minute)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig()))
	r.Use(metrics.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Middleware)
		r.Use(secmiddleware.MaxBodySize(cfg.Server.MaxBodyBytes, inspectionapi.IsPhotoUpload))
		r.Use(auth.Middleware(cfg.Auth))
		r.Use(auth.LoadPrincipal(orgRepo))
		if cfg.Privacy.GuardEnabled {
			guard := privacy.NewGuard(privacy.NewViolationLogger(auditRepo), cfg.Privacy.ExemptPrefixes...)
			r.Use(guard.Middleware)
		}

		r.Mount("/", orgHandler.Routes())
		r.Mount("/equipment", equipmentHandler.Routes())
		r.Mount("/inspections", inspectionHandler.Routes())
		r.Mount("/audit", auditHandler.Routes())
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("env", cfg.Server.Env),
			zap.Int("regions", len(regions.Codes())),
			zap.Bool("photos", photos != nil),
			zap.Bool("reminders", cfg.Reminders.Enabled))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "AED Inspection Compliance Platform",
		"version": version,
		"docs":    "/api/v1",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"server": "ready"}

		if err := app.DB.Health(r.Context()); err != nil {
			checks["database"] = "not ready: " + err.Error()
		} else {
			checks["database"] = "ready"
		}

		key := "readiness-check"
		if err := app.Cache.Set(r.Context(), key, []byte("1"), time.Second); err != nil {
			checks["cache"] = "not ready: " + err.Error()
		} else {
			checks["cache"] = "ready"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
