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
	"go.uber.org/zap"

	"github.com/praxia-health/platform/internal/accountant"
	"github.com/praxia-health/platform/internal/guard"
	"github.com/praxia-health/platform/internal/legacy"
	"github.com/praxia-health/platform/internal/migration"
	"github.com/praxia-health/platform/internal/organization"
	"github.com/praxia-health/platform/internal/resolution"
	"github.com/praxia-health/platform/internal/shared/auth"
	"github.com/praxia-health/platform/internal/shared/config"
	"github.com/praxia-health/platform/internal/shared/database"
	"github.com/praxia-health/platform/internal/shared/events"
	"github.com/praxia-health/platform/internal/shared/metrics"
	secmiddleware "github.com/praxia-health/platform/internal/shared/middleware"
	"github.com/praxia-health/platform/internal/sharing"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	Logger *zap.Logger
	DB     *database.DB
	Legacy *legacy.Adapter
	Bus    events.EventBus
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Server.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	app := &App{Config: cfg, Logger: logger, Bus: events.NopBus{}}

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	app.DB = db
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool, logger); err != nil {
		logger.Fatal("database migration failed", zap.Error(err))
	}

	// The legacy shim is optional; a fresh deployment with no users in the
	// old product runs without it and every legacy-path resolution is none.
	var legacyStore interface {
		resolution.LegacyStore
		migration.LegacyStore
	} = legacy.Disabled{}
	if cfg.Legacy.Enabled {
		adapter, err := legacy.New(cfg.Legacy, legacy.DefaultConfig())
		if err != nil {
			logger.Fatal("legacy database connection failed", zap.Error(err))
		}
		app.Legacy = adapter
		legacyStore = adapter
		defer adapter.Close()
		logger.Info("legacy shim enabled",
			zap.String("host", cfg.Legacy.Host),
			zap.String("database", cfg.Legacy.Database))
	}

	if cfg.EventStore.Enabled {
		bus, err := events.NewBus(ctx, cfg.EventStore, logger)
		if err != nil {
			logger.Warn("event store not available, publishing disabled", zap.Error(err))
		} else {
			app.Bus = bus
			defer bus.Close()
			logger.Info("event bus initialized")
		}
	}

	orgRepo := organization.NewRepository(db.Pool)
	sharingRepo := sharing.NewRepository(db.Pool)
	accountantRepo := accountant.NewRepository(db.Pool)

	engine := resolution.NewEngine(orgRepo, legacyStore, sharingRepo, accountantRepo, logger)
	resolver, err := resolution.NewCachedResolver(engine, cfg.Resolver.CacheSize, logger)
	if err != nil {
		logger.Fatal("resolver cache init failed", zap.Error(err))
	}

	accessGuard := guard.New(resolver, guard.Landings{
		Default:    cfg.Guard.DefaultLanding,
		Accountant: cfg.Guard.AccountantLanding,
	})

	coordinator := migration.NewCoordinator(orgRepo, legacyStore, resolver, app.Bus, logger)
	accountantService := accountant.NewService(accountantRepo, app.Bus, logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.RequestLogger(logger))
	r.Use(secmiddleware.BodyLimit(10 << 20))
	r.Use(secmiddleware.NewIPRateLimiter(100, 200).Middleware)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig()))

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth))

		accessHandler := resolution.NewHandler(resolver, logger)
		r.Mount("/access", accessHandler.Routes())

		accountantHandler := accountant.NewHandler(accountantService, logger)
		r.Mount("/accounting", accountantHandler.Routes())

		// Organization and sharing management never concern accountants;
		// the guard bounces them to their landing page before any handler
		// runs.
		orgHandler := organization.NewHandler(orgRepo, app.Bus, resolver, logger)
		r.With(accessGuard.Middleware(guard.RouteConfig{
			Name:       "organizations",
			BlockedFor: []auth.Role{auth.RoleAccountant},
		})).Mount("/organizations", orgHandler.Routes())

		sharingHandler := sharing.NewHandler(sharingRepo, orgRepo, resolver, app.Bus, logger)
		r.With(accessGuard.Middleware(guard.RouteConfig{
			Name:       "sharing",
			BlockedFor: []auth.Role{auth.RoleAccountant},
		})).Mount("/sharing", sharingHandler.Routes())

		migrationHandler := migration.NewHandler(coordinator, logger)
		r.With(accessGuard.Middleware(guard.RouteConfig{
			Name:       "migration",
			AllowedFor: []auth.Role{auth.RoleAdmin, auth.RoleFullTherapist},
		})).Mount("/migration", migrationHandler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		close(done)
	}()

	logger.Info("server starting",
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("legacy_shim", cfg.Legacy.Enabled),
		zap.Bool("event_store", cfg.EventStore.Enabled))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	<-done
	logger.Info("server stopped")
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Praxia Permission Platform",
		"version": "0.1.0",
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
		w.Header().Set("Content-Type", "application/json")

		checks := map[string]string{}
		healthy := true

		if err := app.DB.Health(r.Context()); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}

		if app.Legacy != nil {
			if err := app.Legacy.Health(r.Context()); err != nil {
				checks["legacy"] = err.Error()
				healthy = false
			} else {
				checks["legacy"] = "ok"
			}
		}

		if err := app.Bus.Health(); err != nil {
			checks["events"] = err.Error()
		} else {
			checks["events"] = "ok"
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{"checks": checks})
	}
}
