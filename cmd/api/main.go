package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/medisync/medisync-go/internal/config"
	"github.com/medisync/medisync-go/internal/handler"
	"github.com/medisync/medisync-go/internal/middleware"
	"github.com/medisync/medisync-go/internal/model"
	"github.com/medisync/medisync-go/internal/registry"
	"github.com/medisync/medisync-go/internal/repository"
	"github.com/medisync/medisync-go/internal/service"
)

var entityTypes = []model.EntityType{
	model.EntityPatient,
	model.EntityAppointment,
	model.EntityFollowUp,
	model.EntityMedicalRecord,
	model.EntityCHWVisit,
	model.EntityCaregiver,
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg := config.Load()

	db, err := repository.NewDB(cfg.DatabaseDSN)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()
	if err := repository.EnsureSchema(bootCtx, db); err != nil {
		slog.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}
	if err := repository.EnsureEntityTables(bootCtx, db, entityTypes); err != nil {
		slog.Error("entity table bootstrap failed", "error", err)
		os.Exit(1)
	}

	reg := registry.New()
	for _, t := range entityTypes {
		reg.Register(t, registry.Definition{
			Store:          registry.NewSQLStore(db, t),
			CriticalFields: registry.DefaultCriticalFields(t),
		})
	}

	userRepo := repository.NewUserRepository(db)
	queueRepo := repository.NewQueueRepository(db)
	cacheRepo := repository.NewCacheRepository(db)
	conflictRepo := repository.NewConflictRepository(db)
	deviceRepo := repository.NewDeviceRepository(db)
	logRepo := repository.NewSyncLogRepository(db)

	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiry)
	syncService := service.NewSyncService(cfg.Sync, reg, queueRepo, cacheRepo, conflictRepo, deviceRepo, logRepo, nil)
	deviceService := service.NewDeviceService(deviceRepo, queueRepo, conflictRepo)

	authHandler := handler.NewAuthHandler(authService)
	syncHandler := handler.NewSyncHandler(syncService)
	conflictHandler := handler.NewConflictHandler(syncService)
	deviceHandler := handler.NewDeviceHandler(deviceService)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(5, 10))
		r.Post("/api/v1/auth/register", authHandler.HandleRegister)
		r.Post("/api/v1/auth/login", authHandler.HandleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(cfg.JWTSecret))
		r.Get("/api/v1/auth/me", authHandler.HandleMe)

		r.Post("/api/v1/sync", syncHandler.HandleSync)
		r.Get("/api/v1/sync/queue", syncHandler.HandleQueue)
		r.Get("/api/v1/sync/offline-data", syncHandler.HandleOfflineData)
		r.Get("/api/v1/sync/logs", syncHandler.HandleHistory)
		r.Get("/api/v1/sync/stats", deviceHandler.HandleStats)

		r.Get("/api/v1/sync/conflicts", conflictHandler.HandleList)
		r.Post("/api/v1/sync/conflicts/{conflict_id}/resolve", conflictHandler.HandleResolve)

		r.Post("/api/v1/sync/devices", deviceHandler.HandleRegister)
		r.Put("/api/v1/sync/devices/{device_id}", deviceHandler.HandleUpdate)
		r.Delete("/api/v1/sync/devices/{device_id}", deviceHandler.HandleDeactivate)
	})

	// Entries stuck in SYNCING after a crash or timeout are requeued
	// continuously, not only when the owning device happens to call in.
	requeueCtx, requeueCancel := context.WithCancel(context.Background())
	defer requeueCancel()
	go requeueLoop(requeueCtx, syncService, cfg.Sync.ProcessingTimeout)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

func requeueLoop(ctx context.Context, svc *service.SyncService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.RequeueStale(ctx)
			if err != nil {
				slog.Warn("requeueing stale entries", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("requeued stale syncing entries", "count", n)
			}
		}
	}
}
