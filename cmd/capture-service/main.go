package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kitchenflow/kitchenflow-backend/internal/auth/jwt"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/consumers"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/events"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/handler"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/repository"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/service"
	"github.com/kitchenflow/kitchenflow-backend/internal/capture/source"
	"github.com/kitchenflow/kitchenflow-backend/pkg/config"
	"github.com/kitchenflow/kitchenflow-backend/pkg/database"
	"github.com/kitchenflow/kitchenflow-backend/pkg/httputil"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/messaging"
)

const (
	serviceName    = "capture-service"
	deviceName     = "line-cam"
	reaperInterval = time.Minute
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Str("driver", cfg.Database.Driver).Msg("starting Capture Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := repository.EnsureSchema(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to create evidence schema")
	}

	// Payload storage
	var blobs repository.BlobStore
	if cfg.Storage.Enabled() {
		blobs, err = repository.NewMinioBlobStore(ctx, &cfg.Storage, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to object storage")
		}
	} else {
		blobs = repository.NewDBBlobStore(db)
	}

	// RabbitMQ is optional for single-tablet deployments
	var rmq *messaging.RabbitMQ
	var publisher *events.CaptureEventPublisher
	if cfg.RabbitMQ.URL != "" {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = events.NewCaptureEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	} else {
		log.Warn().Msg("RabbitMQ not configured, capture events are disabled")
	}

	var newDevice func(slotID string) source.Device
	if cfg.Device.SnapshotURL != "" {
		newDevice = func(string) source.Device {
			return source.NewSnapshotDevice(deviceName, cfg.Device.SnapshotURL, cfg.Device.Username, cfg.Device.Password, cfg.Device.OpenTimeout)
		}
	}

	captureService := service.NewCaptureService(service.Options{
		Capture:    cfg.Capture,
		NewDevice:  newDevice,
		Repository: repository.NewEvidenceRepository(db),
		Blobs:      blobs,
		Events:     publisher,
		Logger:     log,
	})
	defer captureService.Shutdown()

	reaper := service.NewSessionReaper(captureService, reaperInterval, log)
	reaper.Start(ctx)
	defer reaper.Stop()

	if rmq != nil {
		procedureConsumer, err := consumers.NewProcedureEventConsumer(rmq, captureService, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create procedure event consumer")
		}
		if err := procedureConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start procedure event consumer")
		}

		go rmq.Watch(ctx, func() error {
			restored, err := consumers.NewProcedureEventConsumer(rmq, captureService, log)
			if err != nil {
				return err
			}
			return restored.Start(ctx)
		})
	}

	tokens := jwt.NewManager(&cfg.JWT)
	captureHandler := handler.NewCaptureHandler(captureService, cfg.Capture.MaxSizeBytes, log)

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID", handler.LeaseHeader},
		ExposedHeaders:   []string{"X-Request-ID", handler.LeaseHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		broker := map[string]string{"status": "disabled"}
		if rmq != nil {
			broker = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
			"storage":  blobs.Health(r.Context()),
			"rabbitmq": broker,
			"sessions": captureService.Count(),
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(httputil.Authenticator(tokens))
		r.Use(httputil.TenantMiddleware)
		r.Route("/api/v1", captureHandler.RegisterRoutes)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers and the reaper
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
