package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dom/ingest-pipeline/internal/api"
	"github.com/dom/ingest-pipeline/internal/config"
	"github.com/dom/ingest-pipeline/internal/dispatch"
	"github.com/dom/ingest-pipeline/internal/remote"
	"github.com/dom/ingest-pipeline/internal/remote/drivefetch"
	"github.com/dom/ingest-pipeline/internal/remote/s3fetch"
	"github.com/dom/ingest-pipeline/internal/remote/urlfetch"
	"github.com/dom/ingest-pipeline/internal/repository/postgres"
	"github.com/dom/ingest-pipeline/internal/service"
	"github.com/dom/ingest-pipeline/internal/storage"
	"github.com/dom/ingest-pipeline/internal/websocket"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	db, err := postgres.NewConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	repos := postgres.NewRepositories(db)
	layout := storage.New(cfg.IngestRoot)

	services, err := service.NewServices(repos, layout, cfg)
	if err != nil {
		log.Fatalf("failed to initialize services: %v", err)
	}

	hub := websocket.NewHub(logger)
	go hub.Run()

	fetchers := remote.NewRegistry()
	fetchers.Register(remote.SourceURL, urlfetch.New())
	fetchers.Register(remote.SourceS3, s3fetch.New(cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey))
	fetchers.Register(remote.SourceGoogleDrive, drivefetch.New(cfg.GoogleServiceAccountJSON))

	converterRegistry := dispatch.DefaultRegistry(cfg.DefaultConversionTimeout, cfg.DefaultMaxAttempts)
	dispatcher := dispatch.NewDispatcher(repos.Dataset, converterRegistry, fetchers, layout, cfg, logger, hub)

	reconciler := dispatch.NewStaleClaimReconciler(repos.Dataset, cfg.StaleClaimThreshold, logger)
	sizeReconciler := dispatch.NewSizeReconciler(repos.Dataset, layout, logger)

	ctx, cancelBackground := context.WithCancel(context.Background())

	go dispatcher.Run(ctx)
	go reconciler.Run(ctx, cfg.StaleClaimThreshold/6)
	go sizeReconciler.Run(ctx, 15*time.Minute)
	go sweepExpiredSessions(ctx, services.UploadSession, logger)

	router := api.NewRouter(services, hub, layout, cfg)

	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	cancelBackground()
	hub.Stop()

	log.Println("Server stopped")
}

func sweepExpiredSessions(ctx context.Context, sessions *service.UploadSessionService, logger *logrus.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sessions.SweepExpired(ctx); err != nil {
				logger.WithError(err).Error("failed to sweep expired upload sessions")
			}
		}
	}
}
