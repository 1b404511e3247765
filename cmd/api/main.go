package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"taskboard/api/internal/accounts"
	"taskboard/api/internal/app"
	"taskboard/api/internal/cleanup"
	"taskboard/api/internal/config"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
	"taskboard/api/internal/uploads"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)

	// Token revocation: shared Redis store when configured, otherwise the
	// revoked_tokens table.
	var revoker interface {
		RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
		IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info("using Redis for token revocation")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("redis connection failed")
		}
		defer redisStore.Close()
		revoker = redisStore
	} else {
		log.Info("using PostgreSQL for token revocation")
		revoker = dataStore
	}

	var uploadStore uploads.Store
	var localDir string
	switch cfg.StorageBackend {
	case "minio":
		minioStore, err := uploads.NewMinioStore(ctx, uploads.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.WithError(err).Fatal("minio connection failed")
		}
		uploadStore = minioStore
	default:
		localStore, err := uploads.NewLocalStore(cfg.UploadsDir)
		if err != nil {
			log.WithError(err).Fatal("uploads dir setup failed")
		}
		uploadStore = localStore
		localDir = localStore.Dir()
	}

	cleaner := cleanup.NewQueue(uploadStore, log, cfg.CleanupWorkers, cfg.CleanupQueueSize)
	defer cleaner.Close()

	accountsSvc := accounts.NewService(dataStore)
	service := app.New(cfg, dataStore, accountsSvc, revoker, cleaner)
	httpServer := app.NewHTTPServer(service, uploadStore, cfg.CORSOrigin, log)

	mux := http.NewServeMux()
	if localDir != "" {
		mux.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(localDir))))
	}
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("Taskboard API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
}
