package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"margin/api/internal/app"
	"margin/api/internal/authpw"
	"margin/api/internal/config"
	"margin/api/internal/export"
	"margin/api/internal/search"
	"margin/api/internal/session"
	"margin/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "database connection failed", err)
	}
	defer db.Close()

	if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
		fatal(logger, "migrations failed", err)
	}

	dataStore := store.NewPostgresStore(db)
	opts := []app.Option{
		app.WithLogger(logger),
		app.WithPasswords(authpw.NewService(dataStore)),
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			fatal(logger, "redis connection failed", err)
		}
		defer redisStore.Close()
		logger.Info("using redis for refresh token storage")
		opts = append(opts, app.WithSessions(redisStore))
	} else {
		logger.Info("using postgres for refresh token storage")
	}

	pgfts := search.NewPgFTS(db)
	var primary search.Primary
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		primary = meiliClient
	}
	searchService := search.NewService(primary, pgfts, logger)
	if meiliClient != nil {
		if empty, err := meiliClient.Empty(); err == nil && empty {
			go func() {
				if err := searchService.ReindexAllFromPG(context.Background()); err != nil {
					logger.Warn("initial reindex failed", "error", err)
				}
			}()
		}
	}
	opts = append(opts, app.WithSearch(searchService))

	var uploads export.Uploader
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		objects, err := export.NewObjectStore(export.ObjectStoreConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			fatal(logger, "object storage setup failed", err)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			logger.Warn("export bucket unavailable, serving exports inline", "bucket", cfg.S3Bucket, "error", err)
		} else {
			uploads = objects
		}
	}
	opts = append(opts, app.WithExporter(export.NewService(export.NewChromePDF(), uploads, logger)))

	service := app.New(cfg, dataStore, opts...)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("margin api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server failed", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
