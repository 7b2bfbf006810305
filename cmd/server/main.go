package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pharmapos/internal/config"
	"pharmapos/internal/httpapi"
	"pharmapos/internal/service"
	"pharmapos/internal/store"
	"pharmapos/internal/store/memory"
	"pharmapos/internal/store/sqlstore"
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logger configuration: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	repo, closers, err := openRepository(ctx, cfg, logger)
	if err != nil {
		cancel()
		logger.Fatal("storage unavailable", zap.String("driver", cfg.StorageDriver), zap.Error(err))
	}

	svc := service.New(repo, logger, cfg.BackupDir)
	if err := seedMedicines(ctx, svc, cfg.SeedMedicinesCSV, logger); err != nil {
		logger.Warn("medicine seed skipped", zap.String("path", cfg.SeedMedicinesCSV), zap.Error(err))
	}
	cancel()

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	api := httpapi.New(svc, auth, logger, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("pharmacy POS listening", zap.String("addr", cfg.Address()), zap.String("storage", cfg.StorageDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", zap.Error(err))
		}
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewDevelopmentConfig()
	if cfg.Production() {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}

// openRepository selects the storage backend. The SQL backends are migrated
// before use; DATABASE_URL being set never silently falls back to memory.
func openRepository(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Repository, []func() error, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		logger.Info("repository: in-memory")
		return memory.NewSeeded(logger), nil, nil
	case config.DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL is required for the postgres driver")
		}
		pg, err := sqlstore.OpenPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		logger.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	case config.DriverSQLite:
		db, err := sqlstore.OpenSQLite(ctx, cfg.DatabasePath, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("repository: sqlite", zap.String("path", cfg.DatabasePath))
		return db, []func() error{db.Close}, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
}

// seedMedicines imports the CSV at path when the catalogue is still empty.
func seedMedicines(ctx context.Context, svc *service.Service, path string, logger *zap.Logger) error {
	if path == "" {
		return nil
	}
	existing, err := svc.ListMedicines(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	result, err := svc.ImportMedicinesCSV(ctx, f)
	if err != nil {
		return err
	}
	logger.Info("seeded medicines", zap.String("path", path), zap.Int("imported", result.Imported), zap.Int("skipped", result.Skipped))
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if !cfg.Loopback() && !cfg.AllowRemote {
		return fmt.Errorf("HOST %q is not a loopback address; set ALLOW_REMOTE=true to expose the POS on the network", cfg.Host)
	}
	if cfg.Production() && cfg.StorageDriver == config.DriverMemory {
		return fmt.Errorf("STORAGE_DRIVER=memory is not allowed in production")
	}
	return nil
}
