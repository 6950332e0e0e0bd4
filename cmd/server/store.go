package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/prudhvinik1/moonbattery/internal/config"
	"github.com/prudhvinik1/moonbattery/internal/database"
	"github.com/prudhvinik1/moonbattery/internal/handlers"
	"github.com/prudhvinik1/moonbattery/internal/repositories"
	"go.uber.org/zap"
)

const sqliteScheme = "sqlite://"

// store bundles the repositories for the configured database.
type store struct {
	dialect        string
	devices        repositories.DeviceRepository
	configurations repositories.ConfigurationRepository
	health         handlers.HealthCheck
	migrate        func(ctx context.Context) ([]string, error)
	close          func()
}

// parseDatabaseURL returns the dialect and the driver specific DSN.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return database.DialectPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, sqliteScheme):
		path := strings.TrimPrefix(databaseURL, sqliteScheme)
		if path == "" {
			return "", "", fmt.Errorf("DATABASE_URL %q has no sqlite path", databaseURL)
		}
		return database.DialectSQLite, path, nil
	}
	return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %q", databaseURL)
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store, error) {
	dialect, dsn, err := parseDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	switch dialect {
	case database.DialectPostgres:
		pool, err := database.NewPostgresPool(ctx, dsn, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		return &store{
			dialect:        dialect,
			devices:        repositories.NewPostgresDeviceRepository(pool),
			configurations: repositories.NewPostgresConfigurationRepository(pool, cfg.StoreTxTimeout),
			health:         handlers.HealthCheck{Name: "postgres", Check: pool.Ping},
			migrate: func(ctx context.Context) ([]string, error) {
				return database.MigratePostgres(ctx, pool)
			},
			close: pool.Close,
		}, nil

	default:
		db, err := database.OpenSQLite(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		logger.Info("sqlite database opened", zap.String("path", dsn))
		return &store{
			dialect:        dialect,
			devices:        repositories.NewSQLiteDeviceRepository(db),
			configurations: repositories.NewSQLiteConfigurationRepository(db, cfg.StoreTxTimeout),
			health:         handlers.HealthCheck{Name: "sqlite", Check: db.PingContext},
			migrate: func(ctx context.Context) ([]string, error) {
				return database.MigrateSQLite(ctx, db)
			},
			close: func() { db.Close() },
		}, nil
	}
}
