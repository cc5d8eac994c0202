// Package db stores the optional usage log in PostgreSQL.
package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/urfv/yandex-tracker-mcp/internal/observability"
)

// Open connects to PostgreSQL through the pgx stdlib driver and wraps the
// pool in gorm. The schema is migrated on open.
func Open(ctx context.Context, dsn string) (*gorm.DB, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}

	sqlDB := stdlib.OpenDB(*cfg)
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	gormLogger := logger.New(
		slog.NewLogLogger(observability.GetLogger().Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	database, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{Logger: gormLogger})
	if err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "open gorm")
	}

	if err := HealthCheck(ctx, database); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := database.WithContext(ctx).AutoMigrate(&UsageLog{}); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "migrate usage_log")
	}

	return database, nil
}

// HealthCheck verifies database connectivity.
func HealthCheck(ctx context.Context, database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return errors.Wrap(err, "get sql.DB")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Wrap(err, "ping database")
	}
	return nil
}

// Close releases the underlying pool.
func Close(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
