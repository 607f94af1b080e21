package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/inventory/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/inventory/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/inventory/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

const (
	storeMemory = "memory"
	storeGorm   = "gorm"
	storePgx    = "pgx"

	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

func openStore(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger) (inventory.Store, func(), error) {
	switch cfg.Store {
	case storeMemory:
		logger.Info("using in-memory store")
		return memstore.New(), func() {}, nil
	case storeGorm:
		db, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database open: %w", err)
		}
		if err := prepareSchema(ctx, db, driver, cfg.DatabaseURL); err != nil {
			_ = cleanup()
			return nil, nil, err
		}
		logger.Info("using gorm store", zap.String("driver", driver))
		return gormstore.New(db), func() { _ = cleanup() }, nil
	case storePgx:
		driver, _, err := resolveDriver(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if driver != driverPostgres {
			return nil, nil, fmt.Errorf("the %s store needs a postgres url", storePgx)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("pgx pool: %w", err)
		}
		if err := pgstore.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("using pgx store")
		return pgstore.New(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	var db *gorm.DB
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	if driver == driverSQLite {
		// sqlite has a single writer; FOR UPDATE is not available, so the
		// connection itself serializes transactions.
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "inventory.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// prepareSchema auto-migrates sqlite. Postgres gets the versioned SQL
// migrations so both stores share one schema.
func prepareSchema(ctx context.Context, db *gorm.DB, driver string, dsn string) error {
	switch driver {
	case driverSQLite:
		if err := gormstore.AutoMigrate(db); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	case driverPostgres:
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("migration pool: %w", err)
		}
		defer pool.Close()
		return pgstore.Migrate(ctx, pool)
	default:
		return nil
	}
}
