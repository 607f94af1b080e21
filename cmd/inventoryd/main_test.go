package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

func TestResolveDriver(test *testing.T) {
	dir := test.TempDir()
	cases := []struct {
		dsn    string
		driver string
		path   string
	}{
		{"postgres://user@localhost/inventory", driverPostgres, ""},
		{"postgresql://user@localhost/inventory", driverPostgres, ""},
		{"sqlite://" + filepath.Join(dir, "a.db"), driverSQLite, filepath.Join(dir, "a.db")},
		{":memory:", driverSQLite, ":memory:"},
	}
	for _, testCase := range cases {
		driver, path, err := resolveDriver(testCase.dsn)
		require.NoError(test, err, testCase.dsn)
		require.Equal(test, testCase.driver, driver, testCase.dsn)
		require.Equal(test, testCase.path, path, testCase.dsn)
	}
}

func TestLoadConfigDefaultsAndEnv(test *testing.T) {
	test.Setenv("INVENTORY_STORE", "GORM")
	test.Setenv("RESERVATION_TTL", "90s")
	test.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cmd := newServeCommand()
	require.NoError(test, cmd.Flags().Parse([]string{"--admin-jwt-key", "k", "--low-stock-threshold", "3"}))
	cfg := &runtimeConfig{}
	require.NoError(test, loadConfig(cmd, cfg))
	require.NoError(test, cfg.validateServe())

	require.Equal(test, storeGorm, cfg.Store)
	require.Equal(test, defaultDatabaseURL, cfg.DatabaseURL)
	require.Equal(test, 90*time.Second, cfg.ReservationTTL)
	require.Equal(test, time.Second, cfg.SweepInterval)
	require.Equal(test, int64(3), cfg.LowStockThreshold)
	require.Equal(test, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(test, defaultGRPCListenAddr, cfg.GRPCListenAddr)
}

func TestLoadConfigReadsConfigFile(test *testing.T) {
	path := filepath.Join(test.TempDir(), "inventoryd.yaml")
	require.NoError(test, os.WriteFile(path, []byte("http-listen-addr: \":9999\"\nadmin-jwt-key: from-file\n"), 0o600))

	cmd := newServeCommand()
	require.NoError(test, cmd.Flags().Parse([]string{"--config", path}))
	cfg := &runtimeConfig{}
	require.NoError(test, loadConfig(cmd, cfg))
	require.Equal(test, ":9999", cfg.HTTPListenAddr)
	require.Equal(test, "from-file", cfg.AdminJWTKey)
}

func TestServeRequiresAdminKey(test *testing.T) {
	cmd := newServeCommand()
	require.NoError(test, cmd.Flags().Parse(nil))
	cfg := &runtimeConfig{}
	require.NoError(test, loadConfig(cmd, cfg))
	require.Error(test, cfg.validateServe())
}

func TestLoadConfigRejectsUnknownStore(test *testing.T) {
	cmd := newSeedCommand()
	require.NoError(test, cmd.Flags().Parse([]string{"--store", "redis"}))
	require.Error(test, loadConfig(cmd, &runtimeConfig{}))
}

func TestSeedIntoSQLiteStore(test *testing.T) {
	dir := test.TempDir()
	seedPath := filepath.Join(dir, "events.yaml")
	require.NoError(test, os.WriteFile(seedPath, []byte("events:\n  - id: gala\n    tiers:\n      - tier: ga\n        public_limit: 10\n        hidden_limit: 2\n"), 0o600))

	cfg := &runtimeConfig{Store: storeGorm, DatabaseURL: "sqlite://" + filepath.Join(dir, "inventory.db"), SeedFile: seedPath}
	ctx := context.Background()
	store, cleanup, err := openStore(ctx, cfg, zap.NewNop())
	require.NoError(test, err)
	defer cleanup()

	service, err := inventory.NewService(store, time.Now)
	require.NoError(test, err)
	require.NoError(test, seedFromFile(ctx, service, seedPath, zap.NewNop()))
	require.NoError(test, seedFromFile(ctx, service, seedPath, zap.NewNop()))

	key, err := inventory.NewRecordKey("gala", "ga")
	require.NoError(test, err)
	record, err := service.Record(ctx, key)
	require.NoError(test, err)
	require.Equal(test, int64(12), record.Capacity())
}
