package pgstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/inventory/internal/store/storetest"
	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

const envTestDatabaseURL = "INVENTORY_TEST_DATABASE_URL"

func newTestPool(test *testing.T) *pgxpool.Pool {
	test.Helper()
	dsn := os.Getenv(envTestDatabaseURL)
	if dsn == "" {
		test.Skipf("skipping Postgres integration tests: %s is not set", envTestDatabaseURL)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(test, err)
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		test.Skipf("skipping Postgres integration tests: %v", err)
	}
	test.Cleanup(pool.Close)
	require.NoError(test, Migrate(ctx, pool))
	return pool
}

func truncate(test *testing.T, pool *pgxpool.Pool) {
	test.Helper()
	_, err := pool.Exec(context.Background(),
		`TRUNCATE inventory_expansions, inventory_transactions, reservations, inventory_records RESTART IDENTITY CASCADE`)
	require.NoError(test, err)
}

func TestStoreContract(test *testing.T) {
	pool := newTestPool(test)
	storetest.Run(test, func(test *testing.T) inventory.Store {
		truncate(test, pool)
		return New(pool)
	})
}

func TestMigrateIsIdempotent(test *testing.T) {
	pool := newTestPool(test)
	require.NoError(test, Migrate(context.Background(), pool))
}

func TestConcurrentHoldsAreSerializedByRowLock(test *testing.T) {
	pool := newTestPool(test)
	truncate(test, pool)
	service, err := inventory.NewService(New(pool), time.Now)
	require.NoError(test, err)
	ctx := context.Background()
	key := storetest.MustKey(test, "pg-show", inventory.TierGeneralAdmission)
	_, err = service.CreateRecord(ctx, key, 5, 0)
	require.NoError(test, err)

	const buyers = 10
	results := make(chan error, buyers)
	for index := 0; index < buyers; index++ {
		index := index
		go func() {
			reservationID, err := inventory.NewReservationID("cs_pg_" + string(rune('a'+index)))
			if err != nil {
				results <- err
				return
			}
			_, err = service.Reserve(ctx, inventory.ReserveRequest{Key: key, Quantity: 1, ReservationID: reservationID})
			results <- err
		}()
	}
	succeeded := 0
	for iteration := 0; iteration < buyers; iteration++ {
		if err := <-results; err == nil {
			succeeded++
		} else {
			require.ErrorIs(test, err, inventory.ErrInsufficientInventory)
		}
	}
	require.Equal(test, 5, succeeded)

	record, err := service.Record(ctx, key)
	require.NoError(test, err)
	require.Equal(test, int64(5), record.Reserved)
	require.Zero(test, record.PublicAvailable())
}
