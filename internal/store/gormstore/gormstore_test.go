package gormstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/inventory/internal/store/storetest"
	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

func newSQLiteStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(test, err)
	sqlDB, err := db.DB()
	require.NoError(test, err)
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(test, AutoMigrate(db))
	return New(db)
}

func TestStoreContract(test *testing.T) {
	test.Parallel()
	storetest.Run(test, func(test *testing.T) inventory.Store {
		return newSQLiteStore(test)
	})
}

func TestServiceDoesNotOversellOnSQLite(test *testing.T) {
	test.Parallel()
	store := newSQLiteStore(test)
	service, err := inventory.NewService(store, time.Now)
	require.NoError(test, err)
	ctx := context.Background()
	key := storetest.MustKey(test, "sqlite-show", inventory.TierGeneralAdmission)
	_, err = service.CreateRecord(ctx, key, 8, 2)
	require.NoError(test, err)

	const buyers = 12
	results := make(chan error, buyers)
	var waitGroup sync.WaitGroup
	for index := 0; index < buyers; index++ {
		index := index
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			transactionID, err := inventory.NewTransactionID(fmt.Sprintf("pi_%02d", index))
			if err != nil {
				results <- err
				return
			}
			_, err = service.Decrement(ctx, inventory.DecrementRequest{Key: key, Quantity: 1, TransactionID: transactionID})
			results <- err
		}()
	}
	waitGroup.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, inventory.ErrInsufficientInventory):
		default:
			require.NoError(test, err)
		}
	}
	require.Equal(test, 10, succeeded)

	record, err := service.Record(ctx, key)
	require.NoError(test, err)
	require.Equal(test, int64(10), record.Sold)
	require.Zero(test, record.ActualAvailable())
}

func TestReservationCommitSurvivesRoundTrip(test *testing.T) {
	test.Parallel()
	store := newSQLiteStore(test)
	service, err := inventory.NewService(store, time.Now)
	require.NoError(test, err)
	ctx := context.Background()
	key := storetest.MustKey(test, "sqlite-hold", inventory.TierVIP)
	_, err = service.CreateRecord(ctx, key, 10, 0)
	require.NoError(test, err)

	reservationID, err := inventory.NewReservationID("cs_sqlite")
	require.NoError(test, err)
	_, err = service.Reserve(ctx, inventory.ReserveRequest{Key: key, Quantity: 4, ReservationID: reservationID, TTL: time.Minute})
	require.NoError(test, err)

	transactionID, err := inventory.NewTransactionID("pi_sqlite")
	require.NoError(test, err)
	metadata, err := inventory.NewMetadataJSON(`{"checkout":"cs_sqlite"}`)
	require.NoError(test, err)
	result, err := service.Commit(ctx, reservationID, transactionID, metadata)
	require.NoError(test, err)
	require.True(test, result.FromReservation)
	require.Equal(test, int64(4), result.Record.Sold)
	require.Zero(test, result.Record.Reserved)

	reservation, err := service.GetReservation(ctx, reservationID)
	require.NoError(test, err)
	require.Equal(test, inventory.ReservationStatusCommitted, reservation.Status)
	require.Equal(test, transactionID, reservation.TransactionID)

	lines, err := service.ListTransactions(ctx, key, 10)
	require.NoError(test, err)
	require.Len(test, lines, 1)
	require.Equal(test, reservationID, lines[0].ReservationID)
	require.JSONEq(test, `{"checkout":"cs_sqlite"}`, lines[0].Metadata.String())
}
