// Package storetest holds the behaviour every inventory.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

// Factory returns an empty store owned by the test.
type Factory func(test *testing.T) inventory.Store

var baseTime = time.Date(2026, time.March, 1, 18, 0, 0, 0, time.UTC)

// Run exercises the Store contract against stores built by newStore.
func Run(test *testing.T, newStore Factory) {
	test.Run("records", func(test *testing.T) {
		testRecords(test, newStore(test))
	})
	test.Run("rollback", func(test *testing.T) {
		testRollback(test, newStore(test))
	})
	test.Run("transactions", func(test *testing.T) {
		testTransactions(test, newStore(test))
	})
	test.Run("expansions", func(test *testing.T) {
		testExpansions(test, newStore(test))
	})
	test.Run("reservations", func(test *testing.T) {
		testReservations(test, newStore(test))
	})
}

// MustKey builds a record key or fails the test.
func MustKey(test *testing.T, eventID string, tier inventory.Tier) inventory.RecordKey {
	test.Helper()
	key, err := inventory.NewRecordKey(eventID, tier.String())
	require.NoError(test, err)
	return key
}

func testRecords(test *testing.T, store inventory.Store) {
	ctx := context.Background()
	gaKey := MustKey(test, "concert", inventory.TierGeneralAdmission)
	vipKey := MustKey(test, "concert", inventory.TierVIP)
	otherKey := MustKey(test, "festival", inventory.TierGeneralAdmission)

	for _, key := range []inventory.RecordKey{gaKey, vipKey, otherKey} {
		record, err := inventory.NewRecord(key, 35, 10, baseTime)
		require.NoError(test, err)
		require.NoError(test, store.CreateRecord(ctx, record))
	}
	duplicate, err := inventory.NewRecord(gaKey, 1, 0, baseTime)
	require.NoError(test, err)
	require.ErrorIs(test, store.CreateRecord(ctx, duplicate), inventory.ErrRecordExists)

	stored, err := store.GetRecord(ctx, gaKey)
	require.NoError(test, err)
	require.Equal(test, gaKey, stored.Key)
	require.Equal(test, int64(35), stored.PublicLimit)
	require.Equal(test, int64(10), stored.HiddenLimit)
	require.WithinDuration(test, baseTime, stored.CreatedAt, time.Millisecond)

	stored.Sold = 12
	stored.Reserved = 3
	stored.HiddenLimit = 15
	stored.UpdatedAt = baseTime.Add(time.Minute)
	require.NoError(test, store.UpdateRecord(ctx, stored))

	updated, err := store.GetRecord(ctx, gaKey)
	require.NoError(test, err)
	require.Equal(test, int64(12), updated.Sold)
	require.Equal(test, int64(3), updated.Reserved)
	require.Equal(test, int64(15), updated.HiddenLimit)
	require.WithinDuration(test, baseTime.Add(time.Minute), updated.UpdatedAt, time.Millisecond)

	_, err = store.GetRecord(ctx, MustKey(test, "missing", inventory.TierVIP))
	require.ErrorIs(test, err, inventory.ErrNotFound)

	records, err := store.ListRecords(ctx, gaKey.EventID)
	require.NoError(test, err)
	require.Len(test, records, 2)

	eventIDs, err := store.ListEventIDs(ctx)
	require.NoError(test, err)
	require.ElementsMatch(test, []inventory.EventID{gaKey.EventID, otherKey.EventID}, eventIDs)
}

func testRollback(test *testing.T, store inventory.Store) {
	ctx := context.Background()
	key := MustKey(test, "rollback", inventory.TierGeneralAdmission)
	record, err := inventory.NewRecord(key, 10, 0, baseTime)
	require.NoError(test, err)
	require.NoError(test, store.CreateRecord(ctx, record))

	reservationID, err := inventory.NewReservationID("rollback-hold")
	require.NoError(test, err)
	transactionID, err := inventory.NewTransactionID("rollback-tx")
	require.NoError(test, err)
	failure := errors.New("abort")

	err = store.WithTx(ctx, func(ctx context.Context, transactionStore inventory.Store) error {
		locked, err := transactionStore.GetRecordForUpdate(ctx, key)
		if err != nil {
			return err
		}
		locked.Sold = 4
		locked.Reserved = 2
		if err := transactionStore.UpdateRecord(ctx, locked); err != nil {
			return err
		}
		inside, err := transactionStore.GetRecord(ctx, key)
		if err != nil {
			return err
		}
		if inside.Sold != 4 {
			return errors.New("write not visible inside unit of work")
		}
		if err := transactionStore.CreateReservation(ctx, inventory.Reservation{
			ID:        reservationID,
			Key:       key,
			Quantity:  2,
			Status:    inventory.ReservationStatusActive,
			CreatedAt: baseTime,
			ExpiresAt: baseTime.Add(time.Minute),
		}); err != nil {
			return err
		}
		if err := transactionStore.InsertTransaction(ctx, inventory.TransactionRecord{
			TransactionID: transactionID,
			Key:           key,
			Quantity:      4,
			Operation:     inventory.OperationDecrement,
			Metadata:      mustMetadata(test, `{}`),
			CommittedAt:   baseTime,
		}); err != nil {
			return err
		}
		return failure
	})
	require.ErrorIs(test, err, failure)

	after, err := store.GetRecord(ctx, key)
	require.NoError(test, err)
	require.Zero(test, after.Sold)
	require.Zero(test, after.Reserved)

	_, err = store.GetReservation(ctx, reservationID)
	require.ErrorIs(test, err, inventory.ErrReservationNotFound)
	_, err = store.GetTransaction(ctx, transactionID)
	require.ErrorIs(test, err, inventory.ErrTransactionNotFound)
}

func testTransactions(test *testing.T, store inventory.Store) {
	ctx := context.Background()
	key := MustKey(test, "ledger", inventory.TierVIP)
	record, err := inventory.NewRecord(key, 10, 5, baseTime)
	require.NoError(test, err)
	require.NoError(test, store.CreateRecord(ctx, record))

	reservationID, err := inventory.NewReservationID("hold-1")
	require.NoError(test, err)
	for index, raw := range []string{"pi_1", "pi_2", "pi_3"} {
		transactionID, err := inventory.NewTransactionID(raw)
		require.NoError(test, err)
		line := inventory.TransactionRecord{
			TransactionID: transactionID,
			Key:           key,
			Quantity:      inventory.Quantity(index + 1),
			Operation:     inventory.OperationDecrement,
			FromHidden:    int64(index),
			Metadata:      mustMetadata(test, `{"order":"`+raw+`"}`),
			CommittedAt:   baseTime.Add(time.Duration(index) * time.Second),
		}
		if index == 0 {
			line.ReservationID = reservationID
		}
		require.NoError(test, store.InsertTransaction(ctx, line))
	}

	first, err := inventory.NewTransactionID("pi_1")
	require.NoError(test, err)
	require.ErrorIs(test, store.InsertTransaction(ctx, inventory.TransactionRecord{
		TransactionID: first,
		Key:           key,
		Quantity:      1,
		Operation:     inventory.OperationDecrement,
		Metadata:      mustMetadata(test, `{}`),
		CommittedAt:   baseTime,
	}), inventory.ErrDuplicateTransaction)

	stored, err := store.GetTransaction(ctx, first)
	require.NoError(test, err)
	require.Equal(test, key, stored.Key)
	require.Equal(test, inventory.Quantity(1), stored.Quantity)
	require.Equal(test, inventory.OperationDecrement, stored.Operation)
	require.Equal(test, reservationID, stored.ReservationID)
	require.JSONEq(test, `{"order":"pi_1"}`, stored.Metadata.String())

	missing, err := inventory.NewTransactionID("pi_missing")
	require.NoError(test, err)
	_, err = store.GetTransaction(ctx, missing)
	require.ErrorIs(test, err, inventory.ErrTransactionNotFound)

	newest, err := store.ListTransactions(ctx, key, 2)
	require.NoError(test, err)
	require.Len(test, newest, 2)
	require.Equal(test, "pi_3", newest[0].TransactionID.String())
	require.Equal(test, "pi_2", newest[1].TransactionID.String())
	require.Equal(test, int64(2), newest[0].FromHidden)

	all, err := store.ListTransactions(ctx, key, 0)
	require.NoError(test, err)
	require.Len(test, all, 3)
}

func testExpansions(test *testing.T, store inventory.Store) {
	ctx := context.Background()
	key := MustKey(test, "expansion", inventory.TierGeneralAdmission)
	otherKey := MustKey(test, "expansion", inventory.TierVIP)
	for _, recordKey := range []inventory.RecordKey{key, otherKey} {
		record, err := inventory.NewRecord(recordKey, 10, 0, baseTime)
		require.NoError(test, err)
		require.NoError(test, store.CreateRecord(ctx, record))
	}
	principal, err := inventory.NewPrincipal("ops@example.com")
	require.NoError(test, err)

	var sequences []int64
	for index, recordKey := range []inventory.RecordKey{key, otherKey, key} {
		sequence, err := store.InsertExpansion(ctx, inventory.ExpansionRecord{
			Key:             recordKey,
			AdditionalSpots: inventory.Quantity(index + 1),
			AuthorizedBy:    principal,
			Reason:          "promoter request",
			AppliedAt:       baseTime.Add(time.Duration(index) * time.Second),
		})
		require.NoError(test, err)
		sequences = append(sequences, sequence)
	}
	require.Less(test, sequences[0], sequences[1])
	require.Less(test, sequences[1], sequences[2])

	expansions, err := store.ListExpansions(ctx, key)
	require.NoError(test, err)
	require.Len(test, expansions, 2)
	require.Equal(test, sequences[0], expansions[0].Sequence)
	require.Equal(test, sequences[2], expansions[1].Sequence)
	require.Equal(test, inventory.Quantity(3), expansions[1].AdditionalSpots)
	require.Equal(test, principal, expansions[1].AuthorizedBy)
	require.Equal(test, "promoter request", expansions[1].Reason)
}

func testReservations(test *testing.T, store inventory.Store) {
	ctx := context.Background()
	key := MustKey(test, "holds", inventory.TierGeneralAdmission)
	record, err := inventory.NewRecord(key, 50, 0, baseTime)
	require.NoError(test, err)
	require.NoError(test, store.CreateRecord(ctx, record))

	holds := map[string]time.Duration{
		"hold-late":  10 * time.Minute,
		"hold-early": time.Minute,
		"hold-mid":   2 * time.Minute,
	}
	for raw, ttl := range holds {
		reservationID, err := inventory.NewReservationID(raw)
		require.NoError(test, err)
		require.NoError(test, store.CreateReservation(ctx, inventory.Reservation{
			ID:        reservationID,
			Key:       key,
			Quantity:  2,
			Status:    inventory.ReservationStatusActive,
			CreatedAt: baseTime,
			ExpiresAt: baseTime.Add(ttl),
		}))
	}
	early, err := inventory.NewReservationID("hold-early")
	require.NoError(test, err)
	require.ErrorIs(test, store.CreateReservation(ctx, inventory.Reservation{
		ID:        early,
		Key:       key,
		Quantity:  1,
		Status:    inventory.ReservationStatusActive,
		CreatedAt: baseTime,
		ExpiresAt: baseTime.Add(time.Minute),
	}), inventory.ErrReservationExists)

	expired, err := store.ListExpiredReservations(ctx, baseTime.Add(5*time.Minute), 10)
	require.NoError(test, err)
	require.Len(test, expired, 2)
	require.Equal(test, "hold-early", expired[0].ID.String())
	require.Equal(test, "hold-mid", expired[1].ID.String())

	limited, err := store.ListExpiredReservations(ctx, baseTime.Add(5*time.Minute), 1)
	require.NoError(test, err)
	require.Len(test, limited, 1)

	transactionID, err := inventory.NewTransactionID("pi_commit")
	require.NoError(test, err)
	resolvedAt := baseTime.Add(30 * time.Second)
	require.NoError(test, store.UpdateReservationStatus(ctx, early, inventory.ReservationTransition{
		From:          inventory.ReservationStatusActive,
		To:            inventory.ReservationStatusCommitted,
		TransactionID: transactionID,
		ResolvedAt:    resolvedAt,
	}))
	require.ErrorIs(test, store.UpdateReservationStatus(ctx, early, inventory.ReservationTransition{
		From:       inventory.ReservationStatusActive,
		To:         inventory.ReservationStatusExpired,
		ResolvedAt: resolvedAt,
	}), inventory.ErrReservationClosed)

	committed, err := store.GetReservation(ctx, early)
	require.NoError(test, err)
	require.Equal(test, inventory.ReservationStatusCommitted, committed.Status)
	require.Equal(test, transactionID, committed.TransactionID)
	require.Equal(test, key, committed.Key)
	require.WithinDuration(test, resolvedAt, committed.ResolvedAt, time.Millisecond)
	require.WithinDuration(test, baseTime.Add(time.Minute), committed.ExpiresAt, time.Millisecond)

	remaining, err := store.ListExpiredReservations(ctx, baseTime.Add(5*time.Minute), 10)
	require.NoError(test, err)
	require.Len(test, remaining, 1)
	require.Equal(test, "hold-mid", remaining[0].ID.String())

	missing, err := inventory.NewReservationID("hold-missing")
	require.NoError(test, err)
	_, err = store.GetReservation(ctx, missing)
	require.ErrorIs(test, err, inventory.ErrReservationNotFound)
	require.ErrorIs(test, store.UpdateReservationStatus(ctx, missing, inventory.ReservationTransition{
		From: inventory.ReservationStatusActive,
		To:   inventory.ReservationStatusReleased,
	}), inventory.ErrReservationNotFound)
}

func mustMetadata(test *testing.T, raw string) inventory.MetadataJSON {
	test.Helper()
	metadata, err := inventory.NewMetadataJSON(raw)
	require.NoError(test, err)
	return metadata
}
