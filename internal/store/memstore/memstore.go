// Package memstore implements inventory.Store in process memory.
//
// Each record carries its own lock. A unit of work holds the locks it took
// until WithTx returns and keeps an undo journal so a failed unit of work
// leaves no partial writes behind.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

const (
	errorOperationStore     = "store"
	errorSubjectRecord      = "record"
	errorSubjectReservation = "reservation"
	errorSubjectTransaction = "transaction"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeLock           = "lock"
	errorCodeUpdateStatus   = "update_status"
)

// Store implements inventory.Store over maps guarded by per-record locks.
type Store struct {
	mu               sync.RWMutex
	records          map[inventory.RecordKey]*recordSlot
	reservations     map[inventory.ReservationID]inventory.Reservation
	transactions     map[inventory.TransactionID]inventory.TransactionRecord
	transactionOrder []inventory.TransactionID
	expansions       []inventory.ExpansionRecord
	nextSequence     int64
}

type recordSlot struct {
	lock   chan struct{}
	record inventory.Record
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records:      make(map[inventory.RecordKey]*recordSlot),
		reservations: make(map[inventory.ReservationID]inventory.Reservation),
		transactions: make(map[inventory.TransactionID]inventory.TransactionRecord),
	}
}

// WithTx executes fn as one unit of work.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore inventory.Store) error) error {
	_, err := run(store, func(transaction *txStore) (struct{}, error) {
		return struct{}{}, fn(ctx, transaction)
	})
	return err
}

func (store *Store) CreateRecord(ctx context.Context, record inventory.Record) error {
	_, err := run(store, func(transaction *txStore) (struct{}, error) {
		return struct{}{}, transaction.CreateRecord(ctx, record)
	})
	return err
}

func (store *Store) GetRecord(ctx context.Context, key inventory.RecordKey) (inventory.Record, error) {
	return run(store, func(transaction *txStore) (inventory.Record, error) {
		return transaction.GetRecord(ctx, key)
	})
}

// GetRecordForUpdate outside a unit of work holds the lock only for the read itself.
func (store *Store) GetRecordForUpdate(ctx context.Context, key inventory.RecordKey) (inventory.Record, error) {
	return run(store, func(transaction *txStore) (inventory.Record, error) {
		return transaction.GetRecordForUpdate(ctx, key)
	})
}

func (store *Store) UpdateRecord(ctx context.Context, record inventory.Record) error {
	_, err := run(store, func(transaction *txStore) (struct{}, error) {
		return struct{}{}, transaction.UpdateRecord(ctx, record)
	})
	return err
}

func (store *Store) ListRecords(ctx context.Context, eventID inventory.EventID) ([]inventory.Record, error) {
	return run(store, func(transaction *txStore) ([]inventory.Record, error) {
		return transaction.ListRecords(ctx, eventID)
	})
}

func (store *Store) ListEventIDs(ctx context.Context) ([]inventory.EventID, error) {
	return run(store, func(transaction *txStore) ([]inventory.EventID, error) {
		return transaction.ListEventIDs(ctx)
	})
}

func (store *Store) InsertTransaction(ctx context.Context, transactionRecord inventory.TransactionRecord) error {
	_, err := run(store, func(transaction *txStore) (struct{}, error) {
		return struct{}{}, transaction.InsertTransaction(ctx, transactionRecord)
	})
	return err
}

func (store *Store) GetTransaction(ctx context.Context, transactionID inventory.TransactionID) (inventory.TransactionRecord, error) {
	return run(store, func(transaction *txStore) (inventory.TransactionRecord, error) {
		return transaction.GetTransaction(ctx, transactionID)
	})
}

func (store *Store) ListTransactions(ctx context.Context, key inventory.RecordKey, limit int) ([]inventory.TransactionRecord, error) {
	return run(store, func(transaction *txStore) ([]inventory.TransactionRecord, error) {
		return transaction.ListTransactions(ctx, key, limit)
	})
}

func (store *Store) InsertExpansion(ctx context.Context, expansion inventory.ExpansionRecord) (int64, error) {
	return run(store, func(transaction *txStore) (int64, error) {
		return transaction.InsertExpansion(ctx, expansion)
	})
}

func (store *Store) ListExpansions(ctx context.Context, key inventory.RecordKey) ([]inventory.ExpansionRecord, error) {
	return run(store, func(transaction *txStore) ([]inventory.ExpansionRecord, error) {
		return transaction.ListExpansions(ctx, key)
	})
}

func (store *Store) CreateReservation(ctx context.Context, reservation inventory.Reservation) error {
	_, err := run(store, func(transaction *txStore) (struct{}, error) {
		return struct{}{}, transaction.CreateReservation(ctx, reservation)
	})
	return err
}

func (store *Store) GetReservation(ctx context.Context, reservationID inventory.ReservationID) (inventory.Reservation, error) {
	return run(store, func(transaction *txStore) (inventory.Reservation, error) {
		return transaction.GetReservation(ctx, reservationID)
	})
}

func (store *Store) UpdateReservationStatus(ctx context.Context, reservationID inventory.ReservationID, transition inventory.ReservationTransition) error {
	_, err := run(store, func(transaction *txStore) (struct{}, error) {
		return struct{}{}, transaction.UpdateReservationStatus(ctx, reservationID, transition)
	})
	return err
}

func (store *Store) ListExpiredReservations(ctx context.Context, at time.Time, limit int) ([]inventory.Reservation, error) {
	return run(store, func(transaction *txStore) ([]inventory.Reservation, error) {
		return transaction.ListExpiredReservations(ctx, at, limit)
	})
}

// run executes fn in a fresh unit of work, rolling back on error.
func run[T any](store *Store, fn func(transaction *txStore) (T, error)) (T, error) {
	transaction := &txStore{store: store, held: make(map[inventory.RecordKey]*recordSlot)}
	defer transaction.release()
	value, err := fn(transaction)
	if err != nil {
		transaction.rollback()
		var zero T
		return zero, err
	}
	return value, nil
}

// txStore implements inventory.Store for an active unit of work.
type txStore struct {
	store *Store
	held  map[inventory.RecordKey]*recordSlot
	undo  []func()
}

func (transaction *txStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore inventory.Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *txStore) CreateRecord(_ context.Context, record inventory.Record) error {
	store := transaction.store
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.records[record.Key]; exists {
		return wrapStoreError(errorSubjectRecord, errorCodeDuplicate, inventory.ErrRecordExists)
	}
	store.records[record.Key] = &recordSlot{lock: make(chan struct{}, 1), record: record}
	transaction.journal(func() {
		store.mu.Lock()
		delete(store.records, record.Key)
		store.mu.Unlock()
	})
	return nil
}

func (transaction *txStore) GetRecord(ctx context.Context, key inventory.RecordKey) (inventory.Record, error) {
	if slot, held := transaction.held[key]; held {
		return slot.record, nil
	}
	slot, err := transaction.store.slot(key)
	if err != nil {
		return inventory.Record{}, err
	}
	if err := acquire(ctx, slot); err != nil {
		return inventory.Record{}, err
	}
	record := slot.record
	<-slot.lock
	return record, nil
}

func (transaction *txStore) GetRecordForUpdate(ctx context.Context, key inventory.RecordKey) (inventory.Record, error) {
	slot, err := transaction.lock(ctx, key)
	if err != nil {
		return inventory.Record{}, err
	}
	return slot.record, nil
}

func (transaction *txStore) UpdateRecord(ctx context.Context, record inventory.Record) error {
	slot, err := transaction.lock(ctx, record.Key)
	if err != nil {
		return err
	}
	previous := slot.record
	slot.record = record
	transaction.journal(func() {
		slot.record = previous
	})
	return nil
}

func (transaction *txStore) ListRecords(ctx context.Context, eventID inventory.EventID) ([]inventory.Record, error) {
	store := transaction.store
	store.mu.RLock()
	keys := make([]inventory.RecordKey, 0, len(inventory.Tiers()))
	for key := range store.records {
		if key.EventID == eventID {
			keys = append(keys, key)
		}
	}
	store.mu.RUnlock()
	sort.Slice(keys, func(left, right int) bool {
		return keys[left].Tier < keys[right].Tier
	})
	records := make([]inventory.Record, 0, len(keys))
	for _, key := range keys {
		record, err := transaction.GetRecord(ctx, key)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (transaction *txStore) ListEventIDs(_ context.Context) ([]inventory.EventID, error) {
	store := transaction.store
	store.mu.RLock()
	defer store.mu.RUnlock()
	seen := make(map[inventory.EventID]struct{}, len(store.records))
	eventIDs := make([]inventory.EventID, 0, len(store.records))
	for key := range store.records {
		if _, duplicate := seen[key.EventID]; duplicate {
			continue
		}
		seen[key.EventID] = struct{}{}
		eventIDs = append(eventIDs, key.EventID)
	}
	sort.Slice(eventIDs, func(left, right int) bool {
		return eventIDs[left].String() < eventIDs[right].String()
	})
	return eventIDs, nil
}

func (transaction *txStore) InsertTransaction(_ context.Context, transactionRecord inventory.TransactionRecord) error {
	store := transaction.store
	store.mu.Lock()
	defer store.mu.Unlock()
	transactionID := transactionRecord.TransactionID
	if _, exists := store.transactions[transactionID]; exists {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, inventory.ErrDuplicateTransaction)
	}
	store.transactions[transactionID] = transactionRecord
	store.transactionOrder = append(store.transactionOrder, transactionID)
	transaction.journal(func() {
		store.mu.Lock()
		defer store.mu.Unlock()
		delete(store.transactions, transactionID)
		for index := len(store.transactionOrder) - 1; index >= 0; index-- {
			if store.transactionOrder[index] == transactionID {
				store.transactionOrder = append(store.transactionOrder[:index], store.transactionOrder[index+1:]...)
				break
			}
		}
	})
	return nil
}

func (transaction *txStore) GetTransaction(_ context.Context, transactionID inventory.TransactionID) (inventory.TransactionRecord, error) {
	store := transaction.store
	store.mu.RLock()
	defer store.mu.RUnlock()
	transactionRecord, ok := store.transactions[transactionID]
	if !ok {
		return inventory.TransactionRecord{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, inventory.ErrTransactionNotFound)
	}
	return transactionRecord, nil
}

func (transaction *txStore) ListTransactions(_ context.Context, key inventory.RecordKey, limit int) ([]inventory.TransactionRecord, error) {
	store := transaction.store
	store.mu.RLock()
	defer store.mu.RUnlock()
	transactions := make([]inventory.TransactionRecord, 0)
	for index := len(store.transactionOrder) - 1; index >= 0; index-- {
		transactionRecord := store.transactions[store.transactionOrder[index]]
		if transactionRecord.Key != key {
			continue
		}
		transactions = append(transactions, transactionRecord)
		if limit > 0 && len(transactions) == limit {
			break
		}
	}
	return transactions, nil
}

func (transaction *txStore) InsertExpansion(_ context.Context, expansion inventory.ExpansionRecord) (int64, error) {
	store := transaction.store
	store.mu.Lock()
	defer store.mu.Unlock()
	store.nextSequence++
	expansion.Sequence = store.nextSequence
	store.expansions = append(store.expansions, expansion)
	sequence := expansion.Sequence
	transaction.journal(func() {
		store.mu.Lock()
		defer store.mu.Unlock()
		for index, stored := range store.expansions {
			if stored.Sequence == sequence {
				store.expansions = append(store.expansions[:index], store.expansions[index+1:]...)
				break
			}
		}
	})
	return sequence, nil
}

func (transaction *txStore) ListExpansions(_ context.Context, key inventory.RecordKey) ([]inventory.ExpansionRecord, error) {
	store := transaction.store
	store.mu.RLock()
	defer store.mu.RUnlock()
	expansions := make([]inventory.ExpansionRecord, 0)
	for _, expansion := range store.expansions {
		if expansion.Key == key {
			expansions = append(expansions, expansion)
		}
	}
	return expansions, nil
}

func (transaction *txStore) CreateReservation(_ context.Context, reservation inventory.Reservation) error {
	store := transaction.store
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.reservations[reservation.ID]; exists {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, inventory.ErrReservationExists)
	}
	store.reservations[reservation.ID] = reservation
	transaction.journal(func() {
		store.mu.Lock()
		delete(store.reservations, reservation.ID)
		store.mu.Unlock()
	})
	return nil
}

func (transaction *txStore) GetReservation(_ context.Context, reservationID inventory.ReservationID) (inventory.Reservation, error) {
	store := transaction.store
	store.mu.RLock()
	defer store.mu.RUnlock()
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return inventory.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, inventory.ErrReservationNotFound)
	}
	return reservation, nil
}

func (transaction *txStore) UpdateReservationStatus(_ context.Context, reservationID inventory.ReservationID, transition inventory.ReservationTransition) error {
	store := transaction.store
	store.mu.Lock()
	defer store.mu.Unlock()
	reservation, ok := store.reservations[reservationID]
	if !ok {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, inventory.ErrReservationNotFound)
	}
	if reservation.Status != transition.From {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, inventory.ErrReservationClosed)
	}
	previous := reservation
	reservation.Status = transition.To
	reservation.ResolvedAt = transition.ResolvedAt
	if !transition.TransactionID.IsZero() {
		reservation.TransactionID = transition.TransactionID
	}
	store.reservations[reservationID] = reservation
	transaction.journal(func() {
		store.mu.Lock()
		store.reservations[reservationID] = previous
		store.mu.Unlock()
	})
	return nil
}

func (transaction *txStore) ListExpiredReservations(_ context.Context, at time.Time, limit int) ([]inventory.Reservation, error) {
	store := transaction.store
	store.mu.RLock()
	defer store.mu.RUnlock()
	expired := make([]inventory.Reservation, 0)
	for _, reservation := range store.reservations {
		if reservation.Status == inventory.ReservationStatusActive && reservation.ExpiredAt(at) {
			expired = append(expired, reservation)
		}
	}
	sort.Slice(expired, func(left, right int) bool {
		if expired[left].ExpiresAt.Equal(expired[right].ExpiresAt) {
			return expired[left].ID.String() < expired[right].ID.String()
		}
		return expired[left].ExpiresAt.Before(expired[right].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// lock takes the record's exclusive section until the unit of work ends.
func (transaction *txStore) lock(ctx context.Context, key inventory.RecordKey) (*recordSlot, error) {
	if slot, held := transaction.held[key]; held {
		return slot, nil
	}
	slot, err := transaction.store.slot(key)
	if err != nil {
		return nil, err
	}
	if err := acquire(ctx, slot); err != nil {
		return nil, err
	}
	transaction.held[key] = slot
	return slot, nil
}

func (transaction *txStore) journal(undo func()) {
	transaction.undo = append(transaction.undo, undo)
}

func (transaction *txStore) rollback() {
	for index := len(transaction.undo) - 1; index >= 0; index-- {
		transaction.undo[index]()
	}
	transaction.undo = nil
}

func (transaction *txStore) release() {
	for key, slot := range transaction.held {
		<-slot.lock
		delete(transaction.held, key)
	}
}

func (store *Store) slot(key inventory.RecordKey) (*recordSlot, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	slot, ok := store.records[key]
	if !ok {
		return nil, wrapStoreError(errorSubjectRecord, errorCodeGet, inventory.ErrNotFound)
	}
	return slot, nil
}

func acquire(ctx context.Context, slot *recordSlot) error {
	select {
	case slot.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return wrapStoreError(errorSubjectRecord, errorCodeLock, inventory.Unavailable(ctx.Err()))
	}
}

func wrapStoreError(subject string, code string, err error) error {
	return inventory.WrapError(errorOperationStore, subject, code, err)
}
