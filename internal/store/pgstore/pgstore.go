package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

const (
	constraintRecordPrimary      = "inventory_records_pkey"
	constraintReservationPrimary = "reservations_pkey"
	constraintTransactionPrimary = "inventory_transactions_pkey"
	pgUniqueViolationCode        = "23505"
	errorOperationStore          = "store"
	errorSubjectRecord           = "record"
	errorSubjectReservation      = "reservation"
	errorSubjectTransaction      = "transaction"
	errorSubjectExpansion        = "expansion"
	errorSubjectUnitOfWork       = "unit_of_work"
	errorCodeBegin               = "begin"
	errorCodeCommit              = "commit"
	errorCodeCreate              = "create"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeUpdate              = "update"
	errorCodeUpdateStatus        = "update_status"

	sqlInsertRecord = `
		insert into inventory_records(event_id, tier, public_limit, hidden_limit, sold, reserved, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	sqlSelectRecord = `
		select event_id, tier, public_limit, hidden_limit, sold, reserved, created_at, updated_at
		from inventory_records
		where event_id = $1 and tier = $2
	`

	sqlSelectRecordForUpdate = sqlSelectRecord + ` for update`

	sqlUpdateRecord = `
		update inventory_records
		set public_limit = $3, hidden_limit = $4, sold = $5, reserved = $6, updated_at = $7
		where event_id = $1 and tier = $2
	`

	sqlListRecords = `
		select event_id, tier, public_limit, hidden_limit, sold, reserved, created_at, updated_at
		from inventory_records
		where event_id = $1
		order by tier
	`

	sqlListEventIDs = `select distinct event_id from inventory_records order by event_id`

	sqlInsertTransaction = `
		insert into inventory_transactions(
			transaction_id, event_id, tier, quantity, operation, reservation_id, from_hidden, metadata, committed_at
		)
		values ($1, $2, $3, $4, $5, nullif($6, ''), $7, coalesce(nullif($8, ''), '{}')::jsonb, $9)
	`

	sqlSelectTransaction = `
		select transaction_id, event_id, tier, quantity, operation, coalesce(reservation_id, ''), from_hidden, metadata::text, committed_at
		from inventory_transactions
		where transaction_id = $1
	`

	sqlListTransactions = `
		select transaction_id, event_id, tier, quantity, operation, coalesce(reservation_id, ''), from_hidden, metadata::text, committed_at
		from inventory_transactions
		where event_id = $1 and tier = $2
		order by committed_at desc, transaction_id desc
		limit $3
	`

	sqlInsertExpansion = `
		insert into inventory_expansions(event_id, tier, additional_spots, authorized_by, reason, applied_at)
		values ($1, $2, $3, $4, $5, $6)
		returning sequence
	`

	sqlListExpansions = `
		select sequence, event_id, tier, additional_spots, authorized_by, reason, applied_at
		from inventory_expansions
		where event_id = $1 and tier = $2
		order by sequence
	`

	sqlInsertReservation = `
		insert into reservations(reservation_id, event_id, tier, quantity, status, transaction_id, created_at, expires_at, resolved_at)
		values ($1, $2, $3, $4, $5, nullif($6, ''), $7, $8, $9)
	`

	sqlSelectReservation = `
		select reservation_id, event_id, tier, quantity, status, coalesce(transaction_id, ''), created_at, expires_at, resolved_at
		from reservations
		where reservation_id = $1
	`

	sqlUpdateReservationStatus = `
		update reservations
		set status = $3, resolved_at = $4, transaction_id = coalesce(nullif($5, ''), transaction_id)
		where reservation_id = $1 and status = $2
	`

	sqlReservationExists = `select exists (select 1 from reservations where reservation_id = $1)`

	sqlListExpiredReservations = `
		select reservation_id, event_id, tier, quantity, status, coalesce(transaction_id, ''), created_at, expires_at, resolved_at
		from reservations
		where status = 'active' and expires_at <= $1
		order by expires_at, reservation_id
		limit $2
	`
)

// noLimit stands in for "all rows" in limit clauses.
const noLimit = int64(1<<63 - 1)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements inventory.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements inventory.Store for an active transaction.
type TxStore struct {
	queries
}

type queries struct {
	db querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore inventory.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectUnitOfWork, errorCodeBegin, inventory.Unavailable(err))
	}
	transactionStore := &TxStore{queries: queries{db: tx}}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectUnitOfWork, errorCodeCommit, inventory.Unavailable(err))
	}
	return nil
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore inventory.Store) error) error {
	return fn(ctx, store)
}

func (store queries) CreateRecord(ctx context.Context, record inventory.Record) error {
	_, err := store.db.Exec(ctx, sqlInsertRecord,
		record.Key.EventID.String(),
		record.Key.Tier.String(),
		record.PublicLimit,
		record.HiddenLimit,
		record.Sold,
		record.Reserved,
		record.CreatedAt.UTC(),
		record.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err, constraintRecordPrimary) {
		return wrapStoreError(errorSubjectRecord, errorCodeDuplicate, inventory.ErrRecordExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeCreate, inventory.Unavailable(err))
	}
	return nil
}

func (store queries) GetRecord(ctx context.Context, key inventory.RecordKey) (inventory.Record, error) {
	return store.getRecord(ctx, sqlSelectRecord, key)
}

// GetRecordForUpdate holds a row lock until the enclosing transaction ends.
func (store queries) GetRecordForUpdate(ctx context.Context, key inventory.RecordKey) (inventory.Record, error) {
	return store.getRecord(ctx, sqlSelectRecordForUpdate, key)
}

func (store queries) getRecord(ctx context.Context, query string, key inventory.RecordKey) (inventory.Record, error) {
	record, err := scanRecord(store.db.QueryRow(ctx, query, key.EventID.String(), key.Tier.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Record{}, wrapStoreError(errorSubjectRecord, errorCodeGet, inventory.ErrNotFound)
		}
		return inventory.Record{}, wrapStoreError(errorSubjectRecord, errorCodeGet, classify(err))
	}
	return record, nil
}

func (store queries) UpdateRecord(ctx context.Context, record inventory.Record) error {
	tag, err := store.db.Exec(ctx, sqlUpdateRecord,
		record.Key.EventID.String(),
		record.Key.Tier.String(),
		record.PublicLimit,
		record.HiddenLimit,
		record.Sold,
		record.Reserved,
		record.UpdatedAt.UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeUpdate, inventory.Unavailable(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectRecord, errorCodeUpdate, inventory.ErrNotFound)
	}
	return nil
}

func (store queries) ListRecords(ctx context.Context, eventID inventory.EventID) ([]inventory.Record, error) {
	rows, err := store.db.Query(ctx, sqlListRecords, eventID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectRecord, errorCodeList, inventory.Unavailable(err))
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.Record, error) {
		return scanRecord(row)
	})
	if err != nil {
		return nil, wrapStoreError(errorSubjectRecord, errorCodeList, classify(err))
	}
	return records, nil
}

func (store queries) ListEventIDs(ctx context.Context) ([]inventory.EventID, error) {
	rows, err := store.db.Query(ctx, sqlListEventIDs)
	if err != nil {
		return nil, wrapStoreError(errorSubjectRecord, errorCodeList, inventory.Unavailable(err))
	}
	eventIDs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.EventID, error) {
		var raw string
		if err := row.Scan(&raw); err != nil {
			return inventory.EventID{}, err
		}
		return inventory.NewEventID(raw)
	})
	if err != nil {
		return nil, wrapStoreError(errorSubjectRecord, errorCodeList, classify(err))
	}
	return eventIDs, nil
}

func (store queries) InsertTransaction(ctx context.Context, transaction inventory.TransactionRecord) error {
	_, err := store.db.Exec(ctx, sqlInsertTransaction,
		transaction.TransactionID.String(),
		transaction.Key.EventID.String(),
		transaction.Key.Tier.String(),
		transaction.Quantity.Int64(),
		transaction.Operation.String(),
		transaction.ReservationID.String(),
		transaction.FromHidden,
		transaction.Metadata.String(),
		transaction.CommittedAt.UTC(),
	)
	if isUniqueViolation(err, constraintTransactionPrimary) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, inventory.ErrDuplicateTransaction)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, inventory.Unavailable(err))
	}
	return nil
}

func (store queries) GetTransaction(ctx context.Context, transactionID inventory.TransactionID) (inventory.TransactionRecord, error) {
	transaction, err := scanTransaction(store.db.QueryRow(ctx, sqlSelectTransaction, transactionID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.TransactionRecord{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, inventory.ErrTransactionNotFound)
		}
		return inventory.TransactionRecord{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, classify(err))
	}
	return transaction, nil
}

func (store queries) ListTransactions(ctx context.Context, key inventory.RecordKey, limit int) ([]inventory.TransactionRecord, error) {
	rowLimit := noLimit
	if limit > 0 {
		rowLimit = int64(limit)
	}
	rows, err := store.db.Query(ctx, sqlListTransactions, key.EventID.String(), key.Tier.String(), rowLimit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, inventory.Unavailable(err))
	}
	transactions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.TransactionRecord, error) {
		return scanTransaction(row)
	})
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, classify(err))
	}
	return transactions, nil
}

func (store queries) InsertExpansion(ctx context.Context, expansion inventory.ExpansionRecord) (int64, error) {
	var sequence int64
	err := store.db.QueryRow(ctx, sqlInsertExpansion,
		expansion.Key.EventID.String(),
		expansion.Key.Tier.String(),
		expansion.AdditionalSpots.Int64(),
		expansion.AuthorizedBy.String(),
		expansion.Reason,
		expansion.AppliedAt.UTC(),
	).Scan(&sequence)
	if err != nil {
		return 0, wrapStoreError(errorSubjectExpansion, errorCodeInsert, inventory.Unavailable(err))
	}
	return sequence, nil
}

func (store queries) ListExpansions(ctx context.Context, key inventory.RecordKey) ([]inventory.ExpansionRecord, error) {
	rows, err := store.db.Query(ctx, sqlListExpansions, key.EventID.String(), key.Tier.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectExpansion, errorCodeList, inventory.Unavailable(err))
	}
	expansions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.ExpansionRecord, error) {
		var (
			sequence     int64
			eventValue   string
			tierValue    string
			spotsValue   int64
			principalRaw string
			reason       string
			appliedAt    time.Time
		)
		if err := row.Scan(&sequence, &eventValue, &tierValue, &spotsValue, &principalRaw, &reason, &appliedAt); err != nil {
			return inventory.ExpansionRecord{}, err
		}
		key, err := inventory.NewRecordKey(eventValue, tierValue)
		if err != nil {
			return inventory.ExpansionRecord{}, err
		}
		spots, err := inventory.NewQuantity(spotsValue)
		if err != nil {
			return inventory.ExpansionRecord{}, err
		}
		principal, err := inventory.NewPrincipal(principalRaw)
		if err != nil {
			return inventory.ExpansionRecord{}, err
		}
		return inventory.ExpansionRecord{
			Sequence:        sequence,
			Key:             key,
			AdditionalSpots: spots,
			AuthorizedBy:    principal,
			Reason:          reason,
			AppliedAt:       appliedAt.UTC(),
		}, nil
	})
	if err != nil {
		return nil, wrapStoreError(errorSubjectExpansion, errorCodeList, classify(err))
	}
	return expansions, nil
}

func (store queries) CreateReservation(ctx context.Context, reservation inventory.Reservation) error {
	_, err := store.db.Exec(ctx, sqlInsertReservation,
		reservation.ID.String(),
		reservation.Key.EventID.String(),
		reservation.Key.Tier.String(),
		reservation.Quantity.Int64(),
		reservation.Status.String(),
		reservation.TransactionID.String(),
		reservation.CreatedAt.UTC(),
		reservation.ExpiresAt.UTC(),
		optionalTime(reservation.ResolvedAt),
	)
	if isUniqueViolation(err, constraintReservationPrimary) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, inventory.ErrReservationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, inventory.Unavailable(err))
	}
	return nil
}

func (store queries) GetReservation(ctx context.Context, reservationID inventory.ReservationID) (inventory.Reservation, error) {
	reservation, err := scanReservation(store.db.QueryRow(ctx, sqlSelectReservation, reservationID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, inventory.ErrReservationNotFound)
		}
		return inventory.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, classify(err))
	}
	return reservation, nil
}

func (store queries) UpdateReservationStatus(ctx context.Context, reservationID inventory.ReservationID, transition inventory.ReservationTransition) error {
	tag, err := store.db.Exec(ctx, sqlUpdateReservationStatus,
		reservationID.String(),
		transition.From.String(),
		transition.To.String(),
		optionalTime(transition.ResolvedAt),
		transition.TransactionID.String(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, inventory.Unavailable(err))
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := store.db.QueryRow(ctx, sqlReservationExists, reservationID.String()).Scan(&exists); err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, inventory.Unavailable(err))
	}
	if !exists {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, inventory.ErrReservationNotFound)
	}
	return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, inventory.ErrReservationClosed)
}

func (store queries) ListExpiredReservations(ctx context.Context, at time.Time, limit int) ([]inventory.Reservation, error) {
	rowLimit := noLimit
	if limit > 0 {
		rowLimit = int64(limit)
	}
	rows, err := store.db.Query(ctx, sqlListExpiredReservations, at.UTC(), rowLimit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, inventory.Unavailable(err))
	}
	reservations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (inventory.Reservation, error) {
		return scanReservation(row)
	})
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, classify(err))
	}
	return reservations, nil
}

func scanRecord(row pgx.Row) (inventory.Record, error) {
	var (
		eventValue string
		tierValue  string
		record     inventory.Record
	)
	if err := row.Scan(&eventValue, &tierValue, &record.PublicLimit, &record.HiddenLimit, &record.Sold, &record.Reserved, &record.CreatedAt, &record.UpdatedAt); err != nil {
		return inventory.Record{}, err
	}
	key, err := inventory.NewRecordKey(eventValue, tierValue)
	if err != nil {
		return inventory.Record{}, invalid(err)
	}
	record.Key = key
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	if err := record.Validate(); err != nil {
		return inventory.Record{}, invalid(err)
	}
	return record, nil
}

func scanTransaction(row pgx.Row) (inventory.TransactionRecord, error) {
	var (
		transactionValue string
		eventValue       string
		tierValue        string
		quantityValue    int64
		operationValue   string
		reservationValue string
		fromHidden       int64
		metadataValue    string
		committedAt      time.Time
	)
	if err := row.Scan(&transactionValue, &eventValue, &tierValue, &quantityValue, &operationValue, &reservationValue, &fromHidden, &metadataValue, &committedAt); err != nil {
		return inventory.TransactionRecord{}, err
	}
	transactionID, err := inventory.NewTransactionID(transactionValue)
	if err != nil {
		return inventory.TransactionRecord{}, invalid(err)
	}
	key, err := inventory.NewRecordKey(eventValue, tierValue)
	if err != nil {
		return inventory.TransactionRecord{}, invalid(err)
	}
	quantity, err := inventory.NewQuantity(quantityValue)
	if err != nil {
		return inventory.TransactionRecord{}, invalid(err)
	}
	operation, err := inventory.ParseOperation(operationValue)
	if err != nil {
		return inventory.TransactionRecord{}, invalid(err)
	}
	metadata, err := inventory.NewMetadataJSON(metadataValue)
	if err != nil {
		return inventory.TransactionRecord{}, invalid(err)
	}
	transaction := inventory.TransactionRecord{
		TransactionID: transactionID,
		Key:           key,
		Quantity:      quantity,
		Operation:     operation,
		FromHidden:    fromHidden,
		Metadata:      metadata,
		CommittedAt:   committedAt.UTC(),
	}
	if reservationValue != "" {
		reservationID, err := inventory.NewReservationID(reservationValue)
		if err != nil {
			return inventory.TransactionRecord{}, invalid(err)
		}
		transaction.ReservationID = reservationID
	}
	return transaction, nil
}

func scanReservation(row pgx.Row) (inventory.Reservation, error) {
	var (
		reservationValue string
		eventValue       string
		tierValue        string
		quantityValue    int64
		statusValue      string
		transactionValue string
		createdAt        time.Time
		expiresAt        time.Time
		resolvedAt       *time.Time
	)
	if err := row.Scan(&reservationValue, &eventValue, &tierValue, &quantityValue, &statusValue, &transactionValue, &createdAt, &expiresAt, &resolvedAt); err != nil {
		return inventory.Reservation{}, err
	}
	reservationID, err := inventory.NewReservationID(reservationValue)
	if err != nil {
		return inventory.Reservation{}, invalid(err)
	}
	key, err := inventory.NewRecordKey(eventValue, tierValue)
	if err != nil {
		return inventory.Reservation{}, invalid(err)
	}
	quantity, err := inventory.NewQuantity(quantityValue)
	if err != nil {
		return inventory.Reservation{}, invalid(err)
	}
	status, err := inventory.ParseReservationStatus(statusValue)
	if err != nil {
		return inventory.Reservation{}, invalid(err)
	}
	reservation := inventory.Reservation{
		ID:        reservationID,
		Key:       key,
		Quantity:  quantity,
		Status:    status,
		CreatedAt: createdAt.UTC(),
		ExpiresAt: expiresAt.UTC(),
	}
	if resolvedAt != nil {
		reservation.ResolvedAt = resolvedAt.UTC()
	}
	if transactionValue != "" {
		transactionID, err := inventory.NewTransactionID(transactionValue)
		if err != nil {
			return inventory.Reservation{}, invalid(err)
		}
		reservation.TransactionID = transactionID
	}
	return reservation, nil
}

// invalidRowError marks a row that scanned but failed domain validation.
type invalidRowError struct {
	err error
}

func (rowError invalidRowError) Error() string { return rowError.err.Error() }

func (rowError invalidRowError) Unwrap() error { return rowError.err }

func invalid(err error) error {
	return invalidRowError{err: err}
}

// classify keeps domain validation failures as they are and marks driver failures unavailable.
func classify(err error) error {
	var rowError invalidRowError
	if errors.As(err, &rowError) {
		return rowError.err
	}
	return inventory.Unavailable(err)
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func wrapStoreError(subject string, code string, err error) error {
	return inventory.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}
