package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

const (
	constraintRecordPrimary      = "inventory_records_pkey"
	constraintReservationPrimary = "reservations_pkey"
	constraintTransactionPrimary = "inventory_transactions_pkey"
	defaultMetadataJSON          = "{}"
	pgUniqueViolationCode        = "23505"
	sqliteConstraintCode         = 19
	errorOperationStore          = "store"
	errorSubjectRecord           = "record"
	errorSubjectReservation      = "reservation"
	errorSubjectTransaction      = "transaction"
	errorSubjectExpansion        = "expansion"
	errorCodeCreate              = "create"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeUpdate              = "update"
	errorCodeUpdateStatus        = "update_status"
)

// Store implements inventory.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the inventory tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore inventory.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateRecord(ctx context.Context, record inventory.Record) error {
	model := InventoryRecord{
		EventID:     record.Key.EventID.String(),
		Tier:        record.Key.Tier.String(),
		PublicLimit: record.PublicLimit,
		HiddenLimit: record.HiddenLimit,
		Sold:        record.Sold,
		Reserved:    record.Reserved,
		CreatedAt:   record.CreatedAt.UTC(),
		UpdatedAt:   record.UpdatedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isPrimaryKeyConflict(err, constraintRecordPrimary) {
		return wrapStoreError(errorSubjectRecord, errorCodeDuplicate, inventory.ErrRecordExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeCreate, inventory.Unavailable(err))
	}
	return nil
}

func (store *Store) GetRecord(ctx context.Context, key inventory.RecordKey) (inventory.Record, error) {
	return store.getRecord(store.db.WithContext(ctx), key)
}

// GetRecordForUpdate locks the row until the enclosing transaction ends.
// SQLite has no row locks; its single writer connection serializes instead.
func (store *Store) GetRecordForUpdate(ctx context.Context, key inventory.RecordKey) (inventory.Record, error) {
	return store.getRecord(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), key)
}

func (store *Store) getRecord(db *gorm.DB, key inventory.RecordKey) (inventory.Record, error) {
	var model InventoryRecord
	err := db.Where("event_id = ? AND tier = ?", key.EventID.String(), key.Tier.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return inventory.Record{}, wrapStoreError(errorSubjectRecord, errorCodeGet, inventory.ErrNotFound)
		}
		return inventory.Record{}, wrapStoreError(errorSubjectRecord, errorCodeGet, inventory.Unavailable(err))
	}
	record, err := mapRecord(model)
	if err != nil {
		return inventory.Record{}, wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
	}
	return record, nil
}

func (store *Store) UpdateRecord(ctx context.Context, record inventory.Record) error {
	result := store.db.WithContext(ctx).
		Model(&InventoryRecord{}).
		Where("event_id = ? AND tier = ?", record.Key.EventID.String(), record.Key.Tier.String()).
		Updates(map[string]any{
			"public_limit": record.PublicLimit,
			"hidden_limit": record.HiddenLimit,
			"sold":         record.Sold,
			"reserved":     record.Reserved,
			"updated_at":   record.UpdatedAt.UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeUpdate, inventory.Unavailable(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRecord, errorCodeUpdate, inventory.ErrNotFound)
	}
	return nil
}

func (store *Store) ListRecords(ctx context.Context, eventID inventory.EventID) ([]inventory.Record, error) {
	var rows []InventoryRecord
	err := store.db.WithContext(ctx).
		Where("event_id = ?", eventID.String()).
		Order("tier ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRecord, errorCodeList, inventory.Unavailable(err))
	}
	records := make([]inventory.Record, 0, len(rows))
	for _, row := range rows {
		record, err := mapRecord(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (store *Store) ListEventIDs(ctx context.Context) ([]inventory.EventID, error) {
	var rawIDs []string
	err := store.db.WithContext(ctx).
		Model(&InventoryRecord{}).
		Distinct("event_id").
		Order("event_id ASC").
		Pluck("event_id", &rawIDs).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectRecord, errorCodeList, inventory.Unavailable(err))
	}
	eventIDs := make([]inventory.EventID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		eventID, err := inventory.NewEventID(raw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
		}
		eventIDs = append(eventIDs, eventID)
	}
	return eventIDs, nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction inventory.TransactionRecord) error {
	model := InventoryTransaction{
		TransactionID: transaction.TransactionID.String(),
		EventID:       transaction.Key.EventID.String(),
		Tier:          transaction.Key.Tier.String(),
		Quantity:      transaction.Quantity.Int64(),
		Operation:     transaction.Operation.String(),
		ReservationID: optionalString(transaction.ReservationID.String()),
		FromHidden:    transaction.FromHidden,
		Metadata:      datatypesJSON(transaction.Metadata.String()),
		CommittedAt:   transaction.CommittedAt.UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isPrimaryKeyConflict(err, constraintTransactionPrimary) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, inventory.ErrDuplicateTransaction)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, inventory.Unavailable(err))
	}
	return nil
}

func (store *Store) GetTransaction(ctx context.Context, transactionID inventory.TransactionID) (inventory.TransactionRecord, error) {
	var model InventoryTransaction
	err := store.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return inventory.TransactionRecord{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, inventory.ErrTransactionNotFound)
		}
		return inventory.TransactionRecord{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, inventory.Unavailable(err))
	}
	transaction, err := mapTransaction(model)
	if err != nil {
		return inventory.TransactionRecord{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transaction, nil
}

func (store *Store) ListTransactions(ctx context.Context, key inventory.RecordKey, limit int) ([]inventory.TransactionRecord, error) {
	query := store.db.WithContext(ctx).
		Where("event_id = ? AND tier = ?", key.EventID.String(), key.Tier.String()).
		Order("committed_at DESC").
		Order("transaction_id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []InventoryTransaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, inventory.Unavailable(err))
	}
	transactions := make([]inventory.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) InsertExpansion(ctx context.Context, expansion inventory.ExpansionRecord) (int64, error) {
	model := InventoryExpansion{
		EventID:         expansion.Key.EventID.String(),
		Tier:            expansion.Key.Tier.String(),
		AdditionalSpots: expansion.AdditionalSpots.Int64(),
		AuthorizedBy:    expansion.AuthorizedBy.String(),
		Reason:          expansion.Reason,
		AppliedAt:       expansion.AppliedAt.UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return 0, wrapStoreError(errorSubjectExpansion, errorCodeInsert, inventory.Unavailable(err))
	}
	return model.Sequence, nil
}

func (store *Store) ListExpansions(ctx context.Context, key inventory.RecordKey) ([]inventory.ExpansionRecord, error) {
	var rows []InventoryExpansion
	err := store.db.WithContext(ctx).
		Where("event_id = ? AND tier = ?", key.EventID.String(), key.Tier.String()).
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectExpansion, errorCodeList, inventory.Unavailable(err))
	}
	expansions := make([]inventory.ExpansionRecord, 0, len(rows))
	for _, row := range rows {
		expansion, err := mapExpansion(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectExpansion, errorCodeInvalid, err)
		}
		expansions = append(expansions, expansion)
	}
	return expansions, nil
}

func (store *Store) CreateReservation(ctx context.Context, reservation inventory.Reservation) error {
	model := Reservation{
		ReservationID: reservation.ID.String(),
		EventID:       reservation.Key.EventID.String(),
		Tier:          reservation.Key.Tier.String(),
		Quantity:      reservation.Quantity.Int64(),
		Status:        reservation.Status.String(),
		TransactionID: optionalString(reservation.TransactionID.String()),
		CreatedAt:     reservation.CreatedAt.UTC(),
		ExpiresAt:     reservation.ExpiresAt.UTC(),
		ResolvedAt:    optionalTime(reservation.ResolvedAt),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isPrimaryKeyConflict(err, constraintReservationPrimary) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, inventory.ErrReservationExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeCreate, inventory.Unavailable(err))
	}
	return nil
}

func (store *Store) GetReservation(ctx context.Context, reservationID inventory.ReservationID) (inventory.Reservation, error) {
	var model Reservation
	err := store.db.WithContext(ctx).
		Where("reservation_id = ?", reservationID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return inventory.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, inventory.ErrReservationNotFound)
		}
		return inventory.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, inventory.Unavailable(err))
	}
	reservation, err := mapReservation(model)
	if err != nil {
		return inventory.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

func (store *Store) UpdateReservationStatus(ctx context.Context, reservationID inventory.ReservationID, transition inventory.ReservationTransition) error {
	updates := map[string]any{
		"status":      transition.To.String(),
		"resolved_at": optionalTime(transition.ResolvedAt),
	}
	if !transition.TransactionID.IsZero() {
		updates["transaction_id"] = transition.TransactionID.String()
	}
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("reservation_id = ? AND status = ?", reservationID.String(), transition.From.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, inventory.Unavailable(result.Error))
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("reservation_id = ?", reservationID.String()).
		Count(&count).Error; err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, inventory.Unavailable(err))
	}
	if count == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, inventory.ErrReservationNotFound)
	}
	return wrapStoreError(errorSubjectReservation, errorCodeUpdateStatus, inventory.ErrReservationClosed)
}

func (store *Store) ListExpiredReservations(ctx context.Context, at time.Time, limit int) ([]inventory.Reservation, error) {
	query := store.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", inventory.ReservationStatusActive.String(), at.UTC()).
		Order("expires_at ASC").
		Order("reservation_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []Reservation
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, inventory.Unavailable(err))
	}
	reservations := make([]inventory.Reservation, 0, len(rows))
	for _, row := range rows {
		reservation, err := mapReservation(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return inventory.WrapError(errorOperationStore, subject, code, err)
}

func mapKey(rawEventID string, rawTier string) (inventory.RecordKey, error) {
	return inventory.NewRecordKey(rawEventID, rawTier)
}

func mapRecord(row InventoryRecord) (inventory.Record, error) {
	key, err := mapKey(row.EventID, row.Tier)
	if err != nil {
		return inventory.Record{}, err
	}
	record := inventory.Record{
		Key:         key,
		PublicLimit: row.PublicLimit,
		HiddenLimit: row.HiddenLimit,
		Sold:        row.Sold,
		Reserved:    row.Reserved,
		CreatedAt:   row.CreatedAt.UTC(),
		UpdatedAt:   row.UpdatedAt.UTC(),
	}
	if err := record.Validate(); err != nil {
		return inventory.Record{}, err
	}
	return record, nil
}

func mapReservation(row Reservation) (inventory.Reservation, error) {
	reservationID, err := inventory.NewReservationID(row.ReservationID)
	if err != nil {
		return inventory.Reservation{}, err
	}
	key, err := mapKey(row.EventID, row.Tier)
	if err != nil {
		return inventory.Reservation{}, err
	}
	quantity, err := inventory.NewQuantity(row.Quantity)
	if err != nil {
		return inventory.Reservation{}, err
	}
	status, err := inventory.ParseReservationStatus(row.Status)
	if err != nil {
		return inventory.Reservation{}, err
	}
	reservation := inventory.Reservation{
		ID:         reservationID,
		Key:        key,
		Quantity:   quantity,
		Status:     status,
		CreatedAt:  row.CreatedAt.UTC(),
		ExpiresAt:  row.ExpiresAt.UTC(),
		ResolvedAt: timeOrZero(row.ResolvedAt),
	}
	if row.TransactionID != nil {
		transactionID, err := inventory.NewTransactionID(*row.TransactionID)
		if err != nil {
			return inventory.Reservation{}, err
		}
		reservation.TransactionID = transactionID
	}
	return reservation, nil
}

func mapTransaction(row InventoryTransaction) (inventory.TransactionRecord, error) {
	transactionID, err := inventory.NewTransactionID(row.TransactionID)
	if err != nil {
		return inventory.TransactionRecord{}, err
	}
	key, err := mapKey(row.EventID, row.Tier)
	if err != nil {
		return inventory.TransactionRecord{}, err
	}
	quantity, err := inventory.NewQuantity(row.Quantity)
	if err != nil {
		return inventory.TransactionRecord{}, err
	}
	operation, err := inventory.ParseOperation(row.Operation)
	if err != nil {
		return inventory.TransactionRecord{}, err
	}
	metadata, err := inventory.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return inventory.TransactionRecord{}, err
	}
	transaction := inventory.TransactionRecord{
		TransactionID: transactionID,
		Key:           key,
		Quantity:      quantity,
		Operation:     operation,
		FromHidden:    row.FromHidden,
		Metadata:      metadata,
		CommittedAt:   row.CommittedAt.UTC(),
	}
	if row.ReservationID != nil {
		reservationID, err := inventory.NewReservationID(*row.ReservationID)
		if err != nil {
			return inventory.TransactionRecord{}, err
		}
		transaction.ReservationID = reservationID
	}
	return transaction, nil
}

func mapExpansion(row InventoryExpansion) (inventory.ExpansionRecord, error) {
	key, err := mapKey(row.EventID, row.Tier)
	if err != nil {
		return inventory.ExpansionRecord{}, err
	}
	spots, err := inventory.NewQuantity(row.AdditionalSpots)
	if err != nil {
		return inventory.ExpansionRecord{}, err
	}
	principal, err := inventory.NewPrincipal(row.AuthorizedBy)
	if err != nil {
		return inventory.ExpansionRecord{}, err
	}
	return inventory.ExpansionRecord{
		Sequence:        row.Sequence,
		Key:             key,
		AdditionalSpots: spots,
		AuthorizedBy:    principal,
		Reason:          row.Reason,
		AppliedAt:       row.AppliedAt.UTC(),
	}, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func timeOrZero(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return value.UTC()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isPrimaryKeyConflict(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
