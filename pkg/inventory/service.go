package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service contains the inventory and reservation logic over a Store.
type Service struct {
	store             Store
	nowFn             func() time.Time
	logger            OperationLogger
	reservationTTL    time.Duration
	lowStockThreshold int64
	sweepBatchSize    int
	newTransactionID  func() string
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:             store,
		nowFn:             now,
		reservationTTL:    defaultReservationTTL,
		lowStockThreshold: defaultLowStockThreshold,
		sweepBatchSize:    defaultSweepBatchSize,
		newTransactionID:  uuid.NewString,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// DecrementRequest describes a committed sale.
type DecrementRequest struct {
	Key           RecordKey
	Quantity      Quantity
	TransactionID TransactionID
	// ReservationID, when set, names a live hold whose seats this sale consumes.
	ReservationID ReservationID
	Metadata      MetadataJSON
}

// DecrementResult reports how a sale was allocated.
type DecrementResult struct {
	Record              Record
	TransactionID       TransactionID
	Quantity            Quantity
	FromPublic          int64
	FromHidden          int64
	UsedHiddenInventory bool
	FromReservation     bool
	Replayed            bool
}

// IncrementRequest returns previously sold seats to inventory.
type IncrementRequest struct {
	Key      RecordKey
	Quantity Quantity
	Reason   string
	// TransactionID is optional; a uuid is generated when empty.
	TransactionID TransactionID
}

// IncrementResult reports the record after an increment.
type IncrementResult struct {
	Record        Record
	TransactionID TransactionID
	Replayed      bool
}

// CheckoutValidation is the read-only answer to "can this buyer proceed".
type CheckoutValidation struct {
	Valid     bool
	Available int64
	Reason    string
}

// CreateRecord registers the capacity of one event tier.
func (service *Service) CreateRecord(ctx context.Context, key RecordKey, publicLimit int64, baseHiddenLimit int64) (Record, error) {
	record, operationError := NewRecord(key, publicLimit, baseHiddenLimit, service.now())
	if operationError == nil {
		operationError = validateKey(key)
	}
	if operationError == nil {
		operationError = service.store.CreateRecord(ctx, record)
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateRecord,
		Key:       key,
		Error:     operationError,
	})
	if operationError != nil {
		return Record{}, operationError
	}
	return record, nil
}

// Decrement commits a sale, drawing from public inventory first and hidden inventory second.
func (service *Service) Decrement(ctx context.Context, request DecrementRequest) (DecrementResult, error) {
	var (
		result  DecrementResult
		expired bool
	)
	operationError := validateDecrement(request)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			record, err := transactionStore.GetRecordForUpdate(ctx, request.Key)
			if err != nil {
				return err
			}
			if request.ReservationID.IsZero() {
				replay, found, err := replayDecrement(ctx, transactionStore, record, request)
				if err != nil || found {
					result = replay
					return err
				}
				result, err = service.applyDecrement(ctx, transactionStore, record, request, nil)
				return err
			}
			result, expired, err = service.commitLocked(ctx, transactionStore, record, request)
			return err
		})
	}
	if operationError == nil && expired {
		service.logExpiry(ctx, request.Key, request.ReservationID)
		operationError = ErrReservationExpired
	}
	service.logOperation(ctx, OperationLog{
		Operation:           operationDecrement,
		Key:                 request.Key,
		ReservationID:       request.ReservationID,
		TransactionID:       request.TransactionID,
		Quantity:            request.Quantity,
		Metadata:            request.Metadata,
		UsedHiddenInventory: result.UsedHiddenInventory,
		Replayed:            result.Replayed,
		Error:               operationError,
	})
	if operationError != nil {
		return DecrementResult{}, operationError
	}
	return result, nil
}

// Increment releases previously sold seats (refund or rollback).
func (service *Service) Increment(ctx context.Context, request IncrementRequest) (IncrementResult, error) {
	var result IncrementResult
	if request.TransactionID.IsZero() {
		generated, err := NewTransactionID(generatedIncrementPrefix + service.newTransactionID())
		if err != nil {
			return IncrementResult{}, err
		}
		request.TransactionID = generated
	}
	operationError := validateIncrement(request)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			record, err := transactionStore.GetRecordForUpdate(ctx, request.Key)
			if err != nil {
				return err
			}
			existing, err := transactionStore.GetTransaction(ctx, request.TransactionID)
			switch {
			case err == nil:
				if existing.Key != request.Key || existing.Quantity != request.Quantity || existing.Operation != OperationIncrement {
					return fmt.Errorf("%w: %s", ErrTransactionConflict, request.TransactionID.String())
				}
				result = IncrementResult{Record: record, TransactionID: request.TransactionID, Replayed: true}
				return nil
			case !errors.Is(err, ErrTransactionNotFound):
				return err
			}
			if request.Quantity.Int64() > record.Sold {
				return fmt.Errorf("%w: sold %d, requested %d", ErrInvalidIncrement, record.Sold, request.Quantity.Int64())
			}
			now := service.now()
			record.Sold -= request.Quantity.Int64()
			record.UpdatedAt = now
			if err := saveRecord(ctx, transactionStore, record); err != nil {
				return err
			}
			metadata, err := reasonMetadata(request.Reason)
			if err != nil {
				return err
			}
			if err := transactionStore.InsertTransaction(ctx, TransactionRecord{
				TransactionID: request.TransactionID,
				Key:           request.Key,
				Quantity:      request.Quantity,
				Operation:     OperationIncrement,
				Metadata:      metadata,
				CommittedAt:   now,
			}); err != nil {
				return err
			}
			result = IncrementResult{Record: record, TransactionID: request.TransactionID}
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationIncrement,
		Key:           request.Key,
		TransactionID: request.TransactionID,
		Quantity:      request.Quantity,
		Replayed:      result.Replayed,
		Error:         operationError,
	})
	if operationError != nil {
		return IncrementResult{}, operationError
	}
	return result, nil
}

// Record returns one consistent snapshot of a record.
func (service *Service) Record(ctx context.Context, key RecordKey) (Record, error) {
	if err := validateKey(key); err != nil {
		return Record{}, err
	}
	return service.store.GetRecord(ctx, key)
}

// PublicAvailable returns the seats a buyer may currently see.
func (service *Service) PublicAvailable(ctx context.Context, key RecordKey) (int64, error) {
	record, err := service.Record(ctx, key)
	if err != nil {
		return 0, err
	}
	return record.PublicAvailable(), nil
}

// ActualAvailable returns the seats left including hidden inventory.
func (service *Service) ActualAvailable(ctx context.Context, key RecordKey) (int64, error) {
	record, err := service.Record(ctx, key)
	if err != nil {
		return 0, err
	}
	return record.ActualAvailable(), nil
}

// ValidateForCheckout checks a requested quantity against public availability.
func (service *Service) ValidateForCheckout(ctx context.Context, key RecordKey, quantity Quantity) (CheckoutValidation, error) {
	if quantity <= 0 {
		return CheckoutValidation{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	available, err := service.PublicAvailable(ctx, key)
	if err != nil {
		return CheckoutValidation{}, err
	}
	switch {
	case available == 0:
		return CheckoutValidation{Valid: false, Available: 0, Reason: reasonSoldOut}, nil
	case available < quantity.Int64():
		return CheckoutValidation{Valid: false, Available: available, Reason: reasonInsufficientInventory}, nil
	}
	return CheckoutValidation{Valid: true, Available: available}, nil
}

// ListTransactions returns the newest ledger lines for a record.
func (service *Service) ListTransactions(ctx context.Context, key RecordKey, limit int) ([]TransactionRecord, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if _, err := service.store.GetRecord(ctx, key); err != nil {
		return nil, err
	}
	return service.store.ListTransactions(ctx, key, limit)
}

// applyDecrement runs under the record lock. held is the reservation being consumed, if any.
func (service *Service) applyDecrement(ctx context.Context, transactionStore Store, record Record, request DecrementRequest, held *Reservation) (DecrementResult, error) {
	quantity := request.Quantity.Int64()
	otherReserved := record.Reserved
	if held != nil {
		otherReserved -= held.Quantity.Int64()
	}
	remaining := record.Capacity() - record.Sold - otherReserved
	if quantity > remaining {
		return DecrementResult{}, InsufficientInventoryError{Available: nonNegative(remaining), Requested: quantity}
	}
	fromPublic := min(quantity, nonNegative(record.PublicLimit-record.Sold-otherReserved))
	fromHidden := quantity - fromPublic

	now := service.now()
	record.Sold += quantity
	record.Reserved = otherReserved
	record.UpdatedAt = now
	if err := saveRecord(ctx, transactionStore, record); err != nil {
		return DecrementResult{}, err
	}
	if held != nil {
		if err := transactionStore.UpdateReservationStatus(ctx, held.ID, ReservationTransition{
			From:          ReservationStatusActive,
			To:            ReservationStatusCommitted,
			TransactionID: request.TransactionID,
			ResolvedAt:    now,
		}); err != nil {
			return DecrementResult{}, err
		}
	}
	transaction := TransactionRecord{
		TransactionID: request.TransactionID,
		Key:           request.Key,
		Quantity:      request.Quantity,
		Operation:     OperationDecrement,
		FromHidden:    fromHidden,
		Metadata:      request.Metadata,
		CommittedAt:   now,
	}
	if held != nil {
		transaction.ReservationID = held.ID
	}
	if err := transactionStore.InsertTransaction(ctx, transaction); err != nil {
		return DecrementResult{}, err
	}
	return DecrementResult{
		Record:              record,
		TransactionID:       request.TransactionID,
		Quantity:            request.Quantity,
		FromPublic:          fromPublic,
		FromHidden:          fromHidden,
		UsedHiddenInventory: fromHidden > 0,
		FromReservation:     held != nil,
	}, nil
}

// replayDecrement absorbs a retried transaction id without mutating state.
func replayDecrement(ctx context.Context, transactionStore Store, record Record, request DecrementRequest) (DecrementResult, bool, error) {
	existing, err := transactionStore.GetTransaction(ctx, request.TransactionID)
	if errors.Is(err, ErrTransactionNotFound) {
		return DecrementResult{}, false, nil
	}
	if err != nil {
		return DecrementResult{}, false, err
	}
	if existing.Key != request.Key || existing.Quantity != request.Quantity || existing.Operation != OperationDecrement {
		return DecrementResult{}, true, fmt.Errorf("%w: %s", ErrTransactionConflict, request.TransactionID.String())
	}
	if !request.ReservationID.IsZero() && existing.ReservationID != request.ReservationID {
		return DecrementResult{}, true, fmt.Errorf("%w: %s", ErrTransactionConflict, request.TransactionID.String())
	}
	return DecrementResult{
		Record:              record,
		TransactionID:       existing.TransactionID,
		Quantity:            existing.Quantity,
		FromPublic:          existing.Quantity.Int64() - existing.FromHidden,
		FromHidden:          existing.FromHidden,
		UsedHiddenInventory: existing.FromHidden > 0,
		FromReservation:     !existing.ReservationID.IsZero(),
		Replayed:            true,
	}, true, nil
}

func saveRecord(ctx context.Context, transactionStore Store, record Record) error {
	if err := record.Validate(); err != nil {
		return WrapError(errorOperationService, errorSubjectRecord, errorCodeInvariant, err)
	}
	return transactionStore.UpdateRecord(ctx, record)
}

func reasonMetadata(reason string) (MetadataJSON, error) {
	if reason == "" {
		return NewMetadataJSON("")
	}
	raw, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
	}
	return NewMetadataJSON(string(raw))
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

func validateKey(key RecordKey) error {
	if key.EventID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidEventID)
	}
	if _, err := ParseTier(key.Tier.String()); err != nil {
		return err
	}
	return nil
}

func validateDecrement(request DecrementRequest) error {
	if err := validateKey(request.Key); err != nil {
		return err
	}
	if request.Quantity <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if request.TransactionID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return nil
}

func validateIncrement(request IncrementRequest) error {
	if err := validateKey(request.Key); err != nil {
		return err
	}
	if request.Quantity <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return nil
}
