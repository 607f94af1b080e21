package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ReserveRequest describes a checkout hold.
type ReserveRequest struct {
	Key           RecordKey
	Quantity      Quantity
	ReservationID ReservationID
	// TTL falls back to the service default when not positive.
	TTL time.Duration
}

// ReserveResult reports the stored hold and the record after it was applied.
type ReserveResult struct {
	Reservation Reservation
	Record      Record
	Replayed    bool
}

// ReleaseResult reports whether this call released the hold.
// Released is false when the reservation had already reached a terminal state.
type ReleaseResult struct {
	Reservation Reservation
	Released    bool
}

// Reserve holds public inventory for the duration of a checkout.
func (service *Service) Reserve(ctx context.Context, request ReserveRequest) (ReserveResult, error) {
	var result ReserveResult
	operationError := validateReserve(request)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			record, err := transactionStore.GetRecordForUpdate(ctx, request.Key)
			if err != nil {
				return err
			}
			now := service.now()
			existing, err := transactionStore.GetReservation(ctx, request.ReservationID)
			switch {
			case err == nil:
				if existing.Key == request.Key && existing.Quantity == request.Quantity &&
					existing.Status == ReservationStatusActive && !existing.ExpiredAt(now) {
					result = ReserveResult{Reservation: existing, Record: record, Replayed: true}
					return nil
				}
				return fmt.Errorf("%w: %s", ErrReservationExists, request.ReservationID.String())
			case !errors.Is(err, ErrReservationNotFound):
				return err
			}
			available := record.PublicAvailable()
			if request.Quantity.Int64() > available {
				return InsufficientInventoryError{Available: available, Requested: request.Quantity.Int64()}
			}
			ttl := request.TTL
			if ttl <= 0 {
				ttl = service.reservationTTL
			}
			reservation := Reservation{
				ID:        request.ReservationID,
				Key:       request.Key,
				Quantity:  request.Quantity,
				Status:    ReservationStatusActive,
				CreatedAt: now,
				ExpiresAt: now.Add(ttl),
			}
			record.Reserved += request.Quantity.Int64()
			record.UpdatedAt = now
			if err := saveRecord(ctx, transactionStore, record); err != nil {
				return err
			}
			if err := transactionStore.CreateReservation(ctx, reservation); err != nil {
				return err
			}
			result = ReserveResult{Reservation: reservation, Record: record}
			return nil
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationReserve,
		Key:           request.Key,
		ReservationID: request.ReservationID,
		Quantity:      request.Quantity,
		Replayed:      result.Replayed,
		Error:         operationError,
	})
	if operationError != nil {
		return ReserveResult{}, operationError
	}
	return result, nil
}

// Release returns a held quantity to public inventory.
func (service *Service) Release(ctx context.Context, reservationID ReservationID) (ReleaseResult, error) {
	var (
		result  ReleaseResult
		expired bool
	)
	operationError := validateReservationID(reservationID)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			reservation, record, err := lockReservation(ctx, transactionStore, reservationID)
			if err != nil {
				return err
			}
			if reservation.Status.IsTerminal() {
				result = ReleaseResult{Reservation: reservation}
				return nil
			}
			now := service.now()
			if reservation.ExpiredAt(now) {
				if err := service.expireLocked(ctx, transactionStore, record, reservation, now); err != nil {
					return err
				}
				expired = true
				reservation.Status = ReservationStatusExpired
				reservation.ResolvedAt = now
				result = ReleaseResult{Reservation: reservation}
				return nil
			}
			if err := transactionStore.UpdateReservationStatus(ctx, reservation.ID, ReservationTransition{
				From:       ReservationStatusActive,
				To:         ReservationStatusReleased,
				ResolvedAt: now,
			}); err != nil {
				return err
			}
			record.Reserved -= reservation.Quantity.Int64()
			record.UpdatedAt = now
			if err := saveRecord(ctx, transactionStore, record); err != nil {
				return err
			}
			reservation.Status = ReservationStatusReleased
			reservation.ResolvedAt = now
			result = ReleaseResult{Reservation: reservation, Released: true}
			return nil
		})
	}
	if operationError == nil && expired {
		service.logExpiry(ctx, result.Reservation.Key, reservationID)
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationRelease,
		Key:           result.Reservation.Key,
		ReservationID: reservationID,
		Quantity:      result.Reservation.Quantity,
		Error:         operationError,
	})
	if operationError != nil {
		return ReleaseResult{}, operationError
	}
	return result, nil
}

// Commit converts a live hold into a sale recorded under transactionID.
func (service *Service) Commit(ctx context.Context, reservationID ReservationID, transactionID TransactionID, metadata MetadataJSON) (DecrementResult, error) {
	var (
		result  DecrementResult
		request DecrementRequest
		expired bool
	)
	operationError := validateReservationID(reservationID)
	if operationError == nil && transactionID.IsZero() {
		operationError = fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			reservation, err := transactionStore.GetReservation(ctx, reservationID)
			if err != nil {
				return err
			}
			request = DecrementRequest{
				Key:           reservation.Key,
				Quantity:      reservation.Quantity,
				TransactionID: transactionID,
				ReservationID: reservationID,
				Metadata:      metadata,
			}
			record, err := transactionStore.GetRecordForUpdate(ctx, reservation.Key)
			if err != nil {
				return err
			}
			result, expired, err = service.commitLocked(ctx, transactionStore, record, request)
			return err
		})
	}
	if operationError == nil && expired {
		service.logExpiry(ctx, request.Key, reservationID)
		operationError = fmt.Errorf("%w: %s", ErrReservationExpired, reservationID.String())
	}
	service.logOperation(ctx, OperationLog{
		Operation:           operationCommit,
		Key:                 request.Key,
		ReservationID:       reservationID,
		TransactionID:       transactionID,
		Quantity:            request.Quantity,
		Metadata:            metadata,
		UsedHiddenInventory: result.UsedHiddenInventory,
		Replayed:            result.Replayed,
		Error:               operationError,
	})
	if operationError != nil {
		return DecrementResult{}, operationError
	}
	return result, nil
}

// GetReservation returns the stored state of a hold.
func (service *Service) GetReservation(ctx context.Context, reservationID ReservationID) (Reservation, error) {
	if err := validateReservationID(reservationID); err != nil {
		return Reservation{}, err
	}
	return service.store.GetReservation(ctx, reservationID)
}

// SweepExpired expires every active hold whose TTL has passed and returns how many it expired.
func (service *Service) SweepExpired(ctx context.Context) (int, error) {
	expiredCount := 0
	for {
		candidates, err := service.store.ListExpiredReservations(ctx, service.now(), service.sweepBatchSize)
		if err != nil {
			return expiredCount, err
		}
		progressed := 0
		for _, candidate := range candidates {
			expired, err := service.expireReservation(ctx, candidate.ID)
			if err != nil {
				return expiredCount, err
			}
			if expired {
				expiredCount++
				progressed++
			}
		}
		if len(candidates) < service.sweepBatchSize || progressed == 0 {
			return expiredCount, nil
		}
		if err := ctx.Err(); err != nil {
			return expiredCount, err
		}
	}
}

// commitLocked consumes a reservation under the record lock.
// The second return value is true when the hold lapsed and was expired instead.
func (service *Service) commitLocked(ctx context.Context, transactionStore Store, record Record, request DecrementRequest) (DecrementResult, bool, error) {
	replay, found, err := replayDecrement(ctx, transactionStore, record, request)
	if err != nil || found {
		return replay, false, err
	}
	reservation, err := transactionStore.GetReservation(ctx, request.ReservationID)
	if err != nil {
		return DecrementResult{}, false, err
	}
	if reservation.Key != record.Key {
		return DecrementResult{}, false, fmt.Errorf("%w: %s is not held on %s", ErrReservationNotFound, reservation.ID.String(), record.Key)
	}
	if reservation.Quantity != request.Quantity {
		return DecrementResult{}, false, fmt.Errorf("%w: reservation holds %d, requested %d", ErrInvalidAmount, reservation.Quantity.Int64(), request.Quantity.Int64())
	}
	switch reservation.Status {
	case ReservationStatusExpired:
		return DecrementResult{}, false, fmt.Errorf("%w: %s", ErrReservationExpired, reservation.ID.String())
	case ReservationStatusCommitted, ReservationStatusReleased:
		return DecrementResult{}, false, fmt.Errorf("%w: %s is %s", ErrReservationClosed, reservation.ID.String(), reservation.Status)
	}
	now := service.now()
	if reservation.ExpiredAt(now) {
		if err := service.expireLocked(ctx, transactionStore, record, reservation, now); err != nil {
			return DecrementResult{}, false, err
		}
		return DecrementResult{}, true, nil
	}
	result, err := service.applyDecrement(ctx, transactionStore, record, request, &reservation)
	return result, false, err
}

// expireLocked moves an active reservation to expired and restores its held quantity.
func (service *Service) expireLocked(ctx context.Context, transactionStore Store, record Record, reservation Reservation, now time.Time) error {
	if err := transactionStore.UpdateReservationStatus(ctx, reservation.ID, ReservationTransition{
		From:       ReservationStatusActive,
		To:         ReservationStatusExpired,
		ResolvedAt: now,
	}); err != nil {
		return err
	}
	record.Reserved -= reservation.Quantity.Int64()
	record.UpdatedAt = now
	return saveRecord(ctx, transactionStore, record)
}

func (service *Service) expireReservation(ctx context.Context, reservationID ReservationID) (bool, error) {
	var (
		expired bool
		key     RecordKey
	)
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		reservation, record, err := lockReservation(ctx, transactionStore, reservationID)
		if err != nil {
			return err
		}
		now := service.now()
		if reservation.Status.IsTerminal() || !reservation.ExpiredAt(now) {
			return nil
		}
		if err := service.expireLocked(ctx, transactionStore, record, reservation, now); err != nil {
			return err
		}
		expired = true
		key = reservation.Key
		return nil
	})
	if errors.Is(err, ErrReservationClosed) || errors.Is(err, ErrReservationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if expired {
		service.logExpiry(ctx, key, reservationID)
	}
	return expired, nil
}

// lockReservation takes the lock of the reservation's record and re-reads the reservation under it.
func lockReservation(ctx context.Context, transactionStore Store, reservationID ReservationID) (Reservation, Record, error) {
	reservation, err := transactionStore.GetReservation(ctx, reservationID)
	if err != nil {
		return Reservation{}, Record{}, err
	}
	record, err := transactionStore.GetRecordForUpdate(ctx, reservation.Key)
	if err != nil {
		return Reservation{}, Record{}, err
	}
	reservation, err = transactionStore.GetReservation(ctx, reservationID)
	if err != nil {
		return Reservation{}, Record{}, err
	}
	return reservation, record, nil
}

func (service *Service) logExpiry(ctx context.Context, key RecordKey, reservationID ReservationID) {
	service.logOperation(ctx, OperationLog{
		Operation:     operationExpire,
		Key:           key,
		ReservationID: reservationID,
	})
}

func validateReservationID(reservationID ReservationID) error {
	if reservationID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	return nil
}

func validateReserve(request ReserveRequest) error {
	if err := validateKey(request.Key); err != nil {
		return err
	}
	if request.Quantity <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return validateReservationID(request.ReservationID)
}
