package inventory

import (
	"context"
	"time"
)

// ReservationTransition is a compare-and-swap on a reservation's status.
type ReservationTransition struct {
	From          ReservationStatus
	To            ReservationStatus
	TransactionID TransactionID
	ResolvedAt    time.Time
}

// Store is the persistence contract used by Service.
//
// GetRecordForUpdate takes the record's exclusive section for the rest of the
// enclosing WithTx call. UpdateReservationStatus must fail with
// ErrReservationClosed when the stored status is not transition.From.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateRecord(ctx context.Context, record Record) error
	GetRecord(ctx context.Context, key RecordKey) (Record, error)
	GetRecordForUpdate(ctx context.Context, key RecordKey) (Record, error)
	UpdateRecord(ctx context.Context, record Record) error
	ListRecords(ctx context.Context, eventID EventID) ([]Record, error)
	ListEventIDs(ctx context.Context) ([]EventID, error)

	InsertTransaction(ctx context.Context, transaction TransactionRecord) error
	GetTransaction(ctx context.Context, transactionID TransactionID) (TransactionRecord, error)
	ListTransactions(ctx context.Context, key RecordKey, limit int) ([]TransactionRecord, error)

	InsertExpansion(ctx context.Context, expansion ExpansionRecord) (int64, error)
	ListExpansions(ctx context.Context, key RecordKey) ([]ExpansionRecord, error)

	CreateReservation(ctx context.Context, reservation Reservation) error
	GetReservation(ctx context.Context, reservationID ReservationID) (Reservation, error)
	UpdateReservationStatus(ctx context.Context, reservationID ReservationID, transition ReservationTransition) error
	ListExpiredReservations(ctx context.Context, at time.Time, limit int) ([]Reservation, error)
}
