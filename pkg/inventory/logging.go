package inventory

import (
	"context"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing inventory operation.
type OperationLog struct {
	Operation           string
	Key                 RecordKey
	ReservationID       ReservationID
	TransactionID       TransactionID
	Quantity            Quantity
	AuthorizedBy        Principal
	Metadata            MetadataJSON
	UsedHiddenInventory bool
	Replayed            bool
	Status              string
	Error               error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithReservationTTL overrides the default hold TTL used when a caller passes none.
func WithReservationTTL(ttl time.Duration) ServiceOption {
	return func(service *Service) {
		if ttl > 0 {
			service.reservationTTL = ttl
		}
	}
}

// WithLowStockThreshold sets the public remaining count at or below which a tier is low on stock.
func WithLowStockThreshold(threshold int64) ServiceOption {
	return func(service *Service) {
		if threshold >= 0 {
			service.lowStockThreshold = threshold
		}
	}
}

// WithSweepBatchSize bounds how many expired reservations one sweep pass loads.
func WithSweepBatchSize(size int) ServiceOption {
	return func(service *Service) {
		if size > 0 {
			service.sweepBatchSize = size
		}
	}
}

// WithTransactionIDGenerator replaces the uuid generator used for increments without a caller id.
func WithTransactionIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newTransactionID = generate
		}
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
