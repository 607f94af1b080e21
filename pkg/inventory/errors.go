package inventory

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the inventory service.
var (
	ErrNotFound                 = errors.New("inventory record not found")
	ErrUnknownTier              = errors.New("unknown tier")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInsufficientInventory    = errors.New("insufficient inventory")
	ErrAuthorizationRequired    = errors.New("authorization required")
	ErrReservationNotFound      = errors.New("reservation not found")
	ErrReservationExpired       = errors.New("reservation expired")
	ErrReservationClosed        = errors.New("reservation closed")
	ErrReservationExists        = errors.New("reservation already exists")
	ErrRecordExists             = errors.New("inventory record already exists")
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrDuplicateTransaction     = errors.New("duplicate transaction id")
	ErrTransactionConflict      = errors.New("transaction id reused with different parameters")
	ErrInvalidIncrement         = errors.New("increment exceeds sold quantity")
	ErrUnavailable              = errors.New("inventory store unavailable")
	ErrInvariantViolation       = errors.New("inventory invariant violated")
	ErrInvalidEventID           = errors.New("invalid event id")
	ErrInvalidReservationID     = errors.New("invalid reservation id")
	ErrInvalidTransactionID     = errors.New("invalid transaction id")
	ErrInvalidMetadataJSON      = errors.New("invalid metadata json")
	ErrInvalidReservationStatus = errors.New("invalid reservation status")
	ErrInvalidOperation         = errors.New("invalid operation")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
)

// InsufficientInventoryError carries the figures a checkout needs to render "only N remaining".
type InsufficientInventoryError struct {
	Available int64
	Requested int64
}

// Error returns the formatted error message.
func (insufficient InsufficientInventoryError) Error() string {
	return fmt.Sprintf("%v: available %d, requested %d", ErrInsufficientInventory, insufficient.Available, insufficient.Requested)
}

// Unwrap returns ErrInsufficientInventory.
func (insufficient InsufficientInventoryError) Unwrap() error {
	return ErrInsufficientInventory
}

// AsInsufficientInventory extracts the availability figures from err.
func AsInsufficientInventory(err error) (InsufficientInventoryError, bool) {
	var insufficient InsufficientInventoryError
	if errors.As(err, &insufficient) {
		return insufficient, true
	}
	return InsufficientInventoryError{}, false
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// Unavailable marks an infrastructure failure as retryable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
