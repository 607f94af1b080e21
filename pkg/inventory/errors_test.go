package inventory

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

const (
	operationName    = "store"
	subjectName      = "record"
	codeName         = "update"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
	if !errors.Is(wrappedError, baseError) {
		test.Fatalf("expected wrapped error to unwrap to base error")
	}
	var operationError OperationError
	if !errors.As(wrappedError, &operationError) || operationError.Code() != codeName {
		test.Fatalf("expected operation error with code %q, got %+v", codeName, operationError)
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestInsufficientInventoryCarriesFigures(test *testing.T) {
	test.Parallel()
	wrapped := fmt.Errorf("checkout: %w", InsufficientInventoryError{Available: 5, Requested: 6})
	if !errors.Is(wrapped, ErrInsufficientInventory) {
		test.Fatalf("expected insufficient inventory sentinel")
	}
	insufficient, ok := AsInsufficientInventory(wrapped)
	if !ok || insufficient.Available != 5 || insufficient.Requested != 6 {
		test.Fatalf("unexpected figures %+v (%v)", insufficient, ok)
	}
	if _, ok := AsInsufficientInventory(ErrNotFound); ok {
		test.Fatalf("unrelated errors must not match")
	}
}

func TestUnavailableKeepsCause(test *testing.T) {
	test.Parallel()
	if Unavailable(nil) != nil {
		test.Fatalf("expected nil for nil cause")
	}
	err := WrapError(operationName, subjectName, codeName, Unavailable(context.DeadlineExceeded))
	if !errors.Is(err, ErrUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		test.Fatalf("expected both sentinel and cause, got %v", err)
	}
}
