package oplog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

func TestLogOperationWritesStructuredFields(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := New(zap.New(core))
	key, err := inventory.NewRecordKey("gala", "vip")
	require.NoError(test, err)
	transactionID, err := inventory.NewTransactionID("pi_9")
	require.NoError(test, err)

	logger.LogOperation(context.Background(), inventory.OperationLog{
		Operation:           "decrement",
		Key:                 key,
		TransactionID:       transactionID,
		Quantity:            3,
		UsedHiddenInventory: true,
		Status:              "ok",
	})

	entries := logs.All()
	require.Len(test, entries, 1)
	require.Equal(test, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	require.Equal(test, "decrement", fields["operation"])
	require.Equal(test, "gala", fields["event_id"])
	require.Equal(test, "vip", fields["tier"])
	require.Equal(test, "pi_9", fields["transaction_id"])
	require.Equal(test, int64(3), fields["quantity"])
	require.Equal(test, true, fields["used_hidden_inventory"])
	require.NotContains(test, fields, "reservation_id")
}

func TestLogOperationLevels(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := New(zap.New(core))

	logger.LogOperation(context.Background(), inventory.OperationLog{
		Operation: "reserve",
		Status:    "error",
		Error:     inventory.InsufficientInventoryError{Available: 1, Requested: 2},
	})
	logger.LogOperation(context.Background(), inventory.OperationLog{
		Operation: "commit",
		Status:    "error",
		Error:     inventory.Unavailable(errors.New("connection reset")),
	})

	entries := logs.All()
	require.Len(test, entries, 2)
	require.Equal(test, zapcore.InfoLevel, entries[0].Level)
	require.Equal(test, zapcore.WarnLevel, entries[1].Level)
	require.Contains(test, entries[1].ContextMap()["error"], "connection reset")
}

func TestNewWithNilLoggerDiscards(test *testing.T) {
	test.Parallel()
	require.NotPanics(test, func() {
		New(nil).LogOperation(context.Background(), inventory.OperationLog{Operation: "expire"})
	})
}
