// Package oplog writes inventory operation logs through zap.
package oplog

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

const messageOperation = "inventory operation"

// Logger implements inventory.OperationLogger.
type Logger struct {
	logger *zap.Logger
}

// New wraps logger; a nil logger discards entries.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

// LogOperation writes one structured entry. Failures log at warn, except
// insufficient inventory and expired holds, which are routine outcomes.
func (oplog *Logger) LogOperation(_ context.Context, entry inventory.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.Key.EventID.String() != "" {
		fields = append(fields,
			zap.String("event_id", entry.Key.EventID.String()),
			zap.String("tier", entry.Key.Tier.String()))
	}
	if !entry.ReservationID.IsZero() {
		fields = append(fields, zap.String("reservation_id", entry.ReservationID.String()))
	}
	if !entry.TransactionID.IsZero() {
		fields = append(fields, zap.String("transaction_id", entry.TransactionID.String()))
	}
	if entry.Quantity > 0 {
		fields = append(fields, zap.Int64("quantity", entry.Quantity.Int64()))
	}
	if entry.AuthorizedBy.String() != "" {
		fields = append(fields, zap.String("authorized_by", entry.AuthorizedBy.String()))
	}
	if entry.UsedHiddenInventory {
		fields = append(fields, zap.Bool("used_hidden_inventory", true))
	}
	if entry.Replayed {
		fields = append(fields, zap.Bool("replayed", true))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	oplog.logger.Log(level(entry), messageOperation, fields...)
}

func level(entry inventory.OperationLog) zapcore.Level {
	switch {
	case entry.Error == nil:
		return zapcore.InfoLevel
	case isBusinessOutcome(entry.Error):
		return zapcore.InfoLevel
	default:
		return zapcore.WarnLevel
	}
}

func isBusinessOutcome(err error) bool {
	_, insufficient := inventory.AsInsufficientInventory(err)
	return insufficient || errors.Is(err, inventory.ErrReservationExpired)
}
