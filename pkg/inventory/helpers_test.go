package inventory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/inventory/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

var testEpoch = time.Date(2026, time.June, 12, 19, 30, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: testEpoch}
}

func (clock *manualClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *manualClock) Advance(duration time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(duration)
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []inventory.OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry inventory.OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) operations() []string {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	operations := make([]string, 0, len(logger.entries))
	for _, entry := range logger.entries {
		operations = append(operations, entry.Operation)
	}
	return operations
}

func newTestService(test *testing.T, now func() time.Time, options ...inventory.ServiceOption) *inventory.Service {
	test.Helper()
	service, err := inventory.NewService(memstore.New(), now, options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustKey(test *testing.T, eventID string, tier inventory.Tier) inventory.RecordKey {
	test.Helper()
	key, err := inventory.NewRecordKey(eventID, tier.String())
	if err != nil {
		test.Fatalf("invalid key: %v", err)
	}
	return key
}

func mustTransactionID(test *testing.T, raw string) inventory.TransactionID {
	test.Helper()
	transactionID, err := inventory.NewTransactionID(raw)
	if err != nil {
		test.Fatalf("invalid transaction id: %v", err)
	}
	return transactionID
}

func mustReservationID(test *testing.T, raw string) inventory.ReservationID {
	test.Helper()
	reservationID, err := inventory.NewReservationID(raw)
	if err != nil {
		test.Fatalf("invalid reservation id: %v", err)
	}
	return reservationID
}

func mustPrincipal(test *testing.T, raw string) inventory.Principal {
	test.Helper()
	principal, err := inventory.NewPrincipal(raw)
	if err != nil {
		test.Fatalf("invalid principal: %v", err)
	}
	return principal
}

func mustMetadata(test *testing.T, raw string) inventory.MetadataJSON {
	test.Helper()
	metadata, err := inventory.NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("invalid metadata: %v", err)
	}
	return metadata
}

func mustCreateRecord(test *testing.T, service *inventory.Service, key inventory.RecordKey, publicLimit int64, hiddenLimit int64) inventory.Record {
	test.Helper()
	record, err := service.CreateRecord(context.Background(), key, publicLimit, hiddenLimit)
	if err != nil {
		test.Fatalf("create record failed: %v", err)
	}
	return record
}

func mustRecord(test *testing.T, service *inventory.Service, key inventory.RecordKey) inventory.Record {
	test.Helper()
	record, err := service.Record(context.Background(), key)
	if err != nil {
		test.Fatalf("record lookup failed: %v", err)
	}
	return record
}

func sell(test *testing.T, service *inventory.Service, key inventory.RecordKey, quantity int64, transactionID string) inventory.DecrementResult {
	test.Helper()
	result, err := service.Decrement(context.Background(), inventory.DecrementRequest{
		Key:           key,
		Quantity:      inventory.Quantity(quantity),
		TransactionID: mustTransactionID(test, transactionID),
	})
	if err != nil {
		test.Fatalf("decrement %d failed: %v", quantity, err)
	}
	return result
}
