package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

func TestDecrementDrawsPublicThenHidden(test *testing.T) {
	test.Parallel()
	service := newTestService(test, newManualClock().Now)
	key := mustKey(test, "harbor-nights", inventory.TierGeneralAdmission)
	mustCreateRecord(test, service, key, 35, 10)

	first := sell(test, service, key, 30, "pi_first")
	if first.FromPublic != 30 || first.FromHidden != 0 || first.UsedHiddenInventory {
		test.Fatalf("expected a public-only sale, got %+v", first)
	}

	second := sell(test, service, key, 10, "pi_second")
	if second.FromPublic != 5 || second.FromHidden != 5 || !second.UsedHiddenInventory {
		test.Fatalf("expected 5 public and 5 hidden, got %+v", second)
	}
	if second.Record.Sold != 40 {
		test.Fatalf("expected sold 40, got %d", second.Record.Sold)
	}

	_, err := service.Decrement(context.Background(), inventory.DecrementRequest{
		Key:           key,
		Quantity:      6,
		TransactionID: mustTransactionID(test, "pi_third"),
	})
	insufficient, ok := inventory.AsInsufficientInventory(err)
	if !ok {
		test.Fatalf("expected insufficient inventory, got %v", err)
	}
	if insufficient.Available != 5 || insufficient.Requested != 6 {
		test.Fatalf("expected available 5 requested 6, got %+v", insufficient)
	}
	if record := mustRecord(test, service, key); record.Sold != 40 {
		test.Fatalf("failed decrement must not change sold, got %d", record.Sold)
	}
}

func TestDecrementReplayIsAbsorbed(test *testing.T) {
	test.Parallel()
	service := newTestService(test, newManualClock().Now)
	key := mustKey(test, "replay", inventory.TierVIP)
	mustCreateRecord(test, service, key, 10, 0)

	sell(test, service, key, 3, "pi_retry")
	replay := sell(test, service, key, 3, "pi_retry")
	if !replay.Replayed {
		test.Fatalf("expected second call to be a replay, got %+v", replay)
	}
	if record := mustRecord(test, service, key); record.Sold != 3 {
		test.Fatalf("replay must not sell twice, sold %d", record.Sold)
	}

	_, err := service.Decrement(context.Background(), inventory.DecrementRequest{
		Key:           key,
		Quantity:      4,
		TransactionID: mustTransactionID(test, "pi_retry"),
	})
	if !errors.Is(err, inventory.ErrTransactionConflict) {
		test.Fatalf("expected transaction conflict, got %v", err)
	}
	lines, err := service.ListTransactions(context.Background(), key, 0)
	if err != nil {
		test.Fatalf("list transactions: %v", err)
	}
	if len(lines) != 1 {
		test.Fatalf("expected exactly one ledger line, got %d", len(lines))
	}
}

func TestDecrementValidation(test *testing.T) {
	test.Parallel()
	service := newTestService(test, newManualClock().Now)
	key := mustKey(test, "validation", inventory.TierGeneralAdmission)
	mustCreateRecord(test, service, key, 10, 0)
	ctx := context.Background()

	_, err := service.Decrement(ctx, inventory.DecrementRequest{Key: key, Quantity: 0, TransactionID: mustTransactionID(test, "pi_zero")})
	if !errors.Is(err, inventory.ErrInvalidAmount) {
		test.Fatalf("expected invalid amount, got %v", err)
	}
	_, err = service.Decrement(ctx, inventory.DecrementRequest{Key: key, Quantity: 1})
	if !errors.Is(err, inventory.ErrInvalidTransactionID) {
		test.Fatalf("expected invalid transaction id, got %v", err)
	}
	_, err = service.Decrement(ctx, inventory.DecrementRequest{
		Key:           mustKey(test, "missing", inventory.TierGeneralAdmission),
		Quantity:      1,
		TransactionID: mustTransactionID(test, "pi_missing"),
	})
	if !errors.Is(err, inventory.ErrNotFound) {
		test.Fatalf("expected not found, got %v", err)
	}
	_, err = service.Decrement(ctx, inventory.DecrementRequest{
		Key:           inventory.RecordKey{EventID: key.EventID, Tier: inventory.Tier("balcony")},
		Quantity:      1,
		TransactionID: mustTransactionID(test, "pi_tier"),
	})
	if !errors.Is(err, inventory.ErrUnknownTier) {
		test.Fatalf("expected unknown tier, got %v", err)
	}
}

func TestIncrementRestoresSoldSeats(test *testing.T) {
	test.Parallel()
	service := newTestService(test, newManualClock().Now, inventory.WithTransactionIDGenerator(func() string { return "fixed" }))
	key := mustKey(test, "refunds", inventory.TierGeneralAdmission)
	mustCreateRecord(test, service, key, 10, 0)
	sell(test, service, key, 6, "pi_sale")
	ctx := context.Background()

	result, err := service.Increment(ctx, inventory.IncrementRequest{Key: key, Quantity: 2, Reason: "refund"})
	if err != nil {
		test.Fatalf("increment failed: %v", err)
	}
	if result.Record.Sold != 4 || result.Record.PublicAvailable() != 6 {
		test.Fatalf("unexpected record after increment: %+v", result.Record)
	}
	if result.TransactionID.String() != "increment:fixed" {
		test.Fatalf("expected generated id, got %q", result.TransactionID.String())
	}

	lines, err := service.ListTransactions(ctx, key, 1)
	if err != nil {
		test.Fatalf("list transactions: %v", err)
	}
	if len(lines) != 1 || lines[0].Operation != inventory.OperationIncrement || lines[0].Metadata.String() != `{"reason":"refund"}` {
		test.Fatalf("unexpected newest ledger line: %+v", lines)
	}

	_, err = service.Increment(ctx, inventory.IncrementRequest{Key: key, Quantity: 5, TransactionID: mustTransactionID(test, "refund-too-many")})
	if !errors.Is(err, inventory.ErrInvalidIncrement) {
		test.Fatalf("expected invalid increment, got %v", err)
	}
	_, err = service.Increment(ctx, inventory.IncrementRequest{Key: key, Quantity: 1, TransactionID: mustTransactionID(test, "pi_sale")})
	if !errors.Is(err, inventory.ErrTransactionConflict) {
		test.Fatalf("reusing a sale id for a refund must conflict, got %v", err)
	}
}

func TestValidateForCheckout(test *testing.T) {
	test.Parallel()
	service := newTestService(test, newManualClock().Now)
	key := mustKey(test, "checkout", inventory.TierVIP)
	mustCreateRecord(test, service, key, 5, 20)
	ctx := context.Background()

	validation, err := service.ValidateForCheckout(ctx, key, 5)
	if err != nil || !validation.Valid || validation.Available != 5 {
		test.Fatalf("expected valid checkout, got %+v (%v)", validation, err)
	}
	sell(test, service, key, 3, "pi_some")
	validation, err = service.ValidateForCheckout(ctx, key, 3)
	if err != nil || validation.Valid || validation.Available != 2 || validation.Reason != "insufficient_inventory" {
		test.Fatalf("expected insufficient, got %+v (%v)", validation, err)
	}
	sell(test, service, key, 2, "pi_rest")
	validation, err = service.ValidateForCheckout(ctx, key, 1)
	if err != nil || validation.Valid || validation.Reason != "sold_out" {
		test.Fatalf("hidden inventory must not make the public checkout valid, got %+v (%v)", validation, err)
	}
	if _, err := service.ValidateForCheckout(ctx, key, 0); !errors.Is(err, inventory.ErrInvalidAmount) {
		test.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestCreateRecordRejectsDuplicates(test *testing.T) {
	test.Parallel()
	service := newTestService(test, newManualClock().Now)
	key := mustKey(test, "setup", inventory.TierGeneralAdmission)
	mustCreateRecord(test, service, key, 10, 2)
	if _, err := service.CreateRecord(context.Background(), key, 10, 2); !errors.Is(err, inventory.ErrRecordExists) {
		test.Fatalf("expected record exists, got %v", err)
	}
	if _, err := service.CreateRecord(context.Background(), mustKey(test, "setup", inventory.TierVIP), -1, 0); !errors.Is(err, inventory.ErrInvalidAmount) {
		test.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	if _, err := inventory.NewService(nil, newManualClock().Now); !errors.Is(err, inventory.ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config for nil store, got %v", err)
	}
}
