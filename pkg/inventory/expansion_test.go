package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

func TestExpandRaisesOnlyHiddenCapacity(test *testing.T) {
	test.Parallel()
	service := newTestService(test, newManualClock().Now)
	key := mustKey(test, "expand", inventory.TierGeneralAdmission)
	mustCreateRecord(test, service, key, 35, 10)
	sell(test, service, key, 45, "pi_all")
	ctx := context.Background()
	operator := mustPrincipal(test, "ops@venue.example")

	var previousSequence int64
	for index, spots := range []inventory.Quantity{5, 3} {
		result, err := service.Expand(ctx, inventory.ExpandRequest{
			Key:             key,
			AdditionalSpots: spots,
			AuthorizedBy:    operator,
			Reason:          "fire marshal approved",
		})
		if err != nil {
			test.Fatalf("expand %d failed: %v", index, err)
		}
		if result.Record.PublicLimit != 35 {
			test.Fatalf("public limit must never change, got %d", result.Record.PublicLimit)
		}
		if result.Record.PublicAvailable() != 0 {
			test.Fatalf("expansion must stay invisible publicly, got %d", result.Record.PublicAvailable())
		}
		if result.Expansion.Sequence <= previousSequence {
			test.Fatalf("expansion sequence must increase, got %d after %d", result.Expansion.Sequence, previousSequence)
		}
		previousSequence = result.Expansion.Sequence
	}

	record := mustRecord(test, service, key)
	if record.HiddenLimit != 18 || record.ActualAvailable() != 8 {
		test.Fatalf("unexpected record after expansions: %+v", record)
	}
	sale := sell(test, service, key, 8, "pi_expanded")
	if sale.FromHidden != 8 {
		test.Fatalf("expanded seats must sell from hidden inventory, got %+v", sale)
	}

	expansions, err := service.ListExpansions(ctx, key)
	if err != nil {
		test.Fatalf("list expansions: %v", err)
	}
	if len(expansions) != 2 || expansions[0].AdditionalSpots != 5 || expansions[1].AuthorizedBy != operator {
		test.Fatalf("unexpected expansion ledger: %+v", expansions)
	}
}

func TestExpandValidation(test *testing.T) {
	test.Parallel()
	service := newTestService(test, newManualClock().Now)
	key := mustKey(test, "expand-invalid", inventory.TierVIP)
	mustCreateRecord(test, service, key, 10, 0)
	ctx := context.Background()

	_, err := service.Expand(ctx, inventory.ExpandRequest{Key: key, AdditionalSpots: 0, AuthorizedBy: mustPrincipal(test, "ops")})
	if !errors.Is(err, inventory.ErrInvalidAmount) {
		test.Fatalf("expected invalid amount, got %v", err)
	}
	_, err = service.Expand(ctx, inventory.ExpandRequest{Key: key, AdditionalSpots: 2})
	if !errors.Is(err, inventory.ErrAuthorizationRequired) {
		test.Fatalf("expected authorization required, got %v", err)
	}
	_, err = service.Expand(ctx, inventory.ExpandRequest{Key: mustKey(test, "nowhere", inventory.TierVIP), AdditionalSpots: 2, AuthorizedBy: mustPrincipal(test, "ops")})
	if !errors.Is(err, inventory.ErrNotFound) {
		test.Fatalf("expected not found, got %v", err)
	}
	if record := mustRecord(test, service, key); record.HiddenLimit != 0 {
		test.Fatalf("rejected expansions must not change the record, got %+v", record)
	}
}
