package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

func TestConcurrentDecrementsNeverOversell(test *testing.T) {
	test.Parallel()
	service := newTestService(test, time.Now)
	key := mustKey(test, "stampede", inventory.TierGeneralAdmission)
	const (
		publicLimit = 40
		hiddenLimit = 7
		quantity    = 3
		buyers      = 64
	)
	mustCreateRecord(test, service, key, publicLimit, hiddenLimit)

	results := make(chan error, buyers)
	var waitGroup sync.WaitGroup
	for index := 0; index < buyers; index++ {
		index := index
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := service.Decrement(context.Background(), inventory.DecrementRequest{
				Key:           key,
				Quantity:      quantity,
				TransactionID: mustTransactionID(test, fmt.Sprintf("pi_%03d", index)),
			})
			results <- err
		}()
	}
	waitGroup.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, inventory.ErrInsufficientInventory):
		default:
			test.Fatalf("unexpected error: %v", err)
		}
	}
	expected := (publicLimit + hiddenLimit) / quantity
	if succeeded != expected {
		test.Fatalf("expected %d successful sales, got %d", expected, succeeded)
	}
	record := mustRecord(test, service, key)
	if record.Sold != int64(expected*quantity) {
		test.Fatalf("expected sold %d, got %d", expected*quantity, record.Sold)
	}
	if err := record.Validate(); err != nil {
		test.Fatalf("invariant broken: %v", err)
	}
}

func TestConcurrentReservationsRespectPublicLimit(test *testing.T) {
	test.Parallel()
	service := newTestService(test, time.Now)
	key := mustKey(test, "hold-rush", inventory.TierVIP)
	mustCreateRecord(test, service, key, 25, 100)

	const buyers = 40
	results := make(chan error, buyers)
	var waitGroup sync.WaitGroup
	for index := 0; index < buyers; index++ {
		index := index
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := service.Reserve(context.Background(), inventory.ReserveRequest{
				Key:           key,
				Quantity:      1,
				ReservationID: mustReservationID(test, fmt.Sprintf("cs_%03d", index)),
			})
			results <- err
		}()
	}
	waitGroup.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 25 {
		test.Fatalf("expected 25 holds, got %d", succeeded)
	}
	if record := mustRecord(test, service, key); record.Reserved != 25 || record.PublicAvailable() != 0 {
		test.Fatalf("unexpected record %+v", record)
	}
}

func TestConcurrentCommitAndSweepResolveOnce(test *testing.T) {
	test.Parallel()
	clock := newManualClock()
	service := newTestService(test, clock.Now)
	key := mustKey(test, "race", inventory.TierGeneralAdmission)
	mustCreateRecord(test, service, key, 100, 0)
	ctx := context.Background()

	const holds = 30
	for index := 0; index < holds; index++ {
		index := index
		_, err := service.Reserve(ctx, inventory.ReserveRequest{
			Key:           key,
			Quantity:      2,
			ReservationID: mustReservationID(test, fmt.Sprintf("cs_race_%02d", index)),
			TTL:           time.Minute,
		})
		if err != nil {
			test.Fatalf("reserve failed: %v", err)
		}
	}
	clock.Advance(time.Minute)

	commitErrors := make(chan error, holds)
	var waitGroup sync.WaitGroup
	waitGroup.Add(1)
	go func() {
		defer waitGroup.Done()
		if _, err := service.SweepExpired(ctx); err != nil {
			commitErrors <- err
		}
	}()
	for index := 0; index < holds; index++ {
		index := index
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, err := service.Commit(ctx,
				mustReservationID(test, fmt.Sprintf("cs_race_%02d", index)),
				mustTransactionID(test, fmt.Sprintf("pi_race_%02d", index)),
				inventory.MetadataJSON{})
			if !errors.Is(err, inventory.ErrReservationExpired) {
				commitErrors <- fmt.Errorf("hold %d: expected expiry, got %v", index, err)
			}
		}()
	}
	waitGroup.Wait()
	close(commitErrors)
	for err := range commitErrors {
		test.Fatal(err)
	}

	record := mustRecord(test, service, key)
	if record.Sold != 0 || record.Reserved != 0 {
		test.Fatalf("every lapsed hold must be freed exactly once, got %+v", record)
	}
}
