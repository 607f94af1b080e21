package inventory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

func TestSweeperExpiresHoldsInBackground(test *testing.T) {
	test.Parallel()
	service := newTestService(test, time.Now)
	key := mustKey(test, "background", inventory.TierGeneralAdmission)
	mustCreateRecord(test, service, key, 10, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := service.Reserve(ctx, inventory.ReserveRequest{Key: key, Quantity: 6, ReservationID: mustReservationID(test, "cs_bg"), TTL: 30 * time.Millisecond}); err != nil {
		test.Fatalf("reserve failed: %v", err)
	}

	observed := make(chan int, 8)
	sweeper, err := inventory.NewSweeper(service,
		inventory.WithSweepInterval(10*time.Millisecond),
		inventory.WithSweepObserver(func(expired int, err error) {
			if err == nil {
				observed <- expired
			}
		}))
	if err != nil {
		test.Fatalf("sweeper init failed: %v", err)
	}
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	select {
	case expired := <-observed:
		if expired != 1 {
			test.Fatalf("expected one expired hold, got %d", expired)
		}
	case <-time.After(2 * time.Second):
		test.Fatalf("sweeper never expired the hold")
	}
	if record := mustRecord(test, service, key); record.Reserved != 0 {
		test.Fatalf("expected hold released by sweeper, got %+v", record)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		test.Fatalf("sweeper did not stop on cancellation")
	}
}

func TestNewSweeperRequiresService(test *testing.T) {
	test.Parallel()
	if _, err := inventory.NewSweeper(nil); !errors.Is(err, inventory.ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config, got %v", err)
	}
}
