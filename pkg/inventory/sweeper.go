package inventory

import (
	"context"
	"fmt"
	"time"
)

// SweepObserver is told the outcome of every sweep pass.
type SweepObserver func(expired int, err error)

// Sweeper owns the background loop that expires lapsed reservations.
type Sweeper struct {
	service  *Service
	interval time.Duration
	observer SweepObserver
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval overrides the tick interval.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(sweeper *Sweeper) {
		if interval > 0 {
			sweeper.interval = interval
		}
	}
}

// WithSweepObserver registers a callback for sweep outcomes.
func WithSweepObserver(observer SweepObserver) SweeperOption {
	return func(sweeper *Sweeper) {
		sweeper.observer = observer
	}
}

// NewSweeper wires a Sweeper over service.
func NewSweeper(service *Service, options ...SweeperOption) (*Sweeper, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: service dependency is nil", ErrInvalidServiceConfig)
	}
	sweeper := &Sweeper{service: service, interval: defaultSweepInterval}
	for _, option := range options {
		if option != nil {
			option(sweeper)
		}
	}
	return sweeper, nil
}

// Run sweeps on every tick until ctx is cancelled. Sweep errors are reported
// to the observer and do not stop the loop.
func (sweeper *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sweeper.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		expired, err := sweeper.service.SweepExpired(ctx)
		if sweeper.observer != nil && (expired > 0 || err != nil) {
			sweeper.observer(expired, err)
		}
	}
}
