package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// StockStatus is the coarse availability classification of an event.
type StockStatus string

const (
	StockAvailable StockStatus = "available"
	StockLow       StockStatus = "low-stock"
	StockSoldOut   StockStatus = "sold-out"
)

// TierStatus is the view of one tier taken from a single record snapshot.
type TierStatus struct {
	Tier            Tier
	PublicLimit     int64
	ActualLimit     int64
	Sold            int64
	Reserved        int64
	PublicAvailable int64
	ActualAvailable int64
	IsPublicSoldOut bool
	IsActualSoldOut bool
	IsLowStock      bool
}

// InventoryStatus aggregates every tier of an event.
type InventoryStatus struct {
	EventID         EventID
	Tiers           []TierStatus
	PublicLimits    map[Tier]int64
	ActualLimits    map[Tier]int64
	Sold            map[Tier]int64
	PublicAvailable map[Tier]int64
	ActualAvailable map[Tier]int64
	IsPublicSoldOut bool
	IsActualSoldOut bool
	Status          StockStatus
}

// Status reports the availability of one event.
func (service *Service) Status(ctx context.Context, eventID EventID) (InventoryStatus, error) {
	if eventID.String() == "" {
		return InventoryStatus{}, fmt.Errorf("%w: empty value", ErrInvalidEventID)
	}
	records, err := service.store.ListRecords(ctx, eventID)
	if err != nil {
		return InventoryStatus{}, err
	}
	if len(records) == 0 {
		return InventoryStatus{}, fmt.Errorf("%w: event %s", ErrNotFound, eventID.String())
	}
	return service.summarize(eventID, records), nil
}

// StatusAll reports every known event, ordered by event id.
func (service *Service) StatusAll(ctx context.Context) ([]InventoryStatus, error) {
	eventIDs, err := service.store.ListEventIDs(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(eventIDs, func(left, right int) bool {
		return eventIDs[left].String() < eventIDs[right].String()
	})
	statuses := make([]InventoryStatus, 0, len(eventIDs))
	for _, eventID := range eventIDs {
		status, err := service.Status(ctx, eventID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (service *Service) summarize(eventID EventID, records []Record) InventoryStatus {
	sort.Slice(records, func(left, right int) bool {
		return tierRank(records[left].Key.Tier) < tierRank(records[right].Key.Tier)
	})
	status := InventoryStatus{
		EventID:         eventID,
		Tiers:           make([]TierStatus, 0, len(records)),
		PublicLimits:    make(map[Tier]int64, len(records)),
		ActualLimits:    make(map[Tier]int64, len(records)),
		Sold:            make(map[Tier]int64, len(records)),
		PublicAvailable: make(map[Tier]int64, len(records)),
		ActualAvailable: make(map[Tier]int64, len(records)),
		IsPublicSoldOut: true,
		IsActualSoldOut: true,
	}
	anyLowStock := false
	for _, record := range records {
		tier := TierStatus{
			Tier:            record.Key.Tier,
			PublicLimit:     record.PublicLimit,
			ActualLimit:     record.Capacity(),
			Sold:            record.Sold,
			Reserved:        record.Reserved,
			PublicAvailable: record.PublicAvailable(),
			ActualAvailable: record.ActualAvailable(),
		}
		tier.IsPublicSoldOut = tier.PublicAvailable == 0
		tier.IsActualSoldOut = tier.ActualAvailable == 0
		tier.IsLowStock = tier.PublicAvailable <= service.lowStockThreshold
		anyLowStock = anyLowStock || tier.IsLowStock
		status.IsPublicSoldOut = status.IsPublicSoldOut && tier.IsPublicSoldOut
		status.IsActualSoldOut = status.IsActualSoldOut && tier.IsActualSoldOut

		status.Tiers = append(status.Tiers, tier)
		status.PublicLimits[tier.Tier] = tier.PublicLimit
		status.ActualLimits[tier.Tier] = tier.ActualLimit
		status.Sold[tier.Tier] = tier.Sold
		status.PublicAvailable[tier.Tier] = tier.PublicAvailable
		status.ActualAvailable[tier.Tier] = tier.ActualAvailable
	}
	switch {
	case status.IsPublicSoldOut && status.IsActualSoldOut:
		status.Status = StockSoldOut
	case anyLowStock:
		status.Status = StockLow
	default:
		status.Status = StockAvailable
	}
	return status
}

func tierRank(tier Tier) int {
	for index, known := range Tiers() {
		if known == tier {
			return index
		}
	}
	return len(Tiers())
}
