package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// InventoryRecord mirrors the inventory_records table.
type InventoryRecord struct {
	EventID     string    `gorm:"primaryKey"`
	Tier        string    `gorm:"primaryKey"`
	PublicLimit int64     `gorm:"not null"`
	HiddenLimit int64     `gorm:"not null"`
	Sold        int64     `gorm:"not null;default:0"`
	Reserved    int64     `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (InventoryRecord) TableName() string { return "inventory_records" }

// Reservation mirrors the reservations table.
type Reservation struct {
	ReservationID string     `gorm:"primaryKey"`
	EventID       string     `gorm:"not null;index:idx_reservations_record,priority:1"`
	Tier          string     `gorm:"not null;index:idx_reservations_record,priority:2"`
	Quantity      int64      `gorm:"not null"`
	Status        string     `gorm:"not null;index:idx_reservations_status_expires,priority:1"`
	TransactionID *string    `gorm:""`
	CreatedAt     time.Time  `gorm:"not null"`
	ExpiresAt     time.Time  `gorm:"not null;index:idx_reservations_status_expires,priority:2"`
	ResolvedAt    *time.Time `gorm:""`
}

func (Reservation) TableName() string { return "reservations" }

// InventoryTransaction mirrors the inventory_transactions table.
type InventoryTransaction struct {
	TransactionID string         `gorm:"primaryKey"`
	EventID       string         `gorm:"not null;index:idx_inventory_transactions_record,priority:1"`
	Tier          string         `gorm:"not null;index:idx_inventory_transactions_record,priority:2"`
	Quantity      int64          `gorm:"not null"`
	Operation     string         `gorm:"not null"`
	ReservationID *string        `gorm:""`
	FromHidden    int64          `gorm:"not null;default:0"`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null"`
	CommittedAt   time.Time      `gorm:"not null;index:idx_inventory_transactions_record,priority:3"`
}

func (InventoryTransaction) TableName() string { return "inventory_transactions" }

// InventoryExpansion mirrors the inventory_expansions table.
type InventoryExpansion struct {
	Sequence        int64     `gorm:"primaryKey;autoIncrement"`
	EventID         string    `gorm:"not null;index:idx_inventory_expansions_record,priority:1"`
	Tier            string    `gorm:"not null;index:idx_inventory_expansions_record,priority:2"`
	AdditionalSpots int64     `gorm:"not null"`
	AuthorizedBy    string    `gorm:"not null"`
	Reason          string    `gorm:"not null;default:''"`
	AppliedAt       time.Time `gorm:"not null"`
}

func (InventoryExpansion) TableName() string { return "inventory_expansions" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&InventoryRecord{}, &Reservation{}, &InventoryTransaction{}, &InventoryExpansion{}}
}
