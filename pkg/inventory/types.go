package inventory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventID identifies a ticketed event.
type EventID struct {
	value string
}

// ReservationID identifies a checkout hold (typically the checkout session id).
type ReservationID struct {
	value string
}

// TransactionID is the idempotency key of a committed sale, e.g. a payment-intent id.
type TransactionID struct {
	value string
}

// Principal identifies the operator authorizing an expansion.
type Principal struct {
	value string
}

// MetadataJSON stores arbitrary caller context.
type MetadataJSON struct {
	value string
}

// Quantity is a strictly positive seat count.
type Quantity int64

// Tier is the closed set of sellable ticket tiers.
type Tier string

const (
	TierGeneralAdmission Tier = "ga"
	TierVIP              Tier = "vip"
)

// Tiers lists every known tier in display order.
func Tiers() []Tier {
	return []Tier{TierGeneralAdmission, TierVIP}
}

// ParseTier validates a raw tier identifier.
func ParseTier(raw string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case TierGeneralAdmission:
		return TierGeneralAdmission, nil
	case TierVIP:
		return TierVIP, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, raw)
	}
}

// String returns the wire representation.
func (tier Tier) String() string {
	return string(tier)
}

// RecordKey addresses one inventory record.
type RecordKey struct {
	EventID EventID
	Tier    Tier
}

// NewRecordKey validates both halves of a record key.
func NewRecordKey(rawEventID string, rawTier string) (RecordKey, error) {
	eventID, err := NewEventID(rawEventID)
	if err != nil {
		return RecordKey{}, err
	}
	tier, err := ParseTier(rawTier)
	if err != nil {
		return RecordKey{}, err
	}
	return RecordKey{EventID: eventID, Tier: tier}, nil
}

// String renders the key as event/tier.
func (key RecordKey) String() string {
	return key.EventID.String() + "/" + key.Tier.String()
}

// NewEventID validates and normalizes an event id.
func NewEventID(raw string) (EventID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EventID{}, fmt.Errorf("%w: empty value", ErrInvalidEventID)
	}
	return EventID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id EventID) String() string {
	return id.value
}

// NewReservationID validates and normalizes a reservation id.
func NewReservationID(raw string) (ReservationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReservationID{}, fmt.Errorf("%w: empty value", ErrInvalidReservationID)
	}
	return ReservationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ReservationID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id ReservationID) IsZero() bool {
	return id.value == ""
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id TransactionID) IsZero() bool {
	return id.value == ""
}

// NewPrincipal validates an authorizing principal.
func NewPrincipal(raw string) (Principal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Principal{}, fmt.Errorf("%w: empty principal", ErrAuthorizationRequired)
	}
	return Principal{value: trimmed}, nil
}

// String returns the principal identifier.
func (principal Principal) String() string {
	return principal.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// NewQuantity validates a seat count and ensures it is strictly positive.
func NewQuantity(raw int64) (Quantity, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Quantity(raw), nil
}

// Int64 returns the raw count.
func (quantity Quantity) Int64() int64 {
	return int64(quantity)
}

// Record holds the counters of one (event, tier).
type Record struct {
	Key         RecordKey
	PublicLimit int64
	HiddenLimit int64
	Sold        int64
	Reserved    int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewRecord builds a fresh record with no sales or holds.
func NewRecord(key RecordKey, publicLimit int64, baseHiddenLimit int64, createdAt time.Time) (Record, error) {
	if publicLimit < 0 {
		return Record{}, fmt.Errorf("%w: public limit must not be negative", ErrInvalidAmount)
	}
	if baseHiddenLimit < 0 {
		return Record{}, fmt.Errorf("%w: hidden limit must not be negative", ErrInvalidAmount)
	}
	return Record{
		Key:         key,
		PublicLimit: publicLimit,
		HiddenLimit: baseHiddenLimit,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

// Capacity is the actual ceiling: public plus hidden.
func (record Record) Capacity() int64 {
	return record.PublicLimit + record.HiddenLimit
}

// PublicAvailable is what a buyer may see and hold.
func (record Record) PublicAvailable() int64 {
	return nonNegative(record.PublicLimit - record.Sold - record.Reserved)
}

// ActualAvailable includes hidden inventory.
func (record Record) ActualAvailable() int64 {
	return nonNegative(record.Capacity() - record.Sold - record.Reserved)
}

// Validate checks the counter invariant.
func (record Record) Validate() error {
	switch {
	case record.Sold < 0:
		return fmt.Errorf("%w: %s sold %d is negative", ErrInvariantViolation, record.Key, record.Sold)
	case record.Reserved < 0:
		return fmt.Errorf("%w: %s reserved %d is negative", ErrInvariantViolation, record.Key, record.Reserved)
	case record.Sold+record.Reserved > record.Capacity():
		return fmt.Errorf("%w: %s sold %d + reserved %d exceeds capacity %d", ErrInvariantViolation, record.Key, record.Sold, record.Reserved, record.Capacity())
	}
	return nil
}

// ReservationStatus defines reservation lifecycle.
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "active"
	ReservationStatusCommitted ReservationStatus = "committed"
	ReservationStatusReleased  ReservationStatus = "released"
	ReservationStatusExpired   ReservationStatus = "expired"
)

// ParseReservationStatus validates a stored status.
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	switch ReservationStatus(raw) {
	case ReservationStatusActive, ReservationStatusCommitted, ReservationStatusReleased, ReservationStatusExpired:
		return ReservationStatus(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReservationStatus, raw)
	}
}

// String returns the status name.
func (status ReservationStatus) String() string {
	return string(status)
}

// IsTerminal reports whether no further transition is allowed.
func (status ReservationStatus) IsTerminal() bool {
	return status != ReservationStatusActive
}

// Reservation is a time-boxed hold on public inventory.
type Reservation struct {
	ID            ReservationID
	Key           RecordKey
	Quantity      Quantity
	Status        ReservationStatus
	TransactionID TransactionID
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ResolvedAt    time.Time
}

// ExpiredAt reports whether the TTL has passed at the given instant.
func (reservation Reservation) ExpiredAt(now time.Time) bool {
	return !now.Before(reservation.ExpiresAt)
}

// Operation enumerates ledger operation kinds.
type Operation string

const (
	OperationDecrement Operation = "decrement"
	OperationIncrement Operation = "increment"
)

// ParseOperation validates a stored operation.
func ParseOperation(raw string) (Operation, error) {
	switch Operation(raw) {
	case OperationDecrement, OperationIncrement:
		return Operation(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, raw)
	}
}

// String returns the operation name.
func (operation Operation) String() string {
	return string(operation)
}

// TransactionRecord is an immutable line in the transaction ledger.
type TransactionRecord struct {
	TransactionID TransactionID
	Key           RecordKey
	Quantity      Quantity
	Operation     Operation
	ReservationID ReservationID
	FromHidden    int64
	Metadata      MetadataJSON
	CommittedAt   time.Time
}

// ExpansionRecord is an immutable line in the expansion ledger.
type ExpansionRecord struct {
	Sequence        int64
	Key             RecordKey
	AdditionalSpots Quantity
	AuthorizedBy    Principal
	Reason          string
	AppliedAt       time.Time
}

func nonNegative(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}
