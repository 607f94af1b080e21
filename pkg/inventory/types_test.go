package inventory

import (
	"errors"
	"testing"
	"time"
)

func TestParseTier(test *testing.T) {
	test.Parallel()
	cases := []struct {
		raw      string
		expected Tier
		err      error
	}{
		{raw: "ga", expected: TierGeneralAdmission},
		{raw: " VIP ", expected: TierVIP},
		{raw: "balcony", err: ErrUnknownTier},
		{raw: "", err: ErrUnknownTier},
	}
	for _, testCase := range cases {
		tier, err := ParseTier(testCase.raw)
		if testCase.err != nil {
			if !errors.Is(err, testCase.err) {
				test.Fatalf("ParseTier(%q): expected %v, got %v", testCase.raw, testCase.err, err)
			}
			continue
		}
		if err != nil || tier != testCase.expected {
			test.Fatalf("ParseTier(%q): expected %q, got %q (%v)", testCase.raw, testCase.expected, tier, err)
		}
	}
}

func TestNewRecordKeyValidatesBothHalves(test *testing.T) {
	test.Parallel()
	key, err := NewRecordKey("  summer-fest ", "ga")
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if key.String() != "summer-fest/ga" {
		test.Fatalf("unexpected key %q", key.String())
	}
	if _, err := NewRecordKey(" ", "ga"); !errors.Is(err, ErrInvalidEventID) {
		test.Fatalf("expected invalid event id, got %v", err)
	}
	if _, err := NewRecordKey("summer-fest", "pit"); !errors.Is(err, ErrUnknownTier) {
		test.Fatalf("expected unknown tier, got %v", err)
	}
}

func TestIdentifierConstructorsRejectBlank(test *testing.T) {
	test.Parallel()
	if _, err := NewReservationID("\t"); !errors.Is(err, ErrInvalidReservationID) {
		test.Fatalf("expected invalid reservation id, got %v", err)
	}
	if _, err := NewTransactionID(""); !errors.Is(err, ErrInvalidTransactionID) {
		test.Fatalf("expected invalid transaction id, got %v", err)
	}
	if _, err := NewPrincipal(" "); !errors.Is(err, ErrAuthorizationRequired) {
		test.Fatalf("expected authorization required, got %v", err)
	}
	var zero ReservationID
	if !zero.IsZero() {
		test.Fatalf("expected zero reservation id")
	}
}

func TestMetadataJSON(test *testing.T) {
	test.Parallel()
	metadata, err := NewMetadataJSON("")
	if err != nil || metadata.String() != "{}" {
		test.Fatalf("expected empty metadata to default to {}, got %q (%v)", metadata.String(), err)
	}
	if _, err := NewMetadataJSON("{not json"); !errors.Is(err, ErrInvalidMetadataJSON) {
		test.Fatalf("expected invalid metadata, got %v", err)
	}
	var zero MetadataJSON
	if zero.String() != "{}" {
		test.Fatalf("expected zero metadata to render {}, got %q", zero.String())
	}
}

func TestNewQuantityRejectsNonPositive(test *testing.T) {
	test.Parallel()
	for _, raw := range []int64{0, -3} {
		if _, err := NewQuantity(raw); !errors.Is(err, ErrInvalidAmount) {
			test.Fatalf("NewQuantity(%d): expected invalid amount, got %v", raw, err)
		}
	}
	quantity, err := NewQuantity(4)
	if err != nil || quantity.Int64() != 4 {
		test.Fatalf("unexpected quantity %d (%v)", quantity, err)
	}
}

func TestRecordAvailability(test *testing.T) {
	test.Parallel()
	key, err := NewRecordKey("arena", "vip")
	if err != nil {
		test.Fatalf("key: %v", err)
	}
	record, err := NewRecord(key, 35, 10, time.Unix(0, 0))
	if err != nil {
		test.Fatalf("record: %v", err)
	}
	record.Sold = 30
	record.Reserved = 3
	if record.Capacity() != 45 {
		test.Fatalf("expected capacity 45, got %d", record.Capacity())
	}
	if record.PublicAvailable() != 2 {
		test.Fatalf("expected public available 2, got %d", record.PublicAvailable())
	}
	if record.ActualAvailable() != 12 {
		test.Fatalf("expected actual available 12, got %d", record.ActualAvailable())
	}
	record.Sold = 40
	if record.PublicAvailable() != 0 {
		test.Fatalf("public availability must clamp at zero, got %d", record.PublicAvailable())
	}
	if err := record.Validate(); err != nil {
		test.Fatalf("expected valid record, got %v", err)
	}
	record.Reserved = 6
	if err := record.Validate(); !errors.Is(err, ErrInvariantViolation) {
		test.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestNewRecordRejectsNegativeLimits(test *testing.T) {
	test.Parallel()
	key, err := NewRecordKey("arena", "ga")
	if err != nil {
		test.Fatalf("key: %v", err)
	}
	if _, err := NewRecord(key, -1, 0, time.Time{}); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected invalid amount for public limit, got %v", err)
	}
	if _, err := NewRecord(key, 1, -1, time.Time{}); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected invalid amount for hidden limit, got %v", err)
	}
}

func TestReservationExpiredAtBoundary(test *testing.T) {
	test.Parallel()
	expiresAt := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	reservation := Reservation{ExpiresAt: expiresAt}
	if reservation.ExpiredAt(expiresAt.Add(-time.Nanosecond)) {
		test.Fatalf("reservation must be live before its deadline")
	}
	if !reservation.ExpiredAt(expiresAt) {
		test.Fatalf("reservation must be expired at its deadline")
	}
}

func TestParseStoredEnums(test *testing.T) {
	test.Parallel()
	if _, err := ParseReservationStatus("pending"); !errors.Is(err, ErrInvalidReservationStatus) {
		test.Fatalf("expected invalid reservation status, got %v", err)
	}
	status, err := ParseReservationStatus("expired")
	if err != nil || !status.IsTerminal() {
		test.Fatalf("expected terminal expired status, got %q (%v)", status, err)
	}
	if ReservationStatusActive.IsTerminal() {
		test.Fatalf("active must not be terminal")
	}
	if _, err := ParseOperation("refund"); !errors.Is(err, ErrInvalidOperation) {
		test.Fatalf("expected invalid operation, got %v", err)
	}
}
