package toast

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/restolabs/possync/internal/models"
)

// ErrMalformedOrder marks a single raw order that cannot be normalized.
// Callers skip and count it; the sync continues.
var ErrMalformedOrder = errors.New("malformed vendor order")

// RawOrder is the vendor wire shape for one order. Date fields stay as
// strings because the vendor emits several timestamp formats.
type RawOrder struct {
	GUID           string           `json:"guid"`
	OpenedDate     string           `json:"openedDate"`
	ClosedDate     string           `json:"closedDate"`
	BusinessDate   int              `json:"businessDate"` // yyyymmdd
	Voided         bool             `json:"voided"`
	Source         string           `json:"source"`
	NumberOfGuests int              `json:"numberOfGuests"`
	DiningOption   *RawDiningOption `json:"diningOption"`
	Checks         []RawCheck       `json:"checks"`
}

type RawDiningOption struct {
	Name string `json:"name"`
}

type RawCheck struct {
	GUID                string       `json:"guid"`
	Amount              float64      `json:"amount"`
	TotalAmount         float64      `json:"totalAmount"`
	TaxAmount           float64      `json:"taxAmount"`
	TotalDiscountAmount float64      `json:"totalDiscountAmount"`
	Payments            []RawPayment `json:"payments"`
}

type RawPayment struct {
	TipAmount float64 `json:"tipAmount"`
}

// Normalize maps one raw vendor order to the internal transaction shape.
// The mapping is deterministic and total: absent vendor fields get fixed
// defaults (zero amounts, opened date falls back to the business date) so
// the idempotency key stays stable across repeated fetches. A missing guid
// is the one unrecoverable case and yields ErrMalformedOrder.
func Normalize(raw RawOrder, tenantID, locationID string) (models.Transaction, error) {
	if raw.GUID == "" {
		return models.Transaction{}, fmt.Errorf("%w: missing guid", ErrMalformedOrder)
	}

	txn := models.Transaction{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		VendorRecordID: raw.GUID,
		VendorType:     models.VendorToast,
		LocationID:     locationID,
		GuestCount:     raw.NumberOfGuests,
		Voided:         raw.Voided,
	}

	if raw.Source != "" {
		src := raw.Source
		txn.Source = &src
	}
	if raw.DiningOption != nil && raw.DiningOption.Name != "" {
		name := raw.DiningOption.Name
		txn.DiningOption = &name
	}

	for _, check := range raw.Checks {
		total := check.TotalAmount
		if total == 0 {
			total = check.Amount + check.TaxAmount
		}
		txn.TotalAmount += total
		txn.TaxAmount += check.TaxAmount
		txn.DiscountAmount += check.TotalDiscountAmount
		for _, p := range check.Payments {
			txn.TipAmount += p.TipAmount
		}
	}

	if raw.BusinessDate > 0 {
		if bd, err := parseBusinessDate(raw.BusinessDate); err == nil {
			txn.BusinessDate = &bd
		}
	}

	if opened, err := parseVendorDate(raw.OpenedDate); err == nil {
		txn.OpenedAt = opened
	} else if txn.BusinessDate != nil {
		// Default: orders without an opened timestamp sort under their
		// business date.
		txn.OpenedAt = *txn.BusinessDate
	}

	if closed, err := parseVendorDate(raw.ClosedDate); err == nil {
		txn.ClosedAt = &closed
	}

	txn.Metadata = models.JSONB{
		"checkCount": len(raw.Checks),
	}

	return txn, nil
}

// parseVendorDate parses the timestamp formats the vendor is known to emit.
func parseVendorDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}

	formats := []string{
		"2006-01-02T15:04:05.000-0700",
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}

// parseBusinessDate converts the vendor's yyyymmdd integer to midnight UTC.
func parseBusinessDate(n int) (time.Time, error) {
	return time.Parse("20060102", fmt.Sprintf("%08d", n))
}
