package scanning

import (
	"context"
	"errors"
)

// ReceiptFields contains the values extracted from a receipt:
// the vendor name, the transaction date and the total amount.
type ReceiptFields struct {
	Vendor string  `json:"vendor"`
	Date   string  `json:"date"` // ISO 8601 (YYYY-MM-DD)
	Amount float64 `json:"amount"`
}

// Scanner extracts receipt fields from an image or PDF.
type Scanner interface {
	// Scan analyzes a receipt and extracts vendor, date and amount.
	Scan(ctx context.Context, imageData []byte, contentType string) (*ReceiptFields, error)
	// Close releases any resources held by the scanner.
	Close() error
}

var (
	// ErrAPIKeyMissing is returned when the Mindee scanner runs without a configured key.
	ErrAPIKeyMissing = errors.New("mindee api key is not configured")

	// ErrInvalidAPIKey is returned when the Mindee API rejects the configured key.
	ErrInvalidAPIKey = errors.New("mindee api key was rejected")

	// ErrQuotaExhausted is returned when the monthly page allowance is used up.
	ErrQuotaExhausted = errors.New("mindee monthly page quota exhausted")
)
