package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const (
	defaultMindeeBaseURL = "https://api.mindee.net"

	// receiptPredictPath is the Mindee Receipt OCR (ReceiptV5) endpoint.
	receiptPredictPath = "/v1/products/mindee/expense_receipts/v5/predict"

	// DefaultMonthlyLimit is the Mindee free tier page allowance.
	DefaultMonthlyLimit = 250
)

// KeyStore provides the Mindee API key at call time, so a key saved through
// the configuration endpoint takes effect without a restart.
type KeyStore interface {
	APIKey() (string, error)
}

// UsageStore tracks Mindee page consumption per month. Months are keyed
// MM-YYYY, so the counter resets implicitly when the month rolls over.
type UsageStore interface {
	UsageFor(month string) (int, error)
	IncrementUsage(month string) (int, error)
}

// Mindee implements Scanner against the Mindee Receipt OCR API.
type Mindee struct {
	baseURL      string
	keys         KeyStore
	usage        UsageStore
	monthlyLimit int
	client       *http.Client
	now          func() time.Time
}

// NewMindee creates a Mindee scanner. A monthlyLimit of zero disables
// quota enforcement.
func NewMindee(keys KeyStore, usage UsageStore, monthlyLimit int) *Mindee {
	return NewMindeeWithBaseURL(keys, usage, monthlyLimit, defaultMindeeBaseURL)
}

// NewMindeeWithBaseURL creates a Mindee scanner against a custom endpoint,
// used by tests to point at a stub API.
func NewMindeeWithBaseURL(keys KeyStore, usage UsageStore, monthlyLimit int, baseURL string) *Mindee {
	return &Mindee{
		baseURL:      baseURL,
		keys:         keys,
		usage:        usage,
		monthlyLimit: monthlyLimit,
		client: &http.Client{
			// Large or complex receipts can take a while server side.
			Timeout: 60 * time.Second,
		},
		now: time.Now,
	}
}

// mindeeResponse mirrors the slice of the ReceiptV5 prediction we consume.
// Absent fields arrive as JSON null, which leaves the zero value in place.
type mindeeResponse struct {
	Document struct {
		Inference struct {
			Prediction struct {
				SupplierName struct {
					Value string `json:"value"`
				} `json:"supplier_name"`
				Date struct {
					Value string `json:"value"`
				} `json:"date"`
				TotalAmount struct {
					Value float64 `json:"value"`
				} `json:"total_amount"`
			} `json:"prediction"`
		} `json:"inference"`
	} `json:"document"`
}

// MonthKey returns the usage bucket key for t (MM-YYYY).
func MonthKey(t time.Time) string {
	return t.Format("01-2006")
}

// Scan uploads the receipt to Mindee and maps the prediction to fields.
//
// The quota is checked before any network traffic and the usage counter is
// incremented only after a successfully parsed response.
func (m *Mindee) Scan(ctx context.Context, imageData []byte, contentType string) (*ReceiptFields, error) {
	key, err := m.keys.APIKey()
	if err != nil {
		return nil, fmt.Errorf("loading api key: %w", err)
	}
	if key == "" {
		return nil, ErrAPIKeyMissing
	}

	month := MonthKey(m.now())
	if m.monthlyLimit > 0 {
		used, err := m.usage.UsageFor(month)
		if err != nil {
			return nil, fmt.Errorf("loading usage: %w", err)
		}
		if used >= m.monthlyLimit {
			return nil, ErrQuotaExhausted
		}
	}

	pngData, _, err := prepareImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("document", "receipt.png")
	if err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(pngData); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.baseURL+receiptPredictPath, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+key)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling mindee API: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidAPIKey
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrQuotaExhausted
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("mindee API error (status %d): %s", resp.StatusCode, string(detail))
	}

	var parsed mindeeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding mindee response: %w", err)
	}

	if _, err := m.usage.IncrementUsage(month); err != nil {
		return nil, fmt.Errorf("recording usage: %w", err)
	}

	prediction := parsed.Document.Inference.Prediction
	fields := &ReceiptFields{
		Vendor: prediction.SupplierName.Value,
		Date:   prediction.Date.Value,
		Amount: prediction.TotalAmount.Value,
	}
	normalizeFields(fields)
	return fields, nil
}

// ValidateKey checks a candidate key against the API without consuming a
// page: an empty-body predict request is rejected with 400 when the token is
// accepted and 401/403 when it is not.
func (m *Mindee) ValidateKey(ctx context.Context, key string) error {
	if key == "" {
		return ErrAPIKeyMissing
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.baseURL+receiptPredictPath, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+key)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling mindee API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrInvalidAPIKey
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("mindee API error (status %d)", resp.StatusCode)
	}
	return nil
}

// Usage reports consumed and remaining pages for the current month.
func (m *Mindee) Usage() (used, remaining int, err error) {
	used, err = m.usage.UsageFor(MonthKey(m.now()))
	if err != nil {
		return 0, 0, fmt.Errorf("loading usage: %w", err)
	}
	remaining = m.monthlyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return used, remaining, nil
}

// Close implements Scanner. The HTTP client holds no resources to release.
func (m *Mindee) Close() error {
	return nil
}
