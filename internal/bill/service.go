package bill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jstrand/bill-tracker/internal/scanning"
	"github.com/jstrand/bill-tracker/internal/suggest"
)

// IDGenerator generates unique IDs for bills.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

// KeyValidator tests a Mindee API key against the live API.
// Implemented by scanning.Mindee.
type KeyValidator interface {
	ValidateKey(ctx context.Context, key string) error
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// MindeeStore adapts DB to the scanning package's key and usage stores.
type MindeeStore struct {
	db DB
}

// NewMindeeStore wraps a DB for use by a scanning.Mindee client.
func NewMindeeStore(db DB) *MindeeStore {
	return &MindeeStore{db: db}
}

func (m *MindeeStore) APIKey() (string, error) {
	return m.db.GetSetting(settingMindeeKey)
}

func (m *MindeeStore) UsageFor(month string) (int, error) {
	return m.db.UsageFor(month)
}

func (m *MindeeStore) IncrementUsage(month string) (int, error) {
	return m.db.IncrementUsage(month)
}

// Filter narrows ListBills results. Zero values mean no constraint.
type Filter struct {
	Year  int
	Start time.Time
	End   time.Time
	Query string
}

// Service implements the bill tracker operations.
type Service struct {
	db          DB
	scanner     scanning.Scanner
	storage     Storage
	validator   KeyValidator
	ids         IDGenerator
	clock       TimeSource
	vendors     *suggest.Trie
	mindeeLimit int
}

// NewService creates a Service with UUID IDs and the system clock, and warms
// the vendor autocomplete index from the existing bills.
func NewService(db DB, scanner scanning.Scanner, storage Storage, validator KeyValidator, mindeeLimit int) *Service {
	return NewServiceWithDeps(db, scanner, storage, validator, mindeeLimit, uuidGenerator{}, systemClock{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing.
func NewServiceWithDeps(db DB, scanner scanning.Scanner, storage Storage, validator KeyValidator, mindeeLimit int, ids IDGenerator, clock TimeSource) *Service {
	s := &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		validator:   validator,
		ids:         ids,
		clock:       clock,
		vendors:     suggest.New(),
		mindeeLimit: mindeeLimit,
	}
	s.warmSuggestions()
	return s
}

func (s *Service) warmSuggestions() {
	bills, err := s.db.ListBills()
	if err != nil {
		slog.Warn("Failed to load bills for autocomplete", "error", err)
		return
	}
	for _, b := range bills {
		s.vendors.Insert(b.Vendor)
	}
}

var (
	filenameSpecials   = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameWhitespace = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up phone-generated upload names.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	base = filenameSpecials.ReplaceAllString(base, "")
	base = filenameWhitespace.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	const maxLen = 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// ScanReceipt stores the uploaded image, runs the configured scanner and
// returns a draft bill populated with the extracted fields. The draft is NOT
// persisted; the user edits it and confirms via CreateBill. When scanning
// fails the stored image is removed again.
func (s *Service) ScanReceipt(ctx context.Context, filename string, data []byte, contentType string) (*Bill, error) {
	id := s.ids.Generate()

	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	fields, err := s.scanner.Scan(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.storage.Delete(savedName)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	date, err := time.Parse("2006-01-02", fields.Date)
	if err != nil {
		date = s.clock.Now()
	}

	return &Bill{
		ID:            id,
		Vendor:        fields.Vendor,
		Date:          date,
		Amount:        int(math.Round(fields.Amount * 100)),
		ImageFilename: savedName,
		ContentType:   contentType,
	}, nil
}

// CreateBill validates and persists a bill, typically a scan draft the user
// has reviewed, and indexes its vendor for autocomplete.
func (s *Service) CreateBill(bill *Bill) error {
	bill.Vendor = strings.TrimSpace(bill.Vendor)
	if bill.Vendor == "" {
		return fmt.Errorf("vendor is required")
	}
	if bill.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if bill.Date.IsZero() {
		return fmt.Errorf("date is required")
	}

	if bill.ID == "" {
		bill.ID = s.ids.Generate()
	}

	now := s.clock.Now()
	bill.CreatedAt = now
	bill.UpdatedAt = now

	if err := s.db.SaveBill(bill); err != nil {
		return fmt.Errorf("saving bill: %w", err)
	}

	s.vendors.Insert(bill.Vendor)
	return nil
}

// GetBill retrieves a bill by ID.
func (s *Service) GetBill(id string) (*Bill, error) {
	bill, err := s.db.GetBill(id)
	if err != nil {
		return nil, fmt.Errorf("getting bill: %w", err)
	}
	return bill, nil
}

// ListBills returns bills matching the filter, newest first. Bills on the
// same day sort by amount descending, then vendor.
func (s *Service) ListBills(filter Filter) ([]*Bill, error) {
	bills, err := s.db.ListBills()
	if err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	matched := make([]*Bill, 0, len(bills))
	for _, b := range bills {
		if filter.Year != 0 && b.Date.Year() != filter.Year {
			continue
		}
		if !filter.Start.IsZero() && b.Date.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && b.Date.After(filter.End) {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(b.Vendor), query) &&
			!strings.Contains(strings.ToLower(b.Category), query) {
			continue
		}
		matched = append(matched, b)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Date.Equal(matched[j].Date) {
			return matched[i].Date.After(matched[j].Date)
		}
		if matched[i].Amount != matched[j].Amount {
			return matched[i].Amount > matched[j].Amount
		}
		return matched[i].Vendor < matched[j].Vendor
	})

	return matched, nil
}

// DeleteBill removes a bill and its receipt image. A failed image delete is
// logged but does not block removing the record.
func (s *Service) DeleteBill(id string) error {
	bill, err := s.db.GetBill(id)
	if err != nil {
		return fmt.Errorf("getting bill for deletion: %w", err)
	}

	if bill.ImageFilename != "" {
		if err := s.storage.Delete(bill.ImageFilename); err != nil {
			slog.Warn("Failed to delete receipt image", "filename", bill.ImageFilename, "error", err)
		}
	}

	if err := s.db.DeleteBill(id); err != nil {
		return fmt.Errorf("deleting bill: %w", err)
	}
	return nil
}

// GetBillImage returns the receipt image for a bill.
func (s *Service) GetBillImage(id string) ([]byte, string, error) {
	bill, err := s.db.GetBill(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting bill: %w", err)
	}
	if bill.ImageFilename == "" {
		return nil, "", fmt.Errorf("bill has no receipt image")
	}

	data, err := s.storage.Get(bill.ImageFilename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt image: %w", err)
	}
	return data, bill.ContentType, nil
}

// Summary computes the dashboard statistics for the current month.
func (s *Service) Summary() (*Summary, error) {
	bills, err := s.db.ListBills()
	if err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}

	now := s.clock.Now()
	summary := &Summary{Month: now.Format("2006-01")}

	categoryTotals := make(map[string]int)
	for _, b := range bills {
		if b.Date.Year() != now.Year() || b.Date.Month() != now.Month() {
			continue
		}
		summary.BillCount++
		summary.TotalAmount += b.Amount
		if b.Category != "" {
			categoryTotals[b.Category] += b.Amount
		}
	}

	top, topTotal := "", 0
	for category, total := range categoryTotals {
		if total > topTotal || (total == topTotal && category < top) {
			top, topTotal = category, total
		}
	}
	summary.TopCategory = top

	return summary, nil
}

// Suggestions returns vendor autocomplete matches for the query.
func (s *Service) Suggestions(query string) []string {
	return s.vendors.Suggestions(query, suggest.DefaultLimit)
}

// Categories returns the configured category list, falling back to defaults.
func (s *Service) Categories() ([]string, error) {
	raw, err := s.db.GetSetting(settingCategories)
	if err != nil {
		return nil, fmt.Errorf("reading categories: %w", err)
	}
	if raw == "" {
		return DefaultCategories(), nil
	}

	var categories []string
	if err := json.Unmarshal([]byte(raw), &categories); err != nil {
		return nil, fmt.Errorf("parsing categories: %w", err)
	}
	return categories, nil
}

// SetCategories replaces the category list.
func (s *Service) SetCategories(categories []string) error {
	cleaned := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c == "" {
			return fmt.Errorf("category names cannot be empty")
		}
		cleaned = append(cleaned, c)
	}
	if len(cleaned) == 0 {
		return fmt.Errorf("at least one category is required")
	}

	raw, err := json.Marshal(cleaned)
	if err != nil {
		return fmt.Errorf("encoding categories: %w", err)
	}
	if err := s.db.PutSetting(settingCategories, string(raw)); err != nil {
		return fmt.Errorf("saving categories: %w", err)
	}
	return nil
}

// SetMindeeKey persists the Mindee API key. Validation is a separate,
// explicit action (TestMindeeKey), matching the Save / Test API Key split.
func (s *Service) SetMindeeKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("api key cannot be empty")
	}
	if err := s.db.PutSetting(settingMindeeKey, key); err != nil {
		return fmt.Errorf("saving api key: %w", err)
	}
	return nil
}

// MindeeKey reports whether a key is configured, returning a masked form.
func (s *Service) MindeeKey() (masked string, configured bool, err error) {
	key, err := s.db.GetSetting(settingMindeeKey)
	if err != nil {
		return "", false, fmt.Errorf("reading api key: %w", err)
	}
	if key == "" {
		return "", false, nil
	}
	return maskKey(key), true, nil
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

// TestMindeeKey validates a key against the live API. An empty key tests the
// stored one.
func (s *Service) TestMindeeKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		stored, err := s.db.GetSetting(settingMindeeKey)
		if err != nil {
			return fmt.Errorf("reading api key: %w", err)
		}
		key = stored
	}
	if key == "" {
		return scanning.ErrAPIKeyMissing
	}
	if s.validator == nil {
		return fmt.Errorf("key validation is not available")
	}
	return s.validator.ValidateKey(ctx, key)
}

// MindeeUsage reports page consumption for the current month.
func (s *Service) MindeeUsage() (*MindeeUsage, error) {
	month := scanning.MonthKey(s.clock.Now())
	used, err := s.db.UsageFor(month)
	if err != nil {
		return nil, fmt.Errorf("reading usage: %w", err)
	}

	remaining := s.mindeeLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return &MindeeUsage{
		Month:     month,
		Used:      used,
		Limit:     s.mindeeLimit,
		Remaining: remaining,
	}, nil
}
