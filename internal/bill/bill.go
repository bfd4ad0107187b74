package bill

import "time"

// Bill represents a single bill entry.
type Bill struct {
	ID            string    `json:"id"`
	Vendor        string    `json:"vendor"`
	Date          time.Time `json:"date"`
	Amount        int       `json:"amount"` // Amount in cents
	Category      string    `json:"category,omitempty"`
	ImageFilename string    `json:"image_filename,omitempty"`
	ContentType   string    `json:"content_type,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Summary holds the dashboard statistics for one calendar month.
type Summary struct {
	Month       string `json:"month"` // YYYY-MM
	BillCount   int    `json:"bill_count"`
	TotalAmount int    `json:"total_amount"` // Total in cents
	TopCategory string `json:"top_category,omitempty"`
}

// MindeeUsage reports page consumption against the monthly allowance.
type MindeeUsage struct {
	Month     string `json:"month"` // MM-YYYY
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// DefaultCategories returns the category set new installations start with.
func DefaultCategories() []string {
	return []string{
		"Mortgage",
		"Food",
		"Gas",
		"Mechanic",
		"Work Clothes",
		"Materials",
		"Miscellaneous",
		"Doctor",
		"Equipment & Rent",
		"Cash",
	}
}
