package bill

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteDB implements DB on a SQLite file via database/sql.
type SQLiteDB struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bills (
	id TEXT PRIMARY KEY,
	vendor TEXT NOT NULL,
	date TEXT NOT NULL,
	amount_cents INTEGER NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	image_filename TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS mindee_usage (
	month TEXT PRIMARY KEY,
	pages INTEGER NOT NULL DEFAULT 0
);
`

// NewSQLiteDB opens (creating if needed) a SQLite database at path and
// ensures the schema exists.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) SaveBill(bill *Bill) error {
	_, err := s.db.Exec(`
		INSERT INTO bills (id, vendor, date, amount_cents, category, image_filename, content_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			vendor = excluded.vendor,
			date = excluded.date,
			amount_cents = excluded.amount_cents,
			category = excluded.category,
			image_filename = excluded.image_filename,
			content_type = excluded.content_type,
			updated_at = excluded.updated_at`,
		bill.ID,
		bill.Vendor,
		bill.Date.Format(time.RFC3339),
		bill.Amount,
		bill.Category,
		bill.ImageFilename,
		bill.ContentType,
		bill.CreatedAt.Format(time.RFC3339),
		bill.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving bill: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetBill(id string) (*Bill, error) {
	row := s.db.QueryRow(`
		SELECT id, vendor, date, amount_cents, category, image_filename, content_type, created_at, updated_at
		FROM bills WHERE id = ?`, id)

	bill, err := scanBillRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bill not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return bill, nil
}

func (s *SQLiteDB) ListBills() ([]*Bill, error) {
	rows, err := s.db.Query(`
		SELECT id, vendor, date, amount_cents, category, image_filename, content_type, created_at, updated_at
		FROM bills`)
	if err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}
	defer rows.Close()

	bills := make([]*Bill, 0)
	for rows.Next() {
		bill, err := scanBillRow(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}
	return bills, nil
}

func (s *SQLiteDB) DeleteBill(id string) error {
	if _, err := s.db.Exec(`DELETE FROM bills WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting bill: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteDB) PutSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteDB) UsageFor(month string) (int, error) {
	var pages int
	err := s.db.QueryRow(`SELECT pages FROM mindee_usage WHERE month = ?`, month).Scan(&pages)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading usage for %s: %w", month, err)
	}
	return pages, nil
}

func (s *SQLiteDB) IncrementUsage(month string) (int, error) {
	_, err := s.db.Exec(`
		INSERT INTO mindee_usage (month, pages) VALUES (?, 1)
		ON CONFLICT(month) DO UPDATE SET pages = pages + 1`, month)
	if err != nil {
		return 0, fmt.Errorf("incrementing usage for %s: %w", month, err)
	}
	return s.UsageFor(month)
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// scanBillRow reads one bill from a row scanner, parsing the stored
// RFC 3339 timestamps.
func scanBillRow(row interface{ Scan(dest ...any) error }) (*Bill, error) {
	var bill Bill
	var date, createdAt, updatedAt string
	err := row.Scan(
		&bill.ID,
		&bill.Vendor,
		&date,
		&bill.Amount,
		&bill.Category,
		&bill.ImageFilename,
		&bill.ContentType,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if bill.Date, err = time.Parse(time.RFC3339, date); err != nil {
		return nil, fmt.Errorf("parsing bill date: %w", err)
	}
	if bill.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing bill created_at: %w", err)
	}
	if bill.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing bill updated_at: %w", err)
	}
	return &bill, nil
}
