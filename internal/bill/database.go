package bill

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

const (
	billBucket     = "bills"
	settingsBucket = "settings"
	usageBucket    = "mindee_usage"
)

// Setting keys stored in the settings bucket/table.
const (
	settingMindeeKey  = "mindee_api_key"
	settingCategories = "categories"
)

// DB defines the persistence operations the service needs. Implemented by
// BoltDB and SQLiteDB, selected at startup.
type DB interface {
	// SaveBill inserts or updates a bill.
	SaveBill(bill *Bill) error

	// GetBill retrieves a bill by ID.
	GetBill(id string) (*Bill, error)

	// ListBills returns all bills.
	ListBills() ([]*Bill, error)

	// DeleteBill removes a bill.
	DeleteBill(id string) error

	// GetSetting returns the value for key, or "" when unset.
	GetSetting(key string) (string, error)

	// PutSetting stores a setting value.
	PutSetting(key, value string) error

	// UsageFor returns the Mindee pages consumed in the given month (MM-YYYY).
	UsageFor(month string) (int, error)

	// IncrementUsage adds one consumed page to the month and returns the new count.
	IncrementUsage(month string) (int, error)

	// Close closes the database.
	Close() error
}

// BoltDB implements DB on a bbolt file.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (creating if needed) a bolt database at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{billBucket, settingsBucket, usageBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) SaveBill(bill *Bill) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(bill)
		if err != nil {
			return fmt.Errorf("marshaling bill: %w", err)
		}
		return tx.Bucket([]byte(billBucket)).Put([]byte(bill.ID), data)
	})
}

func (b *BoltDB) GetBill(id string) (*Bill, error) {
	var bill *Bill
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(billBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("bill not found: %s", id)
		}
		return json.Unmarshal(data, &bill)
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

func (b *BoltDB) ListBills() ([]*Bill, error) {
	bills := make([]*Bill, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(billBucket)).ForEach(func(k, v []byte) error {
			var bill Bill
			if err := json.Unmarshal(v, &bill); err != nil {
				return fmt.Errorf("unmarshaling bill: %w", err)
			}
			bills = append(bills, &bill)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return bills, nil
}

func (b *BoltDB) DeleteBill(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(billBucket)).Delete([]byte(id))
	})
}

func (b *BoltDB) GetSetting(key string) (string, error) {
	var value string
	err := b.db.View(func(tx *bbolt.Tx) error {
		value = string(tx.Bucket([]byte(settingsBucket)).Get([]byte(key)))
		return nil
	})
	return value, err
}

func (b *BoltDB) PutSetting(key, value string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Put([]byte(key), []byte(value))
	})
}

func (b *BoltDB) UsageFor(month string) (int, error) {
	var count int
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(usageBucket)).Get([]byte(month))
		if data == nil {
			return nil
		}
		n, err := strconv.Atoi(string(data))
		if err != nil {
			return fmt.Errorf("parsing usage for %s: %w", month, err)
		}
		count = n
		return nil
	})
	return count, err
}

func (b *BoltDB) IncrementUsage(month string) (int, error) {
	var count int
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(usageBucket))
		if data := bucket.Get([]byte(month)); data != nil {
			n, err := strconv.Atoi(string(data))
			if err != nil {
				return fmt.Errorf("parsing usage for %s: %w", month, err)
			}
			count = n
		}
		count++
		return bucket.Put([]byte(month), []byte(strconv.Itoa(count)))
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}
