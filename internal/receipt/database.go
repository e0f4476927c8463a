package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	uploadsBucket  = "uploads"
	expensesBucket = "expenses"
)

// ErrNotFound is returned when a record does not exist for the user
var ErrNotFound = errors.New("not found")

// DB defines the interface for database operations.
// Every lookup is scoped to a user id.
type DB interface {
	// SaveUpload saves an upload record
	SaveUpload(upload *Upload) error

	// GetUpload retrieves a user's upload by ID
	GetUpload(userID, id string) (*Upload, error)

	// ListUploads returns all uploads of a user
	ListUploads(userID string) ([]*Upload, error)

	// DeleteUpload removes an upload record
	DeleteUpload(userID, id string) error

	// SaveExpense saves an expense
	SaveExpense(expense *Expense) error

	// GetExpense retrieves a user's expense by ID
	GetExpense(userID, id string) (*Expense, error)

	// ListExpenses returns all expenses of a user
	ListExpenses(userID string) ([]*Expense, error)

	// ListAllExpenses returns the expenses of every user
	ListAllExpenses() ([]*Expense, error)

	// DeleteExpense removes an expense
	DeleteExpense(userID, id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Records are keyed by
// "<user>/<id>" so a user's rows share a prefix.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{uploadsBucket, expensesBucket} {
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

func recordKey(userID, id string) []byte {
	return []byte(userID + "/" + id)
}

func (b *BoltDB) put(bucket string, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s record: %w", bucket, err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put(key, data)
	})
}

func (b *BoltDB) get(bucket string, key []byte, v any) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucket)).Get(key)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, v)
	})
}

// remove deletes key, reporting ErrNotFound when it is absent
func (b *BoltDB) remove(bucket string, key []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt.Get(key) == nil {
			return ErrNotFound
		}
		return bkt.Delete(key)
	})
}

// scan calls fn with every value whose key starts with prefix
func (b *BoltDB) scan(bucket string, prefix []byte, fn func(v []byte) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(v); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveUpload saves an upload record
func (b *BoltDB) SaveUpload(upload *Upload) error {
	return b.put(uploadsBucket, recordKey(upload.UserID, upload.ID), upload)
}

// GetUpload retrieves a user's upload by ID
func (b *BoltDB) GetUpload(userID, id string) (*Upload, error) {
	var upload Upload
	if err := b.get(uploadsBucket, recordKey(userID, id), &upload); err != nil {
		return nil, fmt.Errorf("getting upload %s: %w", id, err)
	}
	return &upload, nil
}

// ListUploads returns all uploads of a user
func (b *BoltDB) ListUploads(userID string) ([]*Upload, error) {
	uploads := make([]*Upload, 0)
	err := b.scan(uploadsBucket, recordKey(userID, ""), func(v []byte) error {
		var upload Upload
		if err := json.Unmarshal(v, &upload); err != nil {
			return fmt.Errorf("unmarshaling upload: %w", err)
		}
		uploads = append(uploads, &upload)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uploads, nil
}

// DeleteUpload removes an upload record
func (b *BoltDB) DeleteUpload(userID, id string) error {
	if err := b.remove(uploadsBucket, recordKey(userID, id)); err != nil {
		return fmt.Errorf("deleting upload %s: %w", id, err)
	}
	return nil
}

// SaveExpense saves an expense
func (b *BoltDB) SaveExpense(expense *Expense) error {
	return b.put(expensesBucket, recordKey(expense.UserID, expense.ID), expense)
}

// GetExpense retrieves a user's expense by ID
func (b *BoltDB) GetExpense(userID, id string) (*Expense, error) {
	var expense Expense
	if err := b.get(expensesBucket, recordKey(userID, id), &expense); err != nil {
		return nil, fmt.Errorf("getting expense %s: %w", id, err)
	}
	return &expense, nil
}

// ListExpenses returns all expenses of a user
func (b *BoltDB) ListExpenses(userID string) ([]*Expense, error) {
	return b.listExpenses(recordKey(userID, ""))
}

// ListAllExpenses returns the expenses of every user
func (b *BoltDB) ListAllExpenses() ([]*Expense, error) {
	return b.listExpenses(nil)
}

func (b *BoltDB) listExpenses(prefix []byte) ([]*Expense, error) {
	expenses := make([]*Expense, 0)
	err := b.scan(expensesBucket, prefix, func(v []byte) error {
		var expense Expense
		if err := json.Unmarshal(v, &expense); err != nil {
			return fmt.Errorf("unmarshaling expense: %w", err)
		}
		expenses = append(expenses, &expense)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// DeleteExpense removes an expense
func (b *BoltDB) DeleteExpense(userID, id string) error {
	if err := b.remove(expensesBucket, recordKey(userID, id)); err != nil {
		return fmt.Errorf("deleting expense %s: %w", id, err)
	}
	return nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
