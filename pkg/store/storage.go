package store

import (
	"encoding/binary"
	"errors"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrTransactionRO = errors.New("transaction is read-only")
)

// Storage is the interface for the underlying key-value store
type Storage interface {
	// Begin starts a new transaction
	Begin(writable bool) (Transaction, error)

	// Close closes the storage
	Close() error

	// Sync flushes writes to disk
	Sync() error
}

// Transaction represents a database transaction with snapshot isolation
type Transaction interface {
	Get(table Table, key []byte) ([]byte, error)
	Set(table Table, key, value []byte) error

	// Scan iterates the keys of table that start with prefix, in key
	// order. A nil prefix scans the whole table.
	Scan(table Table, prefix []byte) (Iterator, error)

	Commit() error
	Rollback() error
}

// Iterator iterates over key-value pairs
type Iterator interface {
	Next() bool

	// Key returns the current key without the table prefix
	Key() []byte

	Value() ([]byte, error)
	Close() error
}

// Table namespaces keys in the store
type Table byte

const (
	// TableMeta holds store identity and geometry
	TableMeta Table = iota

	// TablePages maps a page id to its aggregate filter
	TablePages

	// TableStats maps a page id to its statistics
	TableStats

	// TableRecords maps page id + record index to the record
	TableRecords
)

func (t Table) String() string {
	switch t {
	case TableMeta:
		return "meta"
	case TablePages:
		return "pages"
	case TableStats:
		return "stats"
	case TableRecords:
		return "records"
	default:
		return "unknown"
	}
}

// TablePrefix returns a byte prefix for a table to namespace keys
func TablePrefix(table Table) []byte {
	return []byte{byte(table)}
}

// PrefixKey adds a table prefix to a key
func PrefixKey(table Table, key []byte) []byte {
	prefix := TablePrefix(table)
	result := make([]byte, len(prefix)+len(key))
	copy(result, prefix)
	copy(result[len(prefix):], key)
	return result
}

// PageKey encodes a page id so that keys sort in id order.
func PageKey(page int) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(page))
}

// RecordKey encodes page id and record index.
func RecordKey(page, index int) []byte {
	return binary.BigEndian.AppendUint32(PageKey(page), uint32(index))
}

// ParsePageKey is the inverse of PageKey, and also reads the page id of a
// record key.
func ParsePageKey(key []byte) (int, bool) {
	if len(key) < 4 {
		return 0, false
	}
	return int(binary.BigEndian.Uint32(key)), true
}
