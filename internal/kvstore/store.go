package kvstore

import (
	"errors"
	"fmt"
)

// Common errors for store operations
var (
	// ErrQuotaExceeded is returned when a write would exceed the store quota
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrClosed is returned when a closed store is used
	ErrClosed = errors.New("store is closed")

	// ErrUnknownDriver is returned by Open for an unsupported driver name
	ErrUnknownDriver = errors.New("unknown store driver")
)

// Store is a persistent string key-value substrate.
type Store interface {
	// Get returns the value for key. A missing key is reported as ok=false
	// with a nil error.
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
	Keys() ([]string, error)
	// Size returns the encoded byte length of the value stored under key.
	Size(key string) (int64, error)
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Open creates a store for the named driver. path is ignored by the memory
// driver; it is a directory for the file driver and a database file for
// the SQLite driver.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(0), nil
	case DriverFile:
		return NewFileStore(path)
	case DriverSQLite:
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
