package session

import (
	"context"
	"errors"
	"time"
)

// Backend defines the interface for session persistence backends.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Save persists a serialized session record. The expiresAt parameter
	// indicates when the record should expire. An existing record for the
	// same id is overwritten.
	Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error

	// Load retrieves a record by ID.
	// Returns (nil, nil) if the record doesn't exist or has expired.
	Load(ctx context.Context, sessionID string) ([]byte, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Touch updates the expiration time without rewriting the record.
	// Touching a missing record is not an error.
	Touch(ctx context.Context, sessionID string, expiresAt time.Time) error

	// SaveAll persists multiple records, atomically where the backend
	// supports it. Used during shutdown.
	SaveAll(ctx context.Context, records map[string]Entry) error

	// Close releases any resources held by the backend.
	Close() error
}

// Entry is a serialized record with its expiry.
type Entry struct {
	Data      []byte
	ExpiresAt time.Time
}

// ErrBackendClosed is returned when operations are attempted on a closed backend.
var ErrBackendClosed = errors.New("session: backend closed")
