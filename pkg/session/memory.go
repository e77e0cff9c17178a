package session

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps serialized records in process memory. Records survive a
// client reconnect but not a process restart; use RedisBackend, SQLBackend or
// S3Backend for that.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]*storedRecord
	closed  bool
	done    chan struct{}
}

type storedRecord struct {
	data      []byte
	expiresAt time.Time
}

// MemoryBackendOption configures MemoryBackend behavior.
type MemoryBackendOption func(*memoryBackendConfig)

type memoryBackendConfig struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval sets how often expired records are removed.
// Default: 1 minute.
func WithCleanupInterval(d time.Duration) MemoryBackendOption {
	return func(c *memoryBackendConfig) {
		c.cleanupInterval = d
	}
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend(opts ...MemoryBackendOption) *MemoryBackend {
	cfg := &memoryBackendConfig{
		cleanupInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	b := &MemoryBackend{
		records: make(map[string]*storedRecord),
		done:    make(chan struct{}),
	}

	go b.cleanupLoop(cfg.cleanupInterval)
	return b
}

// Save stores a record with an expiration time.
func (m *MemoryBackend) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrBackendClosed
	}

	m.records[sessionID] = &storedRecord{
		data:      append([]byte(nil), data...),
		expiresAt: expiresAt,
	}
	return nil
}

// Load retrieves a record if it exists and hasn't expired.
func (m *MemoryBackend) Load(ctx context.Context, sessionID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrBackendClosed
	}

	r, ok := m.records[sessionID]
	if !ok || time.Now().After(r.expiresAt) {
		return nil, nil
	}
	return append([]byte(nil), r.data...), nil
}

// Delete removes a record.
func (m *MemoryBackend) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrBackendClosed
	}

	delete(m.records, sessionID)
	return nil
}

// Touch updates the expiration time for a record.
func (m *MemoryBackend) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrBackendClosed
	}

	if r, ok := m.records[sessionID]; ok {
		r.expiresAt = expiresAt
	}
	return nil
}

// SaveAll saves multiple records under a single lock.
func (m *MemoryBackend) SaveAll(ctx context.Context, records map[string]Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrBackendClosed
	}

	for id, e := range records {
		m.records[id] = &storedRecord{
			data:      append([]byte(nil), e.Data...),
			expiresAt: e.ExpiresAt,
		}
	}
	return nil
}

// Close stops the cleanup loop and drops all records.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	close(m.done)
	m.records = nil
	return nil
}

// Len returns the number of stored records, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryBackend) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryBackend) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	now := time.Now()
	for id, r := range m.records {
		if now.After(r.expiresAt) {
			delete(m.records, id)
		}
	}
}
