package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLBackend stores records in a SQL table. It works with any database/sql
// driver; the modernc.org/sqlite driver is registered by this package.
//
// Expiry is stored as Unix milliseconds so comparisons are portable:
//
//	CREATE TABLE liveview_sessions (
//	    id         TEXT PRIMARY KEY,
//	    data       BLOB NOT NULL,
//	    expires_at BIGINT NOT NULL,
//	    updated_at BIGINT NOT NULL
//	);
type SQLBackend struct {
	db              *sql.DB
	tableName       string
	dialect         SQLDialect
	cleanupInterval time.Duration
	logger          *slog.Logger
	closed          atomic.Bool
	done            chan struct{}
}

// SQLDialect represents the SQL dialect for query generation.
type SQLDialect int

const (
	// DialectSQLite uses ? placeholders.
	DialectSQLite SQLDialect = iota
	// DialectPostgreSQL uses $1, $2 placeholders.
	DialectPostgreSQL
)

// SQLBackendOption configures SQLBackend behavior.
type SQLBackendOption func(*sqlBackendConfig)

type sqlBackendConfig struct {
	tableName       string
	dialect         SQLDialect
	cleanupInterval time.Duration
	logger          *slog.Logger
}

// WithSQLTableName sets the table name.
// Default: "liveview_sessions".
func WithSQLTableName(name string) SQLBackendOption {
	return func(c *sqlBackendConfig) {
		c.tableName = name
	}
}

// WithSQLDialect sets the SQL dialect.
// Default: DialectSQLite.
func WithSQLDialect(dialect SQLDialect) SQLBackendOption {
	return func(c *sqlBackendConfig) {
		c.dialect = dialect
	}
}

// WithSQLCleanupInterval sets how often expired records are deleted.
// Default: 5 minutes.
func WithSQLCleanupInterval(d time.Duration) SQLBackendOption {
	return func(c *sqlBackendConfig) {
		c.cleanupInterval = d
	}
}

// WithSQLLogger sets the logger for background cleanup failures.
// Default: slog.Default().
func WithSQLLogger(l *slog.Logger) SQLBackendOption {
	return func(c *sqlBackendConfig) {
		c.logger = l
	}
}

// OpenSQLite opens a SQLite database with the pragmas a session table needs
// under concurrent access. ":memory:" is pinned to one connection because
// every connection would otherwise get its own empty database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewSQLBackend creates a SQL-backed session backend and starts its expiry
// cleanup loop. Call CreateTable once before use if the table may not exist.
func NewSQLBackend(db *sql.DB, opts ...SQLBackendOption) *SQLBackend {
	cfg := &sqlBackendConfig{
		tableName:       "liveview_sessions",
		dialect:         DialectSQLite,
		cleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	b := &SQLBackend{
		db:              db,
		tableName:       cfg.tableName,
		dialect:         cfg.dialect,
		cleanupInterval: cfg.cleanupInterval,
		logger:          cfg.logger.With("component", "sql_backend"),
		done:            make(chan struct{}),
	}

	go b.cleanupLoop()
	return b
}

// ph returns the placeholder for the nth parameter.
func (s *SQLBackend) ph(n int) string {
	if s.dialect == DialectPostgreSQL {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLBackend) upsertQuery() string {
	return fmt.Sprintf(`
		INSERT INTO %s (id, data, expires_at, updated_at)
		VALUES (%s, %s, %s, %s)
		ON CONFLICT (id) DO UPDATE SET
			data = excluded.data,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, s.tableName, s.ph(1), s.ph(2), s.ph(3), s.ph(4))
}

// CreateTable creates the session table and its expiry index if missing.
func (s *SQLBackend) CreateTable(ctx context.Context) error {
	blob := "BLOB"
	if s.dialect == DialectPostgreSQL {
		blob = "BYTEA"
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			data %s NOT NULL,
			expires_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)
	`, s.tableName, blob)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return err
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expires ON %s(expires_at)`, s.tableName, s.tableName)
	_, err := s.db.ExecContext(ctx, index)
	return err
}

// Save stores a record with an expiration time.
func (s *SQLBackend) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrBackendClosed
	}

	_, err := s.db.ExecContext(ctx, s.upsertQuery(), sessionID, data, expiresAt.UnixMilli(), time.Now().UnixMilli())
	return err
}

// Load retrieves a record if it exists and hasn't expired.
func (s *SQLBackend) Load(ctx context.Context, sessionID string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrBackendClosed
	}

	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = %s AND expires_at > %s`,
		s.tableName, s.ph(1), s.ph(2))

	var data []byte
	err := s.db.QueryRowContext(ctx, query, sessionID, time.Now().UnixMilli()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Delete removes a record.
func (s *SQLBackend) Delete(ctx context.Context, sessionID string) error {
	if s.closed.Load() {
		return ErrBackendClosed
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = %s`, s.tableName, s.ph(1))
	_, err := s.db.ExecContext(ctx, query, sessionID)
	return err
}

// Touch updates the expiration time for a record.
func (s *SQLBackend) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrBackendClosed
	}

	query := fmt.Sprintf(`UPDATE %s SET expires_at = %s, updated_at = %s WHERE id = %s`,
		s.tableName, s.ph(1), s.ph(2), s.ph(3))
	_, err := s.db.ExecContext(ctx, query, expiresAt.UnixMilli(), time.Now().UnixMilli(), sessionID)
	return err
}

// SaveAll saves multiple records in one transaction.
func (s *SQLBackend) SaveAll(ctx context.Context, records map[string]Entry) error {
	if s.closed.Load() {
		return ErrBackendClosed
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.upsertQuery())
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for id, e := range records {
		if _, err := stmt.ExecContext(ctx, id, e.Data, e.ExpiresAt.UnixMilli(), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close stops the cleanup loop.
// The database handle is not closed since it may be shared.
func (s *SQLBackend) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	return nil
}

func (s *SQLBackend) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.done:
			return
		}
	}
}

// cleanup deletes expired records. Failures are logged and retried on the
// next tick.
func (s *SQLBackend) cleanup() error {
	if s.closed.Load() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= %s`, s.tableName, s.ph(1))
	res, err := s.db.ExecContext(ctx, query, time.Now().UnixMilli())
	if err != nil {
		s.logger.Warn("failed to delete expired sessions",
			"table", s.tableName,
			"error", err)
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("deleted expired sessions", "count", n)
	}
	return nil
}
