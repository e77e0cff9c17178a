package session

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/live-view/liveview-backend/pkg/render"
)

// Error types for session management.
var (
	// ErrNotFound is returned when a session doesn't exist.
	ErrNotFound = errors.New("session: not found")

	// ErrInvalidToken is returned when a resume token is malformed or does
	// not match its session.
	ErrInvalidToken = errors.New("session: invalid resume token")

	// ErrMaxSessionsReached is returned when the session limit is reached.
	ErrMaxSessionsReached = errors.New("session: maximum session limit reached")

	// ErrStoreStopped is returned when operations are attempted after Shutdown.
	ErrStoreStopped = errors.New("session: store is stopped")
)

// Reason explains why a session was removed from the store.
type Reason int

const (
	ReasonExplicit     Reason = iota // Client closed or server destroyed it
	ReasonIdle                       // No activity within IdleTimeout
	ReasonGraceExpired               // Not resumed within GracePeriod
	ReasonEvicted                    // Detached session dropped from memory over MaxDetachedSessions
)

// String returns the string representation of the Reason.
func (r Reason) String() string {
	switch r {
	case ReasonExplicit:
		return "explicit"
	case ReasonIdle:
		return "idle"
	case ReasonGraceExpired:
		return "grace_expired"
	case ReasonEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// StoreConfig configures the session store.
type StoreConfig struct {
	// GracePeriod is how long a detached session remains resumable.
	// Default: 5 minutes.
	GracePeriod time.Duration

	// IdleTimeout destroys sessions with no activity for this long,
	// connected or not. A negative value disables the idle reaper.
	// Default: 30 minutes.
	IdleTimeout time.Duration

	// CleanupInterval is how often the idle reaper runs.
	// Default: 1 minute.
	CleanupInterval time.Duration

	// MaxSessions limits live sessions in memory. Zero means unlimited.
	MaxSessions int

	// MaxDetachedSessions is the maximum number of detached sessions kept in
	// memory before LRU eviction. Evicted sessions stay in the backend.
	// Default: 10000.
	MaxDetachedSessions int

	// PersistTimeout bounds each backend call made on behalf of a session.
	// Default: 5 seconds.
	PersistTimeout time.Duration
}

// DefaultStoreConfig returns a StoreConfig with sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		GracePeriod:         5 * time.Minute,
		IdleTimeout:         30 * time.Minute,
		CleanupInterval:     time.Minute,
		MaxDetachedSessions: 10000,
		PersistTimeout:      5 * time.Second,
	}
}

func (c StoreConfig) withDefaults() StoreConfig {
	d := DefaultStoreConfig()
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.MaxDetachedSessions <= 0 {
		c.MaxDetachedSessions = d.MaxDetachedSessions
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	return c
}

// Store exclusively owns all live sessions.
//
// The store mutex guards only the session map and detached bookkeeping; it
// is never held while a session is being mutated. Each session carries its
// own lock, so work on different sessions proceeds in parallel.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// Detached sessions in LRU order (front = most recently detached)
	detached *list.List

	config  StoreConfig
	backend Backend
	logger  *slog.Logger

	listenersMu sync.RWMutex
	listeners   []func(id string, reason Reason)

	done    chan struct{}
	stopped bool
}

// NewStore creates a session store. backend may be nil, in which case
// sessions cannot outlive the process or be restored after eviction.
func NewStore(backend Backend, config StoreConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	st := &Store{
		sessions: make(map[string]*Session),
		detached: list.New(),
		config:   config.withDefaults(),
		backend:  backend,
		logger:   logger.With("component", "session_store"),
		done:     make(chan struct{}),
	}

	go st.cleanupLoop()
	return st
}

// Config returns the effective configuration.
func (st *Store) Config() StoreConfig {
	return st.config
}

// OnDestroy registers fn to be called after a session leaves the store.
// fn runs without store locks held.
func (st *Store) OnDestroy(fn func(id string, reason Reason)) {
	st.listenersMu.Lock()
	defer st.listenersMu.Unlock()
	st.listeners = append(st.listeners, fn)
}

func (st *Store) notify(id string, reason Reason) {
	st.listenersMu.RLock()
	listeners := st.listeners
	st.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(id, reason)
	}
}

// Create registers a new connected session for view with the given assigns
// and issues its first resume token.
func (st *Store) Create(view string, assigns render.Assigns) (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	if assigns == nil {
		assigns = render.Assigns{}
	}

	s := newSession(id, view, assigns)
	s.SetState(StateConnected)
	if _, err := s.rotateToken(); err != nil {
		return nil, fmt.Errorf("resume token: %w", err)
	}

	st.mu.Lock()
	if st.stopped {
		st.mu.Unlock()
		return nil, ErrStoreStopped
	}
	var evicted []string
	if st.config.MaxSessions > 0 && len(st.sessions) >= st.config.MaxSessions {
		if ev := st.evictOneLocked(); ev != "" {
			evicted = append(evicted, ev)
		}
		if len(st.sessions) >= st.config.MaxSessions {
			st.mu.Unlock()
			st.notifyAll(evicted, ReasonEvicted)
			return nil, ErrMaxSessionsReached
		}
	}
	st.sessions[id] = s
	total := len(st.sessions)
	st.mu.Unlock()

	st.notifyAll(evicted, ReasonEvicted)
	st.logger.Debug("session created",
		"session_id", id,
		"view", view,
		"total", total)
	return s, nil
}

func (st *Store) notifyAll(ids []string, reason Reason) {
	for _, id := range ids {
		st.notify(id, reason)
	}
}

// Get returns the live session with id, or ErrNotFound.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Do runs fn with exclusive access to the session. Waiting for the session
// lock honours ctx. Only one fn runs per session at a time; different
// sessions never contend.
func (st *Store) Do(ctx context.Context, id string, fn func(s *Session) error) error {
	s, err := st.Get(id)
	if err != nil {
		return err
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	if s.Destroyed() {
		return ErrNotFound
	}
	s.Touch()
	return fn(s)
}

// UpdateAssigns applies m to a copy of the session's assigns and commits the
// copy only if m succeeds and ctx is still live. It returns a copy of the
// committed assigns.
func (st *Store) UpdateAssigns(ctx context.Context, id string, m func(render.Assigns) error) (render.Assigns, error) {
	var out render.Assigns
	err := st.Do(ctx, id, func(s *Session) error {
		next := s.Assigns.Clone()
		if err := m(next); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Assigns = next
		out = next.Clone()
		return nil
	})
	return out, err
}

// Destroy removes a session and its persisted record. Unknown ids are a no-op.
func (st *Store) Destroy(id string) {
	st.destroy(id, ReasonExplicit, nil)
}

// destroy removes id when cond (if any) holds under the store lock.
func (st *Store) destroy(id string, reason Reason, cond func(*Session) bool) bool {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok || (cond != nil && !cond(s)) {
		st.mu.Unlock()
		return false
	}
	st.removeLocked(s)
	remaining := len(st.sessions)
	st.mu.Unlock()

	if st.backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), st.config.PersistTimeout)
		if err := st.backend.Delete(ctx, id); err != nil {
			st.logger.Warn("failed to delete persisted session",
				"session_id", id,
				"error", err)
		}
		cancel()
	}

	st.logger.Debug("session destroyed",
		"session_id", id,
		"reason", reason,
		"remaining", remaining)
	st.notify(id, reason)
	return true
}

// removeLocked drops s from memory (must be called with st.mu held).
func (st *Store) removeLocked(s *Session) {
	delete(st.sessions, s.ID)
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.detached != nil {
		st.detached.Remove(s.detached)
		s.detached = nil
	}
	s.destroyed.Store(true)
	s.SetState(StateDisconnected)
}

// evictOneLocked drops the least recently detached session from memory,
// keeping its backend record (must be called with st.mu held).
func (st *Store) evictOneLocked() string {
	back := st.detached.Back()
	if back == nil {
		return ""
	}
	s := back.Value.(*Session)
	st.removeLocked(s)
	st.logger.Debug("evicted session",
		"session_id", s.ID,
		"reason", "detached_limit_exceeded")
	return s.ID
}

// Detach marks the session disconnected, persists it, and schedules its
// destruction after GracePeriod unless it is attached again. Detaching a
// session that is already detached only extends its persisted record.
func (st *Store) Detach(id string) error {
	s, err := st.Get(id)
	if err != nil {
		return err
	}

	st.mu.RLock()
	again := s.detached != nil
	st.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), st.config.PersistTimeout)
	defer cancel()

	var data []byte
	if err := s.acquire(ctx); err != nil {
		return fmt.Errorf("detach %s: %w", id, err)
	}
	s.SetState(StateDisconnected)
	if st.backend != nil && !again {
		data, err = EncodeRecord(s.record())
	}
	s.release()
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}

	st.mu.Lock()
	if st.stopped || s.Destroyed() {
		st.mu.Unlock()
		return nil
	}
	st.markDetachedLocked(s)
	evicted := st.enforceDetachedLimitLocked()
	count := st.detached.Len()
	st.mu.Unlock()

	st.notifyAll(evicted, ReasonEvicted)

	expiresAt := time.Now().Add(st.config.GracePeriod)
	switch {
	case data != nil:
		if err := st.backend.Save(ctx, id, data, expiresAt); err != nil {
			st.logger.Warn("failed to persist detached session",
				"session_id", id,
				"error", err)
		}
	case again && st.backend != nil:
		st.touchRecord(ctx, id, expiresAt)
	}

	st.logger.Debug("session detached",
		"session_id", id,
		"detached_count", count)
	return nil
}

// enforceDetachedLimitLocked evicts the least recently detached sessions
// beyond MaxDetachedSessions and returns their ids (must be called with
// st.mu held).
func (st *Store) enforceDetachedLimitLocked() []string {
	var evicted []string
	for st.detached.Len() > st.config.MaxDetachedSessions {
		evicted = append(evicted, st.evictOneLocked())
	}
	return evicted
}

// touchRecord moves the expiry of a persisted record to expiresAt.
func (st *Store) touchRecord(ctx context.Context, id string, expiresAt time.Time) {
	if err := st.backend.Touch(ctx, id, expiresAt); err != nil {
		st.logger.Warn("failed to extend persisted session",
			"session_id", id,
			"error", err)
	}
}

// markDetachedLocked puts s at the front of the detached queue and arms its
// grace timer (must be called with st.mu held).
func (st *Store) markDetachedLocked(s *Session) {
	if s.detached != nil {
		st.detached.Remove(s.detached)
	}
	s.detached = st.detached.PushFront(s)

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(st.config.GracePeriod, func() {
		st.destroy(s.ID, ReasonGraceExpired, func(cur *Session) bool {
			return cur == s && cur.detached != nil
		})
	})
}

// Attach cancels a pending grace expiry, marks the session connected and
// rotates its resume token. The new token is returned.
func (st *Store) Attach(id string) (string, error) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok {
		st.mu.Unlock()
		return "", ErrNotFound
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.detached != nil {
		st.detached.Remove(s.detached)
		s.detached = nil
	}
	st.mu.Unlock()

	s.SetState(StateConnected)
	s.Touch()
	token, err := s.rotateToken()
	if err != nil {
		return "", fmt.Errorf("resume token: %w", err)
	}

	// The persisted record carries the old token hash.
	if st.backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), st.config.PersistTimeout)
		if err := st.backend.Delete(ctx, id); err != nil {
			st.logger.Warn("failed to drop persisted session",
				"session_id", id,
				"error", err)
		}
		cancel()
	}

	st.logger.Debug("session attached", "session_id", id)
	return token, nil
}

// ResolveToken finds the session a resume token belongs to. A session no
// longer in memory is restored from the backend, detached and with a nil
// Snapshot. The token must still be passed to Attach to take the session over.
func (st *Store) ResolveToken(ctx context.Context, token string) (*Session, error) {
	id, ok := TokenSessionID(token)
	if !ok {
		return nil, ErrInvalidToken
	}

	if s, err := st.Get(id); err == nil {
		if !s.matchToken(token) {
			return nil, ErrInvalidToken
		}
		return s, nil
	}

	if st.backend == nil {
		return nil, ErrNotFound
	}
	data, err := st.backend.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if data == nil {
		return nil, ErrNotFound
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, err
	}
	if rec.ID != id || !hashMatches(rec.TokenHash, token) {
		return nil, ErrInvalidToken
	}

	restored := restoreSession(rec)

	st.mu.Lock()
	if st.stopped {
		st.mu.Unlock()
		return nil, ErrStoreStopped
	}
	if existing, ok := st.sessions[id]; ok {
		st.mu.Unlock()
		if !existing.matchToken(token) {
			return nil, ErrInvalidToken
		}
		return existing, nil
	}
	if st.config.MaxSessions > 0 && len(st.sessions) >= st.config.MaxSessions {
		st.mu.Unlock()
		return nil, ErrMaxSessionsReached
	}
	st.sessions[id] = restored
	st.markDetachedLocked(restored)
	evicted := st.enforceDetachedLimitLocked()
	st.mu.Unlock()

	st.notifyAll(evicted, ReasonEvicted)

	// The restored session gets a fresh grace period; keep the record for
	// as long, so it survives another eviction or restart.
	st.touchRecord(ctx, id, time.Now().Add(st.config.GracePeriod))

	st.logger.Debug("session restored", "session_id", id, "view", rec.View)
	return restored, nil
}

// Count returns the number of sessions in memory.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// StoreStats contains session store statistics.
type StoreStats struct {
	// Total is the number of sessions in memory (connected + detached).
	Total int

	// Connected is the number of sessions with a client attached.
	Connected int

	// Detached is the number of sessions waiting for a resume.
	Detached int
}

// Stats returns store statistics.
func (st *Store) Stats() StoreStats {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return StoreStats{
		Total:     len(st.sessions),
		Connected: len(st.sessions) - st.detached.Len(),
		Detached:  st.detached.Len(),
	}
}

// cleanupLoop periodically destroys idle sessions.
func (st *Store) cleanupLoop() {
	ticker := time.NewTicker(st.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st.reapIdle(time.Now())
		case <-st.done:
			return
		}
	}
}

// reapIdle destroys sessions inactive since before now-IdleTimeout.
func (st *Store) reapIdle(now time.Time) int {
	if st.config.IdleTimeout <= 0 {
		return 0
	}
	cutoff := now.Add(-st.config.IdleTimeout)
	idle := func(s *Session) bool { return s.LastActive().Before(cutoff) }

	st.mu.RLock()
	var candidates []string
	for id, s := range st.sessions {
		if idle(s) {
			candidates = append(candidates, id)
		}
	}
	st.mu.RUnlock()

	n := 0
	for _, id := range candidates {
		if st.destroy(id, ReasonIdle, idle) {
			n++
		}
	}
	if n > 0 {
		st.logger.Info("reaped idle sessions", "count", n)
	}
	return n
}

// Shutdown stops the reaper and grace timers and persists every session to
// the backend so clients can resume after a restart. The backend itself is
// left open for its owner to close.
func (st *Store) Shutdown(ctx context.Context) error {
	st.mu.Lock()
	if st.stopped {
		st.mu.Unlock()
		return nil
	}
	st.stopped = true
	close(st.done)

	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		sessions = append(sessions, s)
	}
	st.mu.Unlock()

	if st.backend == nil || len(sessions) == 0 {
		return nil
	}

	expiresAt := time.Now().Add(st.config.GracePeriod)
	entries := make(map[string]Entry, len(sessions))
	for _, s := range sessions {
		if err := s.acquire(ctx); err != nil {
			st.logger.Warn("session busy during shutdown, not persisted",
				"session_id", s.ID,
				"error", err)
			continue
		}
		data, err := EncodeRecord(s.record())
		s.release()
		if err != nil {
			st.logger.Warn("failed to encode session",
				"session_id", s.ID,
				"error", err)
			continue
		}
		entries[s.ID] = Entry{Data: data, ExpiresAt: expiresAt}
	}

	if err := st.backend.SaveAll(ctx, entries); err != nil {
		st.logger.Warn("failed to persist sessions on shutdown",
			"error", err,
			"count", len(entries))
		return err
	}
	st.logger.Info("persisted sessions on shutdown", "count", len(entries))
	return nil
}
