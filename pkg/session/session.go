package session

import (
	"container/list"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/live-view/liveview-backend/pkg/render"
	"github.com/live-view/liveview-backend/pkg/vdom"
)

// State is the lifecycle state of a session.
type State uint32

const (
	StateConnected    State = iota // Handshake done, nothing rendered since
	StateRendering                 // An event or push is being processed
	StateIdle                      // Waiting for the next event
	StateDisconnected              // No client attached; may be resumed
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateRendering:
		return "rendering"
	case StateIdle:
		return "idle"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is the server-side state of one live view instance.
//
// Assigns, Snapshot and Seq may only be read or written inside Store.Do,
// which holds the session's mutation lock.
type Session struct {
	ID        string
	View      string
	CreatedAt time.Time

	Assigns  render.Assigns
	Snapshot *vdom.Snapshot // Last snapshot sent to the client; nil after a restore
	Seq      uint64         // Sequence number of the last patch or snapshot sent

	// lock is a one-slot semaphore so acquisition can honour a context.
	lock chan struct{}

	state      atomic.Uint32
	lastActive atomic.Int64
	destroyed  atomic.Bool
	cred       atomic.Pointer[credential]

	// Guarded by Store.mu.
	timer    *time.Timer
	detached *list.Element
}

type credential struct {
	token string // Empty for a session restored from a backend until it is attached
	hash  string
}

func newSession(id, view string, assigns render.Assigns) *Session {
	now := time.Now()
	s := &Session{
		ID:        id,
		View:      view,
		CreatedAt: now,
		Assigns:   assigns,
		lock:      make(chan struct{}, 1),
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() {
	<-s.lock
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// SetState changes the lifecycle state.
func (s *Session) SetState(st State) {
	s.state.Store(uint32(st))
}

// LastActive returns when the session last processed an event.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Touch records activity for idle tracking.
func (s *Session) Touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// Destroyed reports whether the session has been removed from its store.
func (s *Session) Destroyed() bool {
	return s.destroyed.Load()
}

// ResumeToken returns the current resume token. It is empty for a session
// restored from a backend until it is attached again.
func (s *Session) ResumeToken() string {
	if c := s.cred.Load(); c != nil {
		return c.token
	}
	return ""
}

// rotateToken issues a new resume token, invalidating the previous one.
func (s *Session) rotateToken() (string, error) {
	token, err := newToken(s.ID)
	if err != nil {
		return "", err
	}
	s.cred.Store(&credential{token: token, hash: hashToken(token)})
	return token, nil
}

func (s *Session) tokenHash() string {
	if c := s.cred.Load(); c != nil {
		return c.hash
	}
	return ""
}

// matchToken compares token against the current credential in constant time.
func (s *Session) matchToken(token string) bool {
	return hashMatches(s.tokenHash(), token)
}

// newSessionID returns a time-ordered UUIDv7 string.
func newSessionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// tokenSecretSize is the number of random bytes in a resume token.
const tokenSecretSize = 32

// newToken builds "<session-id>.<base64url secret>".
func newToken(sessionID string) (string, error) {
	b := make([]byte, tokenSecretSize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return sessionID + "." + base64.RawURLEncoding.EncodeToString(b), nil
}

// TokenSessionID extracts the session id from a resume token.
func TokenSessionID(token string) (string, bool) {
	id, secret, ok := strings.Cut(token, ".")
	if !ok || id == "" || secret == "" {
		return "", false
	}
	return id, true
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func hashMatches(hash, token string) bool {
	if hash == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(hash), []byte(hashToken(token))) == 1
}
