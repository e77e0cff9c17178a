package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/live-view/liveview-backend/pkg/render"
)

// Record is the JSON-serializable representation of a session written to a
// Backend. The snapshot is not persisted; it is re-rendered on resume.
type Record struct {
	// Version is the serialization format version.
	Version int `json:"version"`

	ID         string         `json:"id"`
	View       string         `json:"view"`
	TokenHash  string         `json:"token_hash"`
	Assigns    render.Assigns `json:"assigns"`
	Seq        uint64         `json:"seq"`
	CreatedAt  time.Time      `json:"created_at"`
	LastActive time.Time      `json:"last_active"`
}

// CurrentRecordVersion is the current version of the serialization format.
// Increment when making breaking changes to the format.
const CurrentRecordVersion = 1

// ErrUnsupportedRecord is returned for records written by a newer format.
var ErrUnsupportedRecord = errors.New("session: unsupported record version")

// EncodeRecord converts a Record to bytes.
func EncodeRecord(r *Record) ([]byte, error) {
	r.Version = CurrentRecordVersion
	return json.Marshal(r)
}

// DecodeRecord converts bytes back to a Record.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	if r.Version < 1 || r.Version > CurrentRecordVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedRecord, r.Version)
	}
	if r.ID == "" {
		return nil, errors.New("decode session record: missing id")
	}
	if r.Assigns == nil {
		r.Assigns = render.Assigns{}
	}
	return &r, nil
}

// record captures the session's persistent state. Callers hold the session lock.
func (s *Session) record() *Record {
	return &Record{
		ID:         s.ID,
		View:       s.View,
		TokenHash:  s.tokenHash(),
		Assigns:    s.Assigns,
		Seq:        s.Seq,
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive(),
	}
}

// restoreSession rebuilds a detached session from a record. Its Snapshot is
// nil until the next render.
func restoreSession(r *Record) *Session {
	s := &Session{
		ID:        r.ID,
		View:      r.View,
		CreatedAt: r.CreatedAt,
		Assigns:   r.Assigns,
		Seq:       r.Seq,
		lock:      make(chan struct{}, 1),
	}
	s.lastActive.Store(time.Now().UnixNano())
	s.SetState(StateDisconnected)
	s.cred.Store(&credential{hash: r.TokenHash})
	return s
}
