// Package session owns live view sessions: their assigns, last rendered
// snapshot, sequence number and lifecycle.
//
// A Store holds every live session in memory. Mutations go through Do or
// UpdateAssigns, which take a per-session lock; the store-wide mutex only
// guards membership, so sessions never block each other.
//
// When a client disconnects the session is detached: it is persisted to the
// configured Backend and destroyed after the grace period unless a client
// presents its resume token. Resume tokens have the form
// "<session-id>.<secret>" and are rotated on every attach.
//
// Backends:
//
//   - MemoryBackend: in-process, for single-node deployments and tests
//   - RedisBackend: github.com/redis/go-redis/v9 with native key TTLs
//   - SQLBackend: database/sql, with the modernc.org/sqlite driver registered
//   - S3Backend: github.com/aws/aws-sdk-go-v2/service/s3 objects
package session
