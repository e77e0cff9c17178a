package server

import (
	"net/http"
	"net/url"
	"slices"
	"time"
)

// Config holds configuration for the HTTP and push channel server.
type Config struct {
	// Address is the address to listen on (e.g., ":8000").
	// Default: ":8000".
	Address string

	// AllowedOrigins lists origins accepted for CORS and WebSocket upgrades.
	// "*" allows any origin. Empty means same-origin only for WebSockets
	// and any origin for plain HTTP routes.
	AllowedOrigins []string

	// Timeouts

	// HandshakeTimeout bounds the wait for the ClientHello after upgrade.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is the time between server pings.
	// Default: 10 seconds.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout closes a connection that sent nothing for this long.
	// Default: 30 seconds.
	HeartbeatTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: 64KB.
	MaxMessageSize int64

	// EventQueueSize is the per-connection buffer between the read loop and
	// the event loop. A full queue blocks the reader.
	// Default: 256.
	EventQueueSize int

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// PageScripts are script sources added to server-rendered pages.
	PageScripts []string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Address:           ":8000",
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		HeartbeatTimeout:  30 * time.Second,
		WriteTimeout:      10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		MaxMessageSize:    64 * 1024, // 64KB
		EventQueueSize:    256,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = d.EventQueueSize
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	return c
}

// corsOrigins returns the origins handed to the CORS middleware.
func (c Config) corsOrigins() []string {
	if len(c.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return c.AllowedOrigins
}

// checkOrigin validates the Origin of a WebSocket upgrade request.
func (c Config) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser client
		return true
	}
	if slices.Contains(c.AllowedOrigins, "*") || slices.Contains(c.AllowedOrigins, origin) {
		return true
	}
	return SameOrigin(origin, r.Host)
}

// SameOrigin reports whether origin names host. It compares parsed hosts,
// including the port.
func SameOrigin(origin, host string) bool {
	if host == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == host
}
