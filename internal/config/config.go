package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/live-view/liveview-backend/pkg/server"
	"github.com/live-view/liveview-backend/pkg/session"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "liveview.yaml"

	// DefaultPort is the default listening port.
	DefaultPort = 8000

	// DefaultLogLevel is the default log level.
	DefaultLogLevel = "info"

	// EnvPrefix prefixes every environment override except PORT and LOG_LEVEL.
	EnvPrefix = "LIVEVIEW_"
)

// Backend types.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
	BackendS3     = "s3"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the complete service configuration.
type Config struct {
	// Host is the interface to bind to. Empty binds all interfaces.
	Host string `yaml:"host,omitempty"`

	// Port is the listening port.
	Port int `yaml:"port,omitempty"`

	Log     LogConfig     `yaml:"log,omitempty"`
	Server  ServerConfig  `yaml:"server,omitempty"`
	Session SessionConfig `yaml:"session,omitempty"`
	Backend BackendConfig `yaml:"backend,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// LogConfig configures the slog logger.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level,omitempty"`

	// Format is text or json.
	Format string `yaml:"format,omitempty"`
}

// ServerConfig configures HTTP and the push channel. Zero values take the
// server defaults.
type ServerConfig struct {
	AllowedOrigins    []string      `yaml:"allowedOrigins,omitempty"`
	HandshakeTimeout  time.Duration `yaml:"handshakeTimeout,omitempty"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval,omitempty"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeatTimeout,omitempty"`
	WriteTimeout      time.Duration `yaml:"writeTimeout,omitempty"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout,omitempty"`
	MaxMessageSize    int64         `yaml:"maxMessageSize,omitempty"`
	Scripts           []string      `yaml:"scripts,omitempty"`
}

// SessionConfig configures the session store. Zero values take the store
// defaults.
type SessionConfig struct {
	GracePeriod         time.Duration `yaml:"gracePeriod,omitempty"`
	IdleTimeout         time.Duration `yaml:"idleTimeout,omitempty"`
	MaxSessions         int           `yaml:"maxSessions,omitempty"`
	MaxDetachedSessions int           `yaml:"maxDetachedSessions,omitempty"`
	PersistTimeout      time.Duration `yaml:"persistTimeout,omitempty"`
}

// BackendConfig selects where detached sessions are persisted.
type BackendConfig struct {
	// Type is memory, redis, sql or s3.
	Type string `yaml:"type,omitempty"`

	Redis RedisConfig `yaml:"redis,omitempty"`
	SQL   SQLConfig   `yaml:"sql,omitempty"`
	S3    S3Config    `yaml:"s3,omitempty"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	URL    string `yaml:"url,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// SQLConfig configures the SQLite backend.
type SQLConfig struct {
	Path  string `yaml:"path,omitempty"`
	Table string `yaml:"table,omitempty"`
}

// S3Config configures the S3 backend.
type S3Config struct {
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"accessKey,omitempty"`
	SecretKey string `yaml:"secretKey,omitempty"`
	PathStyle bool   `yaml:"pathStyle,omitempty"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Namespace string `yaml:"namespace,omitempty"`
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Port: DefaultPort,
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: "text",
		},
		Backend: BackendConfig{
			Type: BackendMemory,
			SQL:  SQLConfig{Path: "liveview.db"},
		},
		Metrics: MetricsConfig{Namespace: "liveview"},
	}
}

// Load reads ConfigFileName from dir. A missing file yields the defaults.
func Load(dir string) (*Config, error) {
	cfg, err := LoadFile(filepath.Join(dir, ConfigFileName))
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	return cfg, err
}

// LoadFile reads configuration from the specified file path. Unknown keys
// are rejected.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := New()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.configPath = path
	return cfg, nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// ApplyEnv overlays environment variables read through lookup:
//
//	PORT, LOG_LEVEL
//	LIVEVIEW_HOST, LIVEVIEW_LOG_FORMAT, LIVEVIEW_ALLOWED_ORIGINS (comma separated)
//	LIVEVIEW_HEARTBEAT_TIMEOUT, LIVEVIEW_GRACE_PERIOD
//	LIVEVIEW_BACKEND, LIVEVIEW_REDIS_URL, LIVEVIEW_SQL_PATH
//	LIVEVIEW_S3_BUCKET, LIVEVIEW_S3_REGION, LIVEVIEW_S3_ENDPOINT
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PORT=%q is not a number", ErrInvalid, v)
		}
		c.Port = port
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.Log.Level = v
	}

	strs := map[string]*string{
		"HOST":        &c.Host,
		"LOG_FORMAT":  &c.Log.Format,
		"BACKEND":     &c.Backend.Type,
		"REDIS_URL":   &c.Backend.Redis.URL,
		"SQL_PATH":    &c.Backend.SQL.Path,
		"S3_BUCKET":   &c.Backend.S3.Bucket,
		"S3_REGION":   &c.Backend.S3.Region,
		"S3_ENDPOINT": &c.Backend.S3.Endpoint,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"HEARTBEAT_TIMEOUT": &c.Server.HeartbeatTimeout,
		"GRACE_PERIOD":      &c.Session.GracePeriod,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%w: %s%s: %v", ErrInvalid, EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, o)
			}
		}
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log format %q (want text or json)", ErrInvalid, c.Log.Format)
	}
	if c.Server.HeartbeatTimeout < 0 || c.Session.GracePeriod < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalid)
	}

	switch c.Backend.Type {
	case "", BackendMemory:
	case BackendRedis:
		if c.Backend.Redis.URL == "" {
			return fmt.Errorf("%w: redis backend needs backend.redis.url", ErrInvalid)
		}
	case BackendSQL:
		if c.Backend.SQL.Path == "" {
			return fmt.Errorf("%w: sql backend needs backend.sql.path", ErrInvalid)
		}
	case BackendS3:
		if c.Backend.S3.Bucket == "" {
			return fmt.Errorf("%w: s3 backend needs backend.s3.bucket", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend.Type)
	}
	return nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// SlogLevel parses the configured log level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, c.Log.Level)
	}
	return level, nil
}

// NewLogger builds the service logger writing to w.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// ServerConfig converts the server section into a server.Config.
func (c *Config) ServerConfig() server.Config {
	return server.Config{
		Address:           c.Address(),
		AllowedOrigins:    c.Server.AllowedOrigins,
		HandshakeTimeout:  c.Server.HandshakeTimeout,
		HeartbeatInterval: c.Server.HeartbeatInterval,
		HeartbeatTimeout:  c.Server.HeartbeatTimeout,
		WriteTimeout:      c.Server.WriteTimeout,
		ShutdownTimeout:   c.Server.ShutdownTimeout,
		MaxMessageSize:    c.Server.MaxMessageSize,
		PageScripts:       c.Server.Scripts,
	}
}

// StoreConfig converts the session section into a session.StoreConfig.
func (c *Config) StoreConfig() session.StoreConfig {
	return session.StoreConfig{
		GracePeriod:         c.Session.GracePeriod,
		IdleTimeout:         c.Session.IdleTimeout,
		MaxSessions:         c.Session.MaxSessions,
		MaxDetachedSessions: c.Session.MaxDetachedSessions,
		PersistTimeout:      c.Session.PersistTimeout,
	}
}

// S3 converts the S3 section into a session.S3Config.
func (c *Config) S3() session.S3Config {
	s := c.Backend.S3
	return session.S3Config{
		Bucket:    s.Bucket,
		Prefix:    s.Prefix,
		Region:    s.Region,
		Endpoint:  s.Endpoint,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		PathStyle: s.PathStyle,
	}
}
