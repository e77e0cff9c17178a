package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.Log.Level != DefaultLogLevel {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, DefaultLogLevel)
	}
	if cfg.Backend.Type != BackendMemory {
		t.Errorf("Backend.Type = %q, want %q", cfg.Backend.Type, BackendMemory)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if got := cfg.Address(); got != ":8000" {
		t.Errorf("Address() = %q, want :8000", got)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	// A missing file yields defaults
	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != DefaultPort || cfg.Path() != "" {
		t.Errorf("Load() on empty dir = %+v", cfg)
	}

	configYAML := `
port: 9090
log:
  level: debug
  format: json
server:
  allowedOrigins: ["https://app.example.com"]
  heartbeatTimeout: 45s
session:
  gracePeriod: 2m
backend:
  type: redis
  redis:
    url: redis://localhost:6379/0
`
	configPath := filepath.Join(tmpDir, ConfigFileName)
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err = Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Server.HeartbeatTimeout != 45*time.Second {
		t.Errorf("HeartbeatTimeout = %v, want 45s", cfg.Server.HeartbeatTimeout)
	}
	if cfg.Session.GracePeriod != 2*time.Minute {
		t.Errorf("GracePeriod = %v, want 2m", cfg.Session.GracePeriod)
	}
	if cfg.Backend.Type != BackendRedis || cfg.Backend.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Backend = %+v", cfg.Backend)
	}
	// Defaults survive for keys the file leaves out.
	if cfg.Metrics.Namespace != "liveview" {
		t.Errorf("Metrics.Namespace = %q, want liveview", cfg.Metrics.Namespace)
	}
	if cfg.Path() != configPath {
		t.Errorf("Path() = %q, want %q", cfg.Path(), configPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadFileErrors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadFile(filepath.Join(tmpDir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadFile(missing) error = %v, want ErrNotExist", err)
	}

	bad := filepath.Join(tmpDir, "bad.yaml")
	os.WriteFile(bad, []byte("port: [1, 2"), 0644)
	if _, err := LoadFile(bad); err == nil {
		t.Error("LoadFile(bad yaml) error = nil")
	}

	unknown := filepath.Join(tmpDir, "unknown.yaml")
	os.WriteFile(unknown, []byte("prot: 8000\n"), 0644)
	if _, err := LoadFile(unknown); err == nil {
		t.Error("LoadFile(unknown key) error = nil")
	}

	empty := filepath.Join(tmpDir, "empty.yaml")
	os.WriteFile(empty, nil, 0644)
	if cfg, err := LoadFile(empty); err != nil || cfg.Port != DefaultPort {
		t.Errorf("LoadFile(empty) = %+v, %v", cfg, err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := New()
	err := cfg.ApplyEnv(env(map[string]string{
		"PORT":                       "9000",
		"LOG_LEVEL":                  "warn",
		"LIVEVIEW_LOG_FORMAT":        "json",
		"LIVEVIEW_BACKEND":           "s3",
		"LIVEVIEW_S3_BUCKET":         "sessions",
		"LIVEVIEW_ALLOWED_ORIGINS":   "https://a.example.com, https://b.example.com,",
		"LIVEVIEW_HEARTBEAT_TIMEOUT": "10s",
		"LIVEVIEW_GRACE_PERIOD":      "1m",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Port != 9000 || cfg.Log.Level != "warn" || cfg.Log.Format != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Backend.Type != BackendS3 || cfg.Backend.S3.Bucket != "sessions" {
		t.Errorf("Backend = %+v", cfg.Backend)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("AllowedOrigins = %q", cfg.Server.AllowedOrigins)
	}
	if cfg.Server.HeartbeatTimeout != 10*time.Second || cfg.Session.GracePeriod != time.Minute {
		t.Errorf("durations = %v, %v", cfg.Server.HeartbeatTimeout, cfg.Session.GracePeriod)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestApplyEnvErrors(t *testing.T) {
	tests := []map[string]string{
		{"PORT": "eighty"},
		{"LIVEVIEW_GRACE_PERIOD": "soon"},
	}
	for _, vars := range tests {
		if err := New().ApplyEnv(env(vars)); !errors.Is(err, ErrInvalid) {
			t.Errorf("ApplyEnv(%v) error = %v, want ErrInvalid", vars, err)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 70000 }},
		{"level", func(c *Config) { c.Log.Level = "loud" }},
		{"format", func(c *Config) { c.Log.Format = "xml" }},
		{"backend", func(c *Config) { c.Backend.Type = "mongo" }},
		{"redis url", func(c *Config) { c.Backend.Type = BackendRedis }},
		{"sql path", func(c *Config) { c.Backend.Type = BackendSQL; c.Backend.SQL.Path = "" }},
		{"s3 bucket", func(c *Config) { c.Backend.Type = BackendS3 }},
		{"negative grace", func(c *Config) { c.Session.GracePeriod = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.modify(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := New()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"

	logger, err := cfg.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":"v"`) {
		t.Errorf("output = %q, want JSON record", out)
	}

	if level, _ := New().SlogLevel(); level != slog.LevelInfo {
		t.Errorf("default level = %v, want info", level)
	}
}

func TestConversions(t *testing.T) {
	cfg := New()
	cfg.Host = "127.0.0.1"
	cfg.Port = 9999
	cfg.Server.HeartbeatTimeout = 5 * time.Second
	cfg.Session.GracePeriod = time.Minute
	cfg.Backend.S3 = S3Config{Bucket: "b", Endpoint: "http://minio:9000", PathStyle: true}

	if sc := cfg.ServerConfig(); sc.Address != "127.0.0.1:9999" || sc.HeartbeatTimeout != 5*time.Second {
		t.Errorf("ServerConfig() = %+v", sc)
	}
	if st := cfg.StoreConfig(); st.GracePeriod != time.Minute {
		t.Errorf("StoreConfig() = %+v", st)
	}
	if s3 := cfg.S3(); s3.Bucket != "b" || !s3.PathStyle || s3.Endpoint != "http://minio:9000" {
		t.Errorf("S3() = %+v", s3)
	}
}
