package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/redis/go-redis/v9"
)

// fakeRedis implements RedisClient over a map with expiry.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]fakeRedisEntry
}

type fakeRedisEntry struct {
	value     string
	expiresAt time.Time
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]fakeRedisEntry)}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var s string
	switch v := value.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	}
	f.data[key] = fakeRedisEntry{value: s, expiresAt: time.Now().Add(expiration)}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	if !ok || time.Now().After(e.expiresAt) {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(e.value, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	if !ok {
		return redis.NewBoolResult(false, nil)
	}
	e.expiresAt = time.Now().Add(expiration)
	f.data[key] = e
	return redis.NewBoolResult(true, nil)
}

// fakeS3 implements S3API over a map.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	buckets map[string]bool
}

type fakeObject struct {
	body     []byte
	metadata map[string]string
}

func newFakeS3(buckets ...string) *fakeS3 {
	f := &fakeS3{objects: make(map[string]fakeObject), buckets: make(map[string]bool)}
	for _, b := range buckets {
		f.buckets[b] = true
	}
	return f
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.buckets[*in.Bucket] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = fakeObject{body: body, metadata: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:     io.NopCloser(bytes.NewReader(obj.body)),
		Metadata: obj.metadata,
	}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func newTestSQLBackend(t *testing.T) *SQLBackend {
	t.Helper()
	db, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	b := NewSQLBackend(db)
	if err := b.CreateTable(context.Background()); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	return b
}

func backends(t *testing.T) map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"memory": func(t *testing.T) Backend { return NewMemoryBackend() },
		"redis":  func(t *testing.T) Backend { return NewRedisBackend(newFakeRedis()) },
		"sql":    func(t *testing.T) Backend { return newTestSQLBackend(t) },
		"s3":     func(t *testing.T) Backend { return NewS3Backend(newFakeS3("bucket"), "bucket", "") },
	}
}

func TestBackends(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b := newBackend(t)
			defer b.Close()

			hour := time.Now().Add(time.Hour)

			t.Run("missing", func(t *testing.T) {
				data, err := b.Load(ctx, "missing")
				if err != nil || data != nil {
					t.Errorf("Load(missing) = %q, %v; want nil, nil", data, err)
				}
			})

			t.Run("save and load", func(t *testing.T) {
				if err := b.Save(ctx, "s1", []byte(`{"a":1}`), hour); err != nil {
					t.Fatalf("Save() error = %v", err)
				}
				data, err := b.Load(ctx, "s1")
				if err != nil {
					t.Fatalf("Load() error = %v", err)
				}
				if string(data) != `{"a":1}` {
					t.Errorf("Load() = %q", data)
				}
			})

			t.Run("overwrite", func(t *testing.T) {
				if err := b.Save(ctx, "s1", []byte(`{"a":2}`), hour); err != nil {
					t.Fatalf("Save() error = %v", err)
				}
				data, _ := b.Load(ctx, "s1")
				if string(data) != `{"a":2}` {
					t.Errorf("Load() = %q, want overwritten record", data)
				}
			})

			t.Run("touch into the past expires", func(t *testing.T) {
				if err := b.Save(ctx, "s2", []byte("x"), hour); err != nil {
					t.Fatalf("Save() error = %v", err)
				}
				if err := b.Touch(ctx, "s2", time.Now().Add(-time.Second)); err != nil {
					t.Fatalf("Touch() error = %v", err)
				}
				data, err := b.Load(ctx, "s2")
				if err != nil || data != nil {
					t.Errorf("Load(expired) = %q, %v; want nil, nil", data, err)
				}
			})

			t.Run("touch missing is not an error", func(t *testing.T) {
				if err := b.Touch(ctx, "nobody", hour); err != nil {
					t.Errorf("Touch(missing) error = %v", err)
				}
			})

			t.Run("delete", func(t *testing.T) {
				if err := b.Delete(ctx, "s1"); err != nil {
					t.Fatalf("Delete() error = %v", err)
				}
				if data, _ := b.Load(ctx, "s1"); data != nil {
					t.Errorf("Load() after Delete = %q", data)
				}
				if err := b.Delete(ctx, "s1"); err != nil {
					t.Errorf("second Delete() error = %v", err)
				}
			})

			t.Run("save all", func(t *testing.T) {
				err := b.SaveAll(ctx, map[string]Entry{
					"a": {Data: []byte("A"), ExpiresAt: hour},
					"b": {Data: []byte("B"), ExpiresAt: hour},
				})
				if err != nil {
					t.Fatalf("SaveAll() error = %v", err)
				}
				for id, want := range map[string]string{"a": "A", "b": "B"} {
					data, _ := b.Load(ctx, id)
					if string(data) != want {
						t.Errorf("Load(%s) = %q, want %q", id, data, want)
					}
				}
			})

			t.Run("closed", func(t *testing.T) {
				if err := b.Close(); err != nil {
					t.Fatalf("Close() error = %v", err)
				}
				if err := b.Save(ctx, "s3", []byte("x"), hour); !errors.Is(err, ErrBackendClosed) {
					t.Errorf("Save() after Close error = %v, want ErrBackendClosed", err)
				}
			})
		})
	}
}

func TestRedisBackendPrefix(t *testing.T) {
	client := newFakeRedis()
	b := NewRedisBackend(client, WithRedisPrefix("test:"))
	if b.Prefix() != "test:" {
		t.Errorf("Prefix() = %q, want test:", b.Prefix())
	}
	if err := b.Save(context.Background(), "id", []byte("x"), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, ok := client.data["test:id"]; !ok {
		t.Error("key not written under prefix")
	}
}

func TestS3BackendPing(t *testing.T) {
	client := newFakeS3("sessions")

	if err := NewS3Backend(client, "sessions", "").Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	err := NewS3Backend(client, "absent", "").Ping(context.Background())
	var nf *types.NotFound
	if !errors.As(err, &nf) {
		t.Errorf("Ping() error = %v, want NotFound", err)
	}
}

func TestSQLBackendCleanup(t *testing.T) {
	ctx := context.Background()
	b := newTestSQLBackend(t)
	defer b.Close()

	if err := b.Save(ctx, "old", []byte("x"), time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := b.Save(ctx, "new", []byte("y"), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := b.cleanup(); err != nil {
		t.Fatalf("cleanup() error = %v", err)
	}

	var n int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM liveview_sessions").Scan(&n); err != nil {
		t.Fatalf("count error = %v", err)
	}
	if n != 1 {
		t.Errorf("rows after cleanup = %d, want 1", n)
	}
}

func TestSQLBackendCleanupLogsFailure(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	// The table is never created, so the delete fails.
	b := NewSQLBackend(db, WithSQLTableName("missing_sessions"), WithSQLLogger(logger))
	defer b.Close()

	if err := b.cleanup(); err == nil {
		t.Fatal("cleanup() on a missing table should fail")
	}
	out := buf.String()
	if !strings.Contains(out, "failed to delete expired sessions") || !strings.Contains(out, "missing_sessions") {
		t.Errorf("log output = %q", out)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	s := newSession("id-1", "counter", map[string]any{"count": 3})
	s.Seq = 4
	if _, err := s.rotateToken(); err != nil {
		t.Fatal(err)
	}

	data, err := EncodeRecord(s.record())
	if err != nil {
		t.Fatalf("EncodeRecord() error = %v", err)
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord() error = %v", err)
	}
	if rec.Version != CurrentRecordVersion || rec.ID != "id-1" || rec.View != "counter" || rec.Seq != 4 {
		t.Errorf("record = %+v", rec)
	}
	if n, _ := rec.Assigns.Int("count"); n != 3 {
		t.Errorf("count = %v, want 3", rec.Assigns["count"])
	}
	if !hashMatches(rec.TokenHash, s.ResumeToken()) {
		t.Error("record token hash does not match session token")
	}
}

func TestDecodeRecordErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", "{"},
		{"no version", `{"id":"x"}`},
		{"future version", `{"version":99,"id":"x"}`},
		{"no id", `{"version":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeRecord([]byte(tt.data)); err == nil {
				t.Error("Expected error")
			}
		})
	}
	if _, err := DecodeRecord([]byte(`{"version":99,"id":"x"}`)); !errors.Is(err, ErrUnsupportedRecord) {
		t.Errorf("error = %v, want ErrUnsupportedRecord", err)
	}
}
