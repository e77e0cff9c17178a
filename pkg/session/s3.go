package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of *s3.Client the backend uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// metaExpiresAt holds the record expiry in Unix milliseconds.
const metaExpiresAt = "expires-at"

// S3Backend stores each record as one object under a key prefix. Object
// storage has no per-object TTL, so expiry is kept in object metadata and
// checked on Load; a bucket lifecycle rule should remove stale objects.
type S3Backend struct {
	client S3API
	bucket string
	prefix string
	closed atomic.Bool
}

// S3Config configures a client built by NewS3Client.
type S3Config struct {
	Bucket    string
	Prefix    string // Key prefix, default "sessions/"
	Region    string
	Endpoint  string // Custom endpoint, e.g. for MinIO
	AccessKey string
	SecretKey string
	PathStyle bool
}

// NewS3Client builds an S3 client from static configuration.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		key, secret := cfg.AccessKey, cfg.SecretKey
		opts.Credentials = aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: key, SecretAccessKey: secret, Source: "liveview-config"}, nil
		})
	}
	return s3.New(opts)
}

// NewS3Backend creates an S3-backed session backend.
func NewS3Backend(client S3API, bucket, prefix string) *S3Backend {
	if prefix == "" {
		prefix = "sessions/"
	}
	return &S3Backend{client: client, bucket: bucket, prefix: prefix}
}

// Ping checks that the bucket exists and is reachable with the configured
// credentials.
func (b *S3Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return fmt.Errorf("s3 head bucket %s: %w", b.bucket, err)
	}
	return nil
}

func (b *S3Backend) key(sessionID string) *string {
	return aws.String(b.prefix + sessionID + ".json")
}

// Save uploads a record with its expiry in metadata.
func (b *S3Backend) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	if b.closed.Load() {
		return ErrBackendClosed
	}

	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         b.key(sessionID),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			metaExpiresAt: strconv.FormatInt(expiresAt.UnixMilli(), 10),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", sessionID, err)
	}
	return nil
}

// Load downloads a record if it exists and hasn't expired.
func (b *S3Backend) Load(ctx context.Context, sessionID string) ([]byte, error) {
	data, expiresAt, err := b.get(ctx, sessionID)
	if err != nil || data == nil {
		return nil, err
	}
	if time.Now().After(expiresAt) {
		return nil, nil
	}
	return data, nil
}

func (b *S3Backend) get(ctx context.Context, sessionID string) ([]byte, time.Time, error) {
	if b.closed.Load() {
		return nil, time.Time{}, ErrBackendClosed
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    b.key(sessionID),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("s3 get %s: %w", sessionID, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("s3 read %s: %w", sessionID, err)
	}

	ms, err := strconv.ParseInt(out.Metadata[metaExpiresAt], 10, 64)
	if err != nil {
		// Without a readable expiry the record is treated as expired.
		return data, time.Time{}, nil
	}
	return data, time.UnixMilli(ms), nil
}

// Delete removes a record.
func (b *S3Backend) Delete(ctx context.Context, sessionID string) error {
	if b.closed.Load() {
		return ErrBackendClosed
	}

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    b.key(sessionID),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", sessionID, err)
	}
	return nil
}

// Touch rewrites the record with a new expiry, since object metadata
// cannot be changed in place.
func (b *S3Backend) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	data, _, err := b.get(ctx, sessionID)
	if err != nil || data == nil {
		return err
	}
	return b.Save(ctx, sessionID, data, expiresAt)
}

// SaveAll uploads records one by one; S3 has no multi-object put.
func (b *S3Backend) SaveAll(ctx context.Context, records map[string]Entry) error {
	var errs []error
	for id, e := range records {
		if err := b.Save(ctx, id, e.Data, e.ExpiresAt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close marks the backend as closed.
func (b *S3Backend) Close() error {
	b.closed.Store(true)
	return nil
}
