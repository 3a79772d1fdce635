package kv

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/router-for-me/chatrelay/internal/config"
)

const expiresAtMetaKey = "Expires-At"

// ObjectStore keeps each key as an object in an S3-compatible bucket.
// Expiry is recorded in object metadata and checked on read; pair the bucket
// with a lifecycle rule to reclaim space.
type ObjectStore struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewObjectStore connects to the endpoint and ensures the bucket exists.
func NewObjectStore(ctx context.Context, cfg config.ObjectStoreStorageConfig) (*ObjectStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("kv: create object storage client: %w", err)
	}
	store := &ObjectStore{client: client, bucket: cfg.Bucket, now: time.Now}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("kv: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("kv: create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return store, nil
}

// Get implements Store.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(err)
	}
	defer func() { _ = obj.Close() }()

	info, err := obj.Stat()
	if err != nil {
		return nil, s.translate(err)
	}
	raw := info.UserMetadata[expiresAtMetaKey]
	if raw == "" {
		raw = info.Metadata.Get("X-Amz-Meta-" + expiresAtMetaKey)
	}
	if expired(s.now(), raw) {
		return nil, ErrNotFound
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.translate(err)
	}
	return data, nil
}

// Put implements Store.
func (s *ObjectStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	if deadline := expiryFor(s.now(), ttl); !deadline.IsZero() {
		opts.UserMetadata = map[string]string{expiresAtMetaKey: strconv.FormatInt(deadline.UnixMilli(), 10)}
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(value), int64(len(value)), opts)
	return err
}

// Delete implements Store.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && s.translate(err) == ErrNotFound {
		return nil
	}
	return err
}

// Ping implements Store.
func (s *ObjectStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("kv: bucket %s does not exist", s.bucket)
	}
	return nil
}

// Close implements Store.
func (s *ObjectStore) Close() error { return nil }

func (s *ObjectStore) translate(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return ErrNotFound
	}
	return err
}

func expired(now time.Time, raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return isExpired(now, time.UnixMilli(ms))
}
