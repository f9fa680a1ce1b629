package kv

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig captures configuration for the S3-compatible backend.
type ObjectConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	UseSSL    bool
	PathStyle bool
}

// ObjectStore stores every key as one object in a bucket.
type ObjectStore struct {
	client *minio.Client
	cfg    ObjectConfig
}

// NewObjectStore builds a minio client. The bucket is created by EnsureBucket.
func NewObjectStore(cfg ObjectConfig) (*ObjectStore, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store: bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("object store: access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("object store: secret key is required")
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("object store: create client: %w", err)
	}
	return &ObjectStore{client: client, cfg: cfg}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object store: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("object store: create bucket: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	fullKey := s.prefixedKey(fileNameFor(key))
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, fullKey, minio.GetObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("object store: get object %s: %w", fullKey, err)
	}
	defer func() { _ = obj.Close() }()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isObjectNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("object store: read object %s: %w", fullKey, err)
	}
	return data, true, nil
}

// Set implements Store.
func (s *ObjectStore) Set(ctx context.Context, key string, value []byte) error {
	fullKey := s.prefixedKey(fileNameFor(key))
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, fullKey, bytes.NewReader(value), int64(len(value)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		if isQuotaExceeded(err) {
			return fmt.Errorf("object store: put object %s: %w", fullKey, ErrQuotaExceeded)
		}
		return fmt.Errorf("object store: put object %s: %w", fullKey, err)
	}
	return nil
}

// Delete implements Store.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	fullKey := s.prefixedKey(fileNameFor(key))
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, fullKey, minio.RemoveObjectOptions{}); err != nil {
		if isObjectNotFound(err) {
			return nil
		}
		return fmt.Errorf("object store: delete object %s: %w", fullKey, err)
	}
	return nil
}

// Clear implements Store by removing every object under the prefix.
func (s *ObjectStore) Clear(ctx context.Context) error {
	prefix := s.prefixedKey("")
	for info := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			if isObjectNotFound(info.Err) {
				return nil
			}
			return fmt.Errorf("object store: list objects: %w", info.Err)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(info.Key, prefix), "/")
		if _, ok := keyForFileName(name); !ok {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.cfg.Bucket, info.Key, minio.RemoveObjectOptions{}); err != nil && !isObjectNotFound(err) {
			return fmt.Errorf("object store: delete object %s: %w", info.Key, err)
		}
	}
	return nil
}

func (s *ObjectStore) prefixedKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.cfg.Prefix == "" {
		return key
	}
	return strings.TrimLeft(s.cfg.Prefix+"/"+key, "/")
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}

func isQuotaExceeded(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "QuotaExceeded", "XMinioAdminBucketQuotaExceeded", "EntityTooLarge":
		return true
	}
	return false
}
