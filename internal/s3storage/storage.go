// Package s3storage reads indexable files from and archives indexing logs to
// MinIO/S3.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/indexqueue/internal/config"
)

// Storage wraps MinIO/S3 interactions for file contents and indexing logs.
type Storage struct {
	client      *minio.Client
	filesBucket string
	logBucket   string
	region      string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:      client,
		filesBucket: cfg.FilesBucket,
		logBucket:   cfg.LogBucket,
		region:      cfg.S3Region,
	}, nil
}

// EnsureBuckets makes sure the files and log buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.filesBucket, s.logBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// ReadFile fetches the bytes of a file by its storage identifier.
func (s *Storage) ReadFile(ctx context.Context, identifier string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.filesBucket, identifier, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", identifier, err)
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", identifier, err)
	}
	return buf, nil
}

// ArchiveLog stores one indexing log entry.
func (s *Storage) ArchiveLog(ctx context.Context, key string, data []byte) error {
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	_, err := s.client.PutObject(ctx, s.logBucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return fmt.Errorf("archive log %s: %w", key, err)
	}
	return nil
}

// PresignLogURL returns a signed GET URL for an archived log entry.
func (s *Storage) PresignLogURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.logBucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign log %s: %w", key, err)
	}
	return u.String(), nil
}
