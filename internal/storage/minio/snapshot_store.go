// Package minio archives notice snapshots in an S3-compatible bucket.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the S3 endpoint and credentials.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Region skips the bucket location lookup when set.
	Region string
}

// SnapshotStore writes snapshots through a minio-go client.
type SnapshotStore struct {
	client *mclient.Client
	bucket string
}

// New builds the client and fails fast when the bucket is missing.
// An endpoint carrying a scheme overrides UseSSL.
func New(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	const op = "storage/minio/New"

	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("%s: bucket is required", op)
	}
	endpoint, secure := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	if endpoint == "" {
		return nil, fmt.Errorf("%s: endpoint is required", op)
	}

	client, err := mclient.New(endpoint, &mclient.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s: bucket %q does not exist", op, cfg.Bucket)
	}

	return &SnapshotStore{client: client, bucket: cfg.Bucket}, nil
}

// PutSnapshot uploads data and returns an s3:// URI.
func (s *SnapshotStore) PutSnapshot(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	const op = "storage/minio/PutSnapshot"

	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%s: path is required", op)
	}
	opts := mclient.PutObjectOptions{ContentType: contentType}
	info, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Sprintf("s3://%s/%s", info.Bucket, info.Key), nil
}

// normalizeEndpoint strips a URL scheme, which minio-go rejects, and derives
// TLS from it.
func normalizeEndpoint(raw string, useSSL bool) (string, bool) {
	endpoint := strings.TrimSpace(raw)
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		return u.Host, u.Scheme == "https"
	}
	return strings.TrimRight(endpoint, "/"), useSSL
}
