// Package gcs archives notice snapshots in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/loksewa/noticemirror/internal/hash/sha256"
)

const (
	// Snapshot objects never change once written.
	snapshotCacheControl = "private, max-age=31536000, immutable"
	metadataDigest       = "sha256"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// SnapshotStore writes snapshots to a configured GCS bucket.
type SnapshotStore struct {
	client *storage.Client
	bucket string
	hasher *sha256.Hasher
}

// New creates a GCS-backed snapshot store.
func New(client *storage.Client, cfg Config) (*SnapshotStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &SnapshotStore{
		client: client,
		bucket: cfg.Bucket,
		hasher: sha256.New(),
	}, nil
}

// PutSnapshot uploads data as a write-once object and returns a gs:// URI.
//
// Snapshot paths carry the content digest, so an object that already exists at
// path holds the same bytes and the upload is treated as done.
func (s *SnapshotStore) PutSnapshot(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	uri := fmt.Sprintf("gs://%s/%s", s.bucket, path)

	obj := s.client.Bucket(s.bucket).Object(path).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	writer.CacheControl = snapshotCacheControl
	writer.Metadata = map[string]string{
		metadataDigest: s.hasher.Hash(data),
	}
	writer.CRC32C = crc32.Checksum(data, crc32cTable)
	writer.SendCRC32C = true

	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		if alreadyArchived(err) {
			return uri, nil
		}
		return "", fmt.Errorf("close writer: %w", err)
	}
	return uri, nil
}

func alreadyArchived(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}

// Close releases the underlying client.
func (s *SnapshotStore) Close() error {
	return s.client.Close()
}
