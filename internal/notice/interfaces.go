package notice

import (
	"context"
	"time"
)

// Fetcher retrieves the current notice list from upstream, in upstream order.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Notice, error)
}

// Store is the mirrored notice collection.
//
// Every method wraps I/O failures with ErrStoreUnavailable. The store does not
// enforce uniqueness of Notice.ID.
type Store interface {
	// ListAll returns every notice ordered by ID ascending.
	ListAll(ctx context.Context) ([]Notice, error)
	// ListKeys returns the document keys in store-listing order.
	ListKeys(ctx context.Context) ([]string, error)
	// Delete removes one document by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// DeleteAll removes every document and reports how many were removed.
	DeleteAll(ctx context.Context) (int64, error)
	// Insert adds one document.
	Insert(ctx context.Context, n Notice) error
	// ReplaceAll swaps the whole collection for notices in one step and reports
	// how many documents were replaced. Readers see either the old or the new set.
	ReplaceAll(ctx context.Context, notices []Notice) (int64, error)
	// MaxID returns the largest stored ID, or 0 when the store is empty.
	MaxID(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Archiver keeps raw upstream snapshots and returns their URI.
type Archiver interface {
	PutSnapshot(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes refresh events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// KeyGenerator produces document keys for stores that do not assign their own.
type KeyGenerator interface {
	NewKey() (string, error)
}

//go:generate mockgen -destination=mocks/mock_notice.go -package=mocks github.com/loksewa/noticemirror/internal/notice Fetcher,Store
