// Package memory provides in-memory notice and snapshot stores for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/loksewa/noticemirror/internal/id/uuid"
	"github.com/loksewa/noticemirror/internal/notice"
)

var errClosed = errors.New("memory store closed")

type document struct {
	key    string
	notice notice.Notice
}

// NoticeStore keeps notices in insertion order behind a mutex.
type NoticeStore struct {
	mu     sync.RWMutex
	docs   []document
	keys   notice.KeyGenerator
	closed bool
}

var _ notice.Store = (*NoticeStore)(nil)

// NewNoticeStore constructs a NoticeStore. A nil generator falls back to UUIDv7 keys.
func NewNoticeStore(keys notice.KeyGenerator) *NoticeStore {
	if keys == nil {
		keys = uuid.New()
	}
	return &NoticeStore{keys: keys}
}

// ListAll returns a copy of every notice ordered by ID. Equal IDs keep insertion order.
func (s *NoticeStore) ListAll(_ context.Context) ([]notice.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, unavailable(errClosed)
	}
	out := make([]notice.Notice, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d.notice)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListKeys returns document keys in insertion order.
func (s *NoticeStore) ListKeys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, unavailable(errClosed)
	}
	keys := make([]string, 0, len(s.docs))
	for _, d := range s.docs {
		keys = append(keys, d.key)
	}
	return keys, nil
}

// Delete removes the document with key, if present.
func (s *NoticeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable(errClosed)
	}
	for i, d := range s.docs {
		if d.key == key {
			s.docs = append(s.docs[:i:i], s.docs[i+1:]...)
			return nil
		}
	}
	return nil
}

// DeleteAll empties the store.
func (s *NoticeStore) DeleteAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, unavailable(errClosed)
	}
	removed := int64(len(s.docs))
	s.docs = nil
	return removed, nil
}

// Insert appends one document under a fresh key.
func (s *NoticeStore) Insert(_ context.Context, n notice.Notice) error {
	key, err := s.keys.NewKey()
	if err != nil {
		return unavailable(fmt.Errorf("generate key: %w", err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return unavailable(errClosed)
	}
	s.docs = append(s.docs, document{key: key, notice: n})
	return nil
}

// ReplaceAll builds the new document set outside the lock and swaps it in.
func (s *NoticeStore) ReplaceAll(_ context.Context, notices []notice.Notice) (int64, error) {
	next := make([]document, 0, len(notices))
	for _, n := range notices {
		key, err := s.keys.NewKey()
		if err != nil {
			return 0, unavailable(fmt.Errorf("generate key: %w", err))
		}
		next = append(next, document{key: key, notice: n})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, unavailable(errClosed)
	}
	removed := int64(len(s.docs))
	s.docs = next
	return removed, nil
}

// MaxID returns the largest ID held, or 0 when empty.
func (s *NoticeStore) MaxID(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, unavailable(errClosed)
	}
	var maxID int64
	for _, d := range s.docs {
		if d.notice.ID > maxID {
			maxID = d.notice.ID
		}
	}
	return maxID, nil
}

// Ping reports whether the store is still open.
func (s *NoticeStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return unavailable(errClosed)
	}
	return nil
}

// Close marks the store closed. Later calls fail with notice.ErrStoreUnavailable.
func (s *NoticeStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", notice.ErrStoreUnavailable, err)
}
