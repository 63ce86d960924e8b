// Package refresh replaces the mirrored notice set with a fresh upstream snapshot.
//
// Two modes exist. ModeReplace fetches first and swaps the whole set through
// Store.ReplaceAll, so a failed fetch leaves the mirror untouched and readers
// never see an empty or mixed set. ModeDispatch deletes and inserts one
// document per goroutine without waiting, which reproduces the behaviour of
// the service this mirror replaced: a failed fetch after the delete phase
// leaves the mirror empty.
package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/loksewa/noticemirror/internal/clock/system"
	"github.com/loksewa/noticemirror/internal/hash/sha256"
	"github.com/loksewa/noticemirror/internal/metrics"
	"github.com/loksewa/noticemirror/internal/notice"
)

// Mode selects how the store is rewritten.
type Mode string

// Refresh modes.
const (
	ModeReplace  Mode = "replace"
	ModeDispatch Mode = "dispatch"
)

// IDPolicy selects where ids start on each refresh.
type IDPolicy string

// ID policies.
const (
	// IDReset numbers every refresh 1..N.
	IDReset IDPolicy = "reset"
	// IDMonotonic continues from the previous refresh, seeded from Store.MaxID()+1.
	IDMonotonic IDPolicy = "monotonic"
)

// EventType tags refresh events on the publisher.
const EventType = "notices.refreshed"

const snapshotContentType = "application/json"

// ParseMode validates a configured mode; empty means ModeReplace.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeReplace:
		return ModeReplace, nil
	case ModeDispatch:
		return ModeDispatch, nil
	default:
		return "", fmt.Errorf("unknown refresh mode %q", s)
	}
}

// ParseIDPolicy validates a configured id policy; empty means IDReset.
func ParseIDPolicy(s string) (IDPolicy, error) {
	switch IDPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", IDReset:
		return IDReset, nil
	case IDMonotonic:
		return IDMonotonic, nil
	default:
		return "", fmt.Errorf("unknown id policy %q", s)
	}
}

// Config controls Synchronizer behavior.
type Config struct {
	Mode     Mode
	IDPolicy IDPolicy
	// Source is recorded in snapshots, normally the upstream URL.
	Source string
	// SnapshotPrefix is the archive path prefix.
	SnapshotPrefix string
	// Topic receives refresh events. Empty disables publishing.
	Topic string
}

// Result summarizes one refresh.
type Result struct {
	Mode    Mode
	Removed int64
	Fetched int
	// FirstID is the id given to the first notice; NextID follows the last one.
	FirstID        int64
	NextID         int64
	Started        time.Time
	Finished       time.Time
	SnapshotURI    string
	SnapshotDigest string
	EventID        string
}

// Event is published after every successful refresh.
type Event struct {
	Type           string    `json:"type"`
	Mode           Mode      `json:"mode"`
	Fetched        int       `json:"fetched"`
	Removed        int64     `json:"removed"`
	FirstID        int64     `json:"first_id"`
	LastID         int64     `json:"last_id"`
	SnapshotURI    string    `json:"snapshot_uri,omitempty"`
	SnapshotDigest string    `json:"snapshot_sha256"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Synchronizer rewrites the store from the fetcher. It is safe for concurrent use.
type Synchronizer struct {
	store     notice.Store
	fetcher   notice.Fetcher
	archiver  notice.Archiver
	publisher notice.Publisher
	clock     notice.Clock
	hasher    *sha256.Hasher
	cfg       Config
	logger    *zap.Logger

	mu         sync.Mutex
	seeded     bool
	nextID     int64
	lastDigest string
	lastURI    string

	pending sync.WaitGroup
}

// New constructs a Synchronizer. archiver, publisher and clock may be nil.
func New(
	store notice.Store,
	fetcher notice.Fetcher,
	archiver notice.Archiver,
	publisher notice.Publisher,
	clock notice.Clock,
	cfg Config,
	logger *zap.Logger,
) *Synchronizer {
	if cfg.Mode == "" {
		cfg.Mode = ModeReplace
	}
	if cfg.IDPolicy == "" {
		cfg.IDPolicy = IDReset
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		store:     store,
		fetcher:   fetcher,
		archiver:  archiver,
		publisher: publisher,
		clock:     clock,
		hasher:    sha256.New(),
		cfg:       cfg,
		logger:    logger,
	}
}

// Mode reports the configured mode.
func (s *Synchronizer) Mode() Mode {
	return s.cfg.Mode
}

// Refresh runs one refresh. Errors wrap notice.ErrUpstreamUnavailable or
// notice.ErrStoreUnavailable. In ModeDispatch it returns once every store
// write has been dispatched; call Wait to block until they land.
func (s *Synchronizer) Refresh(ctx context.Context) (Result, error) {
	ctx, span := otel.Tracer("noticemirror/refresh").Start(ctx, "refresh")
	defer span.End()
	span.SetAttributes(
		attribute.String("refresh.mode", string(s.cfg.Mode)),
		attribute.String("refresh.id_policy", string(s.cfg.IDPolicy)),
	)

	started := s.clock.Now()
	var (
		res     Result
		notices []notice.Notice
		err     error
		begin   = time.Now()
	)
	switch s.cfg.Mode {
	case ModeDispatch:
		res, notices, err = s.refreshDispatch(ctx)
	default:
		res, notices, err = s.refreshReplace(ctx)
	}
	res.Mode = s.cfg.Mode
	res.Started = started
	res.Finished = s.clock.Now()

	if err != nil {
		metrics.ObserveRefresh(string(s.cfg.Mode), metrics.OutcomeError, 0, time.Since(begin))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("refresh failed", zap.String("mode", string(s.cfg.Mode)), zap.Error(err))
		return res, err
	}
	metrics.ObserveRefresh(string(s.cfg.Mode), metrics.OutcomeSuccess, res.Fetched, time.Since(begin))
	span.SetAttributes(attribute.Int("refresh.fetched", res.Fetched))

	s.archiveAndPublish(ctx, &res, notices)

	s.logger.Info("refresh complete",
		zap.String("mode", string(res.Mode)),
		zap.Int("fetched", res.Fetched),
		zap.Int64("removed", res.Removed),
		zap.Int64("first_id", res.FirstID),
		zap.Int64("next_id", res.NextID),
		zap.String("snapshot_uri", res.SnapshotURI),
	)
	return res, nil
}

// Wait blocks until all dispatched store writes have finished.
func (s *Synchronizer) Wait() {
	s.pending.Wait()
}

func (s *Synchronizer) refreshReplace(ctx context.Context) (Result, []notice.Notice, error) {
	if err := s.seed(ctx); err != nil {
		return Result{}, nil, err
	}
	fetched, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return Result{}, nil, fmt.Errorf("fetch notices: %w", err)
	}
	first := s.reserve(len(fetched))
	assigned, next := assignIDs(fetched, first)

	removed, err := s.store.ReplaceAll(ctx, assigned)
	if err != nil {
		return Result{}, nil, fmt.Errorf("replace notices: %w", err)
	}
	return Result{
		Removed: removed,
		Fetched: len(fetched),
		FirstID: first,
		NextID:  next,
	}, fetched, nil
}

func (s *Synchronizer) refreshDispatch(ctx context.Context) (Result, []notice.Notice, error) {
	if err := s.seed(ctx); err != nil {
		return Result{}, nil, err
	}
	keys, err := s.store.ListKeys(ctx)
	if err != nil {
		return Result{}, nil, fmt.Errorf("list notice keys: %w", err)
	}

	detached := context.WithoutCancel(ctx)
	for _, key := range keys {
		s.dispatch(func() {
			if err := s.store.Delete(detached, key); err != nil {
				s.logger.Warn("dispatched delete failed", zap.String("key", key), zap.Error(err))
			}
		})
	}

	fetched, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return Result{Removed: int64(len(keys))}, nil, fmt.Errorf("fetch notices: %w", err)
	}
	first := s.reserve(len(fetched))
	assigned, next := assignIDs(fetched, first)

	for _, n := range assigned {
		s.dispatch(func() {
			if err := s.store.Insert(detached, n); err != nil {
				s.logger.Warn("dispatched insert failed", zap.Int64("id", n.ID), zap.Error(err))
			}
		})
	}
	return Result{
		Removed: int64(len(keys)),
		Fetched: len(fetched),
		FirstID: first,
		NextID:  next,
	}, fetched, nil
}

func (s *Synchronizer) dispatch(op func()) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		op()
	}()
}

// seed loads the monotonic counter from the store once per process.
func (s *Synchronizer) seed(ctx context.Context) error {
	if s.cfg.IDPolicy != IDMonotonic {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded {
		return nil
	}
	maxID, err := s.store.MaxID(ctx)
	if err != nil {
		return fmt.Errorf("seed id counter: %w", err)
	}
	s.nextID = maxID + 1
	s.seeded = true
	return nil
}

// reserve hands out the first id of a block of n ids.
func (s *Synchronizer) reserve(n int) int64 {
	if s.cfg.IDPolicy != IDMonotonic {
		return 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	first := s.nextID
	s.nextID += int64(n)
	return first
}

// assignIDs numbers notices from start in order and returns the id after the last.
func assignIDs(notices []notice.Notice, start int64) ([]notice.Notice, int64) {
	out := make([]notice.Notice, len(notices))
	next := start
	for i, n := range notices {
		out[i] = n.WithID(next)
		next++
	}
	return out, next
}

// archiveAndPublish is best-effort: failures are logged and never fail the refresh.
func (s *Synchronizer) archiveAndPublish(ctx context.Context, res *Result, fetched []notice.Notice) {
	digest, err := s.hasher.HashJSON(fetched)
	if err != nil {
		s.logger.Warn("hash snapshot failed", zap.Error(err))
	}
	res.SnapshotDigest = digest

	if s.archiver != nil && digest != "" {
		res.SnapshotURI = s.archive(ctx, res, fetched, digest)
	}

	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	event := Event{
		Type:           EventType,
		Mode:           res.Mode,
		Fetched:        res.Fetched,
		Removed:        res.Removed,
		FirstID:        res.FirstID,
		LastID:         res.NextID - 1,
		SnapshotURI:    res.SnapshotURI,
		SnapshotDigest: digest,
		StartedAt:      res.Started,
		FinishedAt:     res.Finished,
	}
	id, err := s.publisher.Publish(ctx, s.cfg.Topic, event)
	if err != nil {
		s.logger.Warn("publish refresh event failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
		return
	}
	res.EventID = id
}

// archive writes the snapshot unless it matches the last one archived.
func (s *Synchronizer) archive(ctx context.Context, res *Result, fetched []notice.Notice, digest string) string {
	s.mu.Lock()
	if digest == s.lastDigest {
		uri := s.lastURI
		s.mu.Unlock()
		s.logger.Debug("snapshot unchanged, skipping archive", zap.String("sha256", digest))
		return uri
	}
	s.mu.Unlock()

	data, err := json.Marshal(notice.Snapshot{
		FetchedAt: res.Started,
		Source:    s.cfg.Source,
		Notices:   fetched,
	})
	if err != nil {
		s.logger.Warn("encode snapshot failed", zap.Error(err))
		return ""
	}
	uri, err := s.archiver.PutSnapshot(ctx, s.snapshotPath(res.Started, digest), snapshotContentType, data)
	if err != nil {
		s.logger.Warn("archive snapshot failed", zap.Error(err))
		return ""
	}

	s.mu.Lock()
	s.lastDigest = digest
	s.lastURI = uri
	s.mu.Unlock()
	return uri
}

func (s *Synchronizer) snapshotPath(at time.Time, digest string) string {
	at = at.UTC()
	name := fmt.Sprintf("%d-%s.json", at.UnixMilli(), shortDigest(digest))
	return path.Join(strings.Trim(s.cfg.SnapshotPrefix, "/"), at.Format("2006/01/02"), name)
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
