// Package postgres provides a Postgres-backed notice store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loksewa/noticemirror/internal/id/uuid"
	"github.com/loksewa/noticemirror/internal/notice"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var noticeColumns = []string{"doc_key", "id", "notice_pdf_link", "date_published", "title", "extra"}

// NoticeStoreConfig controls the Postgres connection pool used for notice rows.
type NoticeStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// NoticeStore keeps notices in a single table keyed by doc_key.
type NoticeStore struct {
	pool  pgxPool
	table string
	keys  notice.KeyGenerator
}

var _ notice.Store = (*NoticeStore)(nil)

// NewNoticeStore connects to Postgres and ensures the notice table exists.
func NewNoticeStore(ctx context.Context, cfg NoticeStoreConfig) (*NoticeStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewNoticeStoreWithPool(pool, cfg.Table, nil)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewNoticeStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewNoticeStoreWithPool(pool pgxPool, table string, keys notice.KeyGenerator) (*NoticeStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "notices"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if keys == nil {
		keys = uuid.New()
	}
	return &NoticeStore{pool: pool, table: table, keys: keys}, nil
}

// EnsureSchema creates the notice table and its id index if missing.
func (s *NoticeStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	doc_key text PRIMARY KEY,
	id bigint NOT NULL,
	notice_pdf_link text NOT NULL DEFAULT '',
	date_published text NOT NULL DEFAULT '',
	title text NOT NULL DEFAULT '',
	extra jsonb NOT NULL DEFAULT '{}'::jsonb
);
ALTER TABLE %[1]s ADD COLUMN IF NOT EXISTS extra jsonb NOT NULL DEFAULT '{}'::jsonb;
CREATE INDEX IF NOT EXISTS %[1]s_id_idx ON %[1]s (id);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return unavailable("ensure schema", err)
	}
	return nil
}

// ListAll returns every notice ordered by id.
func (s *NoticeStore) ListAll(ctx context.Context) ([]notice.Notice, error) {
	query := fmt.Sprintf(
		`SELECT id, notice_pdf_link, date_published, title, extra FROM %s ORDER BY id ASC, doc_key ASC`,
		s.table,
	)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, unavailable("list notices", err)
	}
	defer rows.Close()

	out := []notice.Notice{}
	for rows.Next() {
		var (
			n     notice.Notice
			extra string
		)
		if err := rows.Scan(&n.ID, &n.PDFLink, &n.DatePublished, &n.Title, &extra); err != nil {
			return nil, unavailable("scan notice", err)
		}
		if n.Extra, err = decodeExtra(extra); err != nil {
			return nil, unavailable("scan notice", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list notices", err)
	}
	return out, nil
}

// ListKeys returns document keys. UUIDv7 keys sort in insertion order.
func (s *NoticeStore) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT doc_key FROM %s ORDER BY doc_key ASC`, s.table))
	if err != nil {
		return nil, unavailable("list keys", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, unavailable("scan key", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list keys", err)
	}
	return keys, nil
}

// Delete removes one document.
func (s *NoticeStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE doc_key = $1`, s.table), key); err != nil {
		return unavailable("delete notice", err)
	}
	return nil
}

// DeleteAll removes every document.
func (s *NoticeStore) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table))
	if err != nil {
		return 0, unavailable("delete notices", err)
	}
	return tag.RowsAffected(), nil
}

// Insert writes one document under a fresh key.
func (s *NoticeStore) Insert(ctx context.Context, n notice.Notice) error {
	key, err := s.keys.NewKey()
	if err != nil {
		return unavailable("generate key", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (doc_key, id, notice_pdf_link, date_published, title, extra) VALUES ($1,$2,$3,$4,$5,$6)`,
		s.table,
	)
	extra, err := encodeExtra(n.Extra)
	if err != nil {
		return unavailable("encode notice", err)
	}
	if _, err := s.pool.Exec(ctx, query, key, n.ID, n.PDFLink, n.DatePublished, n.Title, extra); err != nil {
		return unavailable("insert notice", err)
	}
	return nil
}

// ReplaceAll deletes and bulk-copies inside one transaction.
func (s *NoticeStore) ReplaceAll(ctx context.Context, notices []notice.Notice) (int64, error) {
	rows := make([][]any, 0, len(notices))
	for _, n := range notices {
		key, err := s.keys.NewKey()
		if err != nil {
			return 0, unavailable("generate key", err)
		}
		extra, err := encodeExtra(n.Extra)
		if err != nil {
			return 0, unavailable("encode notice", err)
		}
		rows = append(rows, []any{key, n.ID, n.PDFLink, n.DatePublished, n.Title, extra})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, unavailable("begin replace", err)
	}
	tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, s.table))
	if err != nil {
		return 0, rollback(ctx, tx, unavailable("clear notices", err))
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, noticeColumns, pgx.CopyFromRows(rows)); err != nil {
			return 0, rollback(ctx, tx, unavailable("copy notices", err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, unavailable("commit replace", err)
	}
	return tag.RowsAffected(), nil
}

// MaxID returns the largest id, or 0 for an empty table.
func (s *NoticeStore) MaxID(ctx context.Context) (int64, error) {
	var maxID int64
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COALESCE(MAX(id), 0) FROM %s`, s.table))
	if err := row.Scan(&maxID); err != nil {
		return 0, unavailable("max id", err)
	}
	return maxID, nil
}

// Ping checks connectivity.
func (s *NoticeStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *NoticeStore) Close(_ context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("%w (rollback: %v)", cause, err)
	}
	return cause
}

// encodeExtra renders unmodelled upstream fields for the jsonb column.
func encodeExtra(extra map[string]json.RawMessage) (string, error) {
	if len(extra) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(extra)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeExtra(raw string) (map[string]json.RawMessage, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var extra map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &extra); err != nil {
		return nil, fmt.Errorf("decode extra: %w", err)
	}
	if len(extra) == 0 {
		return nil, nil
	}
	return extra, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, notice.ErrStoreUnavailable, err)
}
