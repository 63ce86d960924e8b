package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/loksewa/noticemirror/internal/notice"
)

type seqKeys struct{ n int }

func (s *seqKeys) NewKey() (string, error) {
	s.n++
	return fmt.Sprintf("key-%d", s.n), nil
}

func newMockStore(t *testing.T) (*NoticeStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewNoticeStoreWithPool(mock, "notices", &seqKeys{})
	require.NoError(t, err)
	return store, mock
}

func TestNewNoticeStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewNoticeStoreWithPool(nil, "notices", nil)
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewNoticeStoreWithPool(mock, "notices; DROP TABLE x", nil)
	require.ErrorContains(t, err, "invalid table name")

	store, err := NewNoticeStoreWithPool(mock, "", nil)
	require.NoError(t, err)
	require.Equal(t, "notices", store.table)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS notices").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAllOrdersByID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rows := mock.NewRows([]string{"id", "notice_pdf_link", "date_published", "title", "extra"}).
		AddRow(int64(1), "u1", "2020-01-01", "A", "{}").
		AddRow(int64(2), "u2", "2020-01-02", "B", `{"category":"x"}`)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, notice_pdf_link, date_published, title, extra FROM notices ORDER BY id ASC")).
		WillReturnRows(rows)

	got, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []notice.Notice{
		{ID: 1, PDFLink: "u1", DatePublished: "2020-01-01", Title: "A"},
		{
			ID: 2, PDFLink: "u2", DatePublished: "2020-01-02", Title: "B",
			Extra: map[string]json.RawMessage{"category": json.RawMessage(`"x"`)},
		},
	}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAllEmptyIsNotNil(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id").
		WillReturnRows(mock.NewRows([]string{"id", "notice_pdf_link", "date_published", "title", "extra"}))

	got, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestListAllWrapsStoreUnavailable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id").WillReturnError(errors.New("connection refused"))

	_, err := store.ListAll(context.Background())
	require.ErrorIs(t, err, notice.ErrStoreUnavailable)
	require.ErrorContains(t, err, "connection refused")
}

func TestListKeysAndDelete(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT doc_key FROM notices").
		WillReturnRows(mock.NewRows([]string{"doc_key"}).AddRow("k1").AddRow("k2"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notices WHERE doc_key = $1")).
		WithArgs("k1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	keys, err := store.ListKeys(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"k1", "k2"}, keys)
	require.NoError(t, store.Delete(context.Background(), "k1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAllReportsCount(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM notices").WillReturnResult(pgxmock.NewResult("DELETE", 4))

	removed, err := store.DeleteAll(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 4, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertUsesGeneratedKey(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	n := notice.Notice{ID: 3, PDFLink: "u3", DatePublished: "२०७७", Title: "सूचना"}
	mock.ExpectExec("INSERT INTO notices").
		WithArgs("key-1", n.ID, n.PDFLink, n.DatePublished, n.Title, "{}").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), n))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertKeepsUnmodelledFields(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	n := notice.Notice{
		ID:    1,
		Title: "A",
		Extra: map[string]json.RawMessage{"pages": json.RawMessage(`3`)},
	}
	mock.ExpectExec("INSERT INTO notices").
		WithArgs("key-1", n.ID, n.PDFLink, n.DatePublished, n.Title, `{"pages":3}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), n))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceAllRunsInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM notices").WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"notices"}, noticeColumns).WillReturnResult(2)
	mock.ExpectCommit()

	removed, err := store.ReplaceAll(context.Background(), []notice.Notice{
		{ID: 1, Title: "A"},
		{ID: 2, Title: "B"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 5, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceAllWithNoNoticesSkipsCopy(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM notices").WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	removed, err := store.ReplaceAll(context.Background(), nil)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceAllRollsBackOnCopyFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM notices").WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectCopyFrom(pgx.Identifier{"notices"}, noticeColumns).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.ReplaceAll(context.Background(), []notice.Notice{{ID: 1, Title: "A"}})
	require.ErrorIs(t, err, notice.ErrStoreUnavailable)
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceAllBeginFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

	_, err := store.ReplaceAll(context.Background(), []notice.Notice{{ID: 1}})
	require.ErrorIs(t, err, notice.ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMaxID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(id), 0) FROM notices")).
		WillReturnRows(mock.NewRows([]string{"coalesce"}).AddRow(int64(42)))

	maxID, err := store.MaxID(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 42, maxID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewNoticeStoreWithPool(mock, "notices", nil)
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("down"))

	require.NoError(t, store.Ping(context.Background()))
	require.ErrorIs(t, store.Ping(context.Background()), notice.ErrStoreUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}
