package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/loksewa/noticemirror/internal/hash/sha256"
)

func newTestStore(t *testing.T, handler http.Handler) *SnapshotStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	store, err := New(client, Config{Bucket: "test-bucket"})
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestPutSnapshot(t *testing.T) {
	t.Parallel()

	objectName := "snapshots/2020/notices.json"
	payload := `[{"title":"A"}]`
	digest := sha256.New().Hash([]byte(payload))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, objectName, r.URL.Query().Get("name"))
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"), "snapshots are write-once")

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), payload)
		assert.Contains(t, string(body), "application/json")
		assert.Contains(t, string(body), fmt.Sprintf(`"sha256":%q`, digest))
		assert.Contains(t, string(body), snapshotCacheControl)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"bucket":"test-bucket","name":%q}`, objectName)
	})

	store := newTestStore(t, handler)
	uri, err := store.PutSnapshot(context.Background(), objectName, "application/json", []byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/"+objectName, uri)
}

func TestPutSnapshotServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := store.PutSnapshot(context.Background(), "snapshots/x.json", "application/json", []byte("[]"))
	assert.Error(t, err)
}

func TestPutSnapshotExistingObjectIsArchived(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprint(w, `{"error":{"code":412,"message":"At least one of the pre-conditions you specified did not hold."}}`)
	}))

	uri, err := store.PutSnapshot(context.Background(), "snapshots/dup.json", "application/json", []byte("[]"))
	require.NoError(t, err)
	assert.Equal(t, "gs://test-bucket/snapshots/dup.json", uri)
}

func TestPutSnapshotRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutSnapshot(context.Background(), " ", "application/json", []byte("[]"))
	assert.Error(t, err)
}
