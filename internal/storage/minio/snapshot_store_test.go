package minio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw        string
		useSSL     bool
		wantHost   string
		wantSecure bool
	}{
		{raw: "http://localhost:9000", useSSL: true, wantHost: "localhost:9000", wantSecure: false},
		{raw: "https://s3.example.com", useSSL: false, wantHost: "s3.example.com", wantSecure: true},
		{raw: "localhost:9000", useSSL: false, wantHost: "localhost:9000", wantSecure: false},
		{raw: "s3.example.com/", useSSL: true, wantHost: "s3.example.com", wantSecure: true},
	}
	for _, tt := range tests {
		host, secure := normalizeEndpoint(tt.raw, tt.useSSL)
		require.Equal(t, tt.wantHost, host, tt.raw)
		require.Equal(t, tt.wantSecure, secure, tt.raw)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Endpoint: "localhost:9000"})
	require.ErrorContains(t, err, "bucket is required")

	_, err = New(context.Background(), Config{Bucket: "snapshots"})
	require.ErrorContains(t, err, "endpoint is required")
}

// fakeS3 answers the two calls the store makes: HEAD bucket and PUT object.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	if parts[0] != "snapshots" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch {
	case r.Method == http.MethodHead && (len(parts) == 1 || parts[1] == ""):
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && len(parts) == 2:
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.objects[parts[1]] = body
		f.types[parts[1]] = r.Header.Get("Content-Type")
		f.mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestPutSnapshotAgainstFakeS3(t *testing.T) {
	t.Parallel()

	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := New(context.Background(), Config{
		Endpoint:  srv.URL,
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "snapshots",
		Region:    "us-east-1",
	})
	require.NoError(t, err)

	uri, err := store.PutSnapshot(context.Background(), "2020/notices.json", "application/json", []byte(`[{"title":"A"}]`))
	require.NoError(t, err)
	require.Equal(t, "s3://snapshots/2020/notices.json", uri)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	// The client may frame the body with aws-chunked encoding.
	require.Contains(t, string(fake.objects["2020/notices.json"]), `[{"title":"A"}]`)
	require.Equal(t, "application/json", fake.types["2020/notices.json"])
}

func TestNewMissingBucketAgainstFakeS3(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&fakeS3{objects: map[string][]byte{}, types: map[string]string{}})
	t.Cleanup(srv.Close)

	_, err := New(context.Background(), Config{Endpoint: srv.URL, Bucket: "other", Region: "us-east-1"})
	require.ErrorContains(t, err, "does not exist")
}

// Run with GO_TEST_INTEGRATION=1 to exercise a real MinIO container.
func TestIntegration_PutSnapshot(t *testing.T) {
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	const (
		rootUser     = "root"
		rootPassword = "rootpass"
		bucket       = "snapshots"
	)
	req := tc.ContainerRequest{
		Image: "docker.io/minio/minio:latest",
		Env: map[string]string{
			"MINIO_ROOT_USER":     rootUser,
			"MINIO_ROOT_PASSWORD": rootPassword,
		},
		Cmd:          []string{"server", "/data"},
		ExposedPorts: []string{"9000/tcp"},
		WaitingFor:   wait.ForListeningPort("9000/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)

	admin, err := mclient.New(host+":"+port.Port(), &mclient.Options{
		Creds: credentials.NewStaticV4(rootUser, rootPassword, ""),
	})
	require.NoError(t, err)
	require.NoError(t, admin.MakeBucket(ctx, bucket, mclient.MakeBucketOptions{Region: "us-east-1"}))

	store, err := New(ctx, Config{
		Endpoint:  fmt.Sprintf("http://%s:%s", host, port.Port()),
		AccessKey: rootUser,
		SecretKey: rootPassword,
		Bucket:    bucket,
	})
	require.NoError(t, err)

	uri, err := store.PutSnapshot(ctx, "2020/notices.json", "application/json", []byte("[]"))
	require.NoError(t, err)
	require.Equal(t, "s3://snapshots/2020/notices.json", uri)

	info, err := admin.StatObject(ctx, bucket, "2020/notices.json", mclient.StatObjectOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 2, info.Size)
	require.Equal(t, "application/json", info.ContentType)
}
