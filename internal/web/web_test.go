package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loksewa/noticemirror/internal/notice"
)

func newTestRenderer(t *testing.T, serverURL string) *Renderer {
	t.Helper()
	r, err := New(Page{Title: "लोक सेवा आयोग", Heading: "Notices"}, serverURL)
	require.NoError(t, err)
	return r
}

func TestRenderIndex(t *testing.T) {
	t.Parallel()
	r := newTestRenderer(t, "")

	var buf strings.Builder
	err := r.RenderIndex(&buf, []notice.Notice{
		{ID: 1, Title: "A & B", DatePublished: "2024-01-01", PDFLink: "https://psc.gov.np/a.pdf"},
		{ID: 2, Title: "Second", DatePublished: "2024-01-02"},
	})
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, "<title>लोक सेवा आयोग</title>")
	require.Contains(t, out, "<h2>Notices</h2>")
	require.Contains(t, out, "A &amp; B")
	require.Contains(t, out, `href="https://psc.gov.np/a.pdf"`)
	require.Contains(t, out, "<td>2</td>")
	require.Less(t, strings.Index(out, "A &amp; B"), strings.Index(out, "Second"))
}

func TestRenderIndexEmpty(t *testing.T) {
	t.Parallel()
	r := newTestRenderer(t, "")

	var buf strings.Builder
	require.NoError(t, r.RenderIndex(&buf, nil))
	require.Contains(t, buf.String(), "No notices available.")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestRenderIndexWriteError(t *testing.T) {
	t.Parallel()
	r := newTestRenderer(t, "")
	err := r.RenderIndex(failingWriter{}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "write index.tmpl")
}

func TestOpenAPIServers(t *testing.T) {
	t.Parallel()

	var doc struct {
		OpenAPI string `json:"openapi"`
		Servers []struct {
			URL string `json:"url"`
		} `json:"servers"`
		Components struct {
			Schemas map[string]json.RawMessage `json:"schemas"`
		} `json:"components"`
	}
	r := newTestRenderer(t, "https://notices.example.org")
	require.NoError(t, json.Unmarshal(r.OpenAPI(), &doc))
	require.Equal(t, "3.0.0", doc.OpenAPI)
	require.Len(t, doc.Servers, 1)
	require.Equal(t, "https://notices.example.org", doc.Servers[0].URL)
	require.Contains(t, doc.Components.Schemas, "PSC")

	r = newTestRenderer(t, "  ")
	require.NoError(t, json.Unmarshal(r.OpenAPI(), &doc))
	require.Empty(t, doc.Servers)
}

func TestRenderDocs(t *testing.T) {
	t.Parallel()
	r := newTestRenderer(t, "http://localhost:3000")

	var buf strings.Builder
	require.NoError(t, r.RenderDocs(&buf))
	out := buf.String()
	require.Contains(t, out, "Notice Mirror API")
	require.Contains(t, out, "<code>http://localhost:3000</code>")
	require.Contains(t, out, "<code>/update-data</code>")
	require.Less(t, strings.Index(out, "<code>/</code>"), strings.Index(out, "<code>/api/notices</code>"))
}

func TestStatic(t *testing.T) {
	t.Parallel()
	h, err := Static()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/style.css", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "table.notices")
}
