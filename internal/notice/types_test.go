package notice

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoticeMarshalOrdersFields(t *testing.T) {
	t.Parallel()

	n := Notice{
		ID:            2,
		PDFLink:       "u2",
		DatePublished: "२०७७-०१-०२",
		Title:         "सूचना",
		Extra: map[string]json.RawMessage{
			"zone":     json.RawMessage(`"east"`),
			"category": json.RawMessage(`{"code":1}`),
			"title":    json.RawMessage(`"shadowed"`),
		},
	}

	out, err := json.Marshal(n)
	require.NoError(t, err)
	require.Equal(t,
		`{"id":2,"noticePDFLink":"u2","datePublished":"२०७७-०१-०२","title":"सूचना","category":{"code":1},"zone":"east"}`,
		string(out))
}

func TestNoticeMarshalOmitsZeroID(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(Notice{Title: "A"})
	require.NoError(t, err)
	require.Equal(t, `{"noticePDFLink":"","datePublished":"","title":"A"}`, string(out))
}

func TestNoticeUnmarshalCollectsExtra(t *testing.T) {
	t.Parallel()

	var n Notice
	require.NoError(t, json.Unmarshal(
		[]byte(`{"id":7,"title":"A","noticePDFLink":"u1","datePublished":"2020-01-01","category":"x"}`), &n))
	require.Equal(t, int64(7), n.ID)
	require.Equal(t, "A", n.Title)
	require.Equal(t, map[string]json.RawMessage{"category": json.RawMessage(`"x"`)}, n.Extra)

	var plain Notice
	require.NoError(t, json.Unmarshal([]byte(`{"title":"B"}`), &plain))
	require.Equal(t, Notice{Title: "B"}, plain)
}

func TestNoticeUnmarshalRejectsBadShapes(t *testing.T) {
	t.Parallel()

	for _, body := range []string{`null`, `[1]`, `{"title":5}`, `{"id":"x"}`} {
		var n Notice
		require.Error(t, json.Unmarshal([]byte(body), &n), body)
	}
}
