// Package notice defines the notice model and the ports shared across subsystems.
package notice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrUpstreamUnavailable marks failures of the upstream notice source: transport
	// errors, non-success statuses and payloads that are not a notice list.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrStoreUnavailable marks any I/O failure of the notice store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Notice is one published PSC notice.
//
// ID is assigned when the notice is written to the mirror and is zero (omitted
// from JSON) for notices served straight from upstream. Upstream fields outside
// the modelled ones are kept in Extra and written back out after them.
type Notice struct {
	ID            int64                      `json:"id,omitempty"`
	PDFLink       string                     `json:"noticePDFLink"`
	DatePublished string                     `json:"datePublished"`
	Title         string                     `json:"title"`
	Extra         map[string]json.RawMessage `json:"-"`
}

const (
	fieldID            = "id"
	fieldPDFLink       = "noticePDFLink"
	fieldDatePublished = "datePublished"
	fieldTitle         = "title"
)

func isModelledField(key string) bool {
	switch key {
	case fieldID, fieldPDFLink, fieldDatePublished, fieldTitle:
		return true
	}
	return false
}

// MarshalJSON writes id first (when set), then the modelled fields, then Extra
// in key order.
func (n Notice) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, value any) error {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal notice field %q: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(raw)
		return nil
	}

	if n.ID != 0 {
		if err := write(fieldID, n.ID); err != nil {
			return nil, err
		}
	}
	for _, f := range []struct {
		key   string
		value string
	}{
		{fieldPDFLink, n.PDFLink},
		{fieldDatePublished, n.DatePublished},
		{fieldTitle, n.Title},
	} {
		if err := write(f.key, f.value); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(n.Extra))
	for k := range n.Extra {
		if !isModelledField(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, n.Extra[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a notice object. Unknown fields land in Extra.
func (n *Notice) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("notice must be a JSON object")
	}
	var out Notice
	targets := map[string]any{
		fieldID:            &out.ID,
		fieldPDFLink:       &out.PDFLink,
		fieldDatePublished: &out.DatePublished,
		fieldTitle:         &out.Title,
	}
	for key, raw := range fields {
		target, ok := targets[key]
		if !ok {
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[key] = raw
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return fmt.Errorf("notice field %q: %w", key, err)
		}
	}
	*n = out
	return nil
}

// WithID returns a copy of n carrying id.
func (n Notice) WithID(id int64) Notice {
	n.ID = id
	return n
}

// Snapshot is the raw result of one upstream fetch kept for auditing.
type Snapshot struct {
	FetchedAt time.Time `json:"fetched_at"`
	Source    string    `json:"source"`
	Notices   []Notice  `json:"notices"`
}
