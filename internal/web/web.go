// Package web renders the HTML notice page, the API docs and the static assets.
package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"sort"
	"strings"

	"github.com/loksewa/noticemirror/internal/notice"
)

//go:embed templates/*.tmpl static/* openapi.json
var assetsFS embed.FS

// Page holds the strings shown above the notice table.
type Page struct {
	Title   string
	Heading string
}

type indexView struct {
	Title   string
	Heading string
	Notices []notice.Notice
}

type operation struct {
	Method  string
	Path    string
	Summary string
}

type docsView struct {
	Title       string
	Description string
	Version     string
	Servers     []string
	Operations  []operation
}

// Renderer executes the embedded templates. It is safe for concurrent use.
type Renderer struct {
	page    Page
	index   *template.Template
	docs    *template.Template
	openapi []byte
	docsV   docsView
}

// New parses the embedded templates and stamps serverURL into the OpenAPI
// document. An empty serverURL leaves the servers list empty.
func New(page Page, serverURL string) (*Renderer, error) {
	index, err := template.New("index.tmpl").Funcs(template.FuncMap{
		"add": func(a, b int) int { return a + b },
	}).ParseFS(assetsFS, "templates/index.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse index template: %w", err)
	}
	docs, err := template.ParseFS(assetsFS, "templates/docs.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse docs template: %w", err)
	}
	raw, err := assetsFS.ReadFile("openapi.json")
	if err != nil {
		return nil, fmt.Errorf("read openapi document: %w", err)
	}
	doc, err := withServer(raw, serverURL)
	if err != nil {
		return nil, err
	}
	view, err := buildDocsView(doc)
	if err != nil {
		return nil, err
	}
	return &Renderer{
		page:    page,
		index:   index,
		docs:    docs,
		openapi: doc,
		docsV:   view,
	}, nil
}

// RenderIndex writes the notice page. Nothing is written if execution fails.
func (r *Renderer) RenderIndex(w io.Writer, notices []notice.Notice) error {
	return execute(w, r.index, indexView{
		Title:   r.page.Title,
		Heading: r.page.Heading,
		Notices: notices,
	})
}

// RenderDocs writes the human-readable API page.
func (r *Renderer) RenderDocs(w io.Writer) error {
	return execute(w, r.docs, r.docsV)
}

// OpenAPI returns the OpenAPI document.
func (r *Renderer) OpenAPI() []byte {
	out := make([]byte, len(r.openapi))
	copy(out, r.openapi)
	return out
}

// Static serves the embedded stylesheet and other public assets.
func Static() (http.Handler, error) {
	sub, err := fs.Sub(assetsFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static fs: %w", err)
	}
	return http.FileServer(http.FS(sub)), nil
}

func execute(w io.Writer, tmpl *template.Template, data any) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("write %s: %w", tmpl.Name(), err)
	}
	return nil
}

func withServer(raw []byte, serverURL string) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode openapi document: %w", err)
	}
	servers := []map[string]string{}
	if serverURL = strings.TrimSpace(serverURL); serverURL != "" {
		servers = append(servers, map[string]string{"url": serverURL})
	}
	doc["servers"] = servers
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}
	return out, nil
}

func buildDocsView(raw []byte) (docsView, error) {
	var doc struct {
		Info struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Version     string `json:"version"`
		} `json:"info"`
		Servers []struct {
			URL string `json:"url"`
		} `json:"servers"`
		Paths map[string]map[string]struct {
			Summary string `json:"summary"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return docsView{}, fmt.Errorf("decode openapi document: %w", err)
	}

	view := docsView{
		Title:       doc.Info.Title,
		Description: doc.Info.Description,
		Version:     doc.Info.Version,
	}
	for _, s := range doc.Servers {
		view.Servers = append(view.Servers, s.URL)
	}
	for path, methods := range doc.Paths {
		for method, op := range methods {
			view.Operations = append(view.Operations, operation{
				Method:  strings.ToUpper(method),
				Path:    path,
				Summary: op.Summary,
			})
		}
	}
	sort.Slice(view.Operations, func(i, j int) bool {
		if view.Operations[i].Path != view.Operations[j].Path {
			return view.Operations[i].Path < view.Operations[j].Path
		}
		return view.Operations[i].Method < view.Operations[j].Method
	})
	return view, nil
}
