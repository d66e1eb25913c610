package mermaid

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"

	"github.com/n-ando/OpenRTM-aist-sub001/introspection"
)

var (
	//go:embed introspect.gohtml
	templateFS embed.FS
	tmpl       = template.Must(template.ParseFS(templateFS, "introspect.gohtml"))
)

const defaultMaxTextSize = 100000

type graphHandlerConfig struct {
	maxTextSize int
	mermaidURL  string
}

// GraphHandlerOption configures NewGraphHandler behavior.
type GraphHandlerOption func(*graphHandlerConfig)

// WithMaxTextSize sets Mermaid's maxTextSize value used by the graph page.
// Values <= 0 are ignored and default to 100000.
func WithMaxTextSize(maxTextSize int) GraphHandlerOption {
	return func(cfg *graphHandlerConfig) {
		if maxTextSize > 0 {
			cfg.maxTextSize = maxTextSize
		}
	}
}

// WithMermaidURL sets the ES module URL the page imports Mermaid from.
func WithMermaidURL(url string) GraphHandlerOption {
	return func(cfg *graphHandlerConfig) {
		if url != "" {
			cfg.mermaidURL = url
		}
	}
}

type graphPageData struct {
	GraphJSON   template.JS
	Title       string
	MaxTextSize int
	MermaidURL  string
}

// ReportSource returns the report to draw. It is called on every request.
type ReportSource func() introspection.Report

// NewGraphHandler creates an HTTP handler serving a page that renders the
// current report of source as a Mermaid graph.
func NewGraphHandler(name string, source ReportSource, opts ...GraphHandlerOption) http.Handler {
	cfg := graphHandlerConfig{
		maxTextSize: defaultMaxTextSize,
		mermaidURL:  "https://cdn.jsdelivr.net/npm/mermaid@11/dist/mermaid.esm.min.mjs",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		page, err := renderPage(name, source(), cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	})
}

func renderPage(name string, report introspection.Report, cfg graphHandlerConfig) ([]byte, error) {
	graphJSON, err := json.Marshal(GenerateIntrospectionGraph(report))
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, graphPageData{
		Title:       fmt.Sprintf("%s Introspection Graph", name),
		MaxTextSize: cfg.maxTextSize,
		MermaidURL:  cfg.mermaidURL,
		// json.Marshal returns a valid JavaScript string literal for the graph source.
		GraphJSON: template.JS(string(graphJSON)),
	}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
