// Package report renders research results for people and tools.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/FranksOps/dossier/internal/extract"
	"github.com/FranksOps/dossier/internal/pipeline"
	"github.com/FranksOps/dossier/internal/storage"
)

// Format selects an output encoding.
type Format string

const (
	FormatText     Format = "text"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

var ErrUnknownFormat = errors.New("report: unknown format")

// ParseFormat accepts text, json, html, markdown and md. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "html":
		return FormatHTML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Document is the renderable view of one query.
type Document struct {
	QueryID          string           `json:"query_id,omitempty"`
	Query            string           `json:"query"`
	Status           storage.Status   `json:"status"`
	Success          bool             `json:"success"`
	Error            string           `json:"error,omitempty"`
	SourcesFound     int              `json:"sources_found"`
	SourcesExtracted int              `json:"sources_extracted"`
	Report           *storage.Report  `json:"report,omitempty"`
	Sources          []storage.Source `json:"sources"`
	Summary          Summary          `json:"source_summary"`
	CreatedAt        time.Time        `json:"created_at,omitzero"`
}

// FromQuery builds a Document from a stored query.
func FromQuery(q *storage.Query) Document {
	return Document{
		QueryID:          q.ID,
		Query:            q.Text,
		Status:           q.Status,
		Success:          q.Status == storage.StatusCompleted,
		Error:            q.Error,
		SourcesFound:     q.SourcesFound,
		SourcesExtracted: q.SourcesExtracted,
		Report:           q.Report,
		Sources:          q.Sources,
		Summary:          Summarize(q.Sources),
		CreatedAt:        q.CreatedAt,
	}
}

// FromOutcome builds a Document from a pipeline run.
func FromOutcome(o pipeline.Outcome) Document {
	d := Document{
		QueryID:          o.QueryID,
		Query:            o.Query,
		Status:           storage.StatusFailed,
		Success:          o.Success,
		Error:            o.Error,
		SourcesFound:     o.SourcesFound,
		SourcesExtracted: o.SourcesExtracted,
		Sources:          o.Sources,
		Summary:          Summarize(o.Sources),
	}
	if o.Success {
		d.Status = storage.StatusCompleted
	}
	if o.Report != nil {
		d.Report = &storage.Report{
			ID:              o.ReportID,
			QueryID:         o.QueryID,
			Summary:         o.Report.Summary,
			KeyPoints:       o.Report.KeyPoints,
			Methodology:     o.Report.Methodology,
			Limitations:     o.Report.Limitations,
			SourcesAnalyzed: o.Report.SourcesAnalyzed,
			Provider:        o.Report.Provider,
		}
	}
	return d
}

// Summary aggregates extraction results across a query's sources.
type Summary struct {
	TotalSources int            `json:"total_sources"`
	Extracted    int            `json:"extracted"`
	Failed       int            `json:"failed"`
	TotalWords   int            `json:"total_words"`
	ByStrategy   map[string]int `json:"by_strategy"`
	FailReasons  map[string]int `json:"fail_reasons"`
}

// Summarize counts outcomes by extraction strategy and failure reason.
func Summarize(sources []storage.Source) Summary {
	s := Summary{
		ByStrategy:  make(map[string]int),
		FailReasons: make(map[string]int),
	}
	for _, src := range sources {
		s.TotalSources++
		if src.Success {
			s.Extracted++
			s.TotalWords += src.WordCount
			s.ByStrategy[src.Strategy]++
			continue
		}
		s.Failed++
		s.FailReasons[failReason(src.Error)]++
	}
	return s
}

func failReason(msg string) string {
	switch {
	case msg == extract.MsgUnsupportedURL:
		return "unsupported"
	case msg == extract.MsgDisallowed:
		return "robots"
	case strings.HasPrefix(msg, "Failed to fetch content"):
		return "fetch"
	case msg == extract.MsgNoHTMLContent, msg == extract.MsgNoPDFText:
		return "empty"
	}
	return "other"
}

// Write renders d in the given format.
func Write(w io.Writer, format Format, d Document) error {
	switch format {
	case FormatText, "":
		return WriteText(w, d)
	case FormatJSON:
		return WriteJSON(w, d)
	case FormatHTML:
		return WriteHTML(w, d)
	case FormatMarkdown:
		return WriteMarkdown(w, d)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// WriteJSON writes the document as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

var funcs = template.FuncMap{
	"inc":   func(i int) int { return i + 1 },
	"title": displayTitle,
}

func displayTitle(s storage.Source) string {
	if s.Title != "" {
		return s.Title
	}
	return s.URL
}

const textTmpl = `Research Report
---------------
Query:    {{.Query}}
{{- if .QueryID}}
ID:       {{.QueryID}}
{{- end}}
Status:   {{.Status}}
Sources:  {{.SourcesExtracted}} of {{.SourcesFound}} extracted
{{- if .Error}}
Error:    {{.Error}}
{{- end}}
{{- with .Report}}

Summary
{{.Summary}}

Key Points
{{- range .KeyPoints}}
  - {{.}}
{{- else}}
  None
{{- end}}

Methodology
{{.Methodology}}

Limitations
{{.Limitations}}
{{- end}}

Sources
{{- range $i, $s := .Sources}}
  {{inc $i}}. {{title $s}}
     {{$s.URL}}
     {{if $s.Success}}{{$s.Strategy}}, {{$s.WordCount}} words{{else}}failed: {{$s.Error}}{{end}}
{{- else}}
  None
{{- end}}
`

// WriteText writes a plain text report.
func WriteText(w io.Writer, d Document) error {
	t, err := template.New("textReport").Funcs(funcs).Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text template: %w", err)
	}
	if err := t.Execute(w, d); err != nil {
		return fmt.Errorf("render text: %w", err)
	}
	return nil
}

const markdownTmpl = `# {{.Query}}

**Status:** {{.Status}} · **Sources:** {{.SourcesExtracted}} of {{.SourcesFound}} extracted
{{- if .Error}}

> **Error:** {{.Error}}
{{- end}}
{{- with .Report}}

## Summary

{{.Summary}}

## Key Points
{{range .KeyPoints}}
- {{.}}
{{- end}}

## Methodology

{{.Methodology}}

## Limitations

{{.Limitations}}
{{- end}}

## Sources
{{range $i, $s := .Sources}}
{{inc $i}}. [{{title $s}}]({{$s.URL}}){{if not $s.Success}} (failed: {{$s.Error}}){{end}}
{{- else}}
_None_
{{- end}}
`

// WriteMarkdown writes a Markdown report.
func WriteMarkdown(w io.Writer, d Document) error {
	t, err := template.New("markdownReport").Funcs(funcs).Parse(markdownTmpl)
	if err != nil {
		return fmt.Errorf("parse markdown template: %w", err)
	}
	if err := t.Execute(w, d); err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	return nil
}

// Source titles, URLs and model output are untrusted, so the HTML report
// goes through html/template.
const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Research Report: {{.Query}}</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; max-width: 960px; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  .error { color: #b00; }
  table { border-collapse: collapse; margin-top: 10px; width: 100%; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; vertical-align: top; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>{{.Query}}</h1>

  <div class="stat-card">
    <div>Status</div>
    <div class="stat-val" style="color: {{if .Success}}green{{else}}red{{end}};">{{.Status}}</div>
  </div>
  <div class="stat-card">
    <div>Sources Found</div>
    <div class="stat-val">{{.SourcesFound}}</div>
  </div>
  <div class="stat-card">
    <div>Extracted</div>
    <div class="stat-val">{{.SourcesExtracted}}</div>
  </div>
  <div class="stat-card">
    <div>Words</div>
    <div class="stat-val">{{.Summary.TotalWords}}</div>
  </div>
  {{- if .Error}}
  <p class="error"><strong>Error:</strong> {{.Error}}</p>
  {{- end}}
  {{- with .Report}}

  <h2>Summary</h2>
  <p>{{.Summary}}</p>

  <h2>Key Points</h2>
  <ul>
    {{- range .KeyPoints}}
    <li>{{.}}</li>
    {{- end}}
  </ul>

  <h2>Methodology</h2>
  <p>{{.Methodology}}</p>

  <h2>Limitations</h2>
  <p>{{.Limitations}}</p>
  {{- end}}

  <h2>Sources</h2>
  <table>
    <tr><th>#</th><th>Source</th><th>Result</th></tr>
    {{- range $i, $s := .Sources}}
    <tr><td>{{inc $i}}</td><td><a href="{{$s.URL}}">{{title $s}}</a></td><td>{{if $s.Success}}{{$s.Strategy}}, {{$s.WordCount}} words{{else}}<span class="error">{{$s.Error}}</span>{{end}}</td></tr>
    {{- else}}
    <tr><td colspan="3">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes a standalone HTML report.
func WriteHTML(w io.Writer, d Document) error {
	t, err := htmltemplate.New("htmlReport").Funcs(htmltemplate.FuncMap(funcs)).Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("parse html template: %w", err)
	}
	if err := t.Execute(w, d); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}
