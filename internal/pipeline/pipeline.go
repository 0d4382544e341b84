// Package pipeline runs a research query end to end: search, per-source
// extraction and report synthesis, recording every stage in the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/dossier/internal/extract"
	"github.com/FranksOps/dossier/internal/metrics"
	"github.com/FranksOps/dossier/internal/serp"
	"github.com/FranksOps/dossier/internal/storage"
	"github.com/FranksOps/dossier/internal/synth"
)

// DefaultReportLimit is used by SavedReports when no limit is given.
const DefaultReportLimit = 50

// Failure messages recorded against the query.
const (
	MsgEmptyQuery   = "Query cannot be empty"
	MsgNoResults    = "No search results found"
	MsgNoExtraction = "No content could be extracted from sources"
	MsgNoReport     = "Failed to generate report"
)

var (
	ErrEmptyQuery           = errors.New("empty query")
	ErrNoResults            = errors.New("no search results")
	ErrNoExtractableContent = errors.New("no extractable content")
	// ErrPersistence wraps any store failure. It ends the run.
	ErrPersistence = errors.New("persistence failure")
)

// Searcher locates candidate sources. serp.Provider satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]serp.Candidate, error)
}

// Extractor turns one URL into text. It reports failures in the Result.
type Extractor interface {
	Extract(ctx context.Context, url string) extract.Result
}

// Synthesizer writes the report. Errors are *synth.Failure.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, sources []extract.Result) (*synth.Report, error)
}

// Config wires a Pipeline. Every component is required.
type Config struct {
	Search      Searcher
	Extractor   Extractor
	Synthesizer Synthesizer
	Store       storage.Store
	// MaxResults is the number of candidates requested, 3 when zero.
	MaxResults int
	// Concurrency bounds parallel extractions. 1 or less is sequential.
	Concurrency int
	Logger      *slog.Logger
}

// Pipeline orchestrates research queries. It holds no per-query state and
// may run several queries at once.
type Pipeline struct {
	search      Searcher
	extractor   Extractor
	synth       Synthesizer
	store       storage.Store
	maxResults  int
	concurrency int
	logger      *slog.Logger
}

// New validates cfg and creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Search == nil:
		return nil, errors.New("pipeline: search provider is required")
	case cfg.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case cfg.Synthesizer == nil:
		return nil, errors.New("pipeline: synthesizer is required")
	case cfg.Store == nil:
		return nil, errors.New("pipeline: store is required")
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = serp.DefaultLimit
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		search:      cfg.Search,
		extractor:   cfg.Extractor,
		synth:       cfg.Synthesizer,
		store:       cfg.Store,
		maxResults:  cfg.MaxResults,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}, nil
}

// Outcome is the result of one run. On failure Success is false and Error
// is non-empty. QueryID is empty only when the query record could not be
// created.
type Outcome struct {
	Success          bool             `json:"success"`
	QueryID          string           `json:"query_id,omitempty"`
	ReportID         string           `json:"report_id,omitempty"`
	Query            string           `json:"query"`
	Report           *synth.Report    `json:"report,omitempty"`
	Sources          []storage.Source `json:"sources,omitempty"`
	SourcesFound     int              `json:"sources_found"`
	SourcesExtracted int              `json:"sources_extracted"`
	Error            string           `json:"error,omitempty"`
	// Err carries the classified cause for errors.Is checks.
	Err error `json:"-"`
}

// run tracks one query through the stages.
type run struct {
	p     *Pipeline
	out   *Outcome
	stage storage.Status
	start time.Time
}

// Run executes the research pipeline for query. It never panics and always
// returns a well-formed Outcome.
func (p *Pipeline) Run(ctx context.Context, query string) (out Outcome) {
	out = Outcome{Query: query}
	r := &run{p: p, out: &out, stage: storage.StatusStarted, start: time.Now()}

	defer func() {
		if v := recover(); v != nil {
			p.logger.Error("research panicked", "query", query, "stage", r.stage, "panic", v)
			r.fail(ctx, fmt.Sprintf("Research failed: %v", v), fmt.Errorf("panic: %v", v))
		}
		metrics.RecordRun(out.Success, string(r.stage))
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		out.Error = MsgEmptyQuery
		out.Err = ErrEmptyQuery
		return out
	}
	out.Query = query

	p.logger.Info("starting research", "query", query)

	id, err := p.store.CreateQuery(ctx, query)
	if err != nil {
		r.persistFail(ctx, err)
		return out
	}
	out.QueryID = id

	// Search
	if !r.advance(ctx, storage.StatusSearching) {
		return out
	}
	candidates, err := p.search.Search(ctx, query, p.maxResults)
	if err != nil {
		p.logger.Error("search failed", "query_id", id, "err", err)
		r.fail(ctx, fmt.Sprintf("Research failed: %v", err), err)
		return out
	}
	if len(candidates) == 0 {
		r.fail(ctx, MsgNoResults, ErrNoResults)
		return out
	}
	out.SourcesFound = len(candidates)
	p.logger.Info("found sources", "query_id", id, "count", len(candidates))

	// Extract
	if !r.advance(ctx, storage.StatusExtracting) {
		return out
	}
	results := p.extractAll(ctx, candidates)

	sources := make([]storage.Source, len(candidates))
	for i, c := range candidates {
		sources[i] = toSource(i, c, results[i])
	}
	if err := p.store.SaveSources(ctx, id, sources); err != nil {
		r.persistFail(ctx, err)
		return out
	}
	out.Sources = sources
	out.SourcesExtracted = storage.CountExtracted(sources)
	p.logger.Info("extraction finished", "query_id", id, "found", out.SourcesFound, "extracted", out.SourcesExtracted)

	if out.SourcesExtracted == 0 {
		r.fail(ctx, MsgNoExtraction, ErrNoExtractableContent)
		return out
	}

	// Generate
	if !r.advance(ctx, storage.StatusGenerating) {
		return out
	}
	report, err := p.synth.Synthesize(ctx, query, results)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = MsgNoReport
		}
		r.fail(ctx, msg, err)
		return out
	}

	reportID, err := p.store.SaveReport(ctx, id, toStorageReport(report))
	if err != nil {
		r.persistFail(ctx, err)
		return out
	}
	r.finishStage(storage.StatusCompleted)

	out.Success = true
	out.ReportID = reportID
	out.Report = report
	p.logger.Info("research completed", "query_id", id, "report_id", reportID, "provider", report.Provider)
	return out
}

// extractAll extracts every candidate, in parallel when configured. The
// result at index i always belongs to candidate i.
func (p *Pipeline) extractAll(ctx context.Context, candidates []serp.Candidate) []extract.Result {
	results := make([]extract.Result, len(candidates))

	if p.concurrency <= 1 {
		for i, c := range candidates {
			results[i] = p.extractOne(ctx, c.URL)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			results[i] = p.extractOne(ctx, c.URL)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) extractOne(ctx context.Context, url string) (res extract.Result) {
	defer func() {
		if v := recover(); v != nil {
			p.logger.Error("extractor panicked", "url", url, "panic", v)
			res = extract.Result{URL: url, Error: fmt.Sprintf("Content extraction failed: %v", v)}
		}
	}()
	return p.extractor.Extract(ctx, url)
}

// advance records the move to the next stage. It reports false when the
// write failed and the run has been ended.
func (r *run) advance(ctx context.Context, to storage.Status) bool {
	if err := r.p.store.UpdateStatus(ctx, r.out.QueryID, to, ""); err != nil {
		r.persistFail(ctx, err)
		return false
	}
	r.finishStage(to)
	return true
}

// finishStage observes the duration of the stage being left.
func (r *run) finishStage(to storage.Status) {
	now := time.Now()
	metrics.ObserveStage(string(r.stage), now.Sub(r.start))
	r.stage, r.start = to, now
}

func (r *run) persistFail(ctx context.Context, err error) {
	r.p.logger.Error("store failed", "query_id", r.out.QueryID, "stage", r.stage, "err", err)
	r.fail(ctx, fmt.Sprintf("Research failed: %v", err), fmt.Errorf("%w: %w", ErrPersistence, err))
}

// fail ends the run and makes a best-effort attempt to mark the query failed.
func (r *run) fail(ctx context.Context, msg string, err error) {
	r.out.Success = false
	r.out.Error = msg
	r.out.Err = err

	if r.out.QueryID == "" {
		return
	}
	if uerr := r.p.store.UpdateStatus(context.WithoutCancel(ctx), r.out.QueryID, storage.StatusFailed, msg); uerr != nil {
		r.p.logger.Error("failed to record failure", "query_id", r.out.QueryID, "err", uerr)
	}
	r.p.logger.Warn("research failed", "query_id", r.out.QueryID, "stage", r.stage, "error", msg)
}

func toSource(i int, c serp.Candidate, res extract.Result) storage.Source {
	return storage.Source{
		Position:      i,
		URL:           c.URL,
		Title:         firstNonEmpty(res.Title, c.Title),
		Snippet:       c.Snippet,
		Score:         c.Score,
		PublishedDate: c.PublishedDate,
		Content:       res.Content,
		Success:       res.Success,
		Error:         res.Error,
		WordCount:     res.WordCount,
		PageCount:     res.PageCount,
		Strategy:      string(res.Strategy),
	}
}

func toStorageReport(r *synth.Report) *storage.Report {
	return &storage.Report{
		Summary:         r.Summary,
		KeyPoints:       r.KeyPoints,
		Methodology:     r.Methodology,
		Limitations:     r.Limitations,
		SourcesAnalyzed: r.SourcesAnalyzed,
		Provider:        r.Provider,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// SavedReports lists recent queries, newest first. A limit of zero or less
// uses DefaultReportLimit.
func (p *Pipeline) SavedReports(ctx context.Context, limit int) ([]storage.QuerySummary, error) {
	if limit <= 0 {
		limit = DefaultReportLimit
	}
	return p.store.ListQueries(ctx, limit)
}

// ReportDetails returns a query with its sources and report, or
// storage.ErrNotFound.
func (p *Pipeline) ReportDetails(ctx context.Context, id string) (*storage.Query, error) {
	return p.store.GetQuery(ctx, id)
}

// Stats returns store-wide counts.
func (p *Pipeline) Stats(ctx context.Context) (storage.Stats, error) {
	return p.store.Stats(ctx)
}
