package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a query record does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrInvalidTransition is returned when a status update would move a query
// out of a terminal state or skip a stage.
var ErrInvalidTransition = errors.New("storage: invalid status transition")

// ErrReportExists is returned when a second report is saved for a query.
var ErrReportExists = errors.New("storage: report already exists for query")

// ErrSourcesExist is returned when a second batch of sources is saved for a
// query.
var ErrSourcesExist = errors.New("storage: sources already exist for query")

// Status is the lifecycle state of a research query.
type Status string

const (
	StatusStarted    Status = "started"
	StatusSearching  Status = "searching"
	StatusExtracting Status = "extracting"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// next maps each non-terminal status to the stage that follows it.
var next = map[Status]Status{
	StatusStarted:    StatusSearching,
	StatusSearching:  StatusExtracting,
	StatusExtracting: StatusGenerating,
	StatusGenerating: StatusCompleted,
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusStarted, StatusSearching, StatusExtracting, StatusGenerating, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a query in status s may move to status to.
// Stages advance strictly in order; failed is reachable from any
// non-terminal status.
func (s Status) CanTransition(to Status) bool {
	if s.Terminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return next[s] == to
}

// Query is the tracked record of a single research request.
type Query struct {
	ID               string    `json:"id"`
	Text             string    `json:"query"`
	Status           Status    `json:"status"`
	Error            string    `json:"error_message,omitempty"`
	SourcesFound     int       `json:"sources_found"`
	SourcesExtracted int       `json:"sources_extracted"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	// Populated by GetQuery only.
	Sources []Source `json:"sources,omitempty"`
	Report  *Report  `json:"report,omitempty"`
}

// Source is one candidate located for a query together with its extraction outcome.
type Source struct {
	QueryID       string    `json:"query_id"`
	Position      int       `json:"position"`
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Snippet       string    `json:"snippet"`
	Score         float64   `json:"score"`
	PublishedDate string    `json:"published_date,omitempty"`
	Content       string    `json:"content,omitempty"`
	Success       bool      `json:"extraction_success"`
	Error         string    `json:"extraction_error,omitempty"`
	WordCount     int       `json:"word_count"`
	PageCount     int       `json:"page_count,omitempty"`
	Strategy      string    `json:"strategy,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Report is the synthesized output for a completed query.
type Report struct {
	ID              string    `json:"id"`
	QueryID         string    `json:"query_id"`
	Summary         string    `json:"summary"`
	KeyPoints       []string  `json:"key_points"`
	Methodology     string    `json:"methodology"`
	Limitations     string    `json:"limitations"`
	SourcesAnalyzed int       `json:"sources_analyzed"`
	Provider        string    `json:"provider,omitempty"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// QuerySummary is the list view of a query.
type QuerySummary struct {
	ID               string    `json:"id"`
	Text             string    `json:"query"`
	Status           Status    `json:"status"`
	SourcesFound     int       `json:"sources_found"`
	SourcesExtracted int       `json:"sources_extracted"`
	Error            string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	HasReport        bool      `json:"has_report"`
}

// Stats aggregates counts across the whole store.
type Stats struct {
	TotalQueries int            `json:"total_queries"`
	TotalSources int            `json:"total_sources"`
	TotalReports int            `json:"total_reports"`
	StatusCounts map[Status]int `json:"status_counts"`
	DatabaseSize int64          `json:"database_size"`
}

// CountExtracted returns the number of sources whose extraction succeeded.
func CountExtracted(sources []Source) int {
	n := 0
	for _, s := range sources {
		if s.Success {
			n++
		}
	}
	return n
}

// Store is the durable record of queries, sources and reports.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateQuery inserts a query in status started and returns its ID.
	CreateQuery(ctx context.Context, text string) (string, error)
	// UpdateStatus moves a query to status, recording errMsg (may be empty).
	UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error
	// SaveSources stores the batch of sources and the found/extracted counts.
	// A query holds one batch; a second call returns ErrSourcesExist.
	SaveSources(ctx context.Context, id string, sources []Source) error
	// SaveReport stores the report and marks the query completed in one
	// atomic write. It returns the new report ID.
	SaveReport(ctx context.Context, id string, report *Report) (string, error)
	// GetQuery returns the query with its sources and report, or ErrNotFound.
	GetQuery(ctx context.Context, id string) (*Query, error)
	// ListQueries returns the newest queries first.
	ListQueries(ctx context.Context, limit int) ([]QuerySummary, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
