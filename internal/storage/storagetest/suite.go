// Package storagetest holds behaviour tests shared by every storage.Store backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/FranksOps/dossier/internal/storage"
)

// Run exercises a Store implementation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newStore(t)) })
	t.Run("FailedQuery", func(t *testing.T) { testFailedQuery(t, newStore(t)) })
	t.Run("Transitions", func(t *testing.T) { testTransitions(t, newStore(t)) })
	t.Run("ReportOnce", func(t *testing.T) { testReportOnce(t, newStore(t)) })
	t.Run("SourcesOnce", func(t *testing.T) { testSourcesOnce(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("ListAndStats", func(t *testing.T) { testListAndStats(t, newStore(t)) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, newStore(t)) })
}

func advance(t *testing.T, s storage.Store, id string, statuses ...storage.Status) {
	t.Helper()
	for _, st := range statuses {
		if err := s.UpdateStatus(context.Background(), id, st, ""); err != nil {
			t.Fatalf("failed to update status to %s: %v", st, err)
		}
	}
}

func testLifecycle(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	id, err := s.CreateQuery(ctx, "benefits of go")
	if err != nil {
		t.Fatalf("failed to create query: %v", err)
	}
	if id == "" {
		t.Fatalf("expected non-empty query ID")
	}

	q, err := s.GetQuery(ctx, id)
	if err != nil {
		t.Fatalf("failed to get query: %v", err)
	}
	if q.Status != storage.StatusStarted {
		t.Errorf("expected status started, got %s", q.Status)
	}
	if q.Text != "benefits of go" {
		t.Errorf("expected query text to round-trip, got %q", q.Text)
	}

	advance(t, s, id, storage.StatusSearching, storage.StatusExtracting)

	sources := []storage.Source{
		{URL: "https://a.example/one", Title: "One", Snippet: "first", Score: 0.9, Content: "alpha beta", Success: true, WordCount: 2, Strategy: "html"},
		{URL: "https://twitter.com/x", Title: "Skipped", Error: "unsupported URL type"},
		{URL: "https://b.example/two.pdf", Title: "Two", Content: "gamma", Success: true, WordCount: 1, PageCount: 3, Strategy: "pdf"},
	}
	if err := s.SaveSources(ctx, id, sources); err != nil {
		t.Fatalf("failed to save sources: %v", err)
	}

	advance(t, s, id, storage.StatusGenerating)

	reportID, err := s.SaveReport(ctx, id, &storage.Report{
		Summary:         "summary",
		KeyPoints:       []string{"a", "b"},
		Methodology:     "method",
		Limitations:     "limits",
		SourcesAnalyzed: 2,
		Provider:        "openai",
	})
	if err != nil {
		t.Fatalf("failed to save report: %v", err)
	}
	if reportID == "" {
		t.Fatalf("expected non-empty report ID")
	}

	q, err = s.GetQuery(ctx, id)
	if err != nil {
		t.Fatalf("failed to get query: %v", err)
	}
	if q.Status != storage.StatusCompleted {
		t.Errorf("expected status completed, got %s", q.Status)
	}
	if q.SourcesFound != 3 {
		t.Errorf("expected 3 sources found, got %d", q.SourcesFound)
	}
	if q.SourcesExtracted != 2 {
		t.Errorf("expected 2 sources extracted, got %d", q.SourcesExtracted)
	}
	if q.SourcesExtracted != storage.CountExtracted(q.Sources) {
		t.Errorf("sources_extracted %d does not match successful source records %d", q.SourcesExtracted, storage.CountExtracted(q.Sources))
	}
	if len(q.Sources) != 3 {
		t.Fatalf("expected 3 source records, got %d", len(q.Sources))
	}
	for i, src := range q.Sources {
		if src.URL != sources[i].URL {
			t.Errorf("source %d: expected URL %s, got %s", i, sources[i].URL, src.URL)
		}
		if src.Position != i {
			t.Errorf("source %d: expected position %d, got %d", i, i, src.Position)
		}
	}
	if q.Sources[1].Error != "unsupported URL type" || q.Sources[1].Success {
		t.Errorf("expected skipped source to keep its failure, got %+v", q.Sources[1])
	}
	if q.Sources[2].PageCount != 3 || q.Sources[2].Strategy != "pdf" {
		t.Errorf("expected pdf source metadata to round-trip, got %+v", q.Sources[2])
	}

	if q.Report == nil {
		t.Fatalf("expected report to be attached")
	}
	if q.Report.ID != reportID {
		t.Errorf("expected report ID %s, got %s", reportID, q.Report.ID)
	}
	if len(q.Report.KeyPoints) != 2 || q.Report.KeyPoints[1] != "b" {
		t.Errorf("expected key points to round-trip, got %v", q.Report.KeyPoints)
	}
	if q.Report.SourcesAnalyzed > q.SourcesExtracted {
		t.Errorf("sources_analyzed %d exceeds sources_extracted %d", q.Report.SourcesAnalyzed, q.SourcesExtracted)
	}
	if q.Report.Provider != "openai" {
		t.Errorf("expected provider openai, got %s", q.Report.Provider)
	}
}

func testFailedQuery(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	id, err := s.CreateQuery(ctx, "nothing")
	if err != nil {
		t.Fatalf("failed to create query: %v", err)
	}
	advance(t, s, id, storage.StatusSearching)
	if err := s.UpdateStatus(ctx, id, storage.StatusFailed, "No search results found"); err != nil {
		t.Fatalf("failed to mark failed: %v", err)
	}

	q, err := s.GetQuery(ctx, id)
	if err != nil {
		t.Fatalf("failed to get query: %v", err)
	}
	if q.Status != storage.StatusFailed {
		t.Errorf("expected failed, got %s", q.Status)
	}
	if q.Error != "No search results found" {
		t.Errorf("expected error message to round-trip, got %q", q.Error)
	}
	if len(q.Sources) != 0 || q.Report != nil {
		t.Errorf("expected no sources or report, got %d sources, report %v", len(q.Sources), q.Report)
	}
}

func testTransitions(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	id, err := s.CreateQuery(ctx, "q")
	if err != nil {
		t.Fatalf("failed to create query: %v", err)
	}

	if err := s.UpdateStatus(ctx, id, storage.StatusGenerating, ""); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition skipping stages, got %v", err)
	}

	if _, err := s.SaveReport(ctx, id, &storage.Report{Summary: "early"}); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition saving report before generating, got %v", err)
	}

	if err := s.UpdateStatus(ctx, id, storage.StatusFailed, "boom"); err != nil {
		t.Fatalf("failed to mark failed: %v", err)
	}
	if err := s.UpdateStatus(ctx, id, storage.StatusSearching, ""); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition leaving terminal state, got %v", err)
	}
}

func testReportOnce(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	id, err := s.CreateQuery(ctx, "q")
	if err != nil {
		t.Fatalf("failed to create query: %v", err)
	}
	advance(t, s, id, storage.StatusSearching, storage.StatusExtracting, storage.StatusGenerating)

	if _, err := s.SaveReport(ctx, id, &storage.Report{Summary: "first"}); err != nil {
		t.Fatalf("failed to save report: %v", err)
	}
	if _, err := s.SaveReport(ctx, id, &storage.Report{Summary: "second"}); err == nil {
		t.Errorf("expected second report to be rejected")
	}

	q, err := s.GetQuery(ctx, id)
	if err != nil {
		t.Fatalf("failed to get query: %v", err)
	}
	if q.Report == nil || q.Report.Summary != "first" {
		t.Errorf("expected the first report to be kept, got %+v", q.Report)
	}
	if q.Report != nil && q.Report.KeyPoints == nil {
		t.Errorf("expected empty key points to load as a non-nil slice")
	}
}

func testSourcesOnce(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	id, err := s.CreateQuery(ctx, "q")
	if err != nil {
		t.Fatalf("failed to create query: %v", err)
	}
	advance(t, s, id, storage.StatusSearching, storage.StatusExtracting)

	first := []storage.Source{
		{URL: "https://a.example", Content: "a", Success: true, WordCount: 1},
		{URL: "https://b.example", Error: "Could not extract meaningful content"},
	}
	if err := s.SaveSources(ctx, id, first); err != nil {
		t.Fatalf("failed to save sources: %v", err)
	}
	second := []storage.Source{{URL: "https://c.example", Content: "c", Success: true, WordCount: 1}}
	if err := s.SaveSources(ctx, id, second); !errors.Is(err, storage.ErrSourcesExist) {
		t.Errorf("expected ErrSourcesExist, got %v", err)
	}

	q, err := s.GetQuery(ctx, id)
	if err != nil {
		t.Fatalf("failed to get query: %v", err)
	}
	if len(q.Sources) != 2 || q.Sources[0].URL != "https://a.example" {
		t.Errorf("expected the first batch to be kept, got %+v", q.Sources)
	}
	if q.SourcesFound != 2 || q.SourcesExtracted != 1 {
		t.Errorf("expected counts from the first batch, got %d/%d", q.SourcesFound, q.SourcesExtracted)
	}
}

func testNotFound(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	if _, err := s.GetQuery(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateStatus(ctx, "missing", storage.StatusSearching, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound updating missing query, got %v", err)
	}
}

func testListAndStats(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.CreateQuery(ctx, fmt.Sprintf("query %d", i))
		if err != nil {
			t.Fatalf("failed to create query: %v", err)
		}
		ids = append(ids, id)
	}

	advance(t, s, ids[0], storage.StatusSearching, storage.StatusExtracting)
	if err := s.SaveSources(ctx, ids[0], []storage.Source{{URL: "https://a.example", Content: "x", Success: true, WordCount: 1}}); err != nil {
		t.Fatalf("failed to save sources: %v", err)
	}
	advance(t, s, ids[0], storage.StatusGenerating)
	if _, err := s.SaveReport(ctx, ids[0], &storage.Report{Summary: "s", KeyPoints: []string{"k"}, SourcesAnalyzed: 1}); err != nil {
		t.Fatalf("failed to save report: %v", err)
	}
	if err := s.UpdateStatus(ctx, ids[1], storage.StatusFailed, "nope"); err != nil {
		t.Fatalf("failed to mark failed: %v", err)
	}

	list, err := s.ListQueries(ctx, 10)
	if err != nil {
		t.Fatalf("failed to list queries: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 queries, got %d", len(list))
	}
	// Newest first
	if list[0].ID != ids[2] {
		t.Errorf("expected newest query %s first, got %s", ids[2], list[0].ID)
	}
	withReport := 0
	for _, qs := range list {
		if qs.HasReport {
			withReport++
			if qs.ID != ids[0] {
				t.Errorf("expected only %s to have a report, got %s", ids[0], qs.ID)
			}
		}
	}
	if withReport != 1 {
		t.Errorf("expected 1 query with report, got %d", withReport)
	}

	limited, err := s.ListQueries(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list queries with limit: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 queries with limit, got %d", len(limited))
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if st.TotalQueries != 3 || st.TotalSources != 1 || st.TotalReports != 1 {
		t.Errorf("unexpected totals: %+v", st)
	}
	if st.StatusCounts[storage.StatusCompleted] != 1 || st.StatusCounts[storage.StatusFailed] != 1 || st.StatusCounts[storage.StatusStarted] != 1 {
		t.Errorf("unexpected status counts: %v", st.StatusCounts)
	}
}

func testConcurrent(t *testing.T, s storage.Store) {
	defer s.Close()
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := s.CreateQuery(ctx, fmt.Sprintf("concurrent %d", i))
			if err != nil {
				errs <- err
				return
			}
			for _, st := range []storage.Status{storage.StatusSearching, storage.StatusExtracting} {
				if err := s.UpdateStatus(ctx, id, st, ""); err != nil {
					errs <- err
					return
				}
			}
			if err := s.SaveSources(ctx, id, []storage.Source{{URL: "https://c.example", Success: true, Content: "c"}}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent write failed: %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	if st.TotalQueries != workers || st.TotalSources != workers {
		t.Errorf("expected %d queries and sources, got %+v", workers, st)
	}
}
