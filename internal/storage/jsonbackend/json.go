package jsonbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/FranksOps/dossier/internal/storage"
	"github.com/google/uuid"
)

// ensure jsonStore implements storage.Store
var _ storage.Store = (*jsonStore)(nil)

// snapshot is the on-disk document. Queries keep insertion order.
type snapshot struct {
	Queries []*record `json:"queries"`
}

type record struct {
	Query   storage.Query    `json:"query"`
	Sources []storage.Source `json:"sources,omitempty"`
	Report  *storage.Report  `json:"report,omitempty"`
}

type jsonStore struct {
	mu    sync.Mutex
	path  string
	data  snapshot
	index map[string]*record
}

// New creates a JSON-file-backed storage.Store. Every write replaces the
// file atomically (write to a temp file, then rename). An empty path keeps
// everything in memory.
func New(filePath string) (storage.Store, error) {
	s := &jsonStore{
		path:  filePath,
		index: make(map[string]*record),
	}

	if filePath == "" {
		return s, nil
	}

	raw, err := os.ReadFile(filePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("json store read: %w", err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.data); err != nil {
			return nil, fmt.Errorf("json store decode: %w", err)
		}
	}
	for _, r := range s.data.Queries {
		s.index[r.Query.ID] = r
	}

	return s, nil
}

func (s *jsonStore) CreateQuery(ctx context.Context, text string) (string, error) {
	now := time.Now().UTC()
	r := &record{Query: storage.Query{
		ID:        uuid.New().String(),
		Text:      text,
		Status:    storage.StatusStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data.Queries = append(s.data.Queries, r)
	s.index[r.Query.ID] = r

	if err := s.flush(); err != nil {
		s.data.Queries = s.data.Queries[:len(s.data.Queries)-1]
		delete(s.index, r.Query.ID)
		return "", fmt.Errorf("create query: %w", err)
	}
	return r.Query.ID, nil
}

func (s *jsonStore) UpdateStatus(ctx context.Context, id string, status storage.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.index[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !r.Query.Status.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, r.Query.Status, status)
	}

	prev := r.Query
	r.Query.Status = status
	r.Query.Error = errMsg
	r.Query.UpdatedAt = time.Now().UTC()

	if err := s.flush(); err != nil {
		r.Query = prev
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

func (s *jsonStore) SaveSources(ctx context.Context, id string, sources []storage.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.index[id]
	if !ok {
		return storage.ErrNotFound
	}
	if len(r.Sources) > 0 {
		return storage.ErrSourcesExist
	}

	now := time.Now().UTC()
	batch := make([]storage.Source, len(sources))
	for i, src := range sources {
		src.QueryID = id
		src.Position = i
		src.CreatedAt = now
		batch[i] = src
	}

	prevQuery, prevSources := r.Query, r.Sources
	r.Sources = batch
	r.Query.SourcesFound = len(sources)
	r.Query.SourcesExtracted = storage.CountExtracted(sources)
	r.Query.UpdatedAt = now

	if err := s.flush(); err != nil {
		r.Query, r.Sources = prevQuery, prevSources
		return fmt.Errorf("save sources: %w", err)
	}
	return nil
}

func (s *jsonStore) SaveReport(ctx context.Context, id string, report *storage.Report) (string, error) {
	if report == nil {
		return "", errors.New("save report: nil report")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.index[id]
	if !ok {
		return "", storage.ErrNotFound
	}
	if !r.Query.Status.CanTransition(storage.StatusCompleted) {
		return "", fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, r.Query.Status, storage.StatusCompleted)
	}
	if r.Report != nil {
		return "", storage.ErrReportExists
	}

	now := time.Now().UTC()
	saved := *report
	saved.ID = uuid.New().String()
	saved.QueryID = id
	saved.GeneratedAt = now
	saved.KeyPoints = append([]string{}, report.KeyPoints...)

	prevQuery := r.Query
	r.Report = &saved
	r.Query.Status = storage.StatusCompleted
	r.Query.Error = ""
	r.Query.UpdatedAt = now

	if err := s.flush(); err != nil {
		r.Query, r.Report = prevQuery, nil
		return "", fmt.Errorf("save report: %w", err)
	}
	return saved.ID, nil
}

func (s *jsonStore) GetQuery(ctx context.Context, id string) (*storage.Query, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.index[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	q := r.Query
	q.Sources = append([]storage.Source(nil), r.Sources...)
	sort.SliceStable(q.Sources, func(i, j int) bool { return q.Sources[i].Position < q.Sources[j].Position })
	if r.Report != nil {
		rep := *r.Report
		rep.KeyPoints = append([]string{}, r.Report.KeyPoints...)
		q.Report = &rep
	}
	return &q, nil
}

func (s *jsonStore) ListQueries(ctx context.Context, limit int) ([]storage.QuerySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []storage.QuerySummary
	// Newest first: walk insertion order backwards
	for i := len(s.data.Queries) - 1; i >= 0; i-- {
		if limit > 0 && len(results) >= limit {
			break
		}
		r := s.data.Queries[i]
		results = append(results, storage.QuerySummary{
			ID:               r.Query.ID,
			Text:             r.Query.Text,
			Status:           r.Query.Status,
			SourcesFound:     r.Query.SourcesFound,
			SourcesExtracted: r.Query.SourcesExtracted,
			Error:            r.Query.Error,
			CreatedAt:        r.Query.CreatedAt,
			HasReport:        r.Report != nil,
		})
	}
	return results, nil
}

func (s *jsonStore) Stats(ctx context.Context) (storage.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := storage.Stats{StatusCounts: make(map[storage.Status]int)}
	for _, r := range s.data.Queries {
		st.TotalQueries++
		st.TotalSources += len(r.Sources)
		if r.Report != nil {
			st.TotalReports++
		}
		st.StatusCounts[r.Query.Status]++
	}

	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			st.DatabaseSize = info.Size()
		}
	}
	return st, nil
}

func (s *jsonStore) Close() error {
	return nil
}

// flush writes the snapshot. Must be called with the lock held.
func (s *jsonStore) flush() error {
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, s.path)
}
