package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/dossier/internal/storage"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ensure sqliteStore implements storage.Store
var _ storage.Store = (*sqliteStore)(nil)

type sqliteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS research_queries (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	sources_found INTEGER NOT NULL DEFAULT 0,
	sources_extracted INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_id TEXT NOT NULL REFERENCES research_queries(id),
	position INTEGER NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	snippet TEXT NOT NULL DEFAULT '',
	score REAL NOT NULL DEFAULT 0,
	published_date TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	extraction_success BOOLEAN NOT NULL,
	extraction_error TEXT NOT NULL DEFAULT '',
	word_count INTEGER NOT NULL DEFAULT 0,
	page_count INTEGER NOT NULL DEFAULT 0,
	strategy TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	query_id TEXT NOT NULL UNIQUE REFERENCES research_queries(id),
	summary TEXT NOT NULL,
	key_points TEXT NOT NULL,
	methodology TEXT NOT NULL DEFAULT '',
	limitations TEXT NOT NULL DEFAULT '',
	sources_analyzed INTEGER NOT NULL DEFAULT 0,
	provider TEXT NOT NULL DEFAULT '',
	generated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queries_created_at ON research_queries(created_at);
CREATE INDEX IF NOT EXISTS idx_sources_query_id ON sources(query_id);
`

// New creates a new SQLite-backed storage.Store. The DSN is passed to the
// modernc driver unchanged, e.g. "research_db.sqlite" or "file:x.db".
func New(dsn string) (storage.Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// A single connection serialises writers; concurrent pipelines queue on
	// the pool instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	pragmas := `PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`
	if _, err := db.Exec(pragmas); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) CreateQuery(ctx context.Context, text string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_queries (id, query, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, text, string(storage.StatusStarted), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create query: %w", err)
	}
	return id, nil
}

func (s *sqliteStore) UpdateStatus(ctx context.Context, id string, status storage.Status, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := currentStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !current.CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, current, status)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE research_queries SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

func (s *sqliteStore) SaveSources(ctx context.Context, id string, sources []storage.Source) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save sources: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := currentStatus(ctx, tx, id); err != nil {
		return err
	}

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources WHERE query_id = ?`, id).Scan(&existing); err != nil {
		return fmt.Errorf("save sources: %w", err)
	}
	if existing > 0 {
		return storage.ErrSourcesExist
	}

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO sources (
		query_id, position, url, title, snippet, score, published_date, content,
		extraction_success, extraction_error, word_count, page_count, strategy, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save sources: %w", err)
	}
	defer stmt.Close()

	for i, src := range sources {
		_, err := stmt.ExecContext(ctx,
			id, i, src.URL, src.Title, src.Snippet, src.Score, src.PublishedDate, src.Content,
			src.Success, src.Error, src.WordCount, src.PageCount, src.Strategy, now,
		)
		if err != nil {
			return fmt.Errorf("save sources: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE research_queries SET sources_found = ?, sources_extracted = ?, updated_at = ? WHERE id = ?`,
		len(sources), storage.CountExtracted(sources), now, id,
	)
	if err != nil {
		return fmt.Errorf("save sources: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save sources: %w", err)
	}
	return nil
}

func (s *sqliteStore) SaveReport(ctx context.Context, id string, report *storage.Report) (string, error) {
	if report == nil {
		return "", errors.New("save report: nil report")
	}

	keyPoints := report.KeyPoints
	if keyPoints == nil {
		keyPoints = []string{}
	}
	keyPointsJSON, err := json.Marshal(keyPoints)
	if err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := currentStatus(ctx, tx, id)
	if err != nil {
		return "", err
	}
	if !current.CanTransition(storage.StatusCompleted) {
		return "", fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, current, storage.StatusCompleted)
	}

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE query_id = ?`, id).Scan(&existing); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	if existing > 0 {
		return "", storage.ErrReportExists
	}

	reportID := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO reports (
		id, query_id, summary, key_points, methodology, limitations, sources_analyzed, provider, generated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		reportID, id, report.Summary, string(keyPointsJSON), report.Methodology, report.Limitations,
		report.SourcesAnalyzed, report.Provider, now,
	)
	if err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE research_queries SET status = ?, error_message = '', updated_at = ? WHERE id = ?`,
		string(storage.StatusCompleted), now, id,
	)
	if err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	return reportID, nil
}

func (s *sqliteStore) GetQuery(ctx context.Context, id string) (*storage.Query, error) {
	var q storage.Query
	var status string

	err := s.db.QueryRowContext(ctx, `
	SELECT id, query, status, error_message, sources_found, sources_extracted, created_at, updated_at
	FROM research_queries WHERE id = ?
	`, id).Scan(&q.ID, &q.Text, &status, &q.Error, &q.SourcesFound, &q.SourcesExtracted, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get query: %w", err)
	}
	q.Status = storage.Status(status)

	rows, err := s.db.QueryContext(ctx, `
	SELECT position, url, title, snippet, score, published_date, content,
		extraction_success, extraction_error, word_count, page_count, strategy, created_at
	FROM sources WHERE query_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		src := storage.Source{QueryID: id}
		err := rows.Scan(
			&src.Position, &src.URL, &src.Title, &src.Snippet, &src.Score, &src.PublishedDate, &src.Content,
			&src.Success, &src.Error, &src.WordCount, &src.PageCount, &src.Strategy, &src.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("get query: %w", err)
		}
		q.Sources = append(q.Sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get query: %w", err)
	}

	var r storage.Report
	var keyPointsJSON string
	err = s.db.QueryRowContext(ctx, `
	SELECT id, summary, key_points, methodology, limitations, sources_analyzed, provider, generated_at
	FROM reports WHERE query_id = ?
	`, id).Scan(&r.ID, &r.Summary, &keyPointsJSON, &r.Methodology, &r.Limitations, &r.SourcesAnalyzed, &r.Provider, &r.GeneratedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("get query: %w", err)
	default:
		r.QueryID = id
		if err := json.Unmarshal([]byte(keyPointsJSON), &r.KeyPoints); err != nil {
			return nil, fmt.Errorf("get query: %w", err)
		}
		q.Report = &r
	}

	return &q, nil
}

func (s *sqliteStore) ListQueries(ctx context.Context, limit int) ([]storage.QuerySummary, error) {
	query := `
	SELECT q.id, q.query, q.status, q.sources_found, q.sources_extracted, q.error_message, q.created_at,
		r.id IS NOT NULL
	FROM research_queries q
	LEFT JOIN reports r ON r.query_id = q.id
	ORDER BY q.created_at DESC, q.rowid DESC`
	args := []any{}

	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	defer rows.Close()

	var results []storage.QuerySummary
	for rows.Next() {
		var qs storage.QuerySummary
		var status string
		if err := rows.Scan(&qs.ID, &qs.Text, &status, &qs.SourcesFound, &qs.SourcesExtracted, &qs.Error, &qs.CreatedAt, &qs.HasReport); err != nil {
			return nil, fmt.Errorf("list queries: %w", err)
		}
		qs.Status = storage.Status(status)
		results = append(results, qs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}

	return results, nil
}

func (s *sqliteStore) Stats(ctx context.Context) (storage.Stats, error) {
	st := storage.Stats{StatusCounts: make(map[storage.Status]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM research_queries GROUP BY status`)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return st, fmt.Errorf("stats: %w", err)
		}
		st.StatusCounts[storage.Status(status)] = n
		st.TotalQueries += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources`).Scan(&st.TotalSources); err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&st.TotalReports); err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	st.DatabaseSize = pageCount * pageSize

	return st, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func currentStatus(ctx context.Context, q queryRower, id string) (storage.Status, error) {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM research_queries WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load status: %w", err)
	}
	return storage.Status(status), nil
}
