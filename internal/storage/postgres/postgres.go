package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/dossier/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresStore implements storage.Store
var _ storage.Store = (*postgresStore)(nil)

type postgresStore struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS research_queries (
	seq BIGSERIAL UNIQUE,
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	sources_found INTEGER NOT NULL DEFAULT 0,
	sources_extracted INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
	id BIGSERIAL PRIMARY KEY,
	query_id TEXT NOT NULL REFERENCES research_queries(id),
	position INTEGER NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	snippet TEXT NOT NULL DEFAULT '',
	score DOUBLE PRECISION NOT NULL DEFAULT 0,
	published_date TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	extraction_success BOOLEAN NOT NULL,
	extraction_error TEXT NOT NULL DEFAULT '',
	word_count INTEGER NOT NULL DEFAULT 0,
	page_count INTEGER NOT NULL DEFAULT 0,
	strategy TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	query_id TEXT NOT NULL UNIQUE REFERENCES research_queries(id),
	summary TEXT NOT NULL,
	key_points JSONB NOT NULL,
	methodology TEXT NOT NULL DEFAULT '',
	limitations TEXT NOT NULL DEFAULT '',
	sources_analyzed INTEGER NOT NULL DEFAULT 0,
	provider TEXT NOT NULL DEFAULT '',
	generated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queries_created_at ON research_queries(created_at);
CREATE INDEX IF NOT EXISTS idx_sources_query_id ON sources(query_id);
`

// New creates a new Postgres-backed storage.Store.
func New(ctx context.Context, dsn string) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}

	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) CreateQuery(ctx context.Context, text string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO research_queries (id, query, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, text, string(storage.StatusStarted), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create query: %w", err)
	}
	return id, nil
}

func (s *postgresStore) UpdateStatus(ctx context.Context, id string, status storage.Status, errMsg string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := lockStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.CanTransition(status) {
			return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, current, status)
		}

		_, err = tx.Exec(ctx,
			`UPDATE research_queries SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
			string(status), errMsg, time.Now().UTC(), id,
		)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
}

func (s *postgresStore) SaveSources(ctx context.Context, id string, sources []storage.Source) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := lockStatus(ctx, tx, id); err != nil {
			return err
		}

		var existing int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM sources WHERE query_id = $1`, id).Scan(&existing); err != nil {
			return fmt.Errorf("save sources: %w", err)
		}
		if existing > 0 {
			return storage.ErrSourcesExist
		}

		now := time.Now().UTC()
		batch := &pgx.Batch{}
		for i, src := range sources {
			batch.Queue(`
			INSERT INTO sources (
				query_id, position, url, title, snippet, score, published_date, content,
				extraction_success, extraction_error, word_count, page_count, strategy, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			`,
				id, i, src.URL, src.Title, src.Snippet, src.Score, src.PublishedDate, src.Content,
				src.Success, src.Error, src.WordCount, src.PageCount, src.Strategy, now,
			)
		}
		batch.Queue(
			`UPDATE research_queries SET sources_found = $1, sources_extracted = $2, updated_at = $3 WHERE id = $4`,
			len(sources), storage.CountExtracted(sources), now, id,
		)

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save sources: %w", err)
		}
		return nil
	})
}

func (s *postgresStore) SaveReport(ctx context.Context, id string, report *storage.Report) (string, error) {
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

	reportID := uuid.New().String()

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := lockStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.CanTransition(storage.StatusCompleted) {
			return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, current, storage.StatusCompleted)
		}

		var existing int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM reports WHERE query_id = $1`, id).Scan(&existing); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		if existing > 0 {
			return storage.ErrReportExists
		}

		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `
		INSERT INTO reports (
			id, query_id, summary, key_points, methodology, limitations, sources_analyzed, provider, generated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			reportID, id, report.Summary, keyPointsJSON, report.Methodology, report.Limitations,
			report.SourcesAnalyzed, report.Provider, now,
		)
		if err != nil {
			return fmt.Errorf("save report: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE research_queries SET status = $1, error_message = '', updated_at = $2 WHERE id = $3`,
			string(storage.StatusCompleted), now, id,
		)
		if err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return reportID, nil
}

func (s *postgresStore) GetQuery(ctx context.Context, id string) (*storage.Query, error) {
	var q storage.Query
	var status string

	err := s.pool.QueryRow(ctx, `
	SELECT id, query, status, error_message, sources_found, sources_extracted, created_at, updated_at
	FROM research_queries WHERE id = $1
	`, id).Scan(&q.ID, &q.Text, &status, &q.Error, &q.SourcesFound, &q.SourcesExtracted, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get query: %w", err)
	}
	q.Status = storage.Status(status)

	rows, err := s.pool.Query(ctx, `
	SELECT position, url, title, snippet, score, published_date, content,
		extraction_success, extraction_error, word_count, page_count, strategy, created_at
	FROM sources WHERE query_id = $1 ORDER BY position
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
	var keyPointsJSON []byte
	err = s.pool.QueryRow(ctx, `
	SELECT id, summary, key_points, methodology, limitations, sources_analyzed, provider, generated_at
	FROM reports WHERE query_id = $1
	`, id).Scan(&r.ID, &r.Summary, &keyPointsJSON, &r.Methodology, &r.Limitations, &r.SourcesAnalyzed, &r.Provider, &r.GeneratedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("get query: %w", err)
	default:
		r.QueryID = id
		if err := json.Unmarshal(keyPointsJSON, &r.KeyPoints); err != nil {
			return nil, fmt.Errorf("get query: %w", err)
		}
		q.Report = &r
	}

	return &q, nil
}

func (s *postgresStore) ListQueries(ctx context.Context, limit int) ([]storage.QuerySummary, error) {
	query := `
	SELECT q.id, q.query, q.status, q.sources_found, q.sources_extracted, q.error_message, q.created_at,
		r.id IS NOT NULL
	FROM research_queries q
	LEFT JOIN reports r ON r.query_id = q.id
	ORDER BY q.created_at DESC, q.seq DESC`
	args := []any{}

	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *postgresStore) Stats(ctx context.Context) (storage.Stats, error) {
	st := storage.Stats{StatusCounts: make(map[storage.Status]int)}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM research_queries GROUP BY status`)
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

	err = s.pool.QueryRow(ctx, `
	SELECT (SELECT COUNT(*) FROM sources), (SELECT COUNT(*) FROM reports), pg_database_size(current_database())
	`).Scan(&st.TotalSources, &st.TotalReports, &st.DatabaseSize)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}

	return st, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

// lockStatus reads the query's status and holds a row lock for the rest of tx.
func lockStatus(ctx context.Context, tx pgx.Tx, id string) (storage.Status, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM research_queries WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load status: %w", err)
	}
	return storage.Status(status), nil
}
