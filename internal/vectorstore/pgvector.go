package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// NewPool creates a PostgreSQL connection pool and verifies connectivity
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// PgvectorStore implements Index on a Postgres table using the pgvector
// extension. The table is expected to have the columns
//
//	id text, content text, source text, page integer NULL, embedding vector(N)
type PgvectorStore struct {
	pool       *pgxpool.Pool
	table      string
	tableIdent string
}

// NewPgvectorStore wraps an existing pool. The pool is closed by Close.
func NewPgvectorStore(pool *pgxpool.Pool, table string) (*PgvectorStore, error) {
	if pool == nil {
		return nil, errors.New("pgvector: pool is required")
	}
	if table == "" {
		return nil, errors.New("pgvector: table is required")
	}
	return &PgvectorStore{
		pool:       pool,
		table:      table,
		tableIdent: pgx.Identifier{table}.Sanitize(),
	}, nil
}

// Close closes the connection pool
func (s *PgvectorStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks database connectivity.
func (s *PgvectorStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pgvector: ping: %w", err)
	}
	return nil
}

// Dimension reads the declared size of the embedding column. For the vector
// type, atttypmod holds the dimension.
func (s *PgvectorStore) Dimension(ctx context.Context) (int, error) {
	var dim int32
	query, args := s.dimensionQuery()
	err := s.pool.QueryRow(ctx, query, args...).Scan(&dim)
	if err != nil {
		return 0, fmt.Errorf("pgvector: read embedding dimension: %w", err)
	}
	if dim <= 0 {
		return 0, fmt.Errorf("pgvector: embedding column of %s has no fixed dimension", s.table)
	}
	return int(dim), nil
}

// dimensionQuery resolves the same quoted identifier Search reads from, so
// mixed-case table names refer to one relation.
func (s *PgvectorStore) dimensionQuery() (string, []any) {
	return "SELECT atttypmod FROM pg_attribute WHERE attrelid = $1::regclass AND attname = 'embedding'",
		[]any{s.tableIdent}
}

func (s *PgvectorStore) searchQuery() string {
	return "SELECT id, content, source, page, 1 - (embedding <=> $1) AS score FROM " +
		s.tableIdent + " ORDER BY embedding <=> $1 ASC LIMIT $2"
}

// Search returns the topK rows closest to vector by cosine distance.
// Cosine distance in pgvector is 1 - cosine_similarity.
func (s *PgvectorStore) Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error) {
	rows, err := s.pool.Query(ctx, s.searchQuery(), pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, topK)
	for rows.Next() {
		var (
			id      string
			content string
			source  *string
			page    *int32
			score   float64
		)
		if err := rows.Scan(&id, &content, &source, &page, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}

		result := SearchResult{
			ID:       id,
			Content:  content,
			Score:    float32(score),
			Metadata: map[string]string{},
		}
		if source != nil {
			result.Source = *source
		}
		if page != nil && *page >= 0 {
			p := int(*page)
			result.Page = &p
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}

	return results, nil
}

var _ Index = (*PgvectorStore)(nil)
