// Package history records answered questions and finds earlier similar ones.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// Entry is one answered question
type Entry struct {
	ID           string    `json:"id"`
	Question     string    `json:"question"`
	ExecutedSQL  string    `json:"executed_sql"`
	TemplateName string    `json:"template_name,omitempty"`
	UsedFallback bool      `json:"used_fallback"`
	RowCount     int       `json:"row_count"`
	Summary      string    `json:"summary"`
	CreatedAt    time.Time `json:"created_at"`
	Similarity   float64   `json:"similarity,omitempty"`
}

// Store persists answered questions
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	FindSimilar(ctx context.Context, question string, limit int) ([]Entry, error)
}

// MinSimilarity is the cosine similarity below which entries are not returned
const MinSimilarity = 0.8

// PostgresStore implements Store on the query_history table
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to PostgreSQL through lib/pq
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an open database handle
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Ping tests the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Record stores entry together with the embedding of its question
func (s *PostgresStore) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	var template sql.NullString
	if entry.TemplateName != "" {
		template = sql.NullString{String: entry.TemplateName, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_history
			(id, question, executed_sql, template_name, used_fallback, row_count, summary, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		entry.ID,
		entry.Question,
		entry.ExecutedSQL,
		template,
		entry.UsedFallback,
		entry.RowCount,
		entry.Summary,
		pgvector.NewVector(Embed(entry.Question)),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries first
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, executed_sql, template_name, used_fallback, row_count, summary, created_at
		FROM query_history
		ORDER BY created_at DESC
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var template sql.NullString
		if err := rows.Scan(&e.ID, &e.Question, &e.ExecutedSQL, &template, &e.UsedFallback, &e.RowCount, &e.Summary, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.TemplateName = template.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return entries, nil
}

// FindSimilar returns earlier entries whose questions embed close to question
func (s *PostgresStore) FindSimilar(ctx context.Context, question string, limit int) ([]Entry, error) {
	vector := pgvector.NewVector(Embed(question))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, executed_sql, template_name, used_fallback, row_count, summary, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM query_history
		WHERE 1 - (embedding <=> $1) > $2
		ORDER BY similarity DESC
		LIMIT $3
	`, vector, MinSimilarity, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query similar questions: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var template sql.NullString
		if err := rows.Scan(&e.ID, &e.Question, &e.ExecutedSQL, &template, &e.UsedFallback, &e.RowCount, &e.Summary, &e.CreatedAt, &e.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan similar question row: %w", err)
		}
		e.TemplateName = template.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating similar question rows: %w", err)
	}
	return entries, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 20
	case limit > 100:
		return 100
	default:
		return limit
	}
}
