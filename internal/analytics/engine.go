// Package analytics executes validated queries against the sales dataset.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KENTA-CMC/learning-program/internal/sqlguard"
)

// Engine runs validated queries. Implementations must be safe for concurrent use.
type Engine interface {
	Execute(ctx context.Context, q sqlguard.Query) (*Result, error)
}

// Connect opens a pgx pool and verifies it with a ping
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// querier is the part of a pgx pool the engine uses
type querier interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresEngine executes queries inside read-only transactions
type PostgresEngine struct {
	db               querier
	table            string
	statementTimeout time.Duration
}

// NewPostgresEngine creates an engine over pool for the given dataset table
func NewPostgresEngine(pool *pgxpool.Pool, table string, statementTimeout time.Duration) *PostgresEngine {
	return &PostgresEngine{db: pool, table: table, statementTimeout: statementTimeout}
}

// Table returns the dataset table the engine describes
func (e *PostgresEngine) Table() string {
	return e.table
}

// Ping checks database connectivity
func (e *PostgresEngine) Ping(ctx context.Context) error {
	return e.db.Ping(ctx)
}

// Execute runs q and collects every row
func (e *PostgresEngine) Execute(ctx context.Context, q sqlguard.Query) (*Result, error) {
	var result *Result
	err := e.readOnly(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, q.String())
		if err != nil {
			return err
		}
		result, err = collect(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return result, nil
}

// readOnly runs fn in a READ ONLY transaction that is always rolled back
func (e *PostgresEngine) readOnly(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// the guard lexes plain strings with backslash as an ordinary character
	if _, err := tx.Exec(ctx, "SET LOCAL standard_conforming_strings = on"); err != nil {
		return fmt.Errorf("failed to pin string semantics: %w", err)
	}
	if e.statementTimeout > 0 {
		// SET LOCAL cannot take a bind parameter
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", e.statementTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set statement timeout: %w", err)
		}
	}
	return fn(tx)
}

func collect(rows pgx.Rows) (*Result, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &Result{
		Columns: make([]Column, len(fields)),
		Rows:    [][]any{},
	}
	for i, fd := range fields {
		result.Columns[i] = Column{Name: fd.Name, Kind: kindOf(fd)}
	}

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}
		result.Rows = append(result.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

func kindOf(fd pgconn.FieldDescription) ColumnKind {
	switch fd.DataTypeOID {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID,
		pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return KindNumeric
	case pgtype.DateOID, pgtype.TimestampOID, pgtype.TimestamptzOID:
		return KindDatetime
	default:
		return KindText
	}
}

// normalize maps pgx decoded values onto plain Go types
func normalize(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", x[0:4], x[4:6], x[6:8], x[8:10], x[10:16])
	case []byte:
		return string(x)
	case pgtype.Interval:
		if !x.Valid {
			return nil
		}
		d := time.Duration(x.Microseconds) * time.Microsecond
		return fmt.Sprintf("%d months %d days %s", x.Months, x.Days, d)
	default:
		return v
	}
}
