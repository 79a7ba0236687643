package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/go-etl-banks/models"
)

// PgxStore is a Store on a native pgx pool. Rows are loaded with COPY.
type PgxStore struct {
	pool *pgxpool.Pool
}

// OpenPgx connects a pool to dsn and verifies it.
func OpenPgx(ctx context.Context, dsn string) (*PgxStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect pgx: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pgx: %w", err)
	}
	return &PgxStore{pool: pool}, nil
}

// Replace drops and recreates table, then loads set with COPY, in one transaction.
func (s *PgxStore) Replace(ctx context.Context, table string, set *models.RecordSet) error {
	if err := validateTable(table); err != nil {
		return err
	}
	header := set.Header()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, dropTableSQL(table)); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}
	if _, err := tx.Exec(ctx, createTableSQL(table, header)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	rows := make([][]any, set.Len())
	for i := range rows {
		rows[i] = set.Row(i)
	}
	// Unquoted DDL folds to lower case; COPY targets the folded name.
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{strings.ToLower(table)}, header, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy rows: %w", err)
	}
	if int(copied) != len(rows) {
		return fmt.Errorf("copied %d rows, want %d", copied, len(rows))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Query runs sqlText verbatim and returns every row.
func (s *PgxStore) Query(ctx context.Context, sqlText string) (*models.QueryResult, error) {
	rows, err := s.pool.Query(ctx, sqlText)
	if err != nil {
		return nil, &QueryError{SQL: sqlText, Err: err}
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &models.QueryResult{Columns: make([]string, len(fields))}
	for i, f := range fields {
		result.Columns[i] = f.Name
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, &QueryError{SQL: sqlText, Err: err}
		}
		for i := range values {
			values[i] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{SQL: sqlText, Err: err}
	}
	return result, nil
}

// Close closes the pool.
func (s *PgxStore) Close() error {
	s.pool.Close()
	return nil
}
