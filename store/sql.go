package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-etl-banks/models"
)

// Queryer is the part of *sql.DB, *sql.Conn and *sql.Tx used by RunQuery.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLStore is a Store over database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens and pings a database/sql handle for driver.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// NewSQLStore wraps an existing handle. driver selects the placeholder style.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// DB returns the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Replace drops and recreates table from set in one transaction.
func (s *SQLStore) Replace(ctx context.Context, table string, set *models.RecordSet) error {
	if err := validateTable(table); err != nil {
		return err
	}
	header := set.Header()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, dropTableSQL(table)); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(table, header)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.insertSQL(table, header))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < set.Len(); i++ {
		if _, err := stmt.ExecContext(ctx, set.Row(i)...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Query runs sqlText verbatim and returns every row.
func (s *SQLStore) Query(ctx context.Context, sqlText string) (*models.QueryResult, error) {
	return RunQuery(ctx, s.db, sqlText)
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) insertSQL(table string, header []string) string {
	marks := make([]string, len(header))
	for i := range header {
		if s.driver == "sqlite" {
			marks[i] = "?"
		} else {
			marks[i] = fmt.Sprintf("$%d", i+1)
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(header, ", "), strings.Join(marks, ", "))
}

// RunQuery executes sqlText verbatim against q and collects every row. The
// text is not validated or parameterized; callers pass operator-authored SQL only.
func RunQuery(ctx context.Context, q Queryer, sqlText string) (*models.QueryResult, error) {
	rows, err := q.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, &QueryError{SQL: sqlText, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{SQL: sqlText, Err: err}
	}

	result := &models.QueryResult{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
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
