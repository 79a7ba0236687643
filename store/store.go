// Package store materializes record sets in a relational database and runs
// operator-authored queries against it.
package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aluiziolira/go-etl-banks/models"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is a relational sink with replace-on-write semantics.
type Store interface {
	// Replace drops table if it exists, recreates it from set's header and
	// inserts every record, all inside one transaction.
	Replace(ctx context.Context, table string, set *models.RecordSet) error
	// Query runs sqlText verbatim.
	Query(ctx context.Context, sqlText string) (*models.QueryResult, error)
	Close() error
}

// QueryError reports a store-side failure executing a query.
type QueryError struct {
	SQL string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q: %v", e.SQL, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Open connects to the store named by driver: sqlite, postgres, or pgx.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite", "postgres":
		return OpenSQL(ctx, driver, dsn)
	case "pgx":
		return OpenPgx(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func validateTable(table string) error {
	if !identPattern.MatchString(table) {
		return fmt.Errorf("table name %q is not a plain identifier", table)
	}
	return nil
}

func createTableSQL(table string, header []string) string {
	cols := make([]string, len(header))
	for i, name := range header {
		typ := "DOUBLE PRECISION"
		if i == 0 {
			typ = "TEXT"
		}
		cols[i] = name + " " + typ
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(cols, ", "))
}

func dropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + table
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
