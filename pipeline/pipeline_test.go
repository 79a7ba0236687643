package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/go-etl-banks/config"
	"github.com/aluiziolira/go-etl-banks/metrics"
	"github.com/aluiziolira/go-etl-banks/models"
	"github.com/aluiziolira/go-etl-banks/parser"
	"github.com/aluiziolira/go-etl-banks/store"
	"github.com/aluiziolira/go-etl-banks/transform"
)

type staticFetcher struct {
	body  string
	err   error
	calls int
}

func (f *staticFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.body), nil
}

type recordingLog struct {
	messages []string
}

func (l *recordingLog) Log(message string) error {
	l.messages = append(l.messages, message)
	return nil
}

func (l *recordingLog) last() string {
	if len(l.messages) == 0 {
		return ""
	}
	return l.messages[len(l.messages)-1]
}

type fixture struct {
	cfg      *config.Config
	store    *store.SQLStore
	progress *recordingLog
	fetcher  *staticFetcher
}

func newFixture(t *testing.T, body string) *fixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.URL = "http://example.test/wiki/List_of_largest_banks"
	cfg.CSVPath = filepath.Join(dir, "Largest_banks_data.csv")
	cfg.DBDSN = filepath.Join(dir, "Banks.db")
	cfg.LogFile = filepath.Join(dir, "code_log.txt")

	st, err := store.OpenSQL(context.Background(), "sqlite", cfg.DBDSN)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	return &fixture{
		cfg:      cfg,
		store:    st,
		progress: &recordingLog{},
		fetcher:  &staticFetcher{body: body},
	}
}

func (f *fixture) driver() *Driver {
	return NewDriver(f.cfg, f.fetcher, f.store, f.progress, metrics.New())
}

func bankPage(rows [][2]string) string {
	var b strings.Builder
	b.WriteString("<html><body><table class=\"wikitable\"><tbody>")
	b.WriteString("<tr><th>Rank</th><th>Bank name</th><th>Market cap (US$ billion)</th></tr>")
	for i, row := range rows {
		fmt.Fprintf(&b, "<tr><td>%d</td><td>%s</td><td>%s</td></tr>", i+1, row[0], row[1])
	}
	b.WriteString("<tr></tr></tbody></table></body></html>")
	return b.String()
}

var scenarioRows = [][2]string{
	{"Bank A", "1,000.50"},
	{"Bank B", "500"},
	{"Bank C", "250.25"},
}

func TestDriverRunScenario(t *testing.T) {
	f := newFixture(t, bankPage(scenarioRows))
	d := f.driver()

	result, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if d.State() != StateDone {
		t.Fatalf("state=%s, want Done", d.State())
	}
	if result.RecordCount != 3 || result.RunID != d.RunID() {
		t.Fatalf("result=%+v", result)
	}
	if len(result.Queries) != 3 {
		t.Fatalf("queries=%d, want 3", len(result.Queries))
	}

	all := result.Queries[0].Result
	if len(all.Rows) != 3 || len(all.Columns) != 5 {
		t.Fatalf("select all = %d rows %d cols", len(all.Rows), len(all.Columns))
	}

	avg, ok := result.Queries[1].Result.Rows[0][0].(float64)
	if !ok {
		t.Fatalf("avg type %T", result.Queries[1].Result.Rows[0][0])
	}
	want := math.Round((800.4+400+200.2)/3*100) / 100
	if math.Round(avg*100)/100 != want {
		t.Fatalf("avg=%v, want %v", avg, want)
	}

	var names []string
	for _, row := range result.Queries[2].Result.Rows {
		names = append(names, row[0].(string))
	}
	if strings.Join(names, ",") != "Bank A,Bank B,Bank C" {
		t.Fatalf("names=%v", names)
	}

	exported, err := ReadCSV(f.cfg.CSVPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if exported.Len() != 3 || exported.Records[0].Name != "Bank A" {
		t.Fatalf("export=%+v", exported.Records)
	}

	wantLog := []string{
		"ETL Process started",
		"Extract phase started",
		"Extract phase completed",
		"Transform phase started",
		"Transform phase completed",
		"Load phase started",
		"Data loaded to .csv file",
		"Data loaded to database",
		"Load phase completed",
		"Query phase started",
		"Query phase completed",
		"ETL Process completed successfully",
	}
	if strings.Join(f.progress.messages, "|") != strings.Join(wantLog, "|") {
		t.Fatalf("progress=%q", f.progress.messages)
	}
}

func TestDriverRunTwiceReplacesSinks(t *testing.T) {
	f := newFixture(t, bankPage(scenarioRows))

	for i := 0; i < 2; i++ {
		if _, err := f.driver().Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	res, err := f.store.Query(context.Background(), "SELECT COUNT(*) FROM Largest_banks")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if res.Rows[0][0] != int64(3) {
		t.Fatalf("count=%v, want 3", res.Rows[0][0])
	}
	exported, err := ReadCSV(f.cfg.CSVPath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if exported.Len() != 3 {
		t.Fatalf("export records=%d, want 3", exported.Len())
	}
}

func TestDriverMissingTableStopsBeforeLoad(t *testing.T) {
	f := newFixture(t, "<html><body><p>Page moved.</p></body></html>")
	d := f.driver()

	_, err := d.Run(context.Background())
	var extractionErr parser.ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if d.State() != StateFailed {
		t.Fatalf("state=%s, want Failed", d.State())
	}
	if f.progress.last() != "Extract phase started" {
		t.Fatalf("last progress=%q", f.progress.last())
	}
	if _, err := os.Stat(f.cfg.CSVPath); !os.IsNotExist(err) {
		t.Fatalf("csv should not exist, stat err=%v", err)
	}
	if _, err := f.store.Query(context.Background(), "SELECT * FROM Largest_banks"); err == nil {
		t.Fatalf("table should not exist")
	}
}

func TestDriverParseErrorStopsBeforeLoad(t *testing.T) {
	f := newFixture(t, bankPage([][2]string{{"Bank A", "10"}, {"Bank B", "N/A"}}))
	d := f.driver()

	_, err := d.Run(context.Background())
	var parseErr transform.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if parseErr.Value != "N/A" {
		t.Fatalf("parse error value=%q", parseErr.Value)
	}
	if f.progress.last() != "Transform phase started" {
		t.Fatalf("last progress=%q", f.progress.last())
	}
	if _, err := os.Stat(f.cfg.CSVPath); !os.IsNotExist(err) {
		t.Fatalf("csv should not exist, stat err=%v", err)
	}
}

func TestDriverFetchErrorIsFatal(t *testing.T) {
	f := newFixture(t, "")
	f.fetcher.err = errors.New("connection reset")
	d := f.driver()

	if _, err := d.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if d.State() != StateFailed {
		t.Fatalf("state=%s, want Failed", d.State())
	}
}

func TestDriverQueryErrorFails(t *testing.T) {
	f := newFixture(t, bankPage(scenarioRows))
	f.cfg.Queries = []string{"SELECT name FROM Largest_banks", "SELECT * FROM no_such_table"}
	d := f.driver()

	result, err := d.Run(context.Background())
	var queryErr *store.QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("expected QueryError, got %v", err)
	}
	if d.State() != StateFailed {
		t.Fatalf("state=%s, want Failed", d.State())
	}
	if len(result.Queries) != 1 {
		t.Fatalf("completed queries=%d, want 1", len(result.Queries))
	}
	if f.progress.last() != "Query phase started" {
		t.Fatalf("last progress=%q", f.progress.last())
	}
}

func TestDriverCancelledContext(t *testing.T) {
	f := newFixture(t, bankPage(scenarioRows))
	d := f.driver()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.fetcher.calls != 0 {
		t.Fatalf("fetcher called %d times", f.fetcher.calls)
	}
	if f.progress.last() != "ETL Process started" {
		t.Fatalf("last progress=%q", f.progress.last())
	}
}

func TestPersisterFileFailure(t *testing.T) {
	f := newFixture(t, "")
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.cfg.CSVPath = filepath.Join(blocker, "banks.csv")

	set, err := transform.Derive([]models.RawRecord{{Name: "Bank A", MarketCapUSD: "1"}}, models.DefaultFactors())
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	err = NewPersister(f.cfg, f.store).Persist(context.Background(), set)
	var persistErr *PersistError
	if !errors.As(err, &persistErr) || persistErr.Sink != "file" {
		t.Fatalf("expected file PersistError, got %v", err)
	}
	if _, err := f.store.Query(context.Background(), "SELECT * FROM Largest_banks"); err == nil {
		t.Fatalf("store should not be written after file failure")
	}
}

func TestPersisterStoreFailure(t *testing.T) {
	f := newFixture(t, "")
	f.cfg.TableName = "bad name"

	set, err := transform.Derive([]models.RawRecord{{Name: "Bank A", MarketCapUSD: "1"}}, models.DefaultFactors())
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	p := NewPersister(f.cfg, f.store)
	err = p.Persist(context.Background(), set)
	var persistErr *PersistError
	if !errors.As(err, &persistErr) || persistErr.Sink != "store" {
		t.Fatalf("expected store PersistError, got %v", err)
	}
	if _, err := os.Stat(f.cfg.CSVPath); err != nil {
		t.Fatalf("file sink should have been written: %v", err)
	}
}

func TestPersisterDualFormat(t *testing.T) {
	f := newFixture(t, "")
	f.cfg.OutputFormat = "dual"

	set, err := transform.Derive([]models.RawRecord{{Name: "Bank A", MarketCapUSD: "1"}}, models.DefaultFactors())
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if err := NewPersister(f.cfg, f.store).PersistFile(set); err != nil {
		t.Fatalf("persist file: %v", err)
	}
	if _, err := os.Stat(f.cfg.JSONOutputPath()); err != nil {
		t.Fatalf("jsonl missing: %v", err)
	}
}

func TestStateString(t *testing.T) {
	if StateLoading.String() != "Loading" || State(42).String() != "State(42)" {
		t.Fatalf("unexpected state names")
	}
}
