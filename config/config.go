package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aluiziolira/go-etl-banks/models"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ColumnIndex is the positional cell mapping for the source table. Cells are
// read by index, not by header text.
type ColumnIndex struct {
	Name         int `yaml:"name"`
	MarketCapUSD int `yaml:"market_cap_usd"`
}

// Config holds ETL run configuration.
type Config struct {
	URL          string          `yaml:"url"`
	Timeout      time.Duration   `yaml:"timeout"`
	UserAgent    string          `yaml:"user_agent"`
	Columns      ColumnIndex     `yaml:"columns"`
	Factors      []models.Factor `yaml:"factors"`
	RatesFile    string          `yaml:"rates_file"`
	CSVPath      string          `yaml:"csv_path"`
	JSONPath     string          `yaml:"json_path"`
	OutputFormat string          `yaml:"output_format"` // csv or dual
	DBDriver     string          `yaml:"db_driver"`     // sqlite, postgres or pgx
	DBDSN        string          `yaml:"db_dsn"`
	TableName    string          `yaml:"table_name"`
	Queries      []string        `yaml:"queries"`
	LogFile      string          `yaml:"log_file"`
	CacheTTL     time.Duration   `yaml:"cache_ttl"`
	CacheSize    int             `yaml:"cache_size"`
	RedisURL     string          `yaml:"redis_url"`
	MetricsAddr  string          `yaml:"metrics_addr"`
	Verbose      bool            `yaml:"verbose"`
}

// DefaultConfig returns the defaults of the largest-banks job.
func DefaultConfig() *Config {
	return &Config{
		URL:          "https://en.wikipedia.org/wiki/List_of_largest_banks",
		Timeout:      30 * time.Second,
		UserAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Columns:      ColumnIndex{Name: 1, MarketCapUSD: 2},
		Factors:      models.DefaultFactors(),
		CSVPath:      "./Largest_banks_data.csv",
		OutputFormat: "csv",
		DBDriver:     "sqlite",
		DBDSN:        "Banks.db",
		TableName:    "Largest_banks",
		LogFile:      "./code_log.txt",
		CacheSize:    16,
	}
}

// DefaultQueries returns the operator-authored queries run after loading.
func DefaultQueries(table string) []string {
	return []string{
		fmt.Sprintf("SELECT * FROM %s", table),
		fmt.Sprintf("SELECT AVG(market_cap_gbp) FROM %s", table),
		fmt.Sprintf("SELECT name FROM %s LIMIT 5", table),
	}
}

// RunQueries returns the configured queries, falling back to DefaultQueries.
func (c *Config) RunQueries() []string {
	if len(c.Queries) > 0 {
		return c.Queries
	}
	return DefaultQueries(c.TableName)
}

// JSONOutputPath returns the companion JSONL path used by the dual format.
func (c *Config) JSONOutputPath() string {
	if c.JSONPath != "" {
		return c.JSONPath
	}
	return strings.TrimSuffix(c.CSVPath, ".csv") + ".jsonl"
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("source URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid source URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("source URL must include a host")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.Columns.Name < 0 || c.Columns.MarketCapUSD < 0 {
		return fmt.Errorf("column indexes cannot be negative")
	}
	if c.Columns.Name == c.Columns.MarketCapUSD {
		return fmt.Errorf("column indexes must be distinct")
	}

	if len(c.Factors) == 0 {
		return fmt.Errorf("at least one conversion factor is required")
	}
	seen := make(map[string]struct{}, len(c.Factors))
	for _, f := range c.Factors {
		code := strings.ToUpper(strings.TrimSpace(f.Currency))
		if !identPattern.MatchString(code) {
			return fmt.Errorf("invalid currency code %q", f.Currency)
		}
		if code == "USD" {
			return fmt.Errorf("currency USD is the source column")
		}
		if _, dup := seen[code]; dup {
			return fmt.Errorf("duplicate currency %q", code)
		}
		seen[code] = struct{}{}
		if f.Rate <= 0 {
			return fmt.Errorf("rate for %s must be positive", code)
		}
	}

	if c.CSVPath == "" {
		return fmt.Errorf("csv path cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv or dual")
	}
	switch c.DBDriver {
	case "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("db driver must be sqlite, postgres, or pgx")
	}
	if c.DBDSN == "" {
		return fmt.Errorf("db dsn cannot be empty")
	}
	if !identPattern.MatchString(c.TableName) {
		return fmt.Errorf("table name %q is not a plain identifier", c.TableName)
	}
	if c.LogFile == "" {
		return fmt.Errorf("log file cannot be empty")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}
	if c.CacheTTL > 0 && c.RedisURL == "" && c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive when the memory cache is enabled")
	}

	return nil
}
