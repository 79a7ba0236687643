package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/aluiziolira/go-etl-banks/config"
	"github.com/aluiziolira/go-etl-banks/metrics"
	"github.com/aluiziolira/go-etl-banks/models"
	"github.com/aluiziolira/go-etl-banks/pipeline"
	"github.com/aluiziolira/go-etl-banks/progress"
	"github.com/aluiziolira/go-etl-banks/scraper"
	"github.com/aluiziolira/go-etl-banks/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	defaults := config.DefaultConfig()
	configFile := flag.String("config", "", "YAML config file")
	sourceURL := flag.String("url", defaults.URL, "Source page URL")
	csvPath := flag.String("csv", defaults.CSVPath, "CSV export path")
	outputFormat := flag.String("format", defaults.OutputFormat, "Output format: csv or dual")
	ratesFile := flag.String("rates", "", "Exchange rate CSV (Currency,Rate)")
	dbDriver := flag.String("db-driver", defaults.DBDriver, "Store driver: sqlite, postgres or pgx")
	dbDSN := flag.String("db", defaults.DBDSN, "Store DSN or sqlite file path")
	table := flag.String("table", defaults.TableName, "Target table name")
	logFile := flag.String("log", defaults.LogFile, "Progress log path")
	timeout := flag.Duration("timeout", defaults.Timeout, "HTTP request timeout")
	cacheTTL := flag.Duration("cache-ttl", 0, "Document cache TTL (0 disables caching)")
	cacheSize := flag.Int("cache-size", defaults.CacheSize, "Document cache capacity")
	redisURL := flag.String("redis-url", "", "Redis URL for the document cache")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := buildConfig(*configFile, func(cfg *config.Config) {
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "url":
				cfg.URL = *sourceURL
			case "csv":
				cfg.CSVPath = *csvPath
			case "format":
				cfg.OutputFormat = strings.ToLower(*outputFormat)
			case "rates":
				cfg.RatesFile = *ratesFile
			case "db-driver":
				cfg.DBDriver = strings.ToLower(*dbDriver)
			case "db":
				cfg.DBDSN = *dbDSN
			case "table":
				cfg.TableName = *table
			case "log":
				cfg.LogFile = *logFile
			case "timeout":
				cfg.Timeout = *timeout
			case "cache-ttl":
				cfg.CacheTTL = *cacheTTL
			case "cache-size":
				cfg.CacheSize = *cacheSize
			case "redis-url":
				cfg.RedisURL = *redisURL
			case "metrics-addr":
				cfg.MetricsAddr = *metricsAddr
			case "v":
				cfg.Verbose = *verbose
			}
		})
	})
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Verbose {
		level.Set(slog.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		os.Exit(1)
	}
}

// buildConfig layers defaults, the optional YAML file, the environment and
// explicitly set flags, then resolves the rates file.
func buildConfig(path string, applyFlags func(*config.Config)) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	applyFlags(cfg)
	if cfg.RatesFile != "" {
		factors, err := config.LoadRates(cfg.RatesFile)
		if err != nil {
			return nil, err
		}
		cfg.Factors = factors
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	m := metrics.New()
	metricsServer := startMetricsServer(cfg.MetricsAddr, m)
	defer shutdownMetricsServer(metricsServer)

	cache, closeCache, err := newCache(cfg)
	if err != nil {
		slog.Error("creating document cache", slog.Any("error", err))
		return err
	}
	defer closeCache()

	s, err := scraper.NewScraper(cfg, cache, m)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		return err
	}

	st, err := store.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		slog.Error("opening store", slog.String("driver", cfg.DBDriver), slog.Any("error", err))
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	progressLog, err := progress.Open(cfg.LogFile)
	if err != nil {
		slog.Error("opening progress log", slog.Any("error", err))
		return err
	}
	defer progressLog.Close()

	driver := pipeline.NewDriver(cfg, s, st, progressLog, m)
	slog.Info("starting ETL run",
		slog.String("run_id", driver.RunID()),
		slog.String("url", cfg.URL),
		slog.String("store", cfg.DBDriver),
		slog.String("table", cfg.TableName),
	)

	result, err := driver.Run(ctx)
	if err != nil {
		return err
	}
	return printQueries(stdout, result.Queries)
}

// newCache returns nil unless a cache TTL is set. Redis is used when a URL is
// configured, otherwise an in-process LRU.
func newCache(cfg *config.Config) (scraper.DocumentCache, func(), error) {
	if cfg.CacheTTL <= 0 {
		return nil, func() {}, nil
	}
	if cfg.RedisURL == "" {
		return scraper.NewMemoryCache(cfg.CacheSize, cfg.CacheTTL), func() {}, nil
	}
	rc, err := scraper.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
	if err != nil {
		return nil, nil, err
	}
	return rc, func() {
		if err := rc.Close(); err != nil {
			slog.Warn("close redis cache", slog.Any("error", err))
		}
	}, nil
}

func startMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return srv
}

func shutdownMetricsServer(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

// printQueries renders each query as "Query #n", the SQL text and the
// result rows in aligned columns.
func printQueries(w io.Writer, queries []models.QueryOutput) error {
	for i, q := range queries {
		fmt.Fprintf(w, "Query #%d\n%s\n", i+1, q.SQL)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, strings.Join(q.Result.Columns, "\t"))
		for _, row := range q.Result.Rows {
			cells := make([]string, len(row))
			for j, v := range row {
				cells[j] = formatCell(v)
			}
			fmt.Fprintln(tw, strings.Join(cells, "\t"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	return nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return fmt.Sprintf("%.2f", x)
	default:
		return fmt.Sprint(x)
	}
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stderr) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
