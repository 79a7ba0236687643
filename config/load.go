package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-etl-banks/models"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadDotEnv loads a .env file from the working directory if present.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys missing from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("cannot parse YAML: %w", err)
	}
	return nil
}

// ApplyEnv overlays ETL_* environment variables onto cfg.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString("ETL_URL"); ok {
		c.URL = v
	}
	if v, ok, err := EnvDuration("ETL_TIMEOUT"); err != nil {
		return err
	} else if ok {
		c.Timeout = v
	}
	if v, ok := EnvString("ETL_CSV_PATH"); ok {
		c.CSVPath = v
	}
	if v, ok := EnvString("ETL_JSON_PATH"); ok {
		c.JSONPath = v
	}
	if v, ok := EnvString("ETL_FORMAT"); ok {
		c.OutputFormat = strings.ToLower(v)
	}
	if v, ok := EnvString("ETL_RATES_FILE"); ok {
		c.RatesFile = v
	}
	if v, ok := EnvString("ETL_DB_DRIVER"); ok {
		c.DBDriver = strings.ToLower(v)
	}
	if v, ok := EnvString("DATABASE_URL"); ok {
		c.DBDSN = v
	}
	if v, ok := EnvString("ETL_DB_DSN"); ok {
		c.DBDSN = v
	}
	if v, ok := EnvString("ETL_TABLE"); ok {
		c.TableName = v
	}
	if v, ok := EnvString("ETL_LOG_FILE"); ok {
		c.LogFile = v
	}
	if v, ok, err := EnvDuration("ETL_CACHE_TTL"); err != nil {
		return err
	} else if ok {
		c.CacheTTL = v
	}
	if v, ok, err := EnvInt("ETL_CACHE_SIZE"); err != nil {
		return err
	} else if ok {
		c.CacheSize = v
	}
	if v, ok := EnvString("REDIS_URL"); ok {
		c.RedisURL = v
	}
	if v, ok := EnvString("ETL_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	return nil
}

// EnvString returns a trimmed, non-empty environment value.
func EnvString(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", false
	}
	return v, true
}

// EnvInt parses an integer environment value.
func EnvInt(key string) (int, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvDuration parses a Go duration environment value such as "30s".
func EnvDuration(key string) (time.Duration, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// LoadRates reads an exchange-rate CSV with a Currency,Rate header.
func LoadRates(path string) ([]models.Factor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rates file: %w", err)
	}
	defer f.Close()
	return ParseRates(f)
}

// ParseRates decodes Currency,Rate rows. Column order follows the header.
func ParseRates(r io.Reader) ([]models.Factor, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read rates header: %w", err)
	}
	currencyCol, rateCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "currency":
			currencyCol = i
		case "rate":
			rateCol = i
		}
	}
	if currencyCol < 0 || rateCol < 0 {
		return nil, fmt.Errorf("rates header must contain Currency and Rate, got %v", header)
	}

	var factors []models.Factor
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rates row: %w", err)
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(record[rateCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("rate for %s: %w", record[currencyCol], err)
		}
		factors = append(factors, models.Factor{
			Currency: strings.ToUpper(strings.TrimSpace(record[currencyCol])),
			Rate:     rate,
		})
	}
	if len(factors) == 0 {
		return nil, fmt.Errorf("rates file has no rows")
	}
	return factors, nil
}
