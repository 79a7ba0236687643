package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aluiziolira/go-etl-banks/models"
)

// OutputWriter defines the interface for flat-file output.
type OutputWriter interface {
	Write(set *models.RecordSet) error
	Close() error
	Validate() error
}

// CSVWriter writes a record set as CSV, replacing any existing file.
type CSVWriter struct {
	path    string
	file    *os.File
	writer  *csv.Writer
	written int
	mu      sync.Mutex
}

// NewCSVWriter truncates filename and writes the header row.
func NewCSVWriter(filename string, header []string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		path:   filename,
		file:   f,
		writer: writer,
	}, nil
}

// Write appends the records of set.
func (cw *CSVWriter) Write(set *models.RecordSet) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for i := 0; i < set.Len(); i++ {
		if err := cw.writer.Write(set.StringRow(i)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	cw.written += set.Len()
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate re-reads the file and checks that every written row is present.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	set, err := ReadCSV(cw.path)
	if err != nil {
		return err
	}
	if set.Len() != cw.written {
		return fmt.Errorf("csv file has %d records, wrote %d", set.Len(), cw.written)
	}
	return nil
}

// ReadCSV loads a record set previously written by CSVWriter.
func ReadCSV(filename string) (*models.RecordSet, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) < 2 || header[0] != "name" || header[1] != "market_cap_usd" {
		return nil, fmt.Errorf("unexpected csv header %v", header)
	}

	set := &models.RecordSet{}
	for _, col := range header[2:] {
		currency, ok := strings.CutPrefix(col, "market_cap_")
		if !ok {
			return nil, fmt.Errorf("unexpected csv column %q", col)
		}
		set.Currencies = append(set.Currencies, strings.ToUpper(currency))
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		usd, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("csv record %q market_cap_usd: %w", row[0], err)
		}
		rec := &models.DerivedRecord{Name: row[0], MarketCapUSD: usd}
		for i, currency := range set.Currencies {
			v, err := strconv.ParseFloat(row[i+2], 64)
			if err != nil {
				return nil, fmt.Errorf("csv record %q %s: %w", row[0], header[i+2], err)
			}
			rec.Converted = append(rec.Converted, models.Conversion{Currency: currency, Value: v})
		}
		set.Records = append(set.Records, rec)
	}
	return set, nil
}

// JSONWriter writes newline-delimited JSON records, replacing any existing file.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	header  []string
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string, header []string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
		header:  header,
	}, nil
}

// Write appends records in JSONL format keyed by column name.
func (jw *JSONWriter) Write(set *models.RecordSet) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for i := 0; i < set.Len(); i++ {
		row := set.Row(i)
		obj := make(map[string]any, len(jw.header))
		for j, col := range jw.header {
			obj[col] = row[j]
		}
		if err := jw.encoder.Encode(obj); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file exists.
func (jw *JSONWriter) Validate() error {
	if _, err := os.Stat(jw.file.Name()); err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
