// Package models defines data structures shared by the ETL stages.
package models

import (
	"strconv"
	"strings"
	"time"
)

// RawRecord is a table row exactly as scraped. MarketCapUSD still carries
// digit-grouping characters.
type RawRecord struct {
	Name         string `json:"name"`
	MarketCapUSD string `json:"market_cap_usd"`
}

// Factor is a static conversion multiplier from USD into Currency.
type Factor struct {
	Currency string  `yaml:"currency" json:"currency"`
	Rate     float64 `yaml:"rate" json:"rate"`
}

// DefaultFactors is the fixed multiplier table used when no rates file is configured.
func DefaultFactors() []Factor {
	return []Factor{
		{Currency: "GBP", Rate: 0.8},
		{Currency: "EUR", Rate: 0.93},
		{Currency: "INR", Rate: 82.95},
	}
}

// Conversion is one derived market_cap_<currency> value.
type Conversion struct {
	Currency string
	Value    float64
}

// DerivedRecord is a RawRecord with a parsed USD value and its converted fields.
type DerivedRecord struct {
	Name         string
	MarketCapUSD float64
	Converted    []Conversion
}

// Value returns the converted value for currency.
func (r *DerivedRecord) Value(currency string) (float64, bool) {
	for _, c := range r.Converted {
		if strings.EqualFold(c.Currency, currency) {
			return c.Value, true
		}
	}
	return 0, false
}

// RecordSet is the ordered unit of persistence. Records keep source row order.
type RecordSet struct {
	Currencies []string
	Records    []*DerivedRecord
}

// Len reports the number of records.
func (s *RecordSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Header returns the column names in export order.
func (s *RecordSet) Header() []string {
	header := make([]string, 0, 2+len(s.Currencies))
	header = append(header, "name", "market_cap_usd")
	for _, currency := range s.Currencies {
		header = append(header, ColumnName(currency))
	}
	return header
}

// Row returns record i as native values aligned with Header.
func (s *RecordSet) Row(i int) []any {
	rec := s.Records[i]
	row := make([]any, 0, 2+len(s.Currencies))
	row = append(row, rec.Name, rec.MarketCapUSD)
	for _, currency := range s.Currencies {
		v, _ := rec.Value(currency)
		row = append(row, v)
	}
	return row
}

// StringRow returns record i formatted for a text export. Floats use the
// shortest representation that parses back to the same value.
func (s *RecordSet) StringRow(i int) []string {
	row := s.Row(i)
	out := make([]string, len(row))
	for j, v := range row {
		switch val := v.(type) {
		case string:
			out[j] = val
		case float64:
			out[j] = strconv.FormatFloat(val, 'f', -1, 64)
		}
	}
	return out
}

// ColumnName maps a currency code to its derived column name.
func ColumnName(currency string) string {
	return "market_cap_" + strings.ToLower(currency)
}

// ProgressEvent is one line of the progress log.
type ProgressEvent struct {
	Timestamp string
	Message   string
}

// QueryResult is a tabular query answer: ordered rows of named columns.
type QueryResult struct {
	Columns []string
	Rows    [][]any
}

// QueryOutput pairs a fixed query with its result.
type QueryOutput struct {
	SQL    string
	Result *QueryResult
}

// RunResult holds the overall result of one ETL run.
type RunResult struct {
	RunID       string
	StartTime   time.Time
	EndTime     time.Time
	RecordCount int
	Queries     []QueryOutput
}
