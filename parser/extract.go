package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-etl-banks/config"
	"github.com/aluiziolira/go-etl-banks/models"
)

// ErrTableNotFound is wrapped by ExtractionError when the document has no table body.
var ErrTableNotFound = errors.New("table body not found")

// ExtractionError reports that the expected table structure is missing from the document.
type ExtractionError struct {
	Err error
}

func (e ExtractionError) Error() string {
	return fmt.Errorf("extract: %w", e.Err).Error()
}

func (e ExtractionError) Unwrap() error {
	return e.Err
}

// StopFunc decides whether a row with cellCount data cells ends the table.
type StopFunc func(cellCount int) bool

// ExtractOptions controls positional extraction.
type ExtractOptions struct {
	Columns config.ColumnIndex
	// Stop ends iteration at the first row it matches. That row and every
	// row after it are ignored. Defaults to StopAtShortRow(Columns).
	Stop StopFunc
}

// StopAtShortRow stops at the first structurally empty row, including rows
// too short to hold every mapped column.
func StopAtShortRow(columns config.ColumnIndex) StopFunc {
	need := max(columns.Name, columns.MarketCapUSD) + 1
	return func(cellCount int) bool {
		return cellCount == 0 || cellCount < need
	}
}

// Extract reads the first table body of document and returns one RawRecord
// per data row, in document order. The first row is the header and is skipped.
func Extract(document []byte, opts ExtractOptions) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(document))
	if err != nil {
		return nil, ExtractionError{Err: fmt.Errorf("parse document: %w", err)}
	}

	tbody := doc.Find("tbody").First()
	if tbody.Length() == 0 {
		return nil, ExtractionError{Err: ErrTableNotFound}
	}

	stop := opts.Stop
	if stop == nil {
		stop = StopAtShortRow(opts.Columns)
	}

	rows := tbody.Find("tr")
	records := make([]models.RawRecord, 0, rows.Length())
	rows.EachWithBreak(func(i int, row *goquery.Selection) bool {
		if i == 0 {
			return true
		}
		cells := row.Find("td")
		if stop(cells.Length()) {
			return false
		}
		records = append(records, models.RawRecord{
			Name:         cellText(cells, opts.Columns.Name),
			MarketCapUSD: cellText(cells, opts.Columns.MarketCapUSD),
		})
		return true
	})

	return records, nil
}

func cellText(cells *goquery.Selection, index int) string {
	return strings.TrimSpace(cells.Eq(index).Text())
}
