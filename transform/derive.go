// Package transform derives the multi-currency record set from scraped rows.
package transform

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aluiziolira/go-etl-banks/models"
	"github.com/aluiziolira/go-etl-banks/parser"
)

// ParseError reports a field that is not a finite, non-negative number.
type ParseError struct {
	Row   int
	Field string
	Value string
	Err   error
}

func (e ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse row %d field %s value %q: %v", e.Row, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("parse row %d field %s value %q", e.Row, e.Field, e.Value)
}

func (e ParseError) Unwrap() error {
	return e.Err
}

// exactExponent is low enough for NewFromFloatWithExponent to expand any
// float64 without rounding.
const exactExponent = -1100

// Derive parses each record's USD market cap and attaches one converted field
// per factor: the float64 product usd*rate rounded to two decimal places.
// Output order matches input order. The whole call fails on the first
// unparsable row.
func Derive(raw []models.RawRecord, factors []models.Factor) (*models.RecordSet, error) {
	currencies := make([]string, len(factors))
	for i, f := range factors {
		currencies[i] = strings.ToUpper(f.Currency)
	}

	set := &models.RecordSet{
		Currencies: currencies,
		Records:    make([]*models.DerivedRecord, 0, len(raw)),
	}
	for i, rec := range raw {
		usd, err := ParseAmount(rec.MarketCapUSD)
		if err != nil {
			return nil, ParseError{Row: i, Field: "market_cap_usd", Value: rec.MarketCapUSD, Err: err}
		}

		v := usd.InexactFloat64()
		derived := &models.DerivedRecord{
			Name:         rec.Name,
			MarketCapUSD: v,
			Converted:    make([]models.Conversion, len(factors)),
		}
		for j, f := range factors {
			product := v * f.Rate
			if math.IsInf(product, 0) || math.IsNaN(product) {
				field := "market_cap_" + strings.ToLower(currencies[j])
				return nil, ParseError{Row: i, Field: field, Value: rec.MarketCapUSD, Err: fmt.Errorf("converted value out of range")}
			}
			derived.Converted[j] = models.Conversion{
				Currency: currencies[j],
				Value:    Round2(product),
			}
		}
		set.Records = append(set.Records, derived)
	}
	return set, nil
}

// Round2 rounds v to two decimal places, comparing against the exact binary
// value of v and breaking exact ties to even.
func Round2(v float64) float64 {
	return decimal.NewFromFloatWithExponent(v, exactExponent).RoundBank(2).InexactFloat64()
}

// ParseAmount strips digit grouping and parses a non-negative decimal.
func ParseAmount(text string) (decimal.Decimal, error) {
	cleaned := parser.NormalizeAmount(text)
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty value")
	}
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, err
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative value")
	}
	if math.IsInf(value.InexactFloat64(), 0) {
		return decimal.Zero, fmt.Errorf("value out of range")
	}
	return value, nil
}
