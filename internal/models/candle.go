package models

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents a single OHLCV bar for one instrument at one
// interval. Prices are stored as float64 to match the storage schema;
// use the decimal accessors when arithmetic precision matters.
type Candle struct {
	Timestamp   time.Time `json:"timestamp"`
	Exchange    string    `json:"exchange"`
	SymbolToken string    `json:"symbol_token"`
	Interval    Interval  `json:"interval"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      int64     `json:"volume"`
}

// ValidationError describes a single invalid field on a model.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

// Validate checks structural integrity of the candle. It does not
// enforce OHLC price relationships; upstream feeds occasionally emit
// bars where high < open on illiquid contracts and those are stored
// as received.
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return ValidationError{Field: "timestamp", Message: "timestamp cannot be zero"}
	}
	if c.Exchange == "" {
		return ValidationError{Field: "exchange", Message: "exchange cannot be empty"}
	}
	if c.SymbolToken == "" {
		return ValidationError{Field: "symbol_token", Message: "symbol token cannot be empty"}
	}
	if !c.Interval.Valid() {
		return ValidationError{Field: "interval", Message: fmt.Sprintf("unknown interval %q", string(c.Interval))}
	}
	if c.Volume < 0 {
		return ValidationError{Field: "volume", Message: "volume cannot be negative"}
	}
	for _, p := range []struct {
		name  string
		value float64
	}{
		{"open", c.Open},
		{"high", c.High},
		{"low", c.Low},
		{"close", c.Close},
	} {
		if math.IsNaN(p.value) || math.IsInf(p.value, 0) {
			return ValidationError{Field: p.name, Message: "price must be finite"}
		}
		if p.value < 0 {
			return ValidationError{Field: p.name, Message: "price cannot be negative"}
		}
	}
	return nil
}

// OpenDecimal returns the open price as a decimal.
func (c *Candle) OpenDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Open)
}

// HighDecimal returns the high price as a decimal.
func (c *Candle) HighDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.High)
}

// LowDecimal returns the low price as a decimal.
func (c *Candle) LowDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Low)
}

// CloseDecimal returns the close price as a decimal.
func (c *Candle) CloseDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Close)
}

// Batch holds the candles produced by one chunk of a ranged fetch,
// tagged with the identity they were fetched under. Batches are always
// non-empty; chunks without data never become a Batch.
type Batch struct {
	Exchange    string
	SymbolToken string
	Interval    Interval
	ChunkStart  time.Time
	ChunkEnd    time.Time
	Candles     []Candle
}
