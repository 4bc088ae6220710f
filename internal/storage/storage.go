// Package storage defines the persistence interfaces for candle data
// and their ClickHouse and in-memory implementations.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/commoditydata/go-commodity-collector/internal/models"
)

// Identity names one stored series: an instrument on an exchange at a
// specific interval.
type Identity struct {
	Exchange    string
	SymbolToken string
	Interval    models.Interval
}

// SpanStats summarises the stored rows for one identity.
type SpanStats struct {
	First *time.Time
	Last  *time.Time
	Total uint64
}

// BatchInserter persists candle batches. Insert appends rows as given;
// it performs no deduplication, which is why callers check Exists
// before fetching a range they may already hold.
type BatchInserter interface {
	Insert(ctx context.Context, candles []models.Candle) error
}

// ExistenceChecker answers whether any rows exist for an identity
// within a time span. Implementations report false, not an error, when
// the backing table has not been created yet.
type ExistenceChecker interface {
	Exists(ctx context.Context, id Identity, start, end time.Time) (bool, error)
}

// CandleReader retrieves stored candles for an identity, ordered by
// timestamp ascending.
type CandleReader interface {
	Query(ctx context.Context, id Identity, start, end time.Time) ([]models.Candle, error)
}

// CoverageSource exposes the aggregates the coverage analyzer needs.
type CoverageSource interface {
	// SpanStats returns first/last timestamps and total row count for
	// an identity. A missing table or empty series yields zero stats.
	SpanStats(ctx context.Context, id Identity) (SpanStats, error)

	// DistinctDates returns the distinct calendar dates (YYYY-MM-DD)
	// holding at least one row for the identity, sorted ascending.
	DistinctDates(ctx context.Context, id Identity) ([]string, error)
}

// Manager handles lifecycle concerns of a storage backend.
type Manager interface {
	// Initialize creates the database and tables if they do not exist.
	Initialize(ctx context.Context) error
	Close() error
}

// Store is the full storage contract the collector runs against.
type Store interface {
	BatchInserter
	ExistenceChecker
	CandleReader
	CoverageSource
	Manager
}

// StorageError wraps backend failures with the operation and table
// they occurred in.
type StorageError struct {
	Operation string
	Table     string
	Err       error
}

func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage %s on %s: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Operation, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewInsertError wraps a failed insert.
func NewInsertError(table string, err error) *StorageError {
	return &StorageError{Operation: "insert", Table: table, Err: err}
}

// NewQueryError wraps a failed read.
func NewQueryError(table string, err error) *StorageError {
	return &StorageError{Operation: "query", Table: table, Err: err}
}

// NewSchemaError wraps a failed schema operation.
func NewSchemaError(table string, err error) *StorageError {
	return &StorageError{Operation: "schema", Table: table, Err: err}
}
