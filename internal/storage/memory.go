package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/commoditydata/go-commodity-collector/internal/models"
)

// MemoryStorage is an in-process Store used in tests and dry runs. It
// mirrors the ClickHouse semantics that matter to callers: inserts
// append without deduplication, and reads against an uninitialized
// store behave like queries against an absent table.
type MemoryStorage struct {
	mu          sync.RWMutex
	initialized bool
	closed      bool
	candles     []models.Candle
}

var _ Store = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty, uninitialized store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Initialize marks the store ready, the analogue of creating tables.
func (s *MemoryStorage) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewSchemaError(marketDataTable, errors.New("storage is closed"))
	}
	s.initialized = true
	return nil
}

// Insert appends candles. Duplicate rows are stored again, matching
// the ClickHouse insert path.
func (s *MemoryStorage) Insert(_ context.Context, candles []models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewInsertError(marketDataTable, errors.New("storage is closed"))
	}
	if !s.initialized {
		return NewInsertError(marketDataTable, errors.New("storage not initialized"))
	}
	s.candles = append(s.candles, candles...)
	return nil
}

func (s *MemoryStorage) matches(c models.Candle, id Identity) bool {
	return c.Exchange == id.Exchange &&
		c.SymbolToken == id.SymbolToken &&
		c.Interval == id.Interval
}

// Exists reports whether any rows exist for the identity between start
// and end inclusive. An uninitialized store reports false.
func (s *MemoryStorage) Exists(_ context.Context, id Identity, start, end time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return false, nil
	}
	for _, c := range s.candles {
		if s.matches(c, id) && !c.Timestamp.Before(start) && !c.Timestamp.After(end) {
			return true, nil
		}
	}
	return false, nil
}

// Query returns matching candles ordered by timestamp.
func (s *MemoryStorage) Query(_ context.Context, id Identity, start, end time.Time) ([]models.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, nil
	}
	var out []models.Candle
	for _, c := range s.candles {
		if s.matches(c, id) && !c.Timestamp.Before(start) && !c.Timestamp.After(end) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// SpanStats returns aggregates for the identity.
func (s *MemoryStorage) SpanStats(_ context.Context, id Identity) (SpanStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return SpanStats{}, nil
	}
	var stats SpanStats
	for _, c := range s.candles {
		if !s.matches(c, id) {
			continue
		}
		stats.Total++
		ts := c.Timestamp
		if stats.First == nil || ts.Before(*stats.First) {
			t := ts
			stats.First = &t
		}
		if stats.Last == nil || ts.After(*stats.Last) {
			t := ts
			stats.Last = &t
		}
	}
	return stats, nil
}

// DistinctDates returns the distinct calendar dates with rows for the
// identity, ascending.
func (s *MemoryStorage) DistinctDates(_ context.Context, id Identity) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, nil
	}
	seen := make(map[string]struct{})
	for _, c := range s.candles {
		if s.matches(c, id) {
			seen[c.Timestamp.Format("2006-01-02")] = struct{}{}
		}
	}
	dates := make([]string, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates, nil
}

// Len reports the total number of stored rows.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

// Close marks the store closed; further writes fail.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
