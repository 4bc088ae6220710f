package coverage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commoditydata/go-commodity-collector/internal/models"
	"github.com/commoditydata/go-commodity-collector/internal/storage"
)

var goldDaily = storage.Identity{
	Exchange:    "MCX",
	SymbolToken: "440939",
	Interval:    models.IntervalOneDay,
}

func storeWithDays(t *testing.T, id storage.Identity, days ...int) *storage.MemoryStorage {
	t.Helper()
	s := storage.NewMemoryStorage()
	require.NoError(t, s.Initialize(context.Background()))
	for _, day := range days {
		require.NoError(t, s.Insert(context.Background(), []models.Candle{{
			Timestamp:   time.Date(2024, 1, day, 9, 15, 0, 0, time.UTC),
			Exchange:    id.Exchange,
			SymbolToken: id.SymbolToken,
			Interval:    id.Interval,
			Open:        100, High: 110, Low: 95, Close: 105,
			Volume: 1000,
		}}))
	}
	return s
}

func TestCoverageEmptySeries(t *testing.T) {
	s := storage.NewMemoryStorage()
	a := NewAnalyzer(s, nil)

	report, err := a.Coverage(context.Background(), goldDaily)
	require.NoError(t, err)

	assert.False(t, report.HasData())
	assert.Nil(t, report.First)
	assert.Nil(t, report.Last)
	assert.Zero(t, report.TotalRecords)
	assert.Empty(t, report.MissingDates)
	assert.Equal(t, "440939", report.SymbolToken)
}

func TestCoverageFindsMissingDates(t *testing.T) {
	s := storeWithDays(t, goldDaily, 1, 2, 5)
	a := NewAnalyzer(s, nil)

	report, err := a.Coverage(context.Background(), goldDaily)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), report.TotalRecords)
	require.NotNil(t, report.First)
	require.NotNil(t, report.Last)
	assert.Equal(t, 1, report.First.Day())
	assert.Equal(t, 5, report.Last.Day())
	assert.Equal(t, []string{"2024-01-03", "2024-01-04"}, report.MissingDates)
}

func TestCoverageIncludesWeekends(t *testing.T) {
	// 2024-01-05 is a Friday, 2024-01-08 a Monday; the weekend between
	// them is still reported.
	s := storeWithDays(t, goldDaily, 5, 8)
	a := NewAnalyzer(s, nil)

	report, err := a.Coverage(context.Background(), goldDaily)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-06", "2024-01-07"}, report.MissingDates)
}

func TestCoverageContiguousSeriesHasNoGaps(t *testing.T) {
	s := storeWithDays(t, goldDaily, 1, 2, 3, 4)
	a := NewAnalyzer(s, nil)

	report, err := a.Coverage(context.Background(), goldDaily)
	require.NoError(t, err)
	assert.Empty(t, report.MissingDates)
}

func TestCoverageSingleDayHasNoGaps(t *testing.T) {
	s := storeWithDays(t, goldDaily, 15)
	a := NewAnalyzer(s, nil)

	report, err := a.Coverage(context.Background(), goldDaily)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), report.TotalRecords)
	assert.Empty(t, report.MissingDates)
}

func TestCoverageSubDailySkipsGapAnalysis(t *testing.T) {
	hourly := storage.Identity{
		Exchange:    "MCX",
		SymbolToken: "440939",
		Interval:    models.IntervalOneHour,
	}
	s := storeWithDays(t, hourly, 1, 5)
	a := NewAnalyzer(s, nil)

	report, err := a.Coverage(context.Background(), hourly)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), report.TotalRecords)
	assert.Empty(t, report.MissingDates, "gap detection only applies to daily series")
}
