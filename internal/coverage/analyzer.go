// Package coverage reports what data is stored for an instrument and
// finds calendar-day gaps in daily series.
package coverage

import (
	"context"
	"log/slog"
	"time"

	"github.com/commoditydata/go-commodity-collector/internal/models"
	"github.com/commoditydata/go-commodity-collector/internal/storage"
)

// Analyzer computes coverage reports from storage aggregates.
type Analyzer struct {
	source storage.CoverageSource
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer over source.
func NewAnalyzer(source storage.CoverageSource, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{source: source, logger: logger}
}

// Coverage reports stored span, row count and, for daily series, the
// missing calendar dates between the first and last stored date.
// Weekends and holidays are reported as missing too; the analyzer has
// no trading calendar and commodity sessions on MCX do not follow the
// equity one. Sub-daily intervals report span and count only, since a
// "missing day" is ill defined when a day legitimately holds hundreds
// of bars.
func (a *Analyzer) Coverage(ctx context.Context, id storage.Identity) (*models.CoverageReport, error) {
	report := &models.CoverageReport{
		Exchange:    id.Exchange,
		SymbolToken: id.SymbolToken,
		Interval:    id.Interval,
	}

	stats, err := a.source.SpanStats(ctx, id)
	if err != nil {
		return nil, err
	}
	if stats.Total == 0 {
		return report, nil
	}

	report.First = stats.First
	report.Last = stats.Last
	report.TotalRecords = stats.Total

	if !id.Interval.IsDaily() {
		return report, nil
	}

	present, err := a.source.DistinctDates(ctx, id)
	if err != nil {
		return nil, err
	}
	report.MissingDates = missingDates(present)

	if n := len(report.MissingDates); n > 0 {
		a.logger.Warn("daily series has gaps",
			"symbol_token", id.SymbolToken,
			"missing_dates", n)
	}
	return report, nil
}

// missingDates walks every calendar day between the first and last
// present date and collects the absent ones. present must be sorted
// ascending in YYYY-MM-DD form.
func missingDates(present []string) []string {
	if len(present) < 2 {
		return nil
	}

	first, err := time.Parse("2006-01-02", present[0])
	if err != nil {
		return nil
	}
	last, err := time.Parse("2006-01-02", present[len(present)-1])
	if err != nil {
		return nil
	}

	have := make(map[string]struct{}, len(present))
	for _, d := range present {
		have[d] = struct{}{}
	}

	var missing []string
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		if _, ok := have[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}
