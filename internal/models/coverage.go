package models

import "time"

// CoverageReport summarises what data is stored for one instrument and
// interval. First and Last are nil when the table holds no rows for the
// identity. MissingDates is only populated for the daily interval,
// where a calendar-day gap is well defined; it deliberately includes
// weekends and holidays because some commodity contracts trade on days
// equity markets do not.
type CoverageReport struct {
	Exchange     string     `json:"exchange"`
	SymbolToken  string     `json:"symbol_token"`
	Interval     Interval   `json:"interval"`
	First        *time.Time `json:"first,omitempty"`
	Last         *time.Time `json:"last,omitempty"`
	TotalRecords uint64     `json:"total_records"`
	MissingDates []string   `json:"missing_dates,omitempty"`
}

// HasData reports whether any rows exist for the identity.
func (r *CoverageReport) HasData() bool {
	return r.TotalRecords > 0
}
