package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/commoditydata/go-commodity-collector/internal/models"
)

const (
	marketDataTable   = "commodity_market_data"
	dailySummaryTable = "commodity_daily_summary"
)

// ClickHouseConfig holds connection settings for the ClickHouse
// backend.
type ClickHouseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// BatchSize caps the rows sent per insert batch; larger slices are
	// split. Zero means DefaultBatchSize.
	BatchSize int
}

// DefaultBatchSize is the insert batch cap when none is configured.
const DefaultBatchSize = 10000

// Addr returns the native protocol address.
func (c ClickHouseConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ClickHouseStorage persists candles in ClickHouse MergeTree tables.
// The connection authenticates against the default database so that
// Initialize can create the target database itself; every statement
// qualifies table names with the configured database.
type ClickHouseStorage struct {
	conn   driver.Conn
	cfg    ClickHouseConfig
	logger *slog.Logger
}

var _ Store = (*ClickHouseStorage)(nil)

// NewClickHouseStorage opens a native protocol connection and verifies
// it with a ping.
func NewClickHouseStorage(ctx context.Context, cfg ClickHouseConfig, logger *slog.Logger) (*ClickHouseStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr()},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, NewSchemaError("", fmt.Errorf("open connection: %w", err))
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, NewSchemaError("", fmt.Errorf("ping %s: %w", cfg.Addr(), err))
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &ClickHouseStorage{conn: conn, cfg: cfg, logger: logger}, nil
}

func (s *ClickHouseStorage) table(name string) string {
	return s.cfg.Database + "." + name
}

// Initialize creates the database and both tables if absent. It is
// safe to call on every startup.
func (s *ClickHouseStorage) Initialize(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.cfg.Database)); err != nil {
		return NewSchemaError(s.cfg.Database, err)
	}

	marketDataDDL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp    DateTime,
			exchange     String,
			symbol_token String,
			interval     String,
			open         Float64,
			high         Float64,
			low          Float64,
			close        Float64,
			volume       Int64,
			created_at   DateTime DEFAULT now()
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, exchange, symbol_token, interval)`, s.table(marketDataTable))
	if err := s.conn.Exec(ctx, marketDataDDL); err != nil {
		return NewSchemaError(marketDataTable, err)
	}

	dailySummaryDDL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			trade_date   Date,
			exchange     String,
			symbol_token String,
			open         Float64,
			high         Float64,
			low          Float64,
			close        Float64,
			volume       Int64,
			created_at   DateTime DEFAULT now()
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(trade_date)
		ORDER BY (trade_date, exchange, symbol_token)`, s.table(dailySummaryTable))
	if err := s.conn.Exec(ctx, dailySummaryDDL); err != nil {
		return NewSchemaError(dailySummaryTable, err)
	}

	s.logger.Info("storage initialized",
		"database", s.cfg.Database,
		"tables", []string{marketDataTable, dailySummaryTable})
	return nil
}

// Insert appends candles to the market data table. Daily candles are
// also projected into the daily summary table. The two inserts are
// separate batches, not a transaction; ClickHouse offers no cross
// table atomicity and a partial failure surfaces as an error for the
// caller to log.
func (s *ClickHouseStorage) Insert(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	for start := 0; start < len(candles); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(candles) {
			end = len(candles)
		}
		if err := s.insertMarketData(ctx, candles[start:end]); err != nil {
			return err
		}
	}

	var daily []models.Candle
	for _, c := range candles {
		if c.Interval.IsDaily() {
			daily = append(daily, c)
		}
	}
	if len(daily) == 0 {
		return nil
	}

	summary, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (trade_date, exchange, symbol_token, open, high, low, close, volume)",
		s.table(dailySummaryTable)))
	if err != nil {
		return NewInsertError(dailySummaryTable, err)
	}
	for _, c := range daily {
		if err := summary.Append(
			c.Timestamp,
			c.Exchange,
			c.SymbolToken,
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
		); err != nil {
			return NewInsertError(dailySummaryTable, err)
		}
	}
	if err := summary.Send(); err != nil {
		return NewInsertError(dailySummaryTable, err)
	}
	return nil
}

func (s *ClickHouseStorage) insertMarketData(ctx context.Context, candles []models.Candle) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (timestamp, exchange, symbol_token, interval, open, high, low, close, volume)",
		s.table(marketDataTable)))
	if err != nil {
		return NewInsertError(marketDataTable, err)
	}
	for _, c := range candles {
		if err := batch.Append(
			c.Timestamp,
			c.Exchange,
			c.SymbolToken,
			string(c.Interval),
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
		); err != nil {
			return NewInsertError(marketDataTable, err)
		}
	}
	if err := batch.Send(); err != nil {
		return NewInsertError(marketDataTable, err)
	}
	return nil
}

// tableExists consults system.tables so queries against a database
// that setup-db has not created yet degrade to "no data" instead of
// erroring.
func (s *ClickHouseStorage) tableExists(ctx context.Context, name string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		"SELECT count() FROM system.tables WHERE database = ? AND name = ?",
		s.cfg.Database, name).Scan(&count)
	if err != nil {
		return false, NewQueryError("system.tables", err)
	}
	return count > 0, nil
}

// Exists reports whether any rows exist for the identity between start
// and end inclusive. An absent table reports false.
func (s *ClickHouseStorage) Exists(ctx context.Context, id Identity, start, end time.Time) (bool, error) {
	ok, err := s.tableExists(ctx, marketDataTable)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	var count uint64
	err = s.conn.QueryRow(ctx, fmt.Sprintf(`
		SELECT count() FROM %s
		WHERE exchange = ? AND symbol_token = ? AND interval = ?
		  AND timestamp >= ? AND timestamp <= ?`, s.table(marketDataTable)),
		id.Exchange, id.SymbolToken, string(id.Interval), start, end).Scan(&count)
	if err != nil {
		return false, NewQueryError(marketDataTable, err)
	}
	return count > 0, nil
}

// Query returns the stored candles for the identity between start and
// end inclusive, ordered by timestamp.
func (s *ClickHouseStorage) Query(ctx context.Context, id Identity, start, end time.Time) ([]models.Candle, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT timestamp, open, high, low, close, volume FROM %s
		WHERE exchange = ? AND symbol_token = ? AND interval = ?
		  AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp`, s.table(marketDataTable)),
		id.Exchange, id.SymbolToken, string(id.Interval), start, end)
	if err != nil {
		return nil, NewQueryError(marketDataTable, err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		c := models.Candle{
			Exchange:    id.Exchange,
			SymbolToken: id.SymbolToken,
			Interval:    id.Interval,
		}
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, NewQueryError(marketDataTable, err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(marketDataTable, err)
	}
	return candles, nil
}

// SpanStats returns first/last timestamps and total rows for the
// identity. An absent table or empty series yields zero stats.
func (s *ClickHouseStorage) SpanStats(ctx context.Context, id Identity) (SpanStats, error) {
	ok, err := s.tableExists(ctx, marketDataTable)
	if err != nil {
		return SpanStats{}, err
	}
	if !ok {
		return SpanStats{}, nil
	}

	var (
		first, last time.Time
		total       uint64
	)
	err = s.conn.QueryRow(ctx, fmt.Sprintf(`
		SELECT min(timestamp), max(timestamp), count() FROM %s
		WHERE exchange = ? AND symbol_token = ? AND interval = ?`, s.table(marketDataTable)),
		id.Exchange, id.SymbolToken, string(id.Interval)).Scan(&first, &last, &total)
	if err != nil {
		return SpanStats{}, NewQueryError(marketDataTable, err)
	}
	if total == 0 {
		return SpanStats{}, nil
	}
	return SpanStats{First: &first, Last: &last, Total: total}, nil
}

// DistinctDates returns the distinct calendar dates holding rows for
// the identity, ascending.
func (s *ClickHouseStorage) DistinctDates(ctx context.Context, id Identity) ([]string, error) {
	ok, err := s.tableExists(ctx, marketDataTable)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT DISTINCT toDate(timestamp) AS d FROM %s
		WHERE exchange = ? AND symbol_token = ? AND interval = ?
		ORDER BY d`, s.table(marketDataTable)),
		id.Exchange, id.SymbolToken, string(id.Interval))
	if err != nil {
		return nil, NewQueryError(marketDataTable, err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, NewQueryError(marketDataTable, err)
		}
		dates = append(dates, d.Format("2006-01-02"))
	}
	if err := rows.Err(); err != nil {
		return nil, NewQueryError(marketDataTable, err)
	}
	return dates, nil
}

// Close releases the connection.
func (s *ClickHouseStorage) Close() error {
	return s.conn.Close()
}
