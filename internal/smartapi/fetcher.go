package smartapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	apperrors "github.com/commoditydata/go-commodity-collector/internal/errors"
	"github.com/commoditydata/go-commodity-collector/internal/models"
	"github.com/commoditydata/go-commodity-collector/internal/ratelimit"
)

const (
	// DefaultMaxAttempts is how many times a single chunk fetch is
	// tried before the chunk is abandoned.
	DefaultMaxAttempts = 5

	// DefaultRetryDelay is the pause between attempts on the same
	// chunk.
	DefaultRetryDelay = 60 * time.Second

	// DefaultMaxDaysPerRequest caps the span of a single candle
	// request. The upstream endpoint silently truncates larger spans.
	DefaultMaxDaysPerRequest = 100

	// DefaultChunkPause is the courtesy pause between consecutive
	// chunk requests within one ranged fetch.
	DefaultChunkPause = time.Second

	// MaxRangeYears bounds a ranged fetch. Contracts do not carry a
	// decade of history and a typo'd year would otherwise spin for
	// hours.
	MaxRangeYears = 10
)

// FetchRequest describes one candle retrieval.
type FetchRequest struct {
	Exchange    string
	SymbolToken string
	Interval    models.Interval
	From        time.Time
	To          time.Time
}

// Validate checks the request identity fields and that the range is
// well formed: start strictly before end, end not in the future, and
// the span within MaxRangeYears.
func (r FetchRequest) Validate() error {
	op := "smartapi.FetchRequest.Validate"
	if r.Exchange == "" {
		return apperrors.New(apperrors.TypeValidation, op, "exchange is required")
	}
	if r.SymbolToken == "" {
		return apperrors.New(apperrors.TypeValidation, op, "symbol token is required")
	}
	if !r.Interval.Valid() {
		return apperrors.New(apperrors.TypeValidation, op, fmt.Sprintf("unknown interval %q", string(r.Interval)))
	}
	if !r.From.Before(r.To) {
		return apperrors.New(apperrors.TypeValidation, op, "start date must be before end date")
	}
	if r.To.After(time.Now()) {
		return apperrors.New(apperrors.TypeValidation, op, "end date cannot be in the future")
	}
	if r.To.Sub(r.From) > time.Duration(MaxRangeYears)*365*24*time.Hour {
		return apperrors.New(apperrors.TypeValidation, op,
			fmt.Sprintf("date range exceeds %d years", MaxRangeYears))
	}
	return nil
}

// HistoricalFetcher retrieves candles with retry, session refresh and
// request pacing. All requests pass through the shared fixed-window
// limiter before hitting the wire.
type HistoricalFetcher struct {
	client  *Client
	tokens  TokenSource
	limiter *ratelimit.FixedWindowLimiter
	logger  *slog.Logger

	maxAttempts int
	retryDelay  time.Duration
	maxDays     int
	chunkPacer  *rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error
}

// FetcherOption customises a HistoricalFetcher.
type FetcherOption func(*HistoricalFetcher)

// WithMaxAttempts sets the per-chunk attempt budget.
func WithMaxAttempts(n int) FetcherOption {
	return func(f *HistoricalFetcher) {
		if n > 0 {
			f.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the pause between attempts on the same chunk.
func WithRetryDelay(d time.Duration) FetcherOption {
	return func(f *HistoricalFetcher) { f.retryDelay = d }
}

// WithMaxDaysPerRequest sets the largest span one request may cover.
func WithMaxDaysPerRequest(n int) FetcherOption {
	return func(f *HistoricalFetcher) {
		if n > 0 {
			f.maxDays = n
		}
	}
}

// WithChunkPause sets the courtesy pause between chunk requests.
func WithChunkPause(d time.Duration) FetcherOption {
	return func(f *HistoricalFetcher) {
		f.chunkPacer = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewHistoricalFetcher creates a fetcher over client. tokens supplies
// and refreshes the session; limiter paces every outgoing request.
func NewHistoricalFetcher(client *Client, tokens TokenSource, limiter *ratelimit.FixedWindowLimiter, logger *slog.Logger, opts ...FetcherOption) *HistoricalFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &HistoricalFetcher{
		client:      client,
		tokens:      tokens,
		limiter:     limiter,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		maxDays:     DefaultMaxDaysPerRequest,
		chunkPacer:  rate.NewLimiter(rate.Every(DefaultChunkPause), 1),
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchOnce retrieves the candles for a single request span, retrying
// up to the attempt budget. A token-expiry response triggers one
// re-authentication per attempt without consuming the attempt or
// sleeping, since the failure says nothing about upstream health. When
// the re-login itself fails, the attempt ends and the normal
// delay-and-retry path continues. A successful response with no rows
// returns (nil, nil).
func (f *HistoricalFetcher) FetchOnce(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
	op := "smartapi.FetchOnce"

	payload := map[string]string{
		"exchange":    req.Exchange,
		"symboltoken": req.SymbolToken,
		"interval":    string(req.Interval),
		"fromdate":    req.From.Format(timeLayout),
		"todate":      req.To.Format(timeLayout),
	}

	delay := backoff.NewConstantBackOff(f.retryDelay)
	var lastErr error

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		// The inner loop exists only for the token-expiry path: a
		// re-authenticated request is retried immediately without
		// consuming the attempt or sleeping.
		reauthed := false
		for {
			if err := f.limiter.Admit(ctx); err != nil {
				return nil, err
			}

			env, err := f.client.post(ctx, candleDataPath, f.tokens.AuthToken(), payload)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				lastErr = err
				break
			}

			if isTokenExpired(env) {
				if reauthed {
					lastErr = apperrors.New(apperrors.TypeAuthentication, op, "token expired again after re-authentication")
					break
				}
				f.logger.Warn("session token expired, re-authenticating",
					"symbol_token", req.SymbolToken, "attempt", attempt)
				if err := f.tokens.Authenticate(ctx); err != nil {
					if ctx.Err() != nil {
						return nil, err
					}
					// A failed re-login ends this attempt but not the
					// span; the normal delay-and-retry path continues.
					lastErr = err
					break
				}
				reauthed = true
				continue
			}

			if !env.Status {
				lastErr = apperrors.New(apperrors.TypeTransient, op,
					fmt.Sprintf("candle request rejected: %s (code %s)", env.Message, env.ErrorCode))
				break
			}

			return parseCandles(env.Data, req)
		}

		f.logger.Warn("candle fetch attempt failed",
			"symbol_token", req.SymbolToken,
			"attempt", attempt,
			"max_attempts", f.maxAttempts,
			"error", lastErr)

		if attempt < f.maxAttempts {
			if err := f.sleep(ctx, delay.NextBackOff()); err != nil {
				return nil, err
			}
		}
	}

	return nil, apperrors.Wrap(apperrors.TypeTransient, op,
		fmt.Sprintf("all %d attempts failed", f.maxAttempts), lastErr)
}

// FetchRange splits the half-open range [req.From, req.To) into chunks
// of at most the configured day span and returns an iterator producing
// one batch per chunk as it is fetched. Validation happens before any
// network activity. Chunks that return no rows, including chunks whose
// attempt budget is exhausted, are skipped silently and the iteration
// continues; only context cancellation stops the range early.
func (f *HistoricalFetcher) FetchRange(ctx context.Context, req FetchRequest) (*BatchIterator, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &BatchIterator{
		fetcher: f,
		req:     req,
		next:    req.From,
		ctx:     ctx,
	}, nil
}

// BatchIterator yields candle batches chunk by chunk. Usage:
//
//	it, err := fetcher.FetchRange(ctx, req)
//	for it.Next() {
//	    store(it.Batch())
//	}
//	if err := it.Err(); err != nil { ... }
type BatchIterator struct {
	fetcher *HistoricalFetcher
	req     FetchRequest
	ctx     context.Context

	next    time.Time
	started bool
	batch   *models.Batch
	err     error
	chunks  int
	failed  int
}

// Next fetches chunks until one yields candles. It returns false when
// the range is exhausted or the context is cancelled. Empty and
// abandoned chunks produce no batch.
func (it *BatchIterator) Next() bool {
	for {
		if it.err != nil || !it.next.Before(it.req.To) {
			return false
		}
		if it.ctx.Err() != nil {
			it.err = it.ctx.Err()
			return false
		}

		if it.started {
			if err := it.fetcher.chunkPacer.Wait(it.ctx); err != nil {
				it.err = err
				return false
			}
		}
		it.started = true

		chunkStart := it.next
		chunkEnd := chunkStart.AddDate(0, 0, it.fetcher.maxDays)
		if chunkEnd.After(it.req.To) {
			chunkEnd = it.req.To
		}

		chunkReq := it.req
		chunkReq.From = chunkStart
		chunkReq.To = chunkEnd

		candles, err := it.fetcher.FetchOnce(it.ctx, chunkReq)
		it.chunks++
		switch {
		case err != nil && it.ctx.Err() != nil:
			it.err = err
			return false
		case err != nil:
			// Exhausted chunk: record nothing for this span and move
			// on so one bad stretch does not sink the whole range.
			it.failed++
			it.fetcher.logger.Error("chunk abandoned after exhausting retries",
				"symbol_token", it.req.SymbolToken,
				"chunk_start", chunkStart.Format(timeLayout),
				"chunk_end", chunkEnd.Format(timeLayout),
				"error", err)
			candles = nil
		}

		// Advance one minute past the chunk end so the boundary candle
		// is not fetched twice.
		it.next = chunkEnd.Add(time.Minute)

		if len(candles) == 0 {
			continue
		}

		it.batch = &models.Batch{
			Exchange:    it.req.Exchange,
			SymbolToken: it.req.SymbolToken,
			Interval:    it.req.Interval,
			ChunkStart:  chunkStart,
			ChunkEnd:    chunkEnd,
			Candles:     candles,
		}
		return true
	}
}

// Batch returns the batch produced by the last successful Next call.
func (it *BatchIterator) Batch() *models.Batch {
	return it.batch
}

// Err returns the error that stopped iteration early, if any. Chunks
// that failed after exhausting retries do not surface here; see
// FailedChunks.
func (it *BatchIterator) Err() error {
	return it.err
}

// Chunks reports how many chunks have been attempted so far.
func (it *BatchIterator) Chunks() int { return it.chunks }

// FailedChunks reports how many chunks were abandoned after exhausting
// their attempt budget.
func (it *BatchIterator) FailedChunks() int { return it.failed }

// candleRow is one element of the API's candle payload, a mixed array
// of [timestamp string, open, high, low, close, volume].
type candleRow struct {
	Timestamp string
	Open      json.Number
	High      json.Number
	Low       json.Number
	Close     json.Number
	Volume    json.Number
}

func (r *candleRow) UnmarshalJSON(b []byte) error {
	fields := []any{&r.Timestamp, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != len(fields) {
		return fmt.Errorf("candle row has %d fields, want %d", len(raw), len(fields))
	}
	for i, f := range fields {
		if err := json.Unmarshal(raw[i], f); err != nil {
			return err
		}
	}
	return nil
}

func parseCandles(data json.RawMessage, req FetchRequest) ([]models.Candle, error) {
	op := "smartapi.parseCandles"

	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}

	var rows []candleRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, apperrors.Wrap(apperrors.TypeTransient, op, "decode candle rows", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		ts, err := time.Parse(time.RFC3339, row.Timestamp)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.TypeTransient, op,
				fmt.Sprintf("row %d: bad timestamp %q", i, row.Timestamp), err)
		}
		open, err := parsePrice(row.Open)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.TypeTransient, op, fmt.Sprintf("row %d: bad open", i), err)
		}
		high, err := parsePrice(row.High)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.TypeTransient, op, fmt.Sprintf("row %d: bad high", i), err)
		}
		low, err := parsePrice(row.Low)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.TypeTransient, op, fmt.Sprintf("row %d: bad low", i), err)
		}
		closePrice, err := parsePrice(row.Close)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.TypeTransient, op, fmt.Sprintf("row %d: bad close", i), err)
		}
		volume, err := row.Volume.Int64()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.TypeTransient, op, fmt.Sprintf("row %d: bad volume", i), err)
		}

		c := models.Candle{
			Timestamp:   ts,
			Exchange:    req.Exchange,
			SymbolToken: req.SymbolToken,
			Interval:    req.Interval,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       closePrice,
			Volume:      volume,
		}
		if err := c.Validate(); err != nil {
			return nil, apperrors.Wrap(apperrors.TypeTransient, op, fmt.Sprintf("row %d invalid", i), err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// parsePrice coerces an upstream price field through decimal so the
// digits the API sent are what reach storage, rather than whatever an
// intermediate float parse settles on.
func parsePrice(n json.Number) (float64, error) {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
