// Package collector orchestrates a collection run: authenticate,
// fetch each tracked instrument chunk by chunk, and persist the
// results.
package collector

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/commoditydata/go-commodity-collector/internal/models"
	"github.com/commoditydata/go-commodity-collector/internal/smartapi"
	"github.com/commoditydata/go-commodity-collector/internal/storage"
)

// BatchIterator yields non-empty candle batches one chunk at a time.
type BatchIterator interface {
	Next() bool
	Batch() *models.Batch
	Err() error
	Chunks() int
	FailedChunks() int
}

// RangeFetcher produces a batch iterator for a validated request.
type RangeFetcher interface {
	FetchRange(ctx context.Context, req smartapi.FetchRequest) (BatchIterator, error)
}

// Authenticator manages the broker session around a run.
type Authenticator interface {
	Authenticate(ctx context.Context) error
	Logout(ctx context.Context) error
}

// fetcherAdapter lifts the concrete fetcher's iterator into the
// RangeFetcher interface.
type fetcherAdapter struct {
	f *smartapi.HistoricalFetcher
}

func (a fetcherAdapter) FetchRange(ctx context.Context, req smartapi.FetchRequest) (BatchIterator, error) {
	it, err := a.f.FetchRange(ctx, req)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// WrapFetcher adapts a HistoricalFetcher for the Runner.
func WrapFetcher(f *smartapi.HistoricalFetcher) RangeFetcher {
	return fetcherAdapter{f: f}
}

// RunSummary aggregates the outcome of one collection run.
type RunSummary struct {
	Instruments  int
	Skipped      int
	Failed       int
	Chunks       int
	FailedChunks int
	Records      int
	Elapsed      time.Duration
}

// Request describes one collection run over the instrument catalog.
type Request struct {
	Instruments []models.Instrument
	Interval    models.Interval
	From        time.Time
	To          time.Time

	// Force skips the duplicate pre-check and fetches even when rows
	// already exist for the range. Inserts are append-only, so forced
	// runs over held ranges duplicate rows.
	Force bool
}

// Runner drives collection runs.
type Runner struct {
	auth    Authenticator
	fetcher RangeFetcher
	store   storage.Store
	logger  *slog.Logger
}

// NewRunner creates a runner over the given session, fetcher and
// store.
func NewRunner(auth Authenticator, fetcher RangeFetcher, store storage.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{auth: auth, fetcher: fetcher, store: store, logger: logger}
}

// Run executes one collection run. The session is established once up
// front and terminated when the run ends. One instrument failing does
// not stop the others; the summary carries the failure count. Run
// returns an error only when nothing could proceed at all, such as a
// failed login.
func (r *Runner) Run(ctx context.Context, req Request) (*RunSummary, error) {
	started := time.Now()

	if err := r.auth.Authenticate(ctx); err != nil {
		return nil, err
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := r.auth.Logout(logoutCtx); err != nil {
			r.logger.Warn("logout failed", "error", err)
		}
	}()

	summary := &RunSummary{Instruments: len(req.Instruments)}

	for _, inst := range req.Instruments {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		r.collectInstrument(ctx, inst, req, summary)
	}

	summary.Elapsed = time.Since(started)
	r.logger.Info("run complete",
		"instruments", summary.Instruments,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"chunks", summary.Chunks,
		"failed_chunks", summary.FailedChunks,
		"records", summary.Records,
		"elapsed", summary.Elapsed)
	return summary, nil
}

func (r *Runner) collectInstrument(ctx context.Context, inst models.Instrument, req Request, summary *RunSummary) {
	log := r.logger.With(
		"run_id", uuid.NewString(),
		"instrument", inst.Name,
		"symbol_token", inst.SymbolToken,
		"interval", req.Interval.String())

	id := storage.Identity{
		Exchange:    inst.Exchange,
		SymbolToken: inst.SymbolToken,
		Interval:    req.Interval,
	}

	if !req.Force {
		exists, err := r.store.Exists(ctx, id, req.From, req.To)
		if err != nil {
			log.Error("duplicate pre-check failed", "error", err)
			summary.Failed++
			return
		}
		if exists {
			log.Info("data already present, skipping; use force to refetch")
			summary.Skipped++
			return
		}
	}

	it, err := r.fetcher.FetchRange(ctx, smartapi.FetchRequest{
		Exchange:    inst.Exchange,
		SymbolToken: inst.SymbolToken,
		Interval:    req.Interval,
		From:        req.From,
		To:          req.To,
	})
	if err != nil {
		log.Error("fetch rejected", "error", err)
		summary.Failed++
		return
	}

	var records int
	for it.Next() {
		batch := it.Batch()
		if err := r.store.Insert(ctx, batch.Candles); err != nil {
			// Inserts are not retried; the range can be refetched once
			// storage recovers.
			log.Error("insert failed, batch dropped",
				"chunk_start", batch.ChunkStart,
				"chunk_end", batch.ChunkEnd,
				"candles", len(batch.Candles),
				"error", err)
			summary.Failed++
			summary.Chunks += it.Chunks()
			return
		}
		records += len(batch.Candles)
		summary.Records += len(batch.Candles)
		log.Debug("batch stored",
			"chunk_start", batch.ChunkStart,
			"chunk_end", batch.ChunkEnd,
			"candles", len(batch.Candles))
	}
	summary.Chunks += it.Chunks()
	summary.FailedChunks += it.FailedChunks()

	if err := it.Err(); err != nil {
		log.Error("fetch aborted", "records_stored", records, "error", err)
		summary.Failed++
		return
	}

	log.Info("instrument collected", "records", records, "failed_chunks", it.FailedChunks())
}
