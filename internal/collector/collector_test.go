package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commoditydata/go-commodity-collector/internal/models"
	"github.com/commoditydata/go-commodity-collector/internal/smartapi"
	"github.com/commoditydata/go-commodity-collector/internal/storage"
)

type fakeAuth struct {
	authErr     error
	authCalls   int
	logoutCalls int
}

func (a *fakeAuth) Authenticate(context.Context) error {
	a.authCalls++
	return a.authErr
}

func (a *fakeAuth) Logout(context.Context) error {
	a.logoutCalls++
	return nil
}

// fakeIterator replays predefined batches. chunks defaults to the
// batch count when unset.
type fakeIterator struct {
	batches []*models.Batch
	i       int
	chunks  int
	failed  int
	err     error
}

func (it *fakeIterator) Next() bool {
	if it.i >= len(it.batches) {
		return false
	}
	it.i++
	return true
}

func (it *fakeIterator) Batch() *models.Batch { return it.batches[it.i-1] }
func (it *fakeIterator) Err() error           { return it.err }
func (it *fakeIterator) FailedChunks() int    { return it.failed }

func (it *fakeIterator) Chunks() int {
	if it.chunks > 0 {
		return it.chunks
	}
	return len(it.batches)
}

type fakeFetcher struct {
	byToken  map[string]*fakeIterator
	rangeErr error
	requests []smartapi.FetchRequest
}

func (f *fakeFetcher) FetchRange(_ context.Context, req smartapi.FetchRequest) (BatchIterator, error) {
	f.requests = append(f.requests, req)
	if f.rangeErr != nil {
		return nil, f.rangeErr
	}
	it, ok := f.byToken[req.SymbolToken]
	if !ok {
		it = &fakeIterator{}
	}
	return it, nil
}

var (
	gold   = models.Instrument{Name: "GOLD03OCT25FUT", Exchange: "MCX", SymbolToken: "440939"}
	silver = models.Instrument{Name: "SILVER05DEC25FUT", Exchange: "MCX", SymbolToken: "432964"}
)

func testCandles(token string, n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			Timestamp:   time.Date(2024, 1, 1+i, 9, 15, 0, 0, time.UTC),
			Exchange:    "MCX",
			SymbolToken: token,
			Interval:    models.IntervalOneDay,
			Open:        100, High: 110, Low: 95, Close: 105,
			Volume: 1000,
		}
	}
	return out
}

func batchFor(token string, candles []models.Candle) *models.Batch {
	return &models.Batch{
		Exchange:    "MCX",
		SymbolToken: token,
		Interval:    models.IntervalOneDay,
		Candles:     candles,
	}
}

func testRequest(instruments ...models.Instrument) Request {
	return Request{
		Instruments: instruments,
		Interval:    models.IntervalOneDay,
		From:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:          time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

func newTestRunner(t *testing.T, auth *fakeAuth, fetcher *fakeFetcher) (*Runner, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Initialize(context.Background()))
	return NewRunner(auth, fetcher, store, nil), store
}

func TestRunStoresFetchedBatches(t *testing.T) {
	auth := &fakeAuth{}
	fetcher := &fakeFetcher{byToken: map[string]*fakeIterator{
		gold.SymbolToken: {batches: []*models.Batch{
			batchFor(gold.SymbolToken, testCandles(gold.SymbolToken, 3)),
			batchFor(gold.SymbolToken, testCandles(gold.SymbolToken, 2)),
		}},
	}}
	runner, store := newTestRunner(t, auth, fetcher)

	summary, err := runner.Run(context.Background(), testRequest(gold))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Instruments)
	assert.Equal(t, 2, summary.Chunks)
	assert.Equal(t, 5, summary.Records)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 5, store.Len())
	assert.Equal(t, 1, auth.authCalls)
	assert.Equal(t, 1, auth.logoutCalls, "session must be terminated after the run")
}

func TestRunSkipsInstrumentWithExistingData(t *testing.T) {
	auth := &fakeAuth{}
	fetcher := &fakeFetcher{}
	runner, store := newTestRunner(t, auth, fetcher)

	require.NoError(t, store.Insert(context.Background(), testCandles(gold.SymbolToken, 1)))

	summary, err := runner.Run(context.Background(), testRequest(gold))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, fetcher.requests, "existing data must skip the fetch entirely")
}

func TestRunForceBypassesExistsCheck(t *testing.T) {
	auth := &fakeAuth{}
	fetcher := &fakeFetcher{byToken: map[string]*fakeIterator{
		gold.SymbolToken: {batches: []*models.Batch{
			batchFor(gold.SymbolToken, testCandles(gold.SymbolToken, 1)),
		}},
	}}
	runner, store := newTestRunner(t, auth, fetcher)

	require.NoError(t, store.Insert(context.Background(), testCandles(gold.SymbolToken, 1)))

	req := testRequest(gold)
	req.Force = true
	summary, err := runner.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Zero(t, summary.Skipped)
	assert.Equal(t, 1, summary.Records)
	assert.Equal(t, 2, store.Len(), "forced refetch appends duplicate rows")
}

func TestRunAuthenticationFailureStopsRun(t *testing.T) {
	auth := &fakeAuth{authErr: errors.New("login rejected")}
	fetcher := &fakeFetcher{}
	runner, _ := newTestRunner(t, auth, fetcher)

	_, err := runner.Run(context.Background(), testRequest(gold))
	require.Error(t, err)
	assert.Empty(t, fetcher.requests)
	assert.Zero(t, auth.logoutCalls, "no session was established, nothing to log out")
}

func TestRunInstrumentFailureIsIsolated(t *testing.T) {
	auth := &fakeAuth{}
	fetcher := &fakeFetcher{byToken: map[string]*fakeIterator{
		gold.SymbolToken: {err: errors.New("connection lost")},
		silver.SymbolToken: {batches: []*models.Batch{
			batchFor(silver.SymbolToken, testCandles(silver.SymbolToken, 2)),
		}},
	}}
	runner, store := newTestRunner(t, auth, fetcher)

	summary, err := runner.Run(context.Background(), testRequest(gold, silver))
	require.NoError(t, err, "one instrument failing must not fail the run")

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Records)
	assert.Equal(t, 2, store.Len())
	require.Len(t, fetcher.requests, 2)
}

func TestRunCountsAbandonedChunks(t *testing.T) {
	auth := &fakeAuth{}
	// Two chunks were requested but the abandoned one yielded no
	// batch.
	fetcher := &fakeFetcher{byToken: map[string]*fakeIterator{
		gold.SymbolToken: {
			batches: []*models.Batch{
				batchFor(gold.SymbolToken, testCandles(gold.SymbolToken, 2)),
			},
			chunks: 2,
			failed: 1,
		},
	}}
	runner, _ := newTestRunner(t, auth, fetcher)

	summary, err := runner.Run(context.Background(), testRequest(gold))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Chunks)
	assert.Equal(t, 1, summary.FailedChunks)
	assert.Equal(t, 2, summary.Records)
	assert.Zero(t, summary.Failed, "abandoned chunks are not an instrument failure")
}

func TestRunInsertFailureDropsInstrument(t *testing.T) {
	auth := &fakeAuth{}
	fetcher := &fakeFetcher{byToken: map[string]*fakeIterator{
		gold.SymbolToken: {batches: []*models.Batch{
			batchFor(gold.SymbolToken, testCandles(gold.SymbolToken, 2)),
		}},
	}}
	store := storage.NewMemoryStorage()
	// Never initialized: every insert fails.
	runner := NewRunner(auth, fetcher, store, nil)

	req := testRequest(gold)
	req.Force = true
	summary, err := runner.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, summary.Records)
}
