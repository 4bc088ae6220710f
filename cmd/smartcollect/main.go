// Command smartcollect retrieves historical commodity futures candles
// from the broker API and stores them in ClickHouse.
//
// Usage:
//
//	smartcollect setup-db
//	smartcollect fetch [-instrument NAME|TOKEN] [-interval 1day] [-from DATE] [-to DATE] [-force]
//	smartcollect coverage [-instrument NAME|TOKEN] [-interval 1day]
//	smartcollect instruments
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/commoditydata/go-commodity-collector/internal/collector"
	"github.com/commoditydata/go-commodity-collector/internal/config"
	"github.com/commoditydata/go-commodity-collector/internal/coverage"
	"github.com/commoditydata/go-commodity-collector/internal/logger"
	"github.com/commoditydata/go-commodity-collector/internal/models"
	"github.com/commoditydata/go-commodity-collector/internal/ratelimit"
	"github.com/commoditydata/go-commodity-collector/internal/smartapi"
	"github.com/commoditydata/go-commodity-collector/internal/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "smartcollect: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "setup-db":
		err = runSetupDB(ctx, cfg, log)
	case "fetch":
		err = runFetch(ctx, cfg, log, os.Args[2:])
	case "coverage":
		err = runCoverage(ctx, cfg, log, os.Args[2:])
	case "instruments":
		err = runInstruments(cfg)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "smartcollect: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `smartcollect - historical commodity candle collector

Commands:
  setup-db     create the ClickHouse database and tables
  fetch        fetch candles for tracked instruments and store them
  coverage     report stored data span and missing dates
  instruments  list the tracked contract catalog

Run 'smartcollect <command> -h' for command flags.
`)
}

func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (*storage.ClickHouseStorage, error) {
	return storage.NewClickHouseStorage(ctx, storage.ClickHouseConfig{
		Host:      cfg.ClickHouse.Host,
		Port:      cfg.ClickHouse.Port,
		User:      cfg.ClickHouse.User,
		Password:  cfg.ClickHouse.Password,
		Database:  cfg.ClickHouse.Database,
		BatchSize: cfg.Fetch.BatchSize,
	}, log)
}

func runSetupDB(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Initialize(ctx)
}

func runFetch(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	instrument := fs.String("instrument", "", "contract name or symbol token; all tracked contracts when empty")
	intervalFlag := fs.String("interval", "1day", "candle interval (1min, 3min, 5min, 10min, 15min, 30min, 1h, 1day)")
	fromFlag := fs.String("from", "", "range start, YYYY-MM-DD or 'YYYY-MM-DD HH:MM' (required)")
	toFlag := fs.String("to", "", "range end, defaults to now")
	force := fs.Bool("force", false, "fetch even when the range already holds data (appends duplicates)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := cfg.API.Validate(); err != nil {
		return err
	}

	interval, err := models.ParseInterval(*intervalFlag)
	if err != nil {
		return err
	}

	if *fromFlag == "" {
		return fmt.Errorf("the -from flag is required")
	}
	from, err := parseDate(*fromFlag)
	if err != nil {
		return fmt.Errorf("bad -from value: %w", err)
	}
	to := time.Now().Truncate(time.Minute)
	if *toFlag != "" {
		if to, err = parseDate(*toFlag); err != nil {
			return fmt.Errorf("bad -to value: %w", err)
		}
	}

	instruments, err := selectInstruments(cfg, *instrument)
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Initialize(ctx); err != nil {
		return err
	}

	client := smartapi.NewClient(cfg.API.Key)
	sessions := smartapi.NewSessionManager(client, smartapi.Credentials{
		ClientCode: cfg.API.ClientCode,
		Password:   cfg.API.Password,
		TOTPKey:    cfg.API.TOTPKey,
	}, log)
	limiter := ratelimit.NewFixedWindowLimiter(cfg.Fetch.MaxRequestPerMinute, time.Minute)
	fetcher := smartapi.NewHistoricalFetcher(client, sessions, limiter, log,
		smartapi.WithMaxAttempts(cfg.Fetch.MaxRetryAttempts),
		smartapi.WithRetryDelay(cfg.Fetch.RetryDelay),
		smartapi.WithMaxDaysPerRequest(cfg.Fetch.MaxDaysPerRequest),
		smartapi.WithChunkPause(cfg.Fetch.ChunkPause),
	)

	runner := collector.NewRunner(sessions, collector.WrapFetcher(fetcher), store, log)
	summary, err := runner.Run(ctx, collector.Request{
		Instruments: instruments,
		Interval:    interval,
		From:        from,
		To:          to,
		Force:       *force,
	})
	if err != nil {
		return err
	}

	fmt.Printf("fetched %d records across %d chunks (%d instruments, %d skipped, %d failed) in %s\n",
		summary.Records, summary.Chunks, summary.Instruments, summary.Skipped, summary.Failed,
		summary.Elapsed.Round(time.Second))
	if summary.FailedChunks > 0 {
		fmt.Printf("warning: %d chunks were abandoned after exhausting retries\n", summary.FailedChunks)
	}
	return nil
}

func runCoverage(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("coverage", flag.ExitOnError)
	instrument := fs.String("instrument", "", "contract name or symbol token; all tracked contracts when empty")
	intervalFlag := fs.String("interval", "1day", "candle interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	interval, err := models.ParseInterval(*intervalFlag)
	if err != nil {
		return err
	}
	instruments, err := selectInstruments(cfg, *instrument)
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	analyzer := coverage.NewAnalyzer(store, log)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTRUMENT\tTOKEN\tRECORDS\tFIRST\tLAST\tMISSING DATES")
	for _, inst := range instruments {
		report, err := analyzer.Coverage(ctx, storage.Identity{
			Exchange:    inst.Exchange,
			SymbolToken: inst.SymbolToken,
			Interval:    interval,
		})
		if err != nil {
			return err
		}
		if !report.HasData() {
			fmt.Fprintf(w, "%s\t%s\t0\t-\t-\t-\n", inst.Name, inst.SymbolToken)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\n",
			inst.Name, inst.SymbolToken, report.TotalRecords,
			report.First.Format("2006-01-02"), report.Last.Format("2006-01-02"),
			len(report.MissingDates))
		for _, d := range report.MissingDates {
			fmt.Fprintf(w, "\t\t\t\t\t%s\n", d)
		}
	}
	return w.Flush()
}

func runInstruments(cfg *config.Config) error {
	instruments, err := cfg.Instruments()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tEXCHANGE\tTOKEN")
	for _, inst := range instruments {
		fmt.Fprintf(w, "%s\t%s\t%s\n", inst.Name, inst.Exchange, inst.SymbolToken)
	}
	return w.Flush()
}

func selectInstruments(cfg *config.Config, key string) ([]models.Instrument, error) {
	if key == "" {
		return cfg.Instruments()
	}
	inst, err := cfg.FindInstrument(key)
	if err != nil {
		return nil, err
	}
	return []models.Instrument{inst}, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q, want YYYY-MM-DD or 'YYYY-MM-DD HH:MM'", s)
}
