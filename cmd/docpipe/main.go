package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/tomasvik/docpipe/constants"
	"github.com/tomasvik/docpipe/internal/classify"
	"github.com/tomasvik/docpipe/internal/common"
	"github.com/tomasvik/docpipe/internal/extract"
	"github.com/tomasvik/docpipe/internal/ingest"
	"github.com/tomasvik/docpipe/internal/pipeline"
	"github.com/tomasvik/docpipe/internal/queue"
	"github.com/tomasvik/docpipe/internal/repository"
	"github.com/tomasvik/docpipe/internal/resilience"
	"github.com/tomasvik/docpipe/internal/review"
)

// docpipe is the one-shot batch runner: scan a directory, process every
// eligible file to a terminal status, print a summary, exit.
func main() {
	var (
		dir      = flag.String("dir", "", "directory to catalog (required)")
		dsn      = flag.String("db", "", "catalog DSN, overrides DB_DSN")
		auto     = flag.Bool("auto", false, "auto-approve reviews instead of prompting on the console")
		priority = flag.Int("priority", 0, "queue priority for discovered files")
	)
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "error: --dir is required")
		os.Exit(1)
	}

	cfg := common.LoadConfig()
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()

	db, dialect, err := repository.OpenDB(ctx, cfg.Database)
	if err != nil {
		fatal("open catalog database: %v", err)
	}
	defer db.Close()
	if err := repository.EnsureSchema(ctx, db, dialect); err != nil {
		fatal("ensure catalog schema: %v", err)
	}
	catalog := repository.NewCatalog(db, dialect, logger)

	store := queue.NewStore(logger)
	extractor := extract.NewFileExtractor(cfg.Extraction, logger)
	classifier := classify.NewClient(cfg.Classification, resilience.NewExecutor(resilience.DefaultConfig()), logger)

	var gate review.Gate = review.NewConsoleGate(os.Stdin, os.Stderr)
	if *auto {
		gate = review.AutoGate{}
	}

	orc := pipeline.NewOrchestrator(pipeline.Config{
		Policy: pipeline.Policy{
			Mode: pipeline.PolicyMode(cfg.Review.PolicyMode),
			Low:  cfg.Review.LowThreshold,
			High: cfg.Review.HighThreshold,
		},
		ExtractMode: extract.Mode(cfg.Extraction.Mode),
		Language:    cfg.Extraction.Language,
		IdlePoll:    100 * time.Millisecond,
	}, store, extractor, classifier, gate, catalog, logger)

	added, err := ingest.ScanDir(*dir, cfg.Watch, store, *priority, logger)
	if err != nil {
		fatal("scan %s: %v", *dir, err)
	}
	if added == 0 {
		fmt.Println("no eligible files found")
		return
	}
	fmt.Printf("processing %d files from %s\n", added, *dir)

	events, cancelEvents := orc.Events().Subscribe(256)
	defer cancelEvents()

	if err := orc.Start(ctx); err != nil {
		fatal("start pipeline: %v", err)
	}

	remaining := added
	for remaining > 0 {
		e, ok := <-events
		if !ok {
			break
		}
		if e.Kind != pipeline.EventItemFinished {
			continue
		}
		remaining--
		switch e.Status {
		case constants.ItemCompleted:
			fmt.Printf("  ok      %s\n", e.Locator)
		case constants.ItemSkipped:
			fmt.Printf("  skip    %s (%s)\n", e.Locator, e.Message)
		case constants.ItemFailed:
			note := ""
			if !e.Code.Retryable() {
				note = " (will not retry)"
			}
			fmt.Printf("  FAILED  %s [%s] %s%s\n", e.Locator, e.Code, e.Message, note)
		}
	}

	if err := orc.Stop(); err == nil {
		waitCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		_ = orc.Wait(waitCtx)
	}

	stats := store.Statistics()
	fmt.Printf("\ndone: %d completed, %d skipped, %d failed\n",
		stats[constants.ItemCompleted],
		stats[constants.ItemSkipped],
		stats[constants.ItemFailed])
	if stats[constants.ItemFailed] > 0 {
		os.Exit(1)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
