package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomasvik/docpipe/internal/classify"
	"github.com/tomasvik/docpipe/internal/common"
	"github.com/tomasvik/docpipe/internal/extract"
	"github.com/tomasvik/docpipe/internal/health"
	"github.com/tomasvik/docpipe/internal/ingest"
	"github.com/tomasvik/docpipe/internal/metrics"
	"github.com/tomasvik/docpipe/internal/pipeline"
	"github.com/tomasvik/docpipe/internal/queue"
	"github.com/tomasvik/docpipe/internal/repository"
	"github.com/tomasvik/docpipe/internal/resilience"
	"github.com/tomasvik/docpipe/internal/review"
)

func main() {
	cfg := common.LoadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, dialect, err := repository.OpenDB(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open catalog database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := repository.EnsureSchema(ctx, db, dialect); err != nil {
		logger.Error("failed to ensure catalog schema", "error", err)
		os.Exit(1)
	}
	catalog := repository.NewCatalog(db, dialect, logger)
	logger.Info("catalog ready", "dialect", string(dialect))

	store := queue.NewStore(logger)
	extractor := extract.NewFileExtractor(cfg.Extraction, logger)
	classifier := classify.NewClient(cfg.Classification, resilience.NewExecutor(resilience.DefaultConfig()), logger)

	var gate review.Gate
	switch cfg.Review.Gate {
	case "auto":
		gate = review.AutoGate{}
		logger.Warn("review gate set to auto, every reviewed item will be approved unedited")
	default:
		gate = review.NewConsoleGate(os.Stdin, os.Stderr)
	}

	orc := pipeline.NewOrchestrator(pipeline.Config{
		Policy: pipeline.Policy{
			Mode: pipeline.PolicyMode(cfg.Review.PolicyMode),
			Low:  cfg.Review.LowThreshold,
			High: cfg.Review.HighThreshold,
		},
		ExtractMode: extract.Mode(cfg.Extraction.Mode),
		Language:    cfg.Extraction.Language,
		IdlePoll:    cfg.Pipeline.IdlePoll,
	}, store, extractor, classifier, gate, catalog, logger)

	m := metrics.NewPipelineMetrics()
	go m.Observe(ctx, orc, store)

	poller := health.NewPoller(cfg.Health, classifier, m.SetInferenceUp, logger)
	go poller.Run(ctx)

	if len(cfg.Watch.Roots) > 0 {
		paths, watchErrs, err := ingest.StartWatcher(ctx, cfg.Watch, logger)
		if err != nil {
			logger.Error("failed to start watcher", "roots", cfg.Watch.Roots, "error", err)
			os.Exit(1)
		}
		go ingest.Feed(ctx, paths, store, cfg.Pipeline.DefaultPriority, orc.Kick, logger)
		go func() {
			for err := range watchErrs {
				logger.Error("watcher error", "error", err)
			}
		}()
	} else {
		logger.Warn("WATCH_ROOTS not set, daemon will only process items enqueued by other means")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if poller.Up() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "inference unreachable", http.StatusServiceUnavailable)
	})
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	go func() {
		logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	// Environment failures pause processing; the operator resumes once the
	// underlying condition is fixed.
	events, cancelEvents := orc.Events().Subscribe(64)
	defer cancelEvents()
	go func() {
		for e := range events {
			if e.Kind != pipeline.EventEnvironment {
				continue
			}
			logger.Error("environment failure, pausing pipeline", "locator", e.Locator, "message", e.Message)
			if err := orc.Pause(); err != nil {
				logger.Warn("pause after environment failure", "error", err)
			}
		}
	}()

	if err := orc.Start(ctx); err != nil {
		logger.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}
	logger.Info("pipeline running",
		"policy", cfg.Review.PolicyMode,
		"gate", cfg.Review.Gate,
		"roots", cfg.Watch.Roots)

	<-ctx.Done()
	logger.Info("shutting down, waiting for in-flight item")

	if err := orc.Stop(); err != nil {
		logger.Warn("stop pipeline", "error", err)
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := orc.Wait(waitCtx); err != nil {
		logger.Error("pipeline did not stop cleanly", "error", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
