package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tomasvik/docpipe/internal/common"
	"github.com/tomasvik/docpipe/internal/queue"
)

// Feed drains discovered paths into the queue until the channel closes or
// ctx is cancelled. Re-discovery of an already-queued path is normal churn
// (editors fire multiple events per save) and is dropped silently; other
// enqueue failures are logged and skipped.
func Feed(ctx context.Context, paths <-chan string, store *queue.Store, priority int, kick func(), logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-paths:
			if !ok {
				return
			}
			if _, err := store.Add(path, priority); err != nil {
				if !errors.Is(err, common.ErrDuplicateItem) {
					logger.Warn("enqueue_failed", "path", path, "error", err)
				}
				continue
			}
			logger.Info("item_discovered", "path", path, "priority", priority)
			if kick != nil {
				kick()
			}
		}
	}
}

// ScanDir walks a directory once and enqueues every eligible file, returning
// how many items were added. Used by the one-shot batch command.
func ScanDir(root string, cfg common.WatchConfig, store *queue.Store, priority int, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	added := 0
	paths, err := collect(root, cfg)
	if err != nil {
		return 0, err
	}
	for _, path := range paths {
		if _, err := store.Add(path, priority); err != nil {
			if !errors.Is(err, common.ErrDuplicateItem) {
				logger.Warn("enqueue_failed", "path", path, "error", err)
			}
			continue
		}
		added++
	}
	return added, nil
}
