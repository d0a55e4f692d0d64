package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/tomasvik/docpipe/internal/common"
	"github.com/tomasvik/docpipe/internal/export"
	"github.com/tomasvik/docpipe/internal/repository"
)

// docpipe-export dumps the catalog to an XLSX workbook.
func main() {
	var (
		dsn   = flag.String("db", "", "catalog DSN, overrides DB_DSN")
		out   = flag.String("out", "documents.xlsx", "output XLSX file path")
		limit = flag.Int("limit", 0, "maximum documents to export (0 = all)")
	)
	flag.Parse()

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
		fmt.Fprintf(os.Stderr, "error: open catalog database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	catalog := repository.NewCatalog(db, dialect, logger)
	svc := export.NewService(catalog, logger)

	data, err := svc.ExportXLSX(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: export: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error: write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d bytes)\n", *out, len(data))
}
