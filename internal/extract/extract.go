// Package extract implements the extraction port: page-level text extraction
// from PDFs, images, and plain-text files, with a fast text-layer mode and a
// slower OCR mode.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tomasvik/docpipe/constants"
	"github.com/tomasvik/docpipe/internal/common"
)

// Mode selects the extraction strategy per call, not globally.
type Mode string

const (
	ModeFast         Mode = "fast"          // embedded text layer, cheap
	ModeHighAccuracy Mode = "high-accuracy" // rasterize + OCR, slow
)

// Info describes a source file before extraction.
type Info struct {
	Format    constants.Format
	Pages     int
	SizeBytes int64
}

// Request identifies one page to extract. Page is zero-based.
type Request struct {
	Path     string
	Page     int
	Mode     Mode
	Language string
}

// PageText is the extraction outcome for a single page.
type PageText struct {
	Text       string
	Confidence float64
}

// Extractor is the port the orchestrator calls once per page.
type Extractor interface {
	Describe(ctx context.Context, path string) (Info, error)
	ExtractPage(ctx context.Context, req Request) (PageText, error)
}

// FileExtractor dispatches on file format. Calls carry their own bounded
// timeout; callers see a failure outcome, not a cancellation primitive.
type FileExtractor struct {
	cfg    common.ExtractionConfig
	runner Runner
	logger *slog.Logger
}

func NewFileExtractor(cfg common.ExtractionConfig, logger *slog.Logger) *FileExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &FileExtractor{cfg: cfg, runner: execRunner{}, logger: logger}
}

func (e *FileExtractor) Describe(ctx context.Context, path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("stat %s: %w", path, err)
	}

	format := constants.MapExtToFormat(filepath.Ext(path))
	if format == "" {
		return Info{}, common.NewAppError(common.CodeUnsupportedFormat,
			fmt.Sprintf("unsupported extension %q", filepath.Ext(path)), nil)
	}

	info := Info{Format: format, Pages: 1, SizeBytes: st.Size()}
	if format == constants.PDF {
		pages, err := pdfPageCount(path)
		if err != nil {
			return Info{}, fmt.Errorf("count pdf pages: %w", err)
		}
		info.Pages = pages
	}
	if e.cfg.MaxPages > 0 && info.Pages > e.cfg.MaxPages {
		info.Pages = e.cfg.MaxPages
	}
	return info, nil
}

func (e *FileExtractor) ExtractPage(ctx context.Context, req Request) (PageText, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	format := constants.MapExtToFormat(filepath.Ext(req.Path))
	e.logger.Debug("extract.page", "path", req.Path, "page", req.Page, "mode", req.Mode, "format", format)

	var (
		out PageText
		err error
	)
	switch format {
	case constants.PDF:
		out, err = e.extractPDFPage(ctx, req)
	case constants.IMAGE:
		out, err = e.ocrImage(ctx, req.Path, req.Language)
	case constants.TEXT:
		out, err = e.readTextFile(req.Path)
	default:
		return PageText{}, common.NewAppError(common.CodeUnsupportedFormat,
			fmt.Sprintf("unsupported extension %q", filepath.Ext(req.Path)), nil)
	}
	if err != nil {
		e.logger.Error("extract.page.failed", "path", req.Path, "page", req.Page, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return PageText{}, err
	}

	out.Text = Normalize(out.Text)
	if out.Confidence == 0 && out.Text != "" {
		out.Confidence = heuristicConfidence(out.Text)
	}
	return out, nil
}

func (e *FileExtractor) extractPDFPage(ctx context.Context, req Request) (PageText, error) {
	if req.Mode == ModeHighAccuracy {
		return e.ocrPDFPage(ctx, req)
	}
	text, err := pdfPageText(req.Path, req.Page)
	if err != nil {
		return PageText{}, err
	}
	// Text-layer extraction is deterministic; confidence reflects only how
	// plausible the decoded text looks.
	return PageText{Text: text, Confidence: heuristicConfidence(text)}, nil
}

func (e *FileExtractor) readTextFile(path string) (PageText, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PageText{}, fmt.Errorf("read %s: %w", path, err)
	}
	return PageText{Text: string(raw), Confidence: 1.0}, nil
}
