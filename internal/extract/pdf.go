package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ledongthuc/pdf"
)

func pdfPageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.NumPage(), nil
}

// pdfPageText reads the embedded text layer of one page (zero-based index).
// Scanned PDFs typically return an empty string here; callers fall back to
// the OCR path or record the page as empty.
func pdfPageText(path string, page int) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if page < 0 || page >= r.NumPage() {
		return "", fmt.Errorf("page %d out of range (have %d)", page, r.NumPage())
	}

	p := r.Page(page + 1) // library pages are 1-based
	if p.V.IsNull() {
		return "", nil
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("pdf text layer: %w", err)
	}
	return text, nil
}

// ocrPDFPage rasterizes a single page and runs it through tesseract. Rendered
// page images live under the configured artifact cache dir so large runs do
// not fill the system temp partition.
func (e *FileExtractor) ocrPDFPage(ctx context.Context, req Request) (PageText, error) {
	cacheDir := e.cfg.ArtifactCacheDir
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return PageText{}, fmt.Errorf("artifact cache dir: %w", err)
		}
	}
	tmpDir, err := os.MkdirTemp(cacheDir, "docpipe-pp-*")
	if err != nil {
		return PageText{}, err
	}
	defer os.RemoveAll(tmpDir)

	pageNum := strconv.Itoa(req.Page + 1) // pdftoppm pages are 1-based
	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r <dpi> -f N -l N -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm,
		"-r", strconv.Itoa(e.cfg.DPI), "-f", pageNum, "-l", pageNum, "-png", req.Path, prefix)
	if err != nil {
		return PageText{}, fmt.Errorf("pdftoppm: %w (%s)", err, truncate(string(errb), 512))
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		return PageText{}, fmt.Errorf("pdftoppm produced no image for page %d", req.Page)
	}
	return e.ocrImage(ctx, matches[0], req.Language)
}

// ocrImage runs tesseract on one image and blends its word confidence with
// the text heuristic.
func (e *FileExtractor) ocrImage(ctx context.Context, path, lang string) (PageText, error) {
	if lang == "" {
		lang = e.cfg.Language
	}

	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, path, "stdout", "-l", lang)
	if err != nil {
		return PageText{}, fmt.Errorf("tesseract: %w (%s)", err, truncate(string(errb), 512))
	}
	text := string(out)

	conf := heuristicConfidence(text)
	if tsv, err := e.tesseractTSVConfidence(ctx, path, lang); err == nil && tsv > 0 {
		conf = 0.7*tsv + 0.3*conf
	}
	if conf > 1.0 {
		conf = 1.0
	}
	return PageText{Text: text, Confidence: conf}, nil
}
