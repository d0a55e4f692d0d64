package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomasvik/docpipe/constants"
	"github.com/tomasvik/docpipe/internal/common"
)

type fakeRunner struct {
	stdout []byte
	err    error
	calls  [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.stdout, nil, f.err
}

func TestDescribeTextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	e := NewFileExtractor(common.ExtractionConfig{}, nil)
	info, err := e.Describe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, constants.TEXT, info.Format)
	assert.Equal(t, 1, info.Pages)
	assert.Equal(t, int64(11), info.SizeBytes)
}

func TestDescribeRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00}, 0o644))

	e := NewFileExtractor(common.ExtractionConfig{}, nil)
	_, err := e.Describe(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, common.CodeUnsupportedFormat, common.CodeOf(err))
}

func TestExtractPageTextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("Quarterly report.\r\nAll numbers final.\n\n\n"), 0o644))

	e := NewFileExtractor(common.ExtractionConfig{}, nil)
	out, err := e.ExtractPage(context.Background(), Request{Path: path, Mode: ModeFast})
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report.\nAll numbers final.", out.Text)
	assert.Equal(t, 1.0, out.Confidence)
}

func TestExtractPageImageUsesRunner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))

	runner := &fakeRunner{stdout: []byte("Invoice for services rendered. Payment due on receipt.")}
	e := NewFileExtractor(common.ExtractionConfig{}, nil)
	e.runner = runner

	out, err := e.ExtractPage(context.Background(), Request{Path: path, Mode: ModeHighAccuracy, Language: "eng"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Text)
	assert.Greater(t, out.Confidence, 0.0)
	require.NotEmpty(t, runner.calls)
	assert.Equal(t, "tesseract", runner.calls[0][0])
}

// renderingRunner mimics pdftoppm by dropping a page image at the requested
// prefix, and tesseract by returning fixed text.
type renderingRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *renderingRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	if name == "pdftoppm" {
		prefix := args[len(args)-1]
		if err := os.WriteFile(prefix+"-1.png", []byte("png"), 0o644); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}
	return []byte("Scanned invoice for consulting work. Payment is due within thirty days."), nil, nil
}

func TestOCRArtifactsUseCacheDir(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "artifacts")
	path := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))

	runner := &renderingRunner{}
	e := NewFileExtractor(common.ExtractionConfig{ArtifactCacheDir: cache}, nil)
	e.runner = runner

	out, err := e.ExtractPage(context.Background(), Request{Path: path, Mode: ModeHighAccuracy})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Text)

	require.NotEmpty(t, runner.calls)
	first := runner.calls[0]
	assert.Equal(t, "pdftoppm", first[0])
	prefix := first[len(first)-1]
	assert.True(t, strings.HasPrefix(prefix, cache+string(filepath.Separator)),
		"render prefix %q not under cache dir %q", prefix, cache)
}

func TestExtractPageImageRunnerFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpg"), 0o644))

	e := NewFileExtractor(common.ExtractionConfig{}, nil)
	e.runner = &fakeRunner{err: errors.New("exit status 1")}

	_, err := e.ExtractPage(context.Background(), Request{Path: path, Mode: ModeHighAccuracy})
	assert.Error(t, err)
}

func TestHeuristicConfidence(t *testing.T) {
	assert.Equal(t, 0.0, heuristicConfidence("   "))

	garbage := heuristicConfidence("||||~~~^^^")
	prose := heuristicConfidence("The committee approved the proposal. Work begins next quarter and the full schedule follows in the appendix of this document, which runs well past two hundred characters in total length for scoring.")
	assert.Greater(t, prose, garbage)
	assert.LessOrEqual(t, prose, 1.0)
}

func TestNormalize(t *testing.T) {
	in := "a  \r\nb\t\n\n\n\nc\n"
	assert.Equal(t, "a\nb\n\nc", Normalize(in))
}
