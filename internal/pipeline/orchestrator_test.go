package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomasvik/docpipe/constants"
	"github.com/tomasvik/docpipe/internal/common"
	"github.com/tomasvik/docpipe/internal/entity"
	"github.com/tomasvik/docpipe/internal/extract"
	"github.com/tomasvik/docpipe/internal/queue"
	"github.com/tomasvik/docpipe/internal/review"
)

type fakeExtractor struct {
	mu    sync.Mutex
	texts map[string][]string // locator -> per-page text, "FAIL" marks a failing page
}

func (f *fakeExtractor) Describe(_ context.Context, path string) (extract.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pages, ok := f.texts[path]
	if !ok {
		return extract.Info{}, common.NewAppError(common.CodeExtractionFailed, "unknown file", nil)
	}
	return extract.Info{Format: constants.TEXT, Pages: len(pages)}, nil
}

func (f *fakeExtractor) ExtractPage(_ context.Context, req extract.Request) (extract.PageText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	text := f.texts[req.Path][req.Page]
	if text == "FAIL" {
		return extract.PageText{}, common.NewAppError(common.CodeExtractionFailed, "page unreadable", nil)
	}
	return extract.PageText{Text: text, Confidence: 0.9}, nil
}

type fakeClassifier struct {
	mu      sync.Mutex
	calls   int
	cls     entity.Classification
	err     error
	started chan struct{} // closed on first call when set
	release chan struct{} // blocks Classify until closed when set
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) (entity.Classification, error) {
	f.mu.Lock()
	f.calls++
	started, release := f.started, f.release
	f.started = nil
	f.mu.Unlock()
	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	if f.err != nil {
		return entity.Classification{}, f.err
	}
	return f.cls, nil
}

func (f *fakeClassifier) Ping(_ context.Context) error { return nil }

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGateway struct {
	mu       sync.Mutex
	seen     map[string]bool
	saved    []*entity.ProcessingResult
	saveErrs []error // consumed one per Save call
	hasErr   error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{seen: make(map[string]bool)}
}

func (g *fakeGateway) HasFingerprint(_ context.Context, fp string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hasErr != nil {
		return false, g.hasErr
	}
	return g.seen[fp], nil
}

func (g *fakeGateway) Save(_ context.Context, r *entity.ProcessingResult) (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.saveErrs) > 0 {
		err := g.saveErrs[0]
		g.saveErrs = g.saveErrs[1:]
		if err != nil {
			return uuid.Nil, err
		}
	}
	g.seen[r.Fingerprint] = true
	g.saved = append(g.saved, r)
	return uuid.New(), nil
}

func (g *fakeGateway) savedResults() []*entity.ProcessingResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*entity.ProcessingResult, len(g.saved))
	copy(out, g.saved)
	return out
}

// recordingGate approves with optional edits and remembers every request.
type recordingGate struct {
	mu       sync.Mutex
	requests []*entity.ProcessingResult
	decision entity.ReviewDecision
}

func (g *recordingGate) RequestReview(_ context.Context, r *entity.ProcessingResult) (entity.ReviewDecision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, r)
	return g.decision, nil
}

func (g *recordingGate) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func validClassification(confidence float64) entity.Classification {
	return entity.Classification{
		Tags: []entity.Tag{
			{Category: constants.CategoryDoctype, Value: "invoice", Confidence: confidence},
			{Category: constants.CategoryTopic, Value: "utilities", Confidence: confidence},
			{Category: constants.CategoryLanguage, Value: "en", Confidence: confidence},
			{Category: constants.CategorySensitivity, Value: "internal", Confidence: confidence},
		},
		Summary:    "A utility invoice addressed to the account holder. It itemizes charges for the billing period.",
		Confidence: confidence,
		Model:      "test-model",
	}
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type harness struct {
	orc    *Orchestrator
	store  *queue.Store
	ext    *fakeExtractor
	cls    *fakeClassifier
	gw     *fakeGateway
	events <-chan Event
	cancel func()
}

func newHarness(t *testing.T, policy Policy, gate review.Gate) *harness {
	t.Helper()
	store := queue.NewStore(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	ext := &fakeExtractor{texts: make(map[string][]string)}
	cls := &fakeClassifier{cls: validClassification(0.95)}
	gw := newFakeGateway()
	orc := NewOrchestrator(Config{
		Policy:      policy,
		ExtractMode: extract.ModeFast,
		IdlePoll:    10 * time.Millisecond,
	}, store, ext, cls, gate, gw, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	events, cancel := orc.Events().Subscribe(256)
	t.Cleanup(cancel)
	return &harness{orc: orc, store: store, ext: ext, cls: cls, gw: gw, events: events, cancel: cancel}
}

func acceptAll() Policy { return Policy{Mode: ModeThreshold, Low: 0.33, High: 0.85} }

// waitItemFinished drains events until the locator reaches a terminal status.
func (h *harness) waitItemFinished(t *testing.T, locator string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Kind == EventItemFinished && e.Locator == locator {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s to finish", locator)
		}
	}
}

func (h *harness) waitState(t *testing.T, state constants.RunState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if h.orc.State() == state {
			return
		}
		select {
		case <-h.events:
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, at %s", state, h.orc.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	require.NoError(t, h.orc.Stop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orc.Wait(ctx))
}

func TestOrchestratorCompletesItem(t *testing.T) {
	h := newHarness(t, acceptAll(), review.AutoGate{})
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.txt", "hello world")
	h.ext.texts[path] = []string{"page one text", "page two text"}

	_, err := h.store.Add(path, 0)
	require.NoError(t, err)
	require.NoError(t, h.orc.Start(context.Background()))

	e := h.waitItemFinished(t, path)
	assert.Equal(t, constants.ItemCompleted, e.Status)

	saved := h.gw.savedResults()
	require.Len(t, saved, 1)
	assert.Equal(t, path, saved[0].Locator)
	assert.Len(t, saved[0].Pages, 2)
	assert.False(t, saved[0].Placeholder)
	assert.Equal(t, "test-model", saved[0].Classification.Model)
	assert.NotEmpty(t, saved[0].Fingerprint)

	h.stop(t)
}

func TestOrchestratorSkipsDuplicateContent(t *testing.T) {
	h := newHarness(t, acceptAll(), review.AutoGate{})
	dir := t.TempDir()
	first := writeTempFile(t, dir, "a.txt", "same bytes")
	second := writeTempFile(t, dir, "b.txt", "same bytes")
	h.ext.texts[first] = []string{"some text"}
	h.ext.texts[second] = []string{"some text"}

	_, err := h.store.Add(first, 0)
	require.NoError(t, err)
	_, err = h.store.Add(second, 0)
	require.NoError(t, err)
	require.NoError(t, h.orc.Start(context.Background()))

	e1 := h.waitItemFinished(t, first)
	assert.Equal(t, constants.ItemCompleted, e1.Status)
	e2 := h.waitItemFinished(t, second)
	assert.Equal(t, constants.ItemSkipped, e2.Status)

	assert.Len(t, h.gw.savedResults(), 1)
	assert.Equal(t, 1, h.cls.callCount())

	h.stop(t)
}

func TestOrchestratorPlaceholderSkipsClassificationAndReview(t *testing.T) {
	gate := &recordingGate{decision: entity.ReviewDecision{Verdict: entity.VerdictApproved}}
	h := newHarness(t, Policy{Mode: ModeAlwaysReview}, gate)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "scan.txt", "binary-ish scan")
	h.ext.texts[path] = []string{"", "FAIL"} // no page yields text

	_, err := h.store.Add(path, 0)
	require.NoError(t, err)
	require.NoError(t, h.orc.Start(context.Background()))

	e := h.waitItemFinished(t, path)
	assert.Equal(t, constants.ItemCompleted, e.Status)

	saved := h.gw.savedResults()
	require.Len(t, saved, 1)
	assert.True(t, saved[0].Placeholder)
	assert.Equal(t, constants.PlaceholderSummary, saved[0].Classification.Summary)
	assert.Equal(t, constants.PlaceholderDoctype, saved[0].Classification.Tags[0].Value)
	require.Len(t, saved[0].Pages, 2)
	assert.True(t, saved[0].Pages[1].Failed)

	// even under always-review the placeholder bypasses the gate
	assert.Equal(t, 0, h.cls.callCount())
	assert.Equal(t, 0, gate.count())

	h.stop(t)
}

func TestOrchestratorLowConfidenceGoesToReview(t *testing.T) {
	gate := &recordingGate{decision: entity.ReviewDecision{
		Verdict: entity.VerdictApproved,
		Summary: "A corrected description of the file. It was reviewed by a person.",
	}}
	h := newHarness(t, Policy{Mode: ModeThreshold, Low: 0.33, High: 0.85}, gate)
	h.cls.cls = validClassification(0.20)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "blurry.txt", "hard to read")
	h.ext.texts[path] = []string{"barely legible text"}

	_, err := h.store.Add(path, 0)
	require.NoError(t, err)
	require.NoError(t, h.orc.Start(context.Background()))

	e := h.waitItemFinished(t, path)
	assert.Equal(t, constants.ItemCompleted, e.Status)
	assert.Equal(t, 1, gate.count())

	saved := h.gw.savedResults()
	require.Len(t, saved, 1)
	assert.Equal(t, "A corrected description of the file. It was reviewed by a person.", saved[0].Classification.Summary)

	h.stop(t)
}

func TestOrchestratorRejectionFailsItem(t *testing.T) {
	gate := &recordingGate{decision: entity.ReviewDecision{
		Verdict: entity.VerdictRejected,
		Reason:  "not a real document",
	}}
	h := newHarness(t, Policy{Mode: ModeAlwaysReview}, gate)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "junk.txt", "junk")
	h.ext.texts[path] = []string{"junk text"}

	_, err := h.store.Add(path, 0)
	require.NoError(t, err)
	require.NoError(t, h.orc.Start(context.Background()))

	e := h.waitItemFinished(t, path)
	assert.Equal(t, constants.ItemFailed, e.Status)
	assert.Equal(t, common.CodeRejected, e.Code)
	assert.Contains(t, e.Message, "not a real document")
	assert.Empty(t, h.gw.savedResults())

	h.stop(t)
}

func TestOrchestratorPersistenceFailureThenRetry(t *testing.T) {
	h := newHarness(t, acceptAll(), review.AutoGate{})
	h.gw.saveErrs = []error{common.NewAppError(common.CodePersistenceFailed, "disk full", nil)}
	dir := t.TempDir()
	path := writeTempFile(t, dir, "doc.txt", "content")
	h.ext.texts[path] = []string{"some text"}

	_, err := h.store.Add(path, 0)
	require.NoError(t, err)
	require.NoError(t, h.orc.Start(context.Background()))

	e := h.waitItemFinished(t, path)
	assert.Equal(t, constants.ItemFailed, e.Status)
	assert.Equal(t, common.CodePersistenceFailed, e.Code)

	// retryFailed re-enqueues it and the next attempt succeeds
	assert.Equal(t, 1, h.orc.RetryFailed())
	e = h.waitItemFinished(t, path)
	assert.Equal(t, constants.ItemCompleted, e.Status)
	assert.Len(t, h.gw.savedResults(), 1)

	h.stop(t)
}

func TestOrchestratorEnvironmentFailureEmitsEvent(t *testing.T) {
	h := newHarness(t, acceptAll(), review.AutoGate{})
	h.gw.hasErr = common.NewAppError(common.CodeEnvironment, "catalog unreachable", nil)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "doc.txt", "content")
	h.ext.texts[path] = []string{"some text"}

	_, err := h.store.Add(path, 0)
	require.NoError(t, err)
	require.NoError(t, h.orc.Start(context.Background()))

	sawEnvironment := false
	deadline := time.After(5 * time.Second)
	for {
		var e Event
		select {
		case e = <-h.events:
		case <-deadline:
			t.Fatal("timed out waiting for environment event")
		}
		if e.Kind == EventEnvironment {
			sawEnvironment = true
		}
		if e.Kind == EventItemFinished && e.Locator == path {
			assert.Equal(t, constants.ItemFailed, e.Status)
			assert.Equal(t, common.CodeEnvironment, e.Code)
			break
		}
	}
	assert.True(t, sawEnvironment)

	h.stop(t)
}

func TestOrchestratorPauseWaitsForInflightItem(t *testing.T) {
	h := newHarness(t, acceptAll(), review.AutoGate{})
	h.cls.started = make(chan struct{})
	release := make(chan struct{})
	h.cls.release = release

	dir := t.TempDir()
	first := writeTempFile(t, dir, "a.txt", "first")
	second := writeTempFile(t, dir, "b.txt", "second")
	h.ext.texts[first] = []string{"text one"}
	h.ext.texts[second] = []string{"text two"}

	_, err := h.store.Add(first, 0)
	require.NoError(t, err)
	_, err = h.store.Add(second, 0)
	require.NoError(t, err)

	started := h.cls.started
	require.NoError(t, h.orc.Start(context.Background()))
	<-started // first item is mid-classification

	require.NoError(t, h.orc.Pause())
	// pause is requested but the in-flight item is still being worked on
	assert.Equal(t, constants.RunRunning, h.orc.State())

	close(release)
	e := h.waitItemFinished(t, first)
	assert.Equal(t, constants.ItemCompleted, e.Status)

	h.waitState(t, constants.RunPaused)
	// the second item was not pulled while paused
	it, err := h.store.Get(second)
	require.NoError(t, err)
	assert.Equal(t, constants.ItemPending, it.Status)

	require.NoError(t, h.orc.Resume())
	e = h.waitItemFinished(t, second)
	assert.Equal(t, constants.ItemCompleted, e.Status)

	h.stop(t)
}

func TestOrchestratorResumeWithdrawsPendingPause(t *testing.T) {
	h := newHarness(t, acceptAll(), review.AutoGate{})
	h.cls.started = make(chan struct{})
	release := make(chan struct{})
	h.cls.release = release

	dir := t.TempDir()
	first := writeTempFile(t, dir, "a.txt", "first")
	second := writeTempFile(t, dir, "b.txt", "second")
	h.ext.texts[first] = []string{"text one"}
	h.ext.texts[second] = []string{"text two"}

	_, err := h.store.Add(first, 0)
	require.NoError(t, err)
	_, err = h.store.Add(second, 0)
	require.NoError(t, err)

	started := h.cls.started
	require.NoError(t, h.orc.Start(context.Background()))
	<-started // first item is mid-classification

	require.NoError(t, h.orc.Pause())
	require.NoError(t, h.orc.Resume()) // withdrawn before the item finishes
	close(release)

	// both items run to completion and the loop never parks in PAUSED
	sawPaused := false
	finished := 0
	deadline := time.After(5 * time.Second)
	for finished < 2 {
		select {
		case e := <-h.events:
			if e.Kind == EventStateChanged && e.State == constants.RunPaused {
				sawPaused = true
			}
			if e.Kind == EventItemFinished {
				assert.Equal(t, constants.ItemCompleted, e.Status)
				finished++
			}
		case <-deadline:
			t.Fatal("timed out waiting for items to finish")
		}
	}
	assert.False(t, sawPaused)

	h.stop(t)
}

func TestOrchestratorPublishesReviewVerdicts(t *testing.T) {
	gate := &recordingGate{decision: entity.ReviewDecision{Verdict: entity.VerdictApproved}}
	h := newHarness(t, Policy{Mode: ModeAlwaysReview}, gate)
	dir := t.TempDir()
	path := writeTempFile(t, dir, "doc.txt", "content")
	h.ext.texts[path] = []string{"document text"}

	_, err := h.store.Add(path, 0)
	require.NoError(t, err)
	require.NoError(t, h.orc.Start(context.Background()))

	var verdicts []entity.Verdict
	deadline := time.After(5 * time.Second)
	for {
		var e Event
		select {
		case e = <-h.events:
		case <-deadline:
			t.Fatal("timed out waiting for item to finish")
		}
		if e.Kind == EventReviewResolved {
			assert.Equal(t, path, e.Locator)
			verdicts = append(verdicts, e.Verdict)
		}
		if e.Kind == EventItemFinished && e.Locator == path {
			break
		}
	}
	assert.Equal(t, []entity.Verdict{entity.VerdictApproved}, verdicts)

	h.stop(t)
}

func TestOrchestratorStopOnEmptyQueue(t *testing.T) {
	h := newHarness(t, acceptAll(), review.AutoGate{})
	require.NoError(t, h.orc.Start(context.Background()))
	h.waitState(t, constants.RunRunning)

	require.NoError(t, h.orc.Stop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orc.Wait(ctx))
	assert.Equal(t, constants.RunStopped, h.orc.State())

	// a stopped orchestrator can be started again
	require.NoError(t, h.orc.Start(context.Background()))
	h.stop(t)
}

func TestOrchestratorControlTransitionsValidated(t *testing.T) {
	h := newHarness(t, acceptAll(), review.AutoGate{})

	err := h.orc.Pause()
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
	err = h.orc.Stop()
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	require.NoError(t, h.orc.Start(context.Background()))
	err = h.orc.Start(context.Background())
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
	err = h.orc.Resume()
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	h.stop(t)
}

func TestOrchestratorAlwaysReviewGateRunsOncePerItem(t *testing.T) {
	gate := &recordingGate{decision: entity.ReviewDecision{Verdict: entity.VerdictApproved}}
	h := newHarness(t, Policy{Mode: ModeAlwaysReview}, gate)
	h.cls.cls = validClassification(0.99) // high confidence still reviewed
	dir := t.TempDir()
	path := writeTempFile(t, dir, "doc.txt", "content")
	h.ext.texts[path] = []string{"plenty of text"}

	_, err := h.store.Add(path, 0)
	require.NoError(t, err)
	require.NoError(t, h.orc.Start(context.Background()))

	e := h.waitItemFinished(t, path)
	assert.Equal(t, constants.ItemCompleted, e.Status)
	assert.Equal(t, 1, gate.count())
	assert.Len(t, h.gw.savedResults(), 1)

	h.stop(t)
}

func TestOrchestratorUnreadableFileFails(t *testing.T) {
	h := newHarness(t, acceptAll(), review.AutoGate{})
	missing := filepath.Join(t.TempDir(), "nope.txt")

	_, err := h.store.Add(missing, 0)
	require.NoError(t, err)
	require.NoError(t, h.orc.Start(context.Background()))

	e := h.waitItemFinished(t, missing)
	assert.Equal(t, constants.ItemFailed, e.Status)
	assert.Equal(t, common.CodeExtractionFailed, e.Code)

	h.stop(t)
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.publish(Event{Kind: EventProgress, Total: 1})
	b.publish(Event{Kind: EventProgress, Total: 2})

	e := <-ch
	assert.Equal(t, 1, e.Total)
	select {
	case <-ch:
		t.Fatal("second event should have been dropped")
	default:
	}
}

func TestFingerprintIsContentAddressed(t *testing.T) {
	dir := t.TempDir()
	a := writeTempFile(t, dir, "a.bin", "identical payload")
	b := writeTempFile(t, dir, "b.bin", "identical payload")
	c := writeTempFile(t, dir, "c.bin", "different payload")

	fpA, sizeA, err := Fingerprint(a)
	require.NoError(t, err)
	fpB, _, err := Fingerprint(b)
	require.NoError(t, err)
	fpC, _, err := Fingerprint(c)
	require.NoError(t, err)

	assert.Equal(t, fpA, fpB)
	assert.NotEqual(t, fpA, fpC)
	assert.Equal(t, int64(len("identical payload")), sizeA)
	assert.Len(t, fpA, 64)

	_, _, err = Fingerprint(filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.Equal(t, common.CodeExtractionFailed, common.CodeOf(err))
	var ae *common.AppError
	assert.True(t, errors.As(err, &ae))
}
