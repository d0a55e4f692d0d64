package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tomasvik/docpipe/constants"
	"github.com/tomasvik/docpipe/internal/classify"
	"github.com/tomasvik/docpipe/internal/common"
	"github.com/tomasvik/docpipe/internal/entity"
	"github.com/tomasvik/docpipe/internal/extract"
	"github.com/tomasvik/docpipe/internal/queue"
	"github.com/tomasvik/docpipe/internal/review"
)

// Gateway is the persistence port the orchestrator drives. Both calls are
// backed by the same store so a fingerprint reported here is authoritative
// for deduplication.
type Gateway interface {
	HasFingerprint(ctx context.Context, fingerprint string) (bool, error)
	Save(ctx context.Context, result *entity.ProcessingResult) (uuid.UUID, error)
}

// Config tunes a single orchestrator instance.
type Config struct {
	Policy      Policy
	ExtractMode extract.Mode
	Language    string
	// IdlePoll bounds how long the run loop sleeps when the queue is empty
	// before re-checking for work.
	IdlePoll time.Duration
}

// Orchestrator owns the run loop. It processes exactly one item at a time
// and only consults its control flags between items, so pause and stop never
// interrupt an item mid-flight.
type Orchestrator struct {
	cfg        Config
	store      *queue.Store
	extractor  extract.Extractor
	classifier classify.Classifier
	gate       review.Gate
	gateway    Gateway
	bus        *Bus
	logger     *slog.Logger

	mu             sync.Mutex
	cond           *sync.Cond
	state          constants.RunState
	pauseRequested bool
	stopRequested  bool
	wake           chan struct{}
	done           chan struct{}
}

func NewOrchestrator(
	cfg Config,
	store *queue.Store,
	extractor extract.Extractor,
	classifier classify.Classifier,
	gate review.Gate,
	gateway Gateway,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IdlePoll <= 0 {
		cfg.IdlePoll = 2 * time.Second
	}
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		extractor:  extractor,
		classifier: classifier,
		gate:       gate,
		gateway:    gateway,
		bus:        NewBus(),
		logger:     logger,
		state:      constants.RunIdle,
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Events exposes the orchestrator's event bus for hosts to subscribe on.
func (o *Orchestrator) Events() *Bus { return o.bus }

// State reports the current run state.
func (o *Orchestrator) State() constants.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start launches the run loop. Valid from IDLE or STOPPED only; a second
// Start while a loop is live is an invalid transition.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != constants.RunIdle && o.state != constants.RunStopped {
		return common.NewAppError(common.CodeInvalidTransition,
			"start is only valid when idle or stopped", common.ErrInvalidTransition)
	}
	o.pauseRequested = false
	o.stopRequested = false
	o.wake = make(chan struct{}, 1)
	o.done = make(chan struct{})
	o.setStateLocked(constants.RunRunning)
	go o.run(ctx, o.wake, o.done)
	return nil
}

// Pause requests that processing halt after the in-flight item finishes. The
// state stays RUNNING until that item reaches a terminal status.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != constants.RunRunning {
		return common.NewAppError(common.CodeInvalidTransition,
			"pause is only valid while running", common.ErrInvalidTransition)
	}
	o.pauseRequested = true
	o.signalLocked()
	return nil
}

// Resume continues processing from PAUSED. It also withdraws a pause that was
// requested but not yet honored: the in-flight item is still being worked on,
// the state never left RUNNING, and the loop keeps pulling items.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != constants.RunPaused && !(o.state == constants.RunRunning && o.pauseRequested) {
		return common.NewAppError(common.CodeInvalidTransition,
			"resume is only valid while paused", common.ErrInvalidTransition)
	}
	o.pauseRequested = false
	if o.state == constants.RunPaused {
		o.setStateLocked(constants.RunRunning)
	}
	o.signalLocked()
	return nil
}

// Stop moves to STOPPING immediately, lets the in-flight item finish, then
// lands in STOPPED. There is no timeout; item work is never interrupted.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case constants.RunRunning, constants.RunPaused:
	default:
		return common.NewAppError(common.CodeInvalidTransition,
			"stop is only valid while running or paused", common.ErrInvalidTransition)
	}
	o.stopRequested = true
	o.setStateLocked(constants.RunStopping)
	o.signalLocked()
	return nil
}

// Wait blocks until the run loop has fully stopped or ctx expires.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryFailed re-enqueues every failed item and reports how many moved. It
// is valid in any run state.
func (o *Orchestrator) RetryFailed() int {
	n := o.store.ResetFailed()
	if n > 0 {
		o.mu.Lock()
		o.signalLocked()
		o.mu.Unlock()
	}
	return n
}

// Kick wakes an idle run loop, typically after new items were enqueued.
func (o *Orchestrator) Kick() {
	o.mu.Lock()
	o.signalLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) signalLocked() {
	o.cond.Broadcast()
	if o.wake != nil {
		select {
		case o.wake <- struct{}{}:
		default:
		}
	}
}

// setStateLocked updates the state and publishes the change. Callers hold
// o.mu.
func (o *Orchestrator) setStateLocked(s constants.RunState) {
	if o.state == s {
		return
	}
	o.state = s
	o.logger.Info("run_state_changed", "state", string(s))
	o.bus.publish(Event{Kind: EventStateChanged, State: s})
}

func (o *Orchestrator) run(ctx context.Context, wake chan struct{}, done chan struct{}) {
	defer func() {
		o.mu.Lock()
		o.setStateLocked(constants.RunStopped)
		o.mu.Unlock()
		close(done)
	}()

	for {
		o.mu.Lock()
		for o.pauseRequested && !o.stopRequested {
			o.setStateLocked(constants.RunPaused)
			o.cond.Wait()
		}
		if o.stopRequested || ctx.Err() != nil {
			o.mu.Unlock()
			return
		}
		if o.state != constants.RunRunning {
			o.setStateLocked(constants.RunRunning)
		}
		o.mu.Unlock()

		item, err := o.store.NextPending()
		if err != nil {
			if !errors.Is(err, common.ErrQueueEmpty) {
				o.logger.Error("next_pending_failed", "error", err)
			}
			select {
			case <-wake:
			case <-time.After(o.cfg.IdlePoll):
			case <-ctx.Done():
			}
			continue
		}

		o.processItem(ctx, item)
	}
}

// progress publishes the terminal/total counters derived from queue stats.
func (o *Orchestrator) progress(locator string) {
	stats := o.store.Statistics()
	total := 0
	terminal := 0
	for status, n := range stats {
		total += n
		if status.Terminal() {
			terminal += n
		}
	}
	o.bus.publish(Event{
		Kind:      EventProgress,
		Locator:   locator,
		Completed: terminal,
		Total:     total,
	})
}
