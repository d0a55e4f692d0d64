// Package queue implements the ordered work-item store the orchestrator pulls
// from. It owns every WorkItem: callers get copies and mutate only through
// store operations, which validate transitions and emit change notifications.
package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomasvik/docpipe/constants"
	"github.com/tomasvik/docpipe/internal/common"
)

// Item is one queued unit of processing referencing a source file.
type Item struct {
	ID           uuid.UUID
	Locator      string
	Priority     int // higher processes first
	Status       constants.ItemStatus
	EnqueuedAt   time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	ErrorCode    common.Code
	ErrorMessage string
}

// Store is the synchronized work-item collection. Slice order is enqueue
// order and doubles as the FIFO tiebreak; Reorder moves items within it.
type Store struct {
	mu        sync.Mutex
	items     []*Item
	subs      map[int]chan Notification
	nextSubID int
	logger    *slog.Logger
	now       func() time.Time
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		subs:   make(map[int]chan Notification),
		logger: logger,
		now:    time.Now,
	}
}

// Add appends a pending item. It fails with ErrDuplicateItem when the locator
// is already queued in a non-terminal status.
func (s *Store) Add(locator string, priority int) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.items {
		if it.Locator == locator && !it.Status.Terminal() {
			return Item{}, fmt.Errorf("add %q: %w", locator, common.ErrDuplicateItem)
		}
	}

	it := &Item{
		ID:         uuid.New(),
		Locator:    locator,
		Priority:   priority,
		Status:     constants.ItemPending,
		EnqueuedAt: s.now(),
	}
	s.items = append(s.items, it)
	s.logger.Debug("queue item added", "locator", locator, "priority", priority)
	s.notify(Notification{Kind: ChangeAdded, Item: copyItem(it)})
	return *it, nil
}

// BatchRequest is one entry for AddBatch.
type BatchRequest struct {
	Locator  string
	Priority int
}

// BatchResult reports the per-item outcome of AddBatch. Partial success is
// allowed; failed entries carry their error.
type BatchResult struct {
	Locator string
	Item    Item
	Err     error
}

// AddBatch adds each request independently.
func (s *Store) AddBatch(reqs []BatchRequest) []BatchResult {
	out := make([]BatchResult, 0, len(reqs))
	for _, r := range reqs {
		it, err := s.Add(r.Locator, r.Priority)
		out = append(out, BatchResult{Locator: r.Locator, Item: it, Err: err})
	}
	return out
}

// Remove deletes the item regardless of status. Like find, it addresses the
// live entry when a terminal run of the same locator is still in the store.
func (s *Store) Remove(locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.find(locator)
	if target == nil {
		return fmt.Errorf("remove %q: %w", locator, common.ErrNotFound)
	}
	for i, it := range s.items {
		if it == target {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	s.notify(Notification{Kind: ChangeRemoved, Item: copyItem(target)})
	return nil
}

// NextPending returns the highest-priority pending item; ties go to the item
// earliest in queue order. ErrQueueEmpty when nothing is pending.
func (s *Store) NextPending() (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Item
	for _, it := range s.items {
		if it.Status != constants.ItemPending {
			continue
		}
		if best == nil || it.Priority > best.Priority {
			best = it
		}
	}
	if best == nil {
		return Item{}, common.ErrQueueEmpty
	}
	return *best, nil
}

// UpdateStatus applies a validated transition and records timestamps plus
// error detail for failures.
func (s *Store) UpdateStatus(locator string, status constants.ItemStatus, errCode common.Code, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.find(locator)
	if it == nil {
		return fmt.Errorf("update %q: %w", locator, common.ErrNotFound)
	}
	if !constants.ValidTransition(it.Status, status) {
		return fmt.Errorf("update %q: %s -> %s: %w", locator, it.Status, status, common.ErrInvalidTransition)
	}

	it.Status = status
	switch {
	case status == constants.ItemProcessing:
		it.StartedAt = s.now()
	case status.Terminal():
		it.FinishedAt = s.now()
	case status == constants.ItemPending:
		// retry reset: wipe the previous attempt's outcome
		it.StartedAt = time.Time{}
		it.FinishedAt = time.Time{}
	}
	it.ErrorCode = errCode
	it.ErrorMessage = errMessage

	s.notify(Notification{Kind: ChangeUpdated, Item: copyItem(it)})
	return nil
}

// Reorder moves a pending item to newPos within the pending subsequence.
// Positions are clamped to the valid range.
func (s *Store) Reorder(locator string, newPos int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := -1
	pending := make([]int, 0, len(s.items)) // indexes of pending items, in order
	for i, it := range s.items {
		if it.Status != constants.ItemPending {
			continue
		}
		if it.Locator == locator {
			cur = len(pending)
		}
		pending = append(pending, i)
	}
	if cur == -1 {
		if s.find(locator) != nil {
			return fmt.Errorf("reorder %q: %w", locator, common.ErrNotPending)
		}
		return fmt.Errorf("reorder %q: %w", locator, common.ErrNotFound)
	}

	if newPos < 0 {
		newPos = 0
	}
	if newPos >= len(pending) {
		newPos = len(pending) - 1
	}
	if newPos == cur {
		return nil
	}

	// Move the item between pending slots; non-pending items keep their places.
	moved := s.items[pending[cur]]
	if newPos < cur {
		for i := cur; i > newPos; i-- {
			s.items[pending[i]] = s.items[pending[i-1]]
		}
	} else {
		for i := cur; i < newPos; i++ {
			s.items[pending[i]] = s.items[pending[i+1]]
		}
	}
	s.items[pending[newPos]] = moved

	s.notify(Notification{Kind: ChangeReordered, Item: copyItem(moved)})
	return nil
}

// MoveUp advances a pending item one slot toward the front.
func (s *Store) MoveUp(locator string) error {
	pos, err := s.pendingPosition(locator)
	if err != nil {
		return err
	}
	return s.Reorder(locator, pos-1)
}

// MoveDown pushes a pending item one slot toward the back.
func (s *Store) MoveDown(locator string) error {
	pos, err := s.pendingPosition(locator)
	if err != nil {
		return err
	}
	return s.Reorder(locator, pos+1)
}

// Clear removes all items, or only those matching filter when non-empty.
// Returns the number removed.
func (s *Store) Clear(filter constants.ItemStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if filter == "" {
		n := len(s.items)
		s.items = nil
		if n > 0 {
			s.notify(Notification{Kind: ChangeCleared, Removed: n})
		}
		return n
	}

	kept := s.items[:0]
	removed := 0
	for _, it := range s.items {
		if it.Status == filter {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	s.items = kept
	if removed > 0 {
		s.notify(Notification{Kind: ChangeCleared, Removed: removed})
	}
	return removed
}

// ResetFailed returns every failed item to pending for another attempt.
func (s *Store) ResetFailed() int {
	s.mu.Lock()
	locators := make([]string, 0)
	for _, it := range s.items {
		if it.Status == constants.ItemFailed {
			locators = append(locators, it.Locator)
		}
	}
	s.mu.Unlock()

	reset := 0
	for _, loc := range locators {
		if err := s.UpdateStatus(loc, constants.ItemPending, "", ""); err == nil {
			reset++
		}
	}
	return reset
}

// Statistics returns item counts per status.
func (s *Store) Statistics() map[constants.ItemStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[constants.ItemStatus]int)
	for _, it := range s.items {
		out[it.Status]++
	}
	return out
}

// Snapshot returns copies of all items in queue order.
func (s *Store) Snapshot() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Item, len(s.items))
	for i, it := range s.items {
		out[i] = *it
	}
	return out
}

// Get returns a copy of the item by locator.
func (s *Store) Get(locator string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it := s.find(locator); it != nil {
		return *it, nil
	}
	return Item{}, fmt.Errorf("get %q: %w", locator, common.ErrNotFound)
}

// find returns the live item for locator, preferring a non-terminal entry
// when a terminal run of the same locator is still in the store. Callers
// hold s.mu.
func (s *Store) find(locator string) *Item {
	var terminal *Item
	for _, it := range s.items {
		if it.Locator != locator {
			continue
		}
		if !it.Status.Terminal() {
			return it
		}
		if terminal == nil {
			terminal = it
		}
	}
	return terminal
}

func (s *Store) pendingPosition(locator string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := 0
	for _, it := range s.items {
		if it.Status != constants.ItemPending {
			continue
		}
		if it.Locator == locator {
			return pos, nil
		}
		pos++
	}
	if s.find(locator) != nil {
		return 0, fmt.Errorf("position %q: %w", locator, common.ErrNotPending)
	}
	return 0, fmt.Errorf("position %q: %w", locator, common.ErrNotFound)
}

func copyItem(it *Item) *Item {
	c := *it
	return &c
}
