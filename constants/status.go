package constants

// ItemStatus is the canonical status for work items in the queue store.
type ItemStatus string

// Stable values (store these exact strings in DB and events).
const (
	ItemPending    ItemStatus = "PENDING"    // enqueued, waiting for the orchestrator
	ItemProcessing ItemStatus = "PROCESSING" // currently in the per-item pipeline
	ItemCompleted  ItemStatus = "COMPLETED"  // persisted successfully
	ItemFailed     ItemStatus = "FAILED"     // terminal failure, resettable via retry
	ItemSkipped    ItemStatus = "SKIPPED"    // duplicate content, nothing persisted
)

// Terminal reports whether s is one of the end states.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemCompleted, ItemFailed, ItemSkipped:
		return true
	}
	return false
}

// ValidTransition reports whether from -> to is a legal status change.
// Legal paths: PENDING -> PROCESSING -> {COMPLETED|FAILED|SKIPPED},
// plus FAILED -> PENDING for explicit retry.
func ValidTransition(from, to ItemStatus) bool {
	switch from {
	case ItemPending:
		return to == ItemProcessing
	case ItemProcessing:
		return to.Terminal()
	case ItemFailed:
		return to == ItemPending
	}
	return false
}

// RunState is the orchestrator's run state machine.
type RunState string

const (
	RunIdle     RunState = "IDLE"
	RunRunning  RunState = "RUNNING"
	RunPaused   RunState = "PAUSED"
	RunStopping RunState = "STOPPING"
	RunStopped  RunState = "STOPPED"
)
