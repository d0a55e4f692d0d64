package pipeline

import (
	"sync"

	"github.com/tomasvik/docpipe/constants"
	"github.com/tomasvik/docpipe/internal/common"
	"github.com/tomasvik/docpipe/internal/entity"
)

// EventKind classifies lifecycle and progress events.
type EventKind string

const (
	EventStateChanged EventKind = "STATE_CHANGED"
	EventItemStarted  EventKind = "ITEM_STARTED"
	EventItemFinished EventKind = "ITEM_FINISHED"
	EventProgress     EventKind = "PROGRESS"
	// EventReviewResolved is published once per review round-trip, carrying
	// the verdict the gate returned.
	EventReviewResolved EventKind = "REVIEW_RESOLVED"
	// EventEnvironment signals a failure the host should treat as blocking
	// (storage unwritable, service down). The orchestrator keeps running;
	// hosts are expected to pause or stop on it.
	EventEnvironment EventKind = "ENVIRONMENT"
)

// Event is what hosts receive on the subscription channel.
type Event struct {
	Kind      EventKind
	State     constants.RunState
	Locator   string
	Status    constants.ItemStatus
	Code      common.Code
	Message   string
	Verdict   entity.Verdict // set on REVIEW_RESOLVED
	Completed int            // items in a terminal status
	Total     int            // all items currently known to the queue
}

// Bus fans events out to subscribers without blocking the pipeline. Slow
// subscribers lose events rather than stall processing.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bus) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
