package queue

// ChangeKind identifies what mutated in the store.
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "ADDED"
	ChangeRemoved   ChangeKind = "REMOVED"
	ChangeUpdated   ChangeKind = "UPDATED"
	ChangeReordered ChangeKind = "REORDERED"
	ChangeCleared   ChangeKind = "CLEARED"
)

// Notification is emitted after every successful mutation. The store has no
// knowledge of its consumers; slow subscribers lose notifications rather than
// block mutations.
type Notification struct {
	Kind    ChangeKind
	Item    *Item // nil for CLEARED
	Removed int   // only for CLEARED
}

// Subscribe registers a notification channel. The returned cancel func must be
// called when the consumer goes away.
func (s *Store) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Notification, buffer)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// notify fans out without blocking. Callers hold s.mu.
func (s *Store) notify(n Notification) {
	for _, ch := range s.subs {
		select {
		case ch <- n:
		default:
		}
	}
}
