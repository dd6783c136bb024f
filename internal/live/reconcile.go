package live

import (
	"sync"

	"tandem/api/internal/store"
)

// Outcome says what ApplyInsert did with a confirmed insert.
type Outcome int

const (
	// OutcomeDuplicate: the insert was already represented; nothing
	// changed.
	OutcomeDuplicate Outcome = iota
	// OutcomeSwapped: a matching provisional record was dropped and the
	// confirmed record took its place.
	OutcomeSwapped
	// OutcomeAppended: the insert was new and appended to the tail.
	OutcomeAppended
)

// List is the in-memory message list of one conversation view. Messages
// are kept in ascending creation order; appends (optimistic and
// confirmed) arrive in send order, so the list never re-sorts.
type List struct {
	mu   sync.Mutex
	msgs []store.Message
}

func NewList() *List {
	return &List{msgs: []store.Message{}}
}

// Reset replaces the whole list with a fetched snapshot.
func (l *List) Reset(msgs []store.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append([]store.Message{}, msgs...)
}

// Snapshot returns a copy of the current list.
func (l *List) Snapshot() []store.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]store.Message{}, l.msgs...)
}

func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.msgs)
}

func (l *List) Get(id string) (store.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m.ID == id {
			return m, true
		}
	}
	return store.Message{}, false
}

// Append adds a message at the tail.
func (l *List) Append(m store.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, m)
}

// Remove deletes a message by id. Used to roll back a provisional record
// whose create call failed.
func (l *List) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, m := range l.msgs {
		if m.ID == id {
			l.msgs = append(l.msgs[:i], l.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// Patch replaces a record in place by id, keeping its position. Returns
// false when the record is gone (conversation switched meanwhile); the
// caller drops the update silently.
func (l *List) Patch(full store.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, m := range l.msgs {
		if m.ID == full.ID {
			l.msgs[i] = full
			return true
		}
	}
	return false
}

// SetPinned flips the pin flag of a message in place.
func (l *List) SetPinned(id string, pinned bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, m := range l.msgs {
		if m.ID == id {
			l.msgs[i].IsPinned = pinned
			return true
		}
	}
	return false
}

// SetReactions replaces the reactions of a message in place.
func (l *List) SetReactions(id string, reactions []store.Reaction) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, m := range l.msgs {
		if m.ID == id {
			l.msgs[i].Reactions = reactions
			return true
		}
	}
	return false
}

// ApplyInsert reconciles a confirmed insert from the feed against the
// list:
//
//  1. An existing record with the same id means the event was delivered
//     twice; no-op.
//  2. A confirmed record with matching content/sender inside the dedupe
//     window also means a duplicate; no-op.
//  3. A provisional record matching inside the swap window is replaced
//     in place by the confirmed minimal record.
//  4. Otherwise the minimal record is appended as new.
//
// Swapped and appended outcomes leave a minimal record in the list; the
// caller schedules hydration for it. For a swap, the second return value
// is the id of the provisional record that was dropped.
func (l *List) ApplyInsert(in Insert, w Windows) (Outcome, string) {
	w = w.withDefaults()
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range l.msgs {
		if m.ID == in.ID {
			return OutcomeDuplicate, ""
		}
	}
	for _, m := range l.msgs {
		if !IsProvisionalID(m.ID) && Matches(m, in, w.Dedupe) {
			return OutcomeDuplicate, ""
		}
	}

	for i, m := range l.msgs {
		if IsProvisionalID(m.ID) && Matches(m, in, w.Swap) {
			// At most one provisional/confirmed pairing per logical
			// send: replace the first match only.
			confirmed := minimalMessage(in)
			confirmed.Sender = m.Sender
			l.msgs[i] = confirmed
			return OutcomeSwapped, m.ID
		}
	}

	l.msgs = append(l.msgs, minimalMessage(in))
	return OutcomeAppended, ""
}
