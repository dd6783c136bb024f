package live

import (
	"sync"
	"time"

	"tandem/api/internal/telemetry"
)

// TypingEvent is the ephemeral payload broadcast while a user types.
// Never persisted.
type TypingEvent struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	IsTyping bool   `json:"is_typing"`
}

// Presence is one remote user currently typing.
type Presence struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// Typist is the local side of the presence broadcaster: Idle until
// Touch, then Typing until idle-timeout or an explicit Stop. The start
// broadcast fires only on the Idle→Typing edge; the stop broadcast fires
// exactly once per episode.
type Typist struct {
	mu     sync.Mutex
	typing bool
	closed bool
	timer  *time.Timer
	idle   time.Duration
	send   func(isTyping bool)
}

// NewTypist creates a local typist. send is invoked outside the typist's
// lock and must not call back in.
func NewTypist(idle time.Duration, send func(isTyping bool)) *Typist {
	if idle <= 0 {
		idle = DefaultWindows().TypingIdle
	}
	return &Typist{idle: idle, send: send}
}

// Touch records keystroke activity: broadcasts a start on the first call
// of an episode and resets the inactivity timer on every call.
func (t *Typist) Touch() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	start := !t.typing
	t.typing = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, t.timeout)
	t.mu.Unlock()

	if start {
		t.send(true)
	}
}

func (t *Typist) timeout() {
	t.mu.Lock()
	stop := t.typing && !t.closed
	t.typing = false
	t.mu.Unlock()

	if stop {
		t.send(false)
	}
}

// Stop broadcasts an immediate stop if currently typing (e.g. the
// message was sent) and cancels the inactivity timer.
func (t *Typist) Stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	stop := t.typing && !t.closed
	t.typing = false
	t.mu.Unlock()

	if stop {
		t.send(false)
	}
}

// Close flushes a final stop and disables the typist. Always called on
// unmount so no ghost typing indicator outlives the session.
func (t *Typist) Close() {
	t.Stop()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

type rosterEntry struct {
	presence Presence
	expiry   *time.Timer
}

// Roster is the remote side: the set of other users currently typing.
// Entries expire ttl after their most recent start event, so a lost stop
// event cannot strand a ghost indicator. The session's own user is never
// tracked.
type Roster struct {
	mu       sync.Mutex
	selfID   string
	ttl      time.Duration
	order    []string
	entries  map[string]*rosterEntry
	onChange func([]Presence)
}

// NewRoster creates a presence roster. onChange receives the new set
// after every mutation, outside the roster's lock.
func NewRoster(selfID string, ttl time.Duration, onChange func([]Presence)) *Roster {
	if ttl <= 0 {
		ttl = DefaultWindows().PresenceTTL
	}
	return &Roster{
		selfID:   selfID,
		ttl:      ttl,
		entries:  make(map[string]*rosterEntry),
		onChange: onChange,
	}
}

// Apply folds one typing event into the set.
func (r *Roster) Apply(ev TypingEvent) {
	if ev.UserID == "" || ev.UserID == r.selfID {
		return
	}

	r.mu.Lock()
	changed := false
	if ev.IsTyping {
		entry, ok := r.entries[ev.UserID]
		if !ok {
			entry = &rosterEntry{presence: Presence{UserID: ev.UserID, FullName: ev.FullName, Email: ev.Email}}
			r.entries[ev.UserID] = entry
			r.order = append(r.order, ev.UserID)
			changed = true
		}
		if entry.expiry != nil {
			entry.expiry.Stop()
		}
		userID := ev.UserID
		entry.expiry = time.AfterFunc(r.ttl, func() { r.expire(userID) })
	} else {
		changed = r.removeLocked(ev.UserID)
	}
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if changed && r.onChange != nil {
		r.onChange(snapshot)
	}
}

func (r *Roster) expire(userID string) {
	r.mu.Lock()
	changed := r.removeLocked(userID)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if changed {
		telemetry.PresenceExpiries.Inc()
	}
	if changed && r.onChange != nil {
		r.onChange(snapshot)
	}
}

func (r *Roster) removeLocked(userID string) bool {
	entry, ok := r.entries[userID]
	if !ok {
		return false
	}
	if entry.expiry != nil {
		entry.expiry.Stop()
	}
	delete(r.entries, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Roster) snapshotLocked() []Presence {
	out := make([]Presence, 0, len(r.order))
	for _, id := range r.order {
		if entry, ok := r.entries[id]; ok {
			out = append(out, entry.presence)
		}
	}
	return out
}

// List returns the users currently typing, in arrival order.
func (r *Roster) List() []Presence {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Close cancels all expiry timers and empties the set.
func (r *Roster) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.expiry != nil {
			entry.expiry.Stop()
		}
	}
	r.entries = make(map[string]*rosterEntry)
	r.order = nil
}
