package live

import (
	"sync"
	"testing"
	"time"
)

type broadcastLog struct {
	mu    sync.Mutex
	sends []bool
}

func (b *broadcastLog) record(isTyping bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends = append(b.sends, isTyping)
}

func (b *broadcastLog) snapshot() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool{}, b.sends...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestTypistEdgeBroadcasts(t *testing.T) {
	var b broadcastLog
	ty := NewTypist(40*time.Millisecond, b.record)
	defer ty.Close()

	// A burst of keystrokes is one start broadcast.
	for i := 0; i < 5; i++ {
		ty.Touch()
		time.Sleep(5 * time.Millisecond)
	}
	if got := b.snapshot(); len(got) != 1 || got[0] != true {
		t.Fatalf("sends after burst = %v, want [true]", got)
	}

	// Going idle fires exactly one stop.
	waitFor(t, time.Second, func() bool { return len(b.snapshot()) == 2 })
	if got := b.snapshot(); got[1] != false {
		t.Fatalf("sends = %v, want stop after idle", got)
	}

	// An explicit stop while already idle adds nothing.
	ty.Stop()
	time.Sleep(20 * time.Millisecond)
	if got := b.snapshot(); len(got) != 2 {
		t.Fatalf("sends = %v, want no extra stop", got)
	}
}

func TestTypistTouchExtendsIdle(t *testing.T) {
	var b broadcastLog
	ty := NewTypist(50*time.Millisecond, b.record)
	defer ty.Close()

	ty.Touch()
	// Keep touching past the original deadline; no stop may fire.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		ty.Touch()
	}
	if got := b.snapshot(); len(got) != 1 {
		t.Fatalf("sends while active = %v, want only the start", got)
	}
	waitFor(t, time.Second, func() bool { return len(b.snapshot()) == 2 })
}

func TestTypistStopFlushesOnce(t *testing.T) {
	var b broadcastLog
	ty := NewTypist(time.Minute, b.record)

	ty.Touch()
	ty.Stop()
	ty.Stop()
	ty.Close()
	if got := b.snapshot(); len(got) != 2 || got[0] != true || got[1] != false {
		t.Fatalf("sends = %v, want [true false]", got)
	}
}

func TestRosterApplyAndExpire(t *testing.T) {
	var mu sync.Mutex
	var changes [][]Presence
	r := NewRoster("self", 60*time.Millisecond, func(p []Presence) {
		mu.Lock()
		changes = append(changes, p)
		mu.Unlock()
	})
	defer r.Close()

	r.Apply(TypingEvent{UserID: "self", IsTyping: true})
	if len(r.List()) != 0 {
		t.Fatal("own typing event must be ignored")
	}

	r.Apply(TypingEvent{UserID: "u2", FullName: "Beth", IsTyping: true})
	r.Apply(TypingEvent{UserID: "u3", FullName: "Cole", IsTyping: true})
	got := r.List()
	if len(got) != 2 || got[0].UserID != "u2" || got[1].UserID != "u3" {
		t.Fatalf("roster = %+v, want u2 then u3 in arrival order", got)
	}

	// A repeat start refreshes expiry without a change notification.
	mu.Lock()
	before := len(changes)
	mu.Unlock()
	r.Apply(TypingEvent{UserID: "u2", IsTyping: true})
	mu.Lock()
	if len(changes) != before {
		t.Error("refresh produced a spurious change notification")
	}
	mu.Unlock()

	// Explicit stop removes immediately.
	r.Apply(TypingEvent{UserID: "u3", IsTyping: false})
	if got := r.List(); len(got) != 1 || got[0].UserID != "u2" {
		t.Fatalf("roster after stop = %+v, want only u2", got)
	}

	// The unrefreshed survivor expires on its own.
	waitFor(t, time.Second, func() bool { return len(r.List()) == 0 })
}

func TestRosterRefreshDefersExpiry(t *testing.T) {
	r := NewRoster("self", 50*time.Millisecond, nil)
	defer r.Close()

	r.Apply(TypingEvent{UserID: "u2", IsTyping: true})
	// Keep the entry alive well past the original ttl.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		r.Apply(TypingEvent{UserID: "u2", IsTyping: true})
	}
	if len(r.List()) != 1 {
		t.Fatal("refreshed entry expired early")
	}
	waitFor(t, time.Second, func() bool { return len(r.List()) == 0 })
}
