package live

import (
	"testing"
	"time"

	"tandem/api/internal/store"
)

func confirmedInsert(id, sender, content string, at time.Time) Insert {
	return Insert{
		ID:        id,
		ChannelID: "chan-1",
		SenderID:  sender,
		Content:   content,
		CreatedAt: at,
	}
}

func TestMatches(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	existing := store.Message{SenderID: "u1", Content: "hello", CreatedAt: base}

	tests := []struct {
		name string
		in   Insert
		want bool
	}{
		{"exact", confirmedInsert("m1", "u1", "hello", base), true},
		{"within window", confirmedInsert("m1", "u1", "hello", base.Add(4*time.Second)), true},
		{"insert earlier", confirmedInsert("m1", "u1", "hello", base.Add(-4*time.Second)), true},
		{"outside window", confirmedInsert("m1", "u1", "hello", base.Add(6*time.Second)), false},
		{"different content", confirmedInsert("m1", "u1", "hello!", base), false},
		{"different sender", confirmedInsert("m1", "u2", "hello", base), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(existing, tt.in, 5*time.Second); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProvisionalIDs(t *testing.T) {
	id := NewProvisionalID()
	if !IsProvisionalID(id) {
		t.Errorf("%q not recognized as provisional", id)
	}
	if IsConfirmedID(id) {
		t.Errorf("%q passes as confirmed", id)
	}
	if id == NewProvisionalID() {
		t.Error("two provisional ids collided")
	}
	if !IsConfirmedID("7b29f1f6-3a33-4d0e-9a2a-6a1b2c3d4e5f") {
		t.Error("uuid rejected as confirmed id")
	}
	if IsConfirmedID("not-a-uuid") {
		t.Error("junk accepted as confirmed id")
	}
}

// The canonical send round trip: the provisional record is replaced in
// place by the confirmation and the list length never changes.
func TestApplyInsertSwapsProvisional(t *testing.T) {
	now := time.Now().UTC()
	l := NewList()
	l.Reset([]store.Message{
		{ID: "aaaaaaaa-0000-0000-0000-000000000001", SenderID: "u2", Content: "earlier", CreatedAt: now.Add(-time.Minute)},
	})

	provisional := store.Message{
		ID:        NewProvisionalID(),
		SenderID:  "u1",
		Content:   "hello",
		CreatedAt: now,
		Sender:    store.Profile{ID: "u1", FullName: "Uma One"},
	}
	l.Append(provisional)

	in := confirmedInsert("bbbbbbbb-0000-0000-0000-000000000002", "u1", "hello", now.Add(300*time.Millisecond))
	outcome, removed := l.ApplyInsert(in, DefaultWindows())
	if outcome != OutcomeSwapped {
		t.Fatalf("outcome = %v, want swapped", outcome)
	}
	if removed != provisional.ID {
		t.Fatalf("removed = %q, want the provisional id", removed)
	}

	msgs := l.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	got := msgs[1]
	if got.ID != in.ID {
		t.Errorf("id = %q, want confirmed id", got.ID)
	}
	if got.Sender.FullName != "Uma One" {
		t.Error("sender display data lost in the swap")
	}
	for _, m := range msgs {
		if IsProvisionalID(m.ID) {
			t.Errorf("provisional record %q survived the swap", m.ID)
		}
	}
}

func TestApplyInsertDuplicates(t *testing.T) {
	now := time.Now().UTC()
	l := NewList()
	l.Reset([]store.Message{
		{ID: "cccccccc-0000-0000-0000-000000000003", SenderID: "u1", Content: "hello", CreatedAt: now},
	})

	// Same id redelivered.
	if outcome, _ := l.ApplyInsert(confirmedInsert("cccccccc-0000-0000-0000-000000000003", "u1", "hello", now), DefaultWindows()); outcome != OutcomeDuplicate {
		t.Fatalf("same-id outcome = %v, want duplicate", outcome)
	}
	// Different id, same content/sender inside the dedupe window.
	if outcome, _ := l.ApplyInsert(confirmedInsert("dddddddd-0000-0000-0000-000000000004", "u1", "hello", now.Add(time.Second)), DefaultWindows()); outcome != OutcomeDuplicate {
		t.Fatalf("near-dup outcome = %v, want duplicate", outcome)
	}
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
}

func TestApplyInsertAppendsUnmatched(t *testing.T) {
	now := time.Now().UTC()
	l := NewList()

	in := confirmedInsert("eeeeeeee-0000-0000-0000-000000000005", "u2", "from someone else", now)
	outcome, _ := l.ApplyInsert(in, DefaultWindows())
	if outcome != OutcomeAppended {
		t.Fatalf("outcome = %v, want appended", outcome)
	}
	msgs := l.Snapshot()
	if len(msgs) != 1 || msgs[0].ID != in.ID {
		t.Fatalf("unexpected list after append: %+v", msgs)
	}
	if msgs[0].Reactions == nil || msgs[0].Attachments == nil {
		t.Error("minimal record missing empty relational slices")
	}
}

func TestApplyInsertOutsideSwapWindow(t *testing.T) {
	now := time.Now().UTC()
	l := NewList()
	l.Append(store.Message{ID: NewProvisionalID(), SenderID: "u1", Content: "hello", CreatedAt: now.Add(-time.Minute)})

	outcome, _ := l.ApplyInsert(confirmedInsert("ffffffff-0000-0000-0000-000000000006", "u1", "hello", now), DefaultWindows())
	if outcome != OutcomeAppended {
		t.Fatalf("outcome = %v, want appended (stale provisional must not pair)", outcome)
	}
	if l.Len() != 2 {
		t.Fatalf("len = %d, want 2", l.Len())
	}
}

func TestListRemoveAndPatch(t *testing.T) {
	l := NewList()
	id := NewProvisionalID()
	l.Append(store.Message{ID: id, SenderID: "u1", Content: "doomed"})

	if !l.Remove(id) {
		t.Fatal("remove reported missing record")
	}
	if l.Remove(id) {
		t.Fatal("second remove reported success")
	}
	// Patching a record that is gone is a silent no-op.
	if l.Patch(store.Message{ID: id, Content: "late hydration"}) {
		t.Fatal("patch applied to a removed record")
	}
	if l.Len() != 0 {
		t.Fatalf("len = %d, want 0", l.Len())
	}
}

func TestListSetPinnedAndReactions(t *testing.T) {
	l := NewList()
	l.Append(store.Message{ID: "11111111-0000-0000-0000-000000000007", SenderID: "u1", Content: "pin me"})

	if !l.SetPinned("11111111-0000-0000-0000-000000000007", true) {
		t.Fatal("SetPinned missed the record")
	}
	if msg, _ := l.Get("11111111-0000-0000-0000-000000000007"); !msg.IsPinned {
		t.Error("pin flag not set")
	}
	if l.SetPinned("nope", true) {
		t.Error("SetPinned matched a missing record")
	}

	reactions := []store.Reaction{{MessageID: "11111111-0000-0000-0000-000000000007", UserID: "u2", Emoji: "👍"}}
	if !l.SetReactions("11111111-0000-0000-0000-000000000007", reactions) {
		t.Fatal("SetReactions missed the record")
	}
	if msg, _ := l.Get("11111111-0000-0000-0000-000000000007"); len(msg.Reactions) != 1 {
		t.Error("reactions not replaced")
	}
}
