package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"tandem/api/internal/realtime"
	"tandem/api/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	channel   map[string][]store.Message
	dm        map[string][]store.Message
	full      map[string]store.Message
	reactions map[string][]store.Reaction
	reads     map[string][]store.ReadReceipt
	insertErr error
	inserted  []store.Message
	listErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		channel:   make(map[string][]store.Message),
		dm:        make(map[string][]store.Message),
		full:      make(map[string]store.Message),
		reactions: make(map[string][]store.Reaction),
		reads:     make(map[string][]store.ReadReceipt),
	}
}

func (f *fakeStore) ListChannelMessages(ctx context.Context, channelID string, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]store.Message{}, f.channel[channelID]...), nil
}

func (f *fakeStore) ListDMMessages(ctx context.Context, dmID string, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]store.Message{}, f.dm[dmID]...), nil
}

func (f *fakeStore) GetMessage(ctx context.Context, messageID string) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.full[messageID]; ok {
		return m, nil
	}
	return store.Message{}, store.ErrNotFound
}

func (f *fakeStore) InsertMessage(ctx context.Context, channelID, dmID, senderID, content string) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return store.Message{}, f.insertErr
	}
	m := store.Message{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		DMID:      dmID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	f.inserted = append(f.inserted, m)
	return m, nil
}

func (f *fakeStore) ListReactions(ctx context.Context, messageID string) ([]store.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Reaction{}, f.reactions[messageID]...), nil
}

func (f *fakeStore) ListReads(ctx context.Context, messageID string) ([]store.ReadReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.ReadReceipt{}, f.reads[messageID]...), nil
}

func testWindows() Windows {
	return Windows{
		Dedupe:      5 * time.Second,
		Swap:        10 * time.Second,
		TypingIdle:  60 * time.Millisecond,
		PresenceTTL: 80 * time.Millisecond,
		Settle:      time.Millisecond,
	}
}

func setupSession(t *testing.T, st *fakeStore, userID string) (*Session, *realtime.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	feed, err := realtime.New("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("realtime client: %v", err)
	}
	t.Cleanup(func() { feed.Close() })
	return setupSessionOn(t, feed, st, userID), feed
}

func setupSessionOn(t *testing.T, feed *realtime.Client, st *fakeStore, userID string) *Session {
	t.Helper()
	s := NewSession(SessionConfig{
		UserID:  userID,
		Profile: store.Profile{ID: userID, FullName: "User " + userID, Email: userID + "@example.com"},
		Store:   st,
		Feed:    feed,
		Windows: testWindows(),
	})
	t.Cleanup(s.Close)
	return s
}

// nextDelta waits for the next delta of the given type, discarding
// others.
func nextDelta(t *testing.T, s *Session, want DeltaType) Delta {
	t.Helper()
	for {
		select {
		case d := <-s.Deltas():
			if d.Type == want {
				return d
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s delta", want)
		}
	}
}

func expectNoDelta(t *testing.T, s *Session, wait time.Duration, reject ...DeltaType) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case d := <-s.Deltas():
			for _, r := range reject {
				if d.Type == r {
					t.Fatalf("unexpected %s delta: %+v", d.Type, d)
				}
			}
		case <-deadline:
			return
		}
	}
}

func publishInsert(t *testing.T, feed *realtime.Client, key Key, m store.Message) {
	t.Helper()
	row, err := json.Marshal(Insert{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		DMID:      m.DMID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	})
	if err != nil {
		t.Fatalf("marshal insert: %v", err)
	}
	ev := realtime.Event{
		Table:  "messages",
		Action: realtime.ActionInsert,
		Match:  realtime.Match{Column: key.FilterColumn(), Value: key.ID},
		Row:    row,
	}
	if err := feed.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish insert: %v", err)
	}
}

func publishAux(t *testing.T, feed *realtime.Client, key Key, table string, action realtime.Action, messageID string) {
	t.Helper()
	row, _ := json.Marshal(map[string]string{"message_id": messageID})
	ev := realtime.Event{
		Table:  table,
		Action: action,
		Match:  realtime.Match{Column: "conversation", Value: key.String()},
		Row:    row,
	}
	if err := feed.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish %s: %v", table, err)
	}
}

func TestSessionBindSnapshot(t *testing.T) {
	st := newFakeStore()
	st.channel["chan-1"] = []store.Message{
		{ID: uuid.NewString(), ChannelID: "chan-1", SenderID: "u2", Content: "first"},
		{ID: uuid.NewString(), ChannelID: "chan-1", SenderID: "u3", Content: "second"},
	}
	s, _ := setupSession(t, st, "u1")

	if err := s.Bind(context.Background(), ChannelKey("chan-1")); err != nil {
		t.Fatalf("bind: %v", err)
	}
	d := nextDelta(t, s, DeltaSnapshot)
	if len(d.Messages) != 2 {
		t.Fatalf("snapshot len = %d, want 2", len(d.Messages))
	}
	if s.Key() != ChannelKey("chan-1") {
		t.Fatalf("key = %v", s.Key())
	}
}

func TestSessionBindFetchFailureDegrades(t *testing.T) {
	st := newFakeStore()
	st.listErr = errors.New("db down")
	s, _ := setupSession(t, st, "u1")

	if err := s.Bind(context.Background(), ChannelKey("chan-1")); err != nil {
		t.Fatalf("bind must not fail on a fetch error: %v", err)
	}
	d := nextDelta(t, s, DeltaSnapshot)
	if len(d.Messages) != 0 {
		t.Fatalf("snapshot len = %d, want empty", len(d.Messages))
	}
}

// The full optimistic round trip: exactly one record per send, before
// and after confirmation, and the confirmation replaces the provisional
// record without growing the list.
func TestSessionSendAndSwap(t *testing.T) {
	st := newFakeStore()
	key := ChannelKey("chan-1")
	s, feed := setupSession(t, st, "u1")

	if err := s.Bind(context.Background(), key); err != nil {
		t.Fatalf("bind: %v", err)
	}
	nextDelta(t, s, DeltaSnapshot)

	confirmed, err := s.Send(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	d := nextDelta(t, s, DeltaAppend)
	if !IsProvisionalID(d.Message.ID) {
		t.Fatalf("first append id = %q, want provisional", d.Message.ID)
	}
	if d.Message.Sender.FullName != "User u1" {
		t.Error("provisional record missing local sender profile")
	}
	if s.List().Len() != 1 {
		t.Fatalf("len after send = %d, want 1", s.List().Len())
	}

	publishInsert(t, feed, key, confirmed)

	r := nextDelta(t, s, DeltaReplace)
	if r.RemovedID != d.Message.ID {
		t.Fatalf("replace removed %q, want the provisional id", r.RemovedID)
	}
	if r.Message.ID != confirmed.ID {
		t.Fatalf("replace carries %q, want confirmed id", r.Message.ID)
	}

	msgs := s.List().Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("len after confirmation = %d, want 1", len(msgs))
	}
	if IsProvisionalID(msgs[0].ID) {
		t.Fatal("provisional record survived confirmation")
	}
}

func TestSessionSendRollback(t *testing.T) {
	st := newFakeStore()
	st.insertErr = errors.New("insert rejected")
	s, _ := setupSession(t, st, "u1")

	if err := s.Bind(context.Background(), ChannelKey("chan-1")); err != nil {
		t.Fatalf("bind: %v", err)
	}
	nextDelta(t, s, DeltaSnapshot)

	if _, err := s.Send(context.Background(), "doomed", nil); err == nil {
		t.Fatal("send must fail when the insert fails")
	}
	d := nextDelta(t, s, DeltaAppend)
	r := nextDelta(t, s, DeltaRemove)
	if r.RemovedID != d.Message.ID {
		t.Fatalf("remove %q, want the appended provisional %q", r.RemovedID, d.Message.ID)
	}
	if s.List().Len() != 0 {
		t.Fatalf("len after rollback = %d, want 0", s.List().Len())
	}
}

func TestSessionSendAttachFailureRollsBack(t *testing.T) {
	st := newFakeStore()
	s, _ := setupSession(t, st, "u1")

	if err := s.Bind(context.Background(), ChannelKey("chan-1")); err != nil {
		t.Fatalf("bind: %v", err)
	}
	nextDelta(t, s, DeltaSnapshot)

	attach := func(ctx context.Context, messageID string) error {
		return errors.New("upload failed")
	}
	if _, err := s.Send(context.Background(), "with file", attach); err == nil {
		t.Fatal("send must fail when the attachment fails")
	}
	nextDelta(t, s, DeltaRemove)
	if s.List().Len() != 0 {
		t.Fatalf("len = %d, want 0", s.List().Len())
	}
}

func TestSessionSendValidation(t *testing.T) {
	st := newFakeStore()
	s, _ := setupSession(t, st, "u1")

	if _, err := s.Send(context.Background(), "hi", nil); !errors.Is(err, ErrNotBound) {
		t.Fatalf("unbound send error = %v, want ErrNotBound", err)
	}
	if err := s.Bind(context.Background(), ChannelKey("chan-1")); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := s.Send(context.Background(), "   ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("empty send error = %v, want ErrEmptyMessage", err)
	}
	// Attachment-only sends are allowed.
	attach := func(ctx context.Context, messageID string) error { return nil }
	if _, err := s.Send(context.Background(), "", attach); err != nil {
		t.Fatalf("attachment-only send: %v", err)
	}
}

func TestSessionDiscardsForeignConversation(t *testing.T) {
	st := newFakeStore()
	key := ChannelKey("chan-1")
	s, feed := setupSession(t, st, "u1")

	if err := s.Bind(context.Background(), key); err != nil {
		t.Fatalf("bind: %v", err)
	}
	nextDelta(t, s, DeltaSnapshot)

	// A confirmation whose row names another conversation must not
	// touch the list, even if it arrives on this key's topic.
	stray := store.Message{ID: uuid.NewString(), ChannelID: "chan-other", SenderID: "u2", Content: "stray", CreatedAt: time.Now().UTC()}
	row, _ := json.Marshal(Insert{ID: stray.ID, ChannelID: stray.ChannelID, SenderID: stray.SenderID, Content: stray.Content, CreatedAt: stray.CreatedAt})
	ev := realtime.Event{
		Table:  "messages",
		Action: realtime.ActionInsert,
		Match:  realtime.Match{Column: key.FilterColumn(), Value: key.ID},
		Row:    row,
	}
	if err := feed.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	expectNoDelta(t, s, 150*time.Millisecond, DeltaAppend, DeltaReplace)
	if s.List().Len() != 0 {
		t.Fatalf("len = %d, want 0", s.List().Len())
	}
}

func TestSessionRebindDropsStaleEvents(t *testing.T) {
	st := newFakeStore()
	keyA := ChannelKey("chan-a")
	keyB := ChannelKey("chan-b")
	s, feed := setupSession(t, st, "u1")

	if err := s.Bind(context.Background(), keyA); err != nil {
		t.Fatalf("bind A: %v", err)
	}
	nextDelta(t, s, DeltaSnapshot)
	if err := s.Bind(context.Background(), keyB); err != nil {
		t.Fatalf("bind B: %v", err)
	}
	nextDelta(t, s, DeltaSnapshot)

	// Traffic on the old conversation no longer reaches the view.
	m := store.Message{ID: uuid.NewString(), ChannelID: keyA.ID, SenderID: "u2", Content: "late", CreatedAt: time.Now().UTC()}
	publishInsert(t, feed, keyA, m)

	expectNoDelta(t, s, 150*time.Millisecond, DeltaAppend, DeltaReplace)
	if s.List().Len() != 0 {
		t.Fatalf("len = %d, want 0", s.List().Len())
	}
}

func TestSessionRemoteInsertAndHydration(t *testing.T) {
	st := newFakeStore()
	key := ChannelKey("chan-1")
	s, feed := setupSession(t, st, "u1")

	remote := store.Message{ID: uuid.NewString(), ChannelID: key.ID, SenderID: "u2", Content: "from elsewhere", CreatedAt: time.Now().UTC()}
	full := remote
	full.Sender = store.Profile{ID: "u2", FullName: "Beth Example"}
	full.ReplyCount = 3
	st.mu.Lock()
	st.full[remote.ID] = full
	st.mu.Unlock()

	if err := s.Bind(context.Background(), key); err != nil {
		t.Fatalf("bind: %v", err)
	}
	nextDelta(t, s, DeltaSnapshot)

	publishInsert(t, feed, key, remote)

	a := nextDelta(t, s, DeltaAppend)
	if a.Message.ID != remote.ID {
		t.Fatalf("append id = %q", a.Message.ID)
	}
	p := nextDelta(t, s, DeltaPatch)
	if p.Message.Sender.FullName != "Beth Example" || p.Message.ReplyCount != 3 {
		t.Fatalf("hydrated record incomplete: %+v", p.Message)
	}
	if s.List().Len() != 1 {
		t.Fatalf("len = %d, want 1", s.List().Len())
	}
}

func TestSessionPinPropagation(t *testing.T) {
	st := newFakeStore()
	key := ChannelKey("chan-1")
	msg := store.Message{ID: uuid.NewString(), ChannelID: key.ID, SenderID: "u2", Content: "important"}
	st.channel[key.ID] = []store.Message{msg}
	s, feed := setupSession(t, st, "u1")

	if err := s.Bind(context.Background(), key); err != nil {
		t.Fatalf("bind: %v", err)
	}
	nextDelta(t, s, DeltaSnapshot)

	publishAux(t, feed, key, "pinned_messages", realtime.ActionInsert, msg.ID)
	d := nextDelta(t, s, DeltaPatch)
	if !d.Message.IsPinned {
		t.Fatal("pin flag not set by the feed event")
	}

	publishAux(t, feed, key, "pinned_messages", realtime.ActionDelete, msg.ID)
	d = nextDelta(t, s, DeltaPatch)
	if d.Message.IsPinned {
		t.Fatal("pin flag not cleared by the delete event")
	}
}

func TestSessionReactionRefresh(t *testing.T) {
	st := newFakeStore()
	key := ChannelKey("chan-1")
	msg := store.Message{ID: uuid.NewString(), ChannelID: key.ID, SenderID: "u2", Content: "react to me"}
	st.channel[key.ID] = []store.Message{msg}
	st.reactions[msg.ID] = []store.Reaction{{MessageID: msg.ID, UserID: "u3", Emoji: "🎉"}}
	s, feed := setupSession(t, st, "u1")

	if err := s.Bind(context.Background(), key); err != nil {
		t.Fatalf("bind: %v", err)
	}
	nextDelta(t, s, DeltaSnapshot)

	sub, cancel := s.Demux().Subscribe(msg.ID)
	defer cancel()

	publishAux(t, feed, key, "message_reactions", realtime.ActionInsert, msg.ID)

	d := nextDelta(t, s, DeltaPatch)
	if len(d.Message.Reactions) != 1 || d.Message.Reactions[0].Emoji != "🎉" {
		t.Fatalf("patched reactions = %+v", d.Message.Reactions)
	}
	select {
	case ev := <-sub:
		if ev.Table != "message_reactions" {
			t.Fatalf("demux table = %q", ev.Table)
		}
	case <-time.After(time.Second):
		t.Fatal("demux listener got nothing")
	}
}

func TestSessionReadReceipts(t *testing.T) {
	st := newFakeStore()
	key := ChannelKey("chan-1")
	msg := store.Message{ID: uuid.NewString(), ChannelID: key.ID, SenderID: "u1", Content: "read me"}
	st.channel[key.ID] = []store.Message{msg}
	st.reads[msg.ID] = []store.ReadReceipt{{MessageID: msg.ID, UserID: "u2"}}
	s, feed := setupSession(t, st, "u1")

	if err := s.Bind(context.Background(), key); err != nil {
		t.Fatalf("bind: %v", err)
	}
	nextDelta(t, s, DeltaSnapshot)

	publishAux(t, feed, key, "message_reads", realtime.ActionInsert, msg.ID)
	d := nextDelta(t, s, DeltaReceipts)
	if d.MessageID != msg.ID || len(d.Receipts) != 1 || d.Receipts[0].UserID != "u2" {
		t.Fatalf("receipts delta = %+v", d)
	}
}

func TestSessionTypingRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	feed, err := realtime.New("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("realtime client: %v", err)
	}
	t.Cleanup(func() { feed.Close() })

	st := newFakeStore()
	key := ChannelKey("chan-1")
	alice := setupSessionOn(t, feed, st, "alice")
	bob := setupSessionOn(t, feed, st, "bob")

	for _, s := range []*Session{alice, bob} {
		if err := s.Bind(context.Background(), key); err != nil {
			t.Fatalf("bind: %v", err)
		}
		nextDelta(t, s, DeltaSnapshot)
	}

	alice.Typing()
	d := nextDelta(t, bob, DeltaTyping)
	if len(d.Typing) != 1 || d.Typing[0].UserID != "alice" {
		t.Fatalf("typing set = %+v, want alice", d.Typing)
	}
	// The broadcaster never reflects the sender's own typing back.
	expectNoDelta(t, alice, 50*time.Millisecond, DeltaTyping)

	// After the idle window the stop broadcast clears the indicator.
	d = nextDelta(t, bob, DeltaTyping)
	if len(d.Typing) != 0 {
		t.Fatalf("typing set after idle = %+v, want empty", d.Typing)
	}
}

func TestSessionTypingExpiresWithoutStop(t *testing.T) {
	mr := miniredis.RunT(t)
	feed, err := realtime.New("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("realtime client: %v", err)
	}
	t.Cleanup(func() { feed.Close() })

	st := newFakeStore()
	key := ChannelKey("chan-1")
	bob := setupSessionOn(t, feed, st, "bob")
	if err := bob.Bind(context.Background(), key); err != nil {
		t.Fatalf("bind: %v", err)
	}
	nextDelta(t, bob, DeltaSnapshot)

	// A raw start with no stop ever arriving. The roster expires it.
	err = feed.Broadcast(context.Background(), key.String(), TypingEvent{UserID: "ghost", FullName: "Ghost", IsTyping: true})
	if err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	d := nextDelta(t, bob, DeltaTyping)
	if len(d.Typing) != 1 {
		t.Fatalf("typing set = %+v", d.Typing)
	}
	d = nextDelta(t, bob, DeltaTyping)
	if len(d.Typing) != 0 {
		t.Fatalf("ghost indicator not expired: %+v", d.Typing)
	}
}

func TestSessionCloseStopsEverything(t *testing.T) {
	st := newFakeStore()
	s, _ := setupSession(t, st, "u1")
	if err := s.Bind(context.Background(), ChannelKey("chan-1")); err != nil {
		t.Fatalf("bind: %v", err)
	}
	s.Close()
	s.Close() // idempotent

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
	if err := s.Bind(context.Background(), ChannelKey("chan-2")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("bind after close = %v, want ErrSessionClosed", err)
	}
	if s.Manager().State() != StateIdle {
		t.Fatalf("manager state = %v, want idle", s.Manager().State())
	}
}
