package live

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tandem/api/internal/realtime"
	"tandem/api/internal/store"
	"tandem/api/internal/telemetry"
)

var (
	ErrEmptyMessage  = errors.New("message has no content and no attachment")
	ErrNotBound      = errors.New("no conversation bound")
	ErrSessionClosed = errors.New("session closed")
)

// Store is the row-store capability the session consumes.
type Store interface {
	ListChannelMessages(ctx context.Context, channelID string, limit int) ([]store.Message, error)
	ListDMMessages(ctx context.Context, dmID string, limit int) ([]store.Message, error)
	GetMessage(ctx context.Context, messageID string) (store.Message, error)
	InsertMessage(ctx context.Context, channelID, dmID, senderID, content string) (store.Message, error)
	ListReactions(ctx context.Context, messageID string) ([]store.Reaction, error)
	ListReads(ctx context.Context, messageID string) ([]store.ReadReceipt, error)
}

// Feed is the push capability: durable change subscriptions plus the
// ephemeral broadcast primitive. *realtime.Client implements it.
type Feed interface {
	Subscribe(ctx context.Context, table, column, value string) (*realtime.Subscription, error)
	Listen(ctx context.Context, conversation string) (*realtime.BroadcastSub, error)
	Broadcast(ctx context.Context, conversation string, payload any) error
}

// DeltaType enumerates the view updates a session emits.
type DeltaType string

const (
	DeltaSnapshot DeltaType = "snapshot"
	DeltaAppend   DeltaType = "append"
	DeltaReplace  DeltaType = "replace"
	DeltaPatch    DeltaType = "patch"
	DeltaRemove   DeltaType = "remove"
	DeltaTyping   DeltaType = "typing"
	DeltaReceipts DeltaType = "receipts"
)

// Delta is one incremental view update.
type Delta struct {
	Type      DeltaType
	Key       Key
	Messages  []store.Message // snapshot
	Message   store.Message   // append / replace / patch
	RemovedID string          // replace (the provisional id) / remove
	MessageID string          // receipts
	Receipts  []store.ReadReceipt
	Typing    []Presence
}

// AttachFunc uploads and records an attachment for a confirmed message
// id. Run after the authoritative insert succeeds.
type AttachFunc func(ctx context.Context, messageID string) error

type SessionConfig struct {
	UserID     string
	Profile    store.Profile
	Store      Store
	Feed       Feed
	Windows    Windows
	FetchLimit int
}

// Session owns the realtime state of one connected view: the
// subscription manager, the optimistic message list, background
// hydration, per-entity demux and typing presence for whichever
// conversation is currently bound.
type Session struct {
	cfg     SessionConfig
	windows Windows
	manager *Manager
	list    *List
	demux   *Demux
	typist  *Typist
	roster  *Roster

	deltas chan Delta
	done   chan struct{}

	mu       sync.Mutex // serializes Bind/Unbind/Close
	presence *realtime.BroadcastSub
	epoch    atomic.Int64
	closed   bool
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 50
	}
	s := &Session{
		cfg:     cfg,
		windows: cfg.Windows.withDefaults(),
		list:    NewList(),
		demux:   NewDemux(),
		deltas:  make(chan Delta, 128),
		done:    make(chan struct{}),
	}
	s.manager = NewManager(feedSource{feed: cfg.Feed}, s.windows.Settle)
	s.roster = NewRoster(cfg.UserID, s.windows.PresenceTTL, func(p []Presence) {
		s.emit(Delta{Type: DeltaTyping, Key: s.manager.Key(), Typing: p})
	})
	s.typist = NewTypist(s.windows.TypingIdle, s.broadcastTyping)
	return s
}

// Deltas is the stream of view updates. The channel is never closed;
// consumers select on Done as well.
func (s *Session) Deltas() <-chan Delta { return s.deltas }

func (s *Session) Done() <-chan struct{} { return s.done }

// List exposes the reconciled message list (snapshots only).
func (s *Session) List() *List { return s.list }

// Demux exposes per-message secondary-state notifications.
func (s *Session) Demux() *Demux { return s.demux }

// Manager exposes the subscription manager, mainly for state inspection.
func (s *Session) Manager() *Manager { return s.manager }

func (s *Session) emit(d Delta) {
	select {
	case s.deltas <- d:
	default:
		log.Printf("sync: dropping %s delta, consumer stalled", d.Type)
	}
}

// Bind switches the session to a conversation. Idempotent for the
// currently bound key. The previous key's handles are always torn down
// before the new ones are created; events still in flight for the old
// key are discarded by the epoch check.
func (s *Session) Bind(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.manager.State() == StateBound && s.manager.Key() == key {
		return nil
	}

	telemetry.Rebinds.Inc()
	epoch := s.epoch.Add(1)
	if s.presence != nil {
		_ = s.presence.Close()
		s.presence = nil
	}
	s.roster.Close()

	if err := s.manager.Rebind(ctx, key); err != nil {
		return fmt.Errorf("rebind %s: %w", key, err)
	}
	if key.IsZero() {
		s.list.Reset(nil)
		s.emit(Delta{Type: DeltaSnapshot, Key: key, Messages: []store.Message{}})
		return nil
	}

	if sub, err := s.cfg.Feed.Listen(ctx, key.String()); err != nil {
		log.Printf("sync: presence listen %s: %v", key, err)
	} else {
		s.presence = sub
		go s.pumpPresence(sub, epoch)
	}

	msgs, err := s.fetchMessages(ctx, key)
	if err != nil {
		// Reads degrade to an empty list; the feed still converges.
		log.Printf("sync: fetch messages %s: %v", key, err)
		msgs = nil
	}
	s.list.Reset(msgs)
	s.emit(Delta{Type: DeltaSnapshot, Key: key, Messages: s.list.Snapshot()})

	if handle := s.manager.Handle(); handle != nil {
		go s.pumpFeed(handle, key, epoch)
	}
	return nil
}

func (s *Session) fetchMessages(ctx context.Context, key Key) ([]store.Message, error) {
	if key.Kind == KindDM {
		return s.cfg.Store.ListDMMessages(ctx, key.ID, s.cfg.FetchLimit)
	}
	return s.cfg.Store.ListChannelMessages(ctx, key.ID, s.cfg.FetchLimit)
}

// Unbind tears everything down without closing the session.
func (s *Session) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unbindLocked()
}

func (s *Session) unbindLocked() {
	s.epoch.Add(1)
	if s.presence != nil {
		_ = s.presence.Close()
		s.presence = nil
	}
	s.roster.Close()
	s.manager.Unbind()
	s.list.Reset(nil)
}

// Close flushes a typing stop, tears down all handles and timers and
// marks the session dead.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.typist.Close()
	s.unbindLocked()
	s.demux.Close()
	close(s.done)
	s.mu.Unlock()
}

// Key returns the currently bound conversation key.
func (s *Session) Key() Key { return s.manager.Key() }

// Send appends a provisional record immediately, then issues the
// authoritative insert. On any failure the provisional record is rolled
// back and the error returned; on success it stays in place until the
// feed confirmation swaps it.
func (s *Session) Send(ctx context.Context, content string, attach AttachFunc) (store.Message, error) {
	key := s.manager.Key()
	if key.IsZero() {
		return store.Message{}, ErrNotBound
	}
	content = strings.TrimSpace(content)
	if content == "" && attach == nil {
		return store.Message{}, ErrEmptyMessage
	}

	provisional := store.Message{
		ID:          NewProvisionalID(),
		SenderID:    s.cfg.UserID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
		Sender:      s.cfg.Profile,
		Reactions:   []store.Reaction{},
		Attachments: []store.Attachment{},
	}
	var channelID, dmID string
	if key.Kind == KindDM {
		dmID = key.ID
		provisional.DMID = key.ID
	} else {
		channelID = key.ID
		provisional.ChannelID = key.ID
	}

	s.list.Append(provisional)
	s.emit(Delta{Type: DeltaAppend, Key: key, Message: provisional})

	rollback := func() {
		if s.list.Remove(provisional.ID) {
			s.emit(Delta{Type: DeltaRemove, Key: key, RemovedID: provisional.ID})
		}
	}

	confirmed, err := s.cfg.Store.InsertMessage(ctx, channelID, dmID, s.cfg.UserID, content)
	if err != nil {
		rollback()
		telemetry.SendFailures.Inc()
		return store.Message{}, fmt.Errorf("send message: %w", err)
	}
	if attach != nil {
		if err := attach(ctx, confirmed.ID); err != nil {
			rollback()
			telemetry.SendFailures.Inc()
			return store.Message{}, fmt.Errorf("attach upload: %w", err)
		}
	}
	telemetry.MessagesSent.Inc()
	s.typist.Stop()
	return confirmed, nil
}

// Typing records local keystroke activity.
func (s *Session) Typing() { s.typist.Touch() }

// StopTyping broadcasts an immediate stop (message sent, input cleared).
func (s *Session) StopTyping() { s.typist.Stop() }

// TypingUsers returns the remote users currently typing.
func (s *Session) TypingUsers() []Presence { return s.roster.List() }

func (s *Session) broadcastTyping(isTyping bool) {
	key := s.manager.Key()
	if key.IsZero() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.cfg.Feed.Broadcast(ctx, key.String(), TypingEvent{
		UserID:   s.cfg.UserID,
		FullName: s.cfg.Profile.FullName,
		Email:    s.cfg.Profile.Email,
		IsTyping: isTyping,
	})
	if err != nil {
		log.Printf("sync: typing broadcast %s: %v", key, err)
	}
}

func (s *Session) pumpPresence(sub *realtime.BroadcastSub, epoch int64) {
	for raw := range sub.Payloads() {
		if s.epoch.Load() != epoch {
			return
		}
		var ev TypingEvent
		if err := realtimeUnmarshal(raw, &ev); err != nil {
			log.Printf("sync: bad typing payload: %v", err)
			continue
		}
		s.roster.Apply(ev)
	}
}

func (s *Session) pumpFeed(handle Handle, key Key, epoch int64) {
	for ev := range handle.Events() {
		if s.epoch.Load() != epoch {
			return
		}
		switch ev.Table {
		case "messages":
			if ev.Action == realtime.ActionInsert {
				s.applyRemoteInsert(ev, key, epoch)
			}
		case "message_reactions":
			s.demux.Dispatch(ev)
			if id := rowMessageID(ev); id != "" {
				go s.refreshReactions(id, key, epoch)
			}
		case "message_reads":
			s.demux.Dispatch(ev)
			if id := rowMessageID(ev); id != "" {
				go s.refreshReads(id, key, epoch)
			}
		case "pinned_messages":
			s.demux.Dispatch(ev)
			if id := rowMessageID(ev); id != "" {
				pinned := ev.Action == realtime.ActionInsert
				if s.list.SetPinned(id, pinned) {
					if msg, ok := s.list.Get(id); ok {
						s.emit(Delta{Type: DeltaPatch, Key: key, Message: msg})
					}
				}
			}
		}
	}
}

func (s *Session) applyRemoteInsert(ev realtime.Event, key Key, epoch int64) {
	in, err := DecodeInsert(ev.Row)
	if err != nil {
		log.Printf("sync: bad insert payload on %s: %v", key, err)
		return
	}
	// Key staleness: a confirmation routed here for a different
	// conversation (late event from a torn-down handle) is discarded.
	if (key.Kind == KindChannel && in.ChannelID != key.ID) ||
		(key.Kind == KindDM && in.DMID != key.ID) {
		return
	}

	outcome, removedID := s.list.ApplyInsert(in, s.windows)
	switch outcome {
	case OutcomeDuplicate:
		return
	case OutcomeSwapped:
		telemetry.OptimisticSwaps.Inc()
		if msg, ok := s.list.Get(in.ID); ok {
			s.emit(Delta{Type: DeltaReplace, Key: key, Message: msg, RemovedID: removedID})
		}
	case OutcomeAppended:
		if in.SenderID == s.cfg.UserID {
			// Our own confirmation arrived but nothing was waiting for
			// it: the provisional record is gone or never matched.
			telemetry.OrphanAppends.Inc()
		}
		if msg, ok := s.list.Get(in.ID); ok {
			s.emit(Delta{Type: DeltaAppend, Key: key, Message: msg})
		}
	}
	go s.hydrate(in.ID, key, epoch)
}

func (s *Session) refreshReactions(messageID string, key Key, epoch int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reactions, err := s.cfg.Store.ListReactions(ctx, messageID)
	if err != nil {
		log.Printf("sync: refresh reactions %s: %v", messageID, err)
		return
	}
	if s.epoch.Load() != epoch {
		return
	}
	if s.list.SetReactions(messageID, reactions) {
		if msg, ok := s.list.Get(messageID); ok {
			s.emit(Delta{Type: DeltaPatch, Key: key, Message: msg})
		}
	}
}

func (s *Session) refreshReads(messageID string, key Key, epoch int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	receipts, err := s.cfg.Store.ListReads(ctx, messageID)
	if err != nil {
		log.Printf("sync: refresh reads %s: %v", messageID, err)
		return
	}
	if s.epoch.Load() != epoch {
		return
	}
	s.emit(Delta{Type: DeltaReceipts, Key: key, MessageID: messageID, Receipts: receipts})
}

func rowMessageID(ev realtime.Event) string {
	var row struct {
		MessageID string `json:"message_id"`
	}
	if err := realtimeUnmarshal(ev.Row, &row); err != nil {
		return ""
	}
	return row.MessageID
}
