package live

import (
	"context"
	"encoding/json"
	"sync"

	"tandem/api/internal/realtime"
)

// auxTables carry per-message secondary state. They are published on a
// single conversation-scoped topic each, so one bound conversation
// costs a constant number of subscriptions regardless of how many
// messages are on screen.
var auxTables = []string{"message_reactions", "message_reads", "pinned_messages"}

const mergedEventBuffer = 128

// feedSource adapts a Feed into the manager's Source: one primary
// subscription on the messages table plus the aux subscriptions,
// merged behind a single handle.
type feedSource struct {
	feed Feed
}

func (fs feedSource) Open(ctx context.Context, key Key) (Handle, error) {
	primary, err := fs.feed.Subscribe(ctx, "messages", key.FilterColumn(), key.ID)
	if err != nil {
		return nil, err
	}
	subs := []*realtime.Subscription{primary}
	for _, table := range auxTables {
		sub, err := fs.feed.Subscribe(ctx, table, "conversation", key.String())
		if err != nil {
			for _, s := range subs {
				_ = s.Close()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	h := &compositeHandle{
		name:   primary.Name(),
		subs:   subs,
		events: make(chan realtime.Event, mergedEventBuffer),
	}
	h.start()
	return h, nil
}

// compositeHandle fans several subscriptions into one event channel.
type compositeHandle struct {
	name      string
	subs      []*realtime.Subscription
	events    chan realtime.Event
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (h *compositeHandle) start() {
	for _, sub := range h.subs {
		h.wg.Add(1)
		go func(sub *realtime.Subscription) {
			defer h.wg.Done()
			for ev := range sub.Events() {
				select {
				case h.events <- ev:
				default:
					// Slow consumer. Dropping keeps teardown from
					// wedging; the list converges on the next fetch.
				}
			}
		}(sub)
	}
	go func() {
		h.wg.Wait()
		close(h.events)
	}()
}

func (h *compositeHandle) Name() string { return h.name }

func (h *compositeHandle) Events() <-chan realtime.Event { return h.events }

func (h *compositeHandle) Close() error {
	var first error
	h.closeOnce.Do(func() {
		for _, sub := range h.subs {
			if err := sub.Close(); err != nil && first == nil {
				first = err
			}
		}
	})
	return first
}

func realtimeUnmarshal(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
