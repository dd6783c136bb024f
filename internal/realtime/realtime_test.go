package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestClient(t *testing.T) *Client {
	t.Helper()
	s := miniredis.RunT(t)
	client, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create realtime client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func waitEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestPublishSubscribe(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.Subscribe(ctx, "messages", "channel_id", "chan-1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	row, _ := json.Marshal(map[string]string{"id": "msg-1", "content": "hello"})
	err = client.Publish(ctx, Event{
		Table:  "messages",
		Action: ActionInsert,
		Match:  Match{Column: "channel_id", Value: "chan-1"},
		Row:    row,
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	ev := waitEvent(t, sub)
	if ev.Table != "messages" || ev.Action != ActionInsert {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.At.IsZero() {
		t.Error("event timestamp not stamped")
	}
}

func TestSubscriptionFiltering(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.Subscribe(ctx, "messages", "channel_id", "chan-a")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	// An event for a different predicate must not be delivered.
	if err := client.Publish(ctx, Event{
		Table:  "messages",
		Action: ActionInsert,
		Match:  Match{Column: "channel_id", Value: "chan-b"},
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := client.Publish(ctx, Event{
		Table:  "messages",
		Action: ActionInsert,
		Match:  Match{Column: "channel_id", Value: "chan-a"},
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	ev := waitEvent(t, sub)
	if ev.Match.Value != "chan-a" {
		t.Errorf("received event for wrong predicate: %+v", ev)
	}
}

func TestSubscriptionNamesUnique(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		sub, err := client.Subscribe(ctx, "messages", "dm_id", "dm-1")
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		if seen[sub.Name()] {
			t.Fatalf("duplicate subscription name %s", sub.Name())
		}
		seen[sub.Name()] = true
		sub.Close()
	}
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	client := setupTestClient(t)

	sub, err := client.Subscribe(context.Background(), "message_reads", "message_id", "m1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestBroadcastRoundTrip(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.Listen(ctx, "channel:chan-1")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer sub.Close()

	payload := map[string]any{"user_id": "u1", "is_typing": true}
	if err := client.Broadcast(ctx, "channel:chan-1", payload); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	select {
	case raw := <-sub.Payloads():
		var got map[string]any
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal broadcast: %v", err)
		}
		if got["user_id"] != "u1" || got["is_typing"] != true {
			t.Errorf("unexpected payload %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}
