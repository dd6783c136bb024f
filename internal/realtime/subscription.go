package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tandem/api/internal/util"
)

const eventBuffer = 64

// Subscription is one live feed registration. Its name is unique per
// creation (topic + nanos + random suffix) so a handle being torn down
// can never be confused with its replacement.
type Subscription struct {
	name   string
	topic  string
	pubsub *redis.PubSub
	events chan Event

	closeOnce sync.Once
}

// Subscribe opens a feed subscription for one table/predicate pair. The
// subscribe round trip is confirmed before returning, so an error here
// means no handle was created.
func (c *Client) Subscribe(ctx context.Context, table, column, value string) (*Subscription, error) {
	topic := FeedTopic(table, column, value)
	pubsub := c.rdb.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &Subscription{
		name:   fmt.Sprintf("%s:%d-%s", topic, time.Now().UnixNano(), util.Suffix()),
		topic:  topic,
		pubsub: pubsub,
		events: make(chan Event, eventBuffer),
	}
	go sub.pump()
	return sub, nil
}

func (s *Subscription) pump() {
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("realtime: bad event on %s: %v", s.topic, err)
			continue
		}
		select {
		case s.events <- ev:
		default:
			log.Printf("realtime: dropping event on %s, consumer stalled", s.topic)
		}
	}
}

func (s *Subscription) Name() string { return s.name }

func (s *Subscription) Topic() string { return s.topic }

// Events is closed after Close, once the pump drains.
func (s *Subscription) Events() <-chan Event { return s.events }

// Close is idempotent.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}

// BroadcastSub is one live broadcast listener.
type BroadcastSub struct {
	name     string
	topic    string
	pubsub   *redis.PubSub
	payloads chan json.RawMessage

	closeOnce sync.Once
}

// Listen opens a broadcast subscription for one conversation.
func (c *Client) Listen(ctx context.Context, conversation string) (*BroadcastSub, error) {
	topic := BroadcastTopic(conversation)
	pubsub := c.rdb.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("listen %s: %w", topic, err)
	}

	sub := &BroadcastSub{
		name:     fmt.Sprintf("%s:%d-%s", topic, time.Now().UnixNano(), util.Suffix()),
		topic:    topic,
		pubsub:   pubsub,
		payloads: make(chan json.RawMessage, eventBuffer),
	}
	go sub.pump()
	return sub, nil
}

func (s *BroadcastSub) pump() {
	defer close(s.payloads)
	for msg := range s.pubsub.Channel() {
		payload := json.RawMessage(msg.Payload)
		select {
		case s.payloads <- payload:
		default:
			log.Printf("realtime: dropping broadcast on %s, consumer stalled", s.topic)
		}
	}
}

func (s *BroadcastSub) Name() string { return s.name }

func (s *BroadcastSub) Payloads() <-chan json.RawMessage { return s.payloads }

func (s *BroadcastSub) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
