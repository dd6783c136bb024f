// Package realtime is the push transport: a change feed for row events
// and an ephemeral broadcast primitive, both over Redis pub/sub. The two
// are deliberately separate capabilities: feed events describe durable
// rows, broadcasts are fire-and-forget and never replayed.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Match is the column predicate a feed topic is filtered by.
type Match struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Event is one row change delivered over the feed.
type Event struct {
	Table  string          `json:"table"`
	Action Action          `json:"action"`
	Match  Match           `json:"match"`
	Row    json.RawMessage `json:"row,omitempty"`
	At     time.Time       `json:"at"`
}

// FeedTopic names the channel carrying changes of one table filtered by
// one column predicate.
func FeedTopic(table, column, value string) string {
	return fmt.Sprintf("feed:%s:%s=%s", table, column, value)
}

// BroadcastTopic names the channel carrying ephemeral payloads for one
// conversation.
func BroadcastTopic(conversation string) string {
	return "presence:" + conversation
}

// Client wraps one Redis connection serving both capabilities.
type Client struct {
	rdb *redis.Client
}

func New(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewWithRedis creates a client from an existing Redis connection.
func NewWithRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish emits a change event to the feed topic derived from the event's
// table and match predicate.
func (c *Client) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	topic := FeedTopic(ev.Table, ev.Match.Column, ev.Match.Value)
	if err := c.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Broadcast emits an ephemeral payload. Nothing is stored; subscribers
// that are not listening at publish time never see it.
func (c *Client) Broadcast(ctx context.Context, conversation string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}
	topic := BroadcastTopic(conversation)
	if err := c.rdb.Publish(ctx, topic, body).Err(); err != nil {
		return fmt.Errorf("broadcast %s: %w", topic, err)
	}
	return nil
}
