package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChannel fans events out over Redis pub/sub so every API process sees
// writes made by any other.
type RedisChannel struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisChannel(redisURL string) (*RedisChannel, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisChannelWithClient(client), nil
}

func NewRedisChannelWithClient(client *redis.Client) *RedisChannel {
	return &RedisChannel{client: client, prefix: "notekeep:", now: time.Now}
}

func (c *RedisChannel) topic(owner, table string) string {
	return c.prefix + owner + ":" + table
}

func (c *RedisChannel) Publish(ctx context.Context, event Event) error {
	if event.At.IsZero() {
		event.At = c.now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := c.client.Publish(ctx, c.topic(event.Owner, event.Table), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Table, err)
	}
	return nil
}

// Subscribe opens one pub/sub connection covering every requested table.
// It returns once Redis has confirmed the subscription.
func (c *RedisChannel) Subscribe(ctx context.Context, owner string, mask Op, tables ...string) (*Subscription, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("subscribe: no tables")
	}
	topics := make([]string, 0, len(tables))
	for _, table := range tables {
		topics = append(topics, c.topic(owner, table))
	}

	pubsub := c.client.Subscribe(ctx, topics...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", tables, err)
	}

	sub := newSubscription(mask, tables)
	done := make(chan struct{})
	stopped := make(chan struct{})
	sub.stop = func() {
		close(done)
		_ = pubsub.Close()
		<-stopped
	}

	go func() {
		defer close(stopped)
		defer close(sub.ch)
		messages := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("realtime: drop malformed event on %s: %v", msg.Channel, err)
					continue
				}
				sub.offer(event)
			}
		}
	}()
	return sub, nil
}

func (c *RedisChannel) Close() error {
	return c.client.Close()
}

func (c *RedisChannel) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
