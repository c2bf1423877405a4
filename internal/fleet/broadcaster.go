// Package fleet covers the cross-device concerns a single adiskd process
// never needs on its own: broadcasting a generation bump (set_list) to
// every device in a group over Cloud Pub/Sub, and scheduling housekeeping
// sweeps (idle filter-cache eviction) from Cloud Tasks instead of each
// device's own local ticker.
package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// GenBumpEvent is the message payload published on a generation bump: one
// search_id advanced to a new generation, and every device holding a
// connection for that group should drop in-flight objects tagged with an
// older generation (the same rule internal/search applies locally at the
// proc-ring boundary, now applied fleet-wide).
type GenBumpEvent struct {
	SearchID   string    `json:"search_id"`
	Generation uint64    `json:"generation"`
	Timestamp  time.Time `json:"timestamp"`
}

// Broadcaster publishes generation bumps to a Pub/Sub topic shared by a
// device group.
type Broadcaster struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewBroadcaster connects to projectID and ensures topicID exists,
// creating it if this is the first device to publish.
func NewBroadcaster(ctx context.Context, projectID, topicID string) (*Broadcaster, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("fleet: pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("fleet: topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("fleet: CreateTopic: %w", err)
		}
	}

	// Ordering by search_id keeps a group's bumps observed in the order
	// they were issued, which matters since a device that sees bump N+1
	// before N would otherwise accept objects bump N should have dropped.
	topic.EnableMessageOrdering = true

	return &Broadcaster{client: client, topic: topic}, nil
}

// BroadcastGenBump publishes a generation bump for searchID.
func (b *Broadcaster) BroadcastGenBump(ctx context.Context, searchID string, generation uint64) error {
	payload, err := json.Marshal(GenBumpEvent{SearchID: searchID, Generation: generation, Timestamp: time.Now()})
	if err != nil {
		return fmt.Errorf("fleet: marshal gen bump: %w", err)
	}

	result := b.topic.Publish(ctx, &pubsub.Message{
		Data:        payload,
		OrderingKey: searchID,
	})

	_, err = result.Get(ctx)
	if err != nil {
		return fmt.Errorf("fleet: publish gen bump: %w", err)
	}
	return nil
}

// Close stops the topic and closes the underlying client.
func (b *Broadcaster) Close() error {
	b.topic.Stop()
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("fleet: client close: %w", err)
	}
	return nil
}

// Subscriber receives generation bumps for a device's own group.
type Subscriber struct {
	client *pubsub.Client
	sub    *pubsub.Subscription
}

// NewSubscriber attaches to an existing subscription on projectID.
func NewSubscriber(ctx context.Context, projectID, subscriptionID string) (*Subscriber, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("fleet: pubsub.NewClient: %w", err)
	}
	return &Subscriber{client: client, sub: client.Subscription(subscriptionID)}, nil
}

// Listen blocks, delivering each GenBumpEvent to onBump, until ctx is
// cancelled. Messages are acked unconditionally: a missed bump only
// delays when a stale-generation object gets dropped, it never corrupts
// state, so at-least-once delivery needs no dedup here.
func (s *Subscriber) Listen(ctx context.Context, onBump func(GenBumpEvent)) error {
	return s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var ev GenBumpEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("fleet: malformed gen bump message", "error", err)
			msg.Ack()
			return
		}
		onBump(ev)
		msg.Ack()
	})
}

// Close closes the underlying client.
func (s *Subscriber) Close() error {
	return s.client.Close()
}
