// Package pubsub publishes restock events to a Google Cloud Pub/Sub topic so
// downstream consumers can fan them out.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/restockwatch/internal/stock"
)

// Event is the JSON payload of every published message.
type Event struct {
	Name   string    `json:"name"`
	URL    string    `json:"url"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Notifier implements stock.Notifier on a Pub/Sub topic.
type Notifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

var _ stock.Notifier = (*Notifier)(nil)

// New connects to projectID and binds topicID.
func New(ctx context.Context, projectID, topicID string) (*Notifier, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Notifier{client: client, topic: client.Topic(topicID)}, nil
}

// NewWithTopic wraps an existing topic handle; the caller owns the client.
func NewWithTopic(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic}
}

// Send publishes msg and waits for the server acknowledgement, so a nil error
// means the event was accepted.
func (n *Notifier) Send(ctx context.Context, msg stock.Message) error {
	if n.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(Event{
		Name:   msg.Target.Name,
		URL:    msg.Target.URL,
		Text:   msg.Text,
		SentAt: msg.SentAt,
	})
	if err != nil {
		return fmt.Errorf("marshal restock event: %w", err)
	}
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"url": msg.Target.URL},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish restock event: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes the client when owned.
func (n *Notifier) Close() error {
	if n.topic != nil {
		n.topic.Stop()
	}
	if n.client == nil {
		return nil
	}
	if err := n.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
