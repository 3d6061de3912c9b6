package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/blogreach/blogreach/internal/notify"
)

// PubSubSink exports notifications to a Google Pub/Sub topic so external
// consumers (alerting, analytics) can react to bot activity.
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubSink connects to the project and binds the topic.
func NewPubSubSink(ctx context.Context, projectID, topicID string) (*PubSubSink, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSubSink{client: client, topic: client.Topic(topicID)}, nil
}

// Consume publishes each event as a JSON message and waits for the server
// acks within the batch context.
func (s *PubSubSink) Consume(ctx context.Context, batch []notify.Event) error {
	results := make([]*pubsub.PublishResult, 0, len(batch))
	for _, evt := range batch {
		payload, err := json.Marshal(map[string]any{
			"botId":    evt.BotID,
			"ts":       evt.TS,
			"kind":     evt.Kind,
			"severity": evt.Severity,
			"message":  evt.Message,
		})
		if err != nil {
			return fmt.Errorf("encode notification: %w", err)
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data: payload,
			Attributes: map[string]string{
				"kind":   string(evt.Kind),
				"bot_id": strconv.FormatInt(evt.BotID, 10),
			},
		}))
	}
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			return fmt.Errorf("publish notification: %w", err)
		}
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	return s.client.Close()
}
