package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/shelfmark/intake/internal/services"
)

// PubSubEventPublisher publishes request lifecycle events to a Pub/Sub topic.
// The chat bridge subscribes to the topic and posts the staff-room messages.
type PubSubEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEventPublisher constructs a Pub/Sub backed request event publisher.
func NewPubSubEventPublisher(topic *pubsub.Topic) (*PubSubEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub event publisher: topic is required")
	}
	return &PubSubEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Publish enqueues a request event message on the configured topic.
func (p *PubSubEventPublisher) Publish(ctx context.Context, message services.RequestEventMessage) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub event publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return fmt.Errorf("marshal request event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "requestId", message.RequestID)
	setAttr(attrs, "requestType", string(message.Type))
	setAttr(attrs, "action", string(message.Action))
	setAttr(attrs, "toStatus", string(message.ToStatus))
	setAttr(attrs, "actorId", message.ActorID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish request event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
