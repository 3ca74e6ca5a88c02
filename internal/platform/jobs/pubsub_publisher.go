package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/fulfillment/internal/services"
)

// PubSubOrderEventPublisher publishes order domain events. Events of one order share an
// ordering key so subscribers observe them in publish order.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

// NewPubSubOrderEventPublisher constructs a publisher over topic and enables message ordering
// on it.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderEventPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishOrderEvent publishes the event and waits for the server acknowledgement.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}
	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "orderNumber", event.OrderNumber)
	setAttr(attrs, "shopId", event.ShopID)
	setAttr(attrs, "status", event.CurrentStatus)
	if !event.OccurredAt.IsZero() {
		attrs["occurredAt"] = event.OccurredAt.UTC().Format(time.RFC3339Nano)
	}

	key := strings.TrimSpace(event.OrderID)
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs, OrderingKey: key})
	if _, err := result.Get(ctx); err != nil {
		if key != "" {
			p.topic.ResumePublish(key)
		}
		return fmt.Errorf("publish order event %s: %w", event.Type, err)
	}
	return nil
}

// PubSubShopNotifier hands new-order notices to the mail worker subscribed to topic.
type PubSubShopNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.ShopNotifier = (*PubSubShopNotifier)(nil)

// NewPubSubShopNotifier constructs a Pub/Sub backed shop notifier.
func NewPubSubShopNotifier(topic *pubsub.Topic) (*PubSubShopNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub shop notifier: topic is required")
	}
	return &PubSubShopNotifier{topic: topic, marshal: json.Marshal}, nil
}

// NotifyShop publishes the notification.
func (n *PubSubShopNotifier) NotifyShop(ctx context.Context, notification services.ShopNotification) error {
	if n == nil || n.topic == nil {
		return errors.New("pubsub shop notifier: not initialised")
	}
	if strings.TrimSpace(notification.ShopEmail) == "" {
		return errors.New("pubsub shop notifier: shop email is required")
	}
	data, err := n.marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal shop notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "template", "order.placed")
	setAttr(attrs, "shopId", notification.ShopID)
	setAttr(attrs, "orderId", notification.OrderID)
	setAttr(attrs, "orderNumber", notification.OrderNumber)

	result := n.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish shop notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
