package domain

import (
	"context"
	"errors"
	"fmt"
)

// EventBus carries order and report events between the API and workers.
// Go channels back the Community tier, NATS the Pro tier.
// Only the fraudsim topics below are accepted.
type EventBus interface {
	// Publish sends a message to a topic on behalf of one tenant.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. tenantID may be AllTenants
	// to receive the topic for every tenant; Message.TenantID then names
	// the publisher.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// AllTenants subscribes across tenants. It cannot be published to.
const AllTenants = "*"

// ErrUnknownTopic is returned for topics outside the fraudsim topic set.
var ErrUnknownTopic = errors.New("unknown topic")

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is "channel" or "nats"
	Type string `json:"type"`

	ChannelBufferSize int `json:"channelBufferSize"`

	NATSUrl           string `json:"natsUrl,omitempty"`
	NATSToken         string `json:"-"`
	NATSMaxReconnects int    `json:"natsMaxReconnects,omitempty"`
	NATSReconnectWait int    `json:"natsReconnectWait,omitempty"` // seconds
}

// Topics carried on the bus.
const (
	TopicOrderIngested    = "fraudsim.order.ingested"
	TopicOrderScored      = "fraudsim.order.scored"
	TopicOrderDetected    = "fraudsim.order.detected"
	TopicEvasionCompleted = "fraudsim.evasion.completed"
	TopicAuditCompleted   = "fraudsim.audit.completed"
)

// Topics lists every topic in publication order along the pipeline.
var Topics = []string{
	TopicOrderIngested,
	TopicOrderScored,
	TopicOrderDetected,
	TopicEvasionCompleted,
	TopicAuditCompleted,
}

// ValidateTopic rejects topics outside Topics.
func ValidateTopic(topic string) error {
	for _, t := range Topics {
		if t == topic {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
}

// ScoredOrder is the payload published on TopicOrderScored and TopicOrderDetected.
type ScoredOrder struct {
	OrderID  string   `json:"orderId"`
	TenantID string   `json:"tenantId"`
	TraceID  string   `json:"traceId,omitempty"`
	Score    float64  `json:"score"`
	Detected bool     `json:"detected"`
	Tags     []string `json:"tags"`
}
