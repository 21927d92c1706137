// Package bus provides the event buses that carry fraudsim order events.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/fraudsim/internal/domain"
	"go.opentelemetry.io/otel/propagation"
)

// traceContext carries the publisher's span across the bus in Message.Metadata.
var traceContext = propagation.TraceContext{}

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON encodes v and publishes it to topic.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

// Decode unmarshals a message payload into dst.
func Decode(msg *domain.Message, dst any) error {
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", msg.Topic, err)
	}
	return nil
}

func checkPublish(tenantID, topic string) error {
	if err := domain.ValidateTopic(topic); err != nil {
		return err
	}
	return domain.ValidateTenantID(tenantID)
}

func checkSubscribe(tenantID, topic string) error {
	if err := domain.ValidateTopic(topic); err != nil {
		return err
	}
	if tenantID == domain.AllTenants {
		return nil
	}
	return domain.ValidateTenantID(tenantID)
}

func newMessage(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	traceContext.Inject(ctx, propagation.MapCarrier(msg.Metadata))
	return msg
}

// handlerContext returns ctx joined to the publisher's trace, if any.
func handlerContext(ctx context.Context, msg *domain.Message) context.Context {
	if len(msg.Metadata) == 0 {
		return ctx
	}
	return traceContext.Extract(ctx, propagation.MapCarrier(msg.Metadata))
}
