// Package worker scores ingested orders asynchronously from the event bus.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudsim/internal/bus"
	"github.com/opensource-finance/fraudsim/internal/domain"
)

// Worker consumes TopicOrderIngested and runs each order through a Pipeline.
type Worker struct {
	bus      domain.EventBus
	pipeline *Pipeline

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string
}

// GlobalTenant is the tenant a worker listens on when no tenants are configured.
const GlobalTenant = domain.AllTenants

// OrderMessage is the payload published on TopicOrderIngested.
type OrderMessage struct {
	TenantID string        `json:"tenantId,omitempty"`
	TraceID  string        `json:"traceId,omitempty"`
	Order    *domain.Order `json:"order"`
}

// NewWorker creates a new async worker. Results are published on eventBus
// unless the pipeline already has a bus.
func NewWorker(eventBus domain.EventBus, pipeline *Pipeline) *Worker {
	if pipeline.Bus == nil {
		pipeline.Bus = eventBus
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      eventBus,
		pipeline: pipeline,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.subscribe(GlobalTenant)
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.subscribe(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

func (w *Worker) subscribe(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicOrderIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processOrder(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicOrderIngested,
	)
	return nil
}

// processOrder decodes one ingested order and hands it to the pipeline.
func (w *Worker) processOrder(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var orderMsg OrderMessage
	if err := bus.Decode(msg, &orderMsg); err != nil {
		slog.Error("failed to parse order message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// The envelope names the publishing tenant, also on the global subscription.
	if msg.TenantID != "" {
		tenantID = msg.TenantID
	}
	if orderMsg.TenantID != "" && orderMsg.TenantID != tenantID {
		return fmt.Errorf("order message for tenant %s published by %s", orderMsg.TenantID, tenantID)
	}

	traceID := orderMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	result, err := w.pipeline.Process(ctx, tenantID, traceID, orderMsg.Order)
	if err != nil {
		slog.Error("order processing failed",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	slog.Info("order processed",
		"order_id", result.OrderID,
		"tenant_id", tenantID,
		"score", result.Score,
		"detected", result.Detected,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
