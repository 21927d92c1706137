package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/fraudsim/internal/domain"
	"go.opentelemetry.io/otel/trace"
)

func noopHandler(context.Context, *domain.Message) error { return nil }

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, err := bus.Subscribe(ctx, tenantID, domain.TopicOrderIngested, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, tenantID, domain.TopicOrderIngested, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-got:
			if string(msg.Payload) != "hello" {
				t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
			}
			if msg.TenantID != tenantID || msg.Topic != domain.TopicOrderIngested {
				t.Errorf("unexpected envelope: tenant=%s topic=%s", msg.TenantID, msg.Topic)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32

		bus.Subscribe(ctx, "tenant-001", domain.TopicOrderScored, func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "tenant-002", domain.TopicOrderScored, func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "tenant-001", domain.TopicOrderScored, []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if received1.Load() != 1 {
			t.Errorf("tenant-001 should receive 1 message, got %d", received1.Load())
		}
		if received2.Load() != 0 {
			t.Errorf("tenant-002 should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("AllTenants", func(t *testing.T) {
		got := make(chan string, 4)
		sub, err := bus.Subscribe(ctx, domain.AllTenants, domain.TopicAuditCompleted, func(ctx context.Context, msg *domain.Message) error {
			got <- msg.TenantID
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		bus.Publish(ctx, "tenant-a", domain.TopicAuditCompleted, []byte("{}"))
		bus.Publish(ctx, "tenant-b", domain.TopicAuditCompleted, []byte("{}"))
		bus.Publish(ctx, "tenant-a", domain.TopicEvasionCompleted, []byte("{}"))

		seen := map[string]bool{}
		for range 2 {
			select {
			case tenant := <-got:
				seen[tenant] = true
			case <-time.After(time.Second):
				t.Fatal("timeout waiting for wildcard delivery")
			}
		}
		if !seen["tenant-a"] || !seen["tenant-b"] {
			t.Errorf("expected both tenants, got %v", seen)
		}
		select {
		case tenant := <-got:
			t.Errorf("unexpected delivery from another topic (tenant %s)", tenant)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("RejectsTenants", func(t *testing.T) {
		for _, tenant := range []string{"", domain.AllTenants, "acme.eu", "_global"} {
			err := bus.Publish(ctx, tenant, domain.TopicOrderScored, []byte("data"))
			if !errors.Is(err, domain.ErrInvalidTenant) {
				t.Errorf("publish as %q: expected ErrInvalidTenant, got %v", tenant, err)
			}
		}
		if _, err := bus.Subscribe(ctx, "", domain.TopicOrderScored, noopHandler); !errors.Is(err, domain.ErrInvalidTenant) {
			t.Errorf("expected ErrInvalidTenant, got %v", err)
		}
	})

	t.Run("RejectsUnknownTopic", func(t *testing.T) {
		if err := bus.Publish(ctx, tenantID, "orders", []byte("data")); !errors.Is(err, domain.ErrUnknownTopic) {
			t.Errorf("expected ErrUnknownTopic, got %v", err)
		}
		if _, err := bus.Subscribe(ctx, tenantID, "fraudsim.>", noopHandler); !errors.Is(err, domain.ErrUnknownTopic) {
			t.Errorf("expected ErrUnknownTopic, got %v", err)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, _ := bus.Subscribe(ctx, "tenant-unsub", domain.TopicOrderDetected, func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, "tenant-unsub", domain.TopicOrderDetected, []byte("msg1"))
		time.Sleep(50 * time.Millisecond)
		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()
		if n := bus.subscribers("tenant-unsub", domain.TopicOrderDetected); n != 0 {
			t.Errorf("expected subscription detached, %d remain", n)
		}

		bus.Publish(ctx, "tenant-unsub", domain.TopicOrderDetected, []byte("msg2"))
		time.Sleep(50 * time.Millisecond)
		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32
		bus.Subscribe(ctx, "tenant-multi", domain.TopicEvasionCompleted, func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "tenant-multi", domain.TopicEvasionCompleted, func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, "tenant-multi", domain.TopicEvasionCompleted, []byte("broadcast"))
		time.Sleep(50 * time.Millisecond)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("PropagatesTraceContext", func(t *testing.T) {
		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		pubCtx := trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		}))

		got := make(chan trace.SpanContext, 1)
		bus.Subscribe(ctx, "tenant-traced", domain.TopicOrderScored, func(ctx context.Context, msg *domain.Message) error {
			got <- trace.SpanContextFromContext(ctx)
			return nil
		})
		bus.Publish(pubCtx, "tenant-traced", domain.TopicOrderScored, []byte("{}"))

		select {
		case sc := <-got:
			if sc.TraceID() != traceID || !sc.IsRemote() {
				t.Errorf("expected remote span context with trace %s, got %v", traceID, sc)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, tenantID, domain.TopicAuditCompleted, noopHandler)
		if sub.Topic() != domain.TopicAuditCompleted {
			t.Errorf("expected topic %s, got %s", domain.TopicAuditCompleted, sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "tenant-001", domain.TopicOrderScored, noopHandler)

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Publish(ctx, "tenant-001", domain.TopicOrderScored, []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if _, err := bus.Subscribe(ctx, "tenant-001", domain.TopicOrderScored, noopHandler); err == nil {
		t.Error("expected subscribe error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-load"

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, tenantID, domain.TopicOrderIngested, func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for range messageCount {
		bus.Publish(ctx, tenantID, domain.TopicOrderIngested, []byte("msg"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != messageCount {
			t.Errorf("expected %d messages, got %d", messageCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}

func TestPublishJSON(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	ctx := context.Background()
	got := make(chan domain.ScoredOrder, 1)

	_, err := bus.Subscribe(ctx, "tenant-001", domain.TopicOrderDetected, func(ctx context.Context, msg *domain.Message) error {
		var scored domain.ScoredOrder
		if err := Decode(msg, &scored); err != nil {
			return err
		}
		got <- scored
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	want := domain.ScoredOrder{
		OrderID:  "order-001",
		TenantID: "tenant-001",
		Score:    0.8,
		Detected: true,
		Tags:     []string{"card_testing"},
	}
	if err := PublishJSON(ctx, bus, "tenant-001", domain.TopicOrderDetected, want); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	select {
	case scored := <-got:
		if scored.OrderID != want.OrderID || scored.Score != want.Score || !scored.Detected {
			t.Errorf("unexpected payload: %+v", scored)
		}
		if len(scored.Tags) != 1 || scored.Tags[0] != "card_testing" {
			t.Errorf("unexpected tags: %v", scored.Tags)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestDecodeErrors(t *testing.T) {
	if err := Decode(nil, &domain.ScoredOrder{}); err == nil {
		t.Error("expected error for nil message")
	}
	msg := &domain.Message{Topic: domain.TopicOrderScored, Payload: []byte("{not json")}
	if err := Decode(msg, &domain.ScoredOrder{}); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	_, err := bus.Subscribe(ctx, "tenant-001", domain.TopicOrderIngested, func(ctx context.Context, msg *domain.Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// First message blocks the handler, second fills the buffer.
	_ = bus.Publish(ctx, "tenant-001", domain.TopicOrderIngested, []byte("1"))
	<-started
	_ = bus.Publish(ctx, "tenant-001", domain.TopicOrderIngested, []byte("2"))
	_ = bus.Publish(ctx, "tenant-001", domain.TopicOrderIngested, []byte("3"))
	close(release)

	if bus.Dropped() != 1 {
		t.Errorf("expected 1 dropped message, got %d", bus.Dropped())
	}
}

func TestNATSSubjects(t *testing.T) {
	if got := subject("tenant-001", domain.TopicOrderScored); got != "fraudsim.order.scored.tenant-001" {
		t.Errorf("unexpected subject %q", got)
	}
	if got := subject(domain.AllTenants, domain.TopicOrderIngested); got != "fraudsim.order.ingested.*" {
		t.Errorf("unexpected wildcard subject %q", got)
	}

	tests := []struct {
		subject string
		tenant  string
		ok      bool
	}{
		{"fraudsim.order.scored.tenant-001", "tenant-001", true},
		{"fraudsim.order.scored.", "", false},
		{"fraudsim.order.scored.a.b", "", false},
		{"fraudsim.order.detected.tenant-001", "", false},
	}
	for _, tt := range tests {
		tenant, ok := subjectTenant(tt.subject, domain.TopicOrderScored)
		if tenant != tt.tenant || ok != tt.ok {
			t.Errorf("subjectTenant(%q) = %q, %v", tt.subject, tenant, ok)
		}
	}
}
