package velocity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/fraudsim/internal/cache"
	"github.com/opensource-finance/fraudsim/internal/domain"
	"github.com/opensource-finance/fraudsim/internal/repository"
)

func newTestRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "velocity-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestVelocityFromRepository(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo, nil, time.Hour)

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("EmptyDatabase", func(t *testing.T) {
		count, err := svc.GetOrderCount(ctx, tenantID, "user-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for empty database, got %d", count)
		}
	})

	t.Run("WithOrders", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			order := &domain.Order{
				ID:     fmt.Sprintf("order-%d", i),
				UserID: "user-001",
				Amount: domain.Float(100),
			}
			if err := repo.SaveOrder(ctx, tenantID, order); err != nil {
				t.Fatalf("failed to save order: %v", err)
			}
		}

		count, err := svc.GetOrderCount(ctx, tenantID, "user-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 5 {
			t.Errorf("expected count 5, got %d", count)
		}

		count, err = svc.GetOrderCount(ctx, tenantID, "unknown-user")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for unknown user, got %d", count)
		}
	})

	t.Run("AnnotateCountsCurrentOrder", func(t *testing.T) {
		order := &domain.Order{ID: "order-new", UserID: "user-001"}
		count, err := svc.Annotate(ctx, tenantID, order)
		if err != nil {
			t.Fatalf("Annotate failed: %v", err)
		}
		if count != 6 {
			t.Errorf("expected count 6, got %d", count)
		}
		if order.Velocity == nil || *order.Velocity != 6 {
			t.Errorf("expected velocity 6, got %v", order.Velocity)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		count, err := svc.GetOrderCount(ctx, "other-tenant", "user-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for different tenant, got %d", count)
		}
	})

	t.Run("WindowExcludesOldOrders", func(t *testing.T) {
		future := NewService(repo, nil, time.Hour)
		future.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		count, err := future.GetOrderCount(ctx, tenantID, "user-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 outside window, got %d", count)
		}
	})
}

func TestVelocityFromCache(t *testing.T) {
	c := cache.NewMemory(100, domain.CacheTTLs{Velocity: time.Minute})
	defer c.Close()

	svc := NewService(nil, c, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 7; i++ {
		order := &domain.Order{ID: fmt.Sprintf("o-%d", i), UserID: "user-001"}
		count, err := svc.Annotate(ctx, "tenant-001", order)
		if err != nil {
			t.Fatalf("Annotate failed: %v", err)
		}
		if count != int64(i) {
			t.Errorf("order %d: expected count %d, got %d", i, i, count)
		}
	}

	count, err := svc.Record(ctx, "tenant-002", "user-001")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected tenant-scoped counter, got %d", count)
	}
}

func TestAnnotateSkips(t *testing.T) {
	svc := NewService(nil, cache.NewMemory(10, domain.DefaultCacheTTLs()), time.Minute)
	ctx := context.Background()

	t.Run("ExistingVelocity", func(t *testing.T) {
		order := &domain.Order{ID: "o-1", UserID: "u", Velocity: domain.Float(2)}
		count, err := svc.Annotate(ctx, "tenant", order)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 0 || *order.Velocity != 2 {
			t.Errorf("expected velocity untouched, got count=%d velocity=%v", count, *order.Velocity)
		}
	})

	t.Run("NoUser", func(t *testing.T) {
		order := &domain.Order{ID: "o-2"}
		if _, err := svc.Annotate(ctx, "tenant", order); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.Velocity != nil {
			t.Errorf("expected no velocity, got %v", *order.Velocity)
		}
	})

	t.Run("NilOrder", func(t *testing.T) {
		_, err := svc.Annotate(ctx, "tenant", nil)
		if !errors.Is(err, domain.ErrNilOrder) {
			t.Errorf("expected ErrNilOrder, got %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if _, err := svc.Record(ctx, "", "user-001"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})
}

func TestNoDataSource(t *testing.T) {
	svc := NewService(nil, nil, 0)

	if svc.Window() != DefaultWindow {
		t.Errorf("expected default window, got %v", svc.Window())
	}
	_, err := svc.Record(context.Background(), "tenant", "user")
	if err == nil {
		t.Error("expected error with no data source")
	}
}
