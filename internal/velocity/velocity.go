// Package velocity derives the per-user order velocity indicator.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

// DefaultWindow is the velocity window used when none is configured.
const DefaultWindow = domain.DefaultVelocityWindow

// Service counts recent orders per user. The cache counter is authoritative
// when a cache is configured and runs on the cache's velocity window; the
// repository is the fallback and looks back over window.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	window time.Duration
	now    func() time.Time
}

// NewService creates a new velocity service. Either backend may be nil.
func NewService(repo domain.Repository, cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		window: window,
		now:    time.Now,
	}
}

// Window returns the counting window.
func (s *Service) Window() time.Duration {
	return s.window
}

// Annotate sets order.Velocity for orders that carry a user ID but no
// velocity. It records the order in the window and returns the count,
// including the order itself. Orders that already have a velocity, or no
// user, are left untouched and return 0.
func (s *Service) Annotate(ctx context.Context, tenantID string, order *domain.Order) (int64, error) {
	if order == nil {
		return 0, domain.ErrNilOrder
	}
	if order.Velocity != nil || order.UserID == "" {
		return 0, nil
	}

	count, err := s.Record(ctx, tenantID, order.UserID)
	if err != nil {
		return 0, err
	}
	order.Velocity = domain.Float(float64(count))
	return count, nil
}

// Record counts one more order for userID and returns the window total.
func (s *Service) Record(ctx context.Context, tenantID, userID string) (int64, error) {
	if tenantID == "" || userID == "" {
		return 0, fmt.Errorf("tenantID and userID are required")
	}

	if s.cache != nil {
		count, err := s.cache.CountOrder(ctx, tenantID, userID)
		if err == nil {
			return count, nil
		}
		slog.Warn("velocity counter unavailable, using repository",
			"tenant_id", tenantID,
			"user_id", userID,
			"error", err,
		)
	}

	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	// Stored orders exclude the one being recorded.
	count, err := s.GetOrderCount(ctx, tenantID, userID)
	if err != nil {
		return 0, err
	}
	return count + 1, nil
}

// GetOrderCount returns the number of stored orders for a user within the window.
func (s *Service) GetOrderCount(ctx context.Context, tenantID, userID string) (int64, error) {
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}
	since := s.now().Add(-s.window)
	count, err := s.repo.CountOrdersByUser(ctx, tenantID, userID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return count, nil
}
