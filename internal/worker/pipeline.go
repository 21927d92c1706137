package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/fraudsim/internal/bus"
	"github.com/opensource-finance/fraudsim/internal/domain"
	"github.com/opensource-finance/fraudsim/internal/pattern"
	"github.com/opensource-finance/fraudsim/internal/scoring"
	"github.com/opensource-finance/fraudsim/internal/velocity"
)

// Pipeline scores and tags ingested orders. It is shared by the async
// worker and the synchronous ingest path of the API.
type Pipeline struct {
	Scorer    scoring.Scorer
	Tagger    *pattern.Tagger
	Threshold float64

	// Optional collaborators.
	Repo     domain.Repository
	Bus      domain.EventBus
	Velocity *velocity.Service
}

// NewPipeline creates a pipeline with the default tagger and threshold.
func NewPipeline(scorer scoring.Scorer) *Pipeline {
	return &Pipeline{
		Scorer:    scorer,
		Tagger:    pattern.Default,
		Threshold: domain.DefaultDetectionThreshold,
	}
}

// Process derives velocity, scores, tags and persists an order, then
// publishes the result on the scored topic and, when detected, on the
// detected topic. Persistence and publish failures are logged, not returned.
func (p *Pipeline) Process(ctx context.Context, tenantID, traceID string, order *domain.Order) (*domain.ScoredOrder, error) {
	if order == nil {
		return nil, domain.ErrNilOrder
	}
	if p.Scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}

	if p.Velocity != nil {
		if _, err := p.Velocity.Annotate(ctx, tenantID, order); err != nil {
			slog.Warn("velocity derivation failed",
				"order_id", order.ID,
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	tagger := p.Tagger
	if tagger == nil {
		tagger = pattern.Default
	}

	score := p.Scorer.Score(order)
	result := &domain.ScoredOrder{
		OrderID:  order.ID,
		TenantID: tenantID,
		TraceID:  traceID,
		Score:    score,
		Detected: scoring.Detected(score, p.Threshold),
		Tags:     tagger.Tag(order),
	}

	if p.Repo != nil {
		if err := p.Repo.SaveOrder(ctx, tenantID, order); err != nil {
			slog.Error("failed to save order",
				"order_id", order.ID,
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	if p.Bus != nil {
		if err := bus.PublishJSON(ctx, p.Bus, tenantID, domain.TopicOrderScored, result); err != nil {
			slog.Error("failed to publish score",
				"order_id", order.ID,
				"error", err,
			)
		}
		if result.Detected {
			if err := bus.PublishJSON(ctx, p.Bus, tenantID, domain.TopicOrderDetected, result); err != nil {
				slog.Error("failed to publish detection",
					"order_id", order.ID,
					"error", err,
				)
			}
		}
	}

	return result, nil
}
