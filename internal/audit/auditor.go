// Package audit scores batches of orders and reviews and aggregates the
// outcome into a report.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/fraudsim/internal/domain"
	"github.com/opensource-finance/fraudsim/internal/pattern"
	"github.com/opensource-finance/fraudsim/internal/scoring"
)

var tracer = otel.Tracer("fraudsim-audit")

// UnknownFraudType labels non-legitimate orders without a fraud type in the
// distribution summary.
const UnknownFraudType = "unknown"

// Auditor runs batch audits. It never modifies its inputs.
type Auditor struct {
	scorer       scoring.Scorer
	reviewScorer scoring.ReviewScorer
	tagger       *pattern.Tagger
	threshold    float64
	workers      int
	excerptLen   int
	bins         int
	logger       *slog.Logger
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithReviewScorer replaces the default phrase-based review scorer.
func WithReviewScorer(s scoring.ReviewScorer) Option {
	return func(a *Auditor) {
		if s != nil {
			a.reviewScorer = s
		}
	}
}

// WithTagger replaces the default tagger.
func WithTagger(t *pattern.Tagger) Option {
	return func(a *Auditor) {
		if t != nil {
			a.tagger = t
		}
	}
}

// WithThreshold sets the detection threshold.
func WithThreshold(threshold float64) Option {
	return func(a *Auditor) {
		a.threshold = threshold
	}
}

// WithWorkers bounds the number of records scored concurrently.
func WithWorkers(n int) Option {
	return func(a *Auditor) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithExcerptLength sets the review excerpt length in runes.
func WithExcerptLength(n int) Option {
	return func(a *Auditor) {
		if n > 0 {
			a.excerptLen = n
		}
	}
}

// WithHistogramBins sets the amount histogram bin count.
func WithHistogramBins(n int) Option {
	return func(a *Auditor) {
		if n > 0 {
			a.bins = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Auditor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAuditor creates an auditor that scores orders with scorer.
func NewAuditor(scorer scoring.Scorer, opts ...Option) *Auditor {
	a := &Auditor{
		scorer:       scorer,
		reviewScorer: scoring.NewPhraseReviewScorer(),
		tagger:       pattern.Default,
		threshold:    domain.DefaultDetectionThreshold,
		workers:      8,
		excerptLen:   50,
		bins:         20,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FromConfig builds an auditor from the audit and scoring sections of cfg.
func FromConfig(scorer scoring.Scorer, cfg *domain.Config, opts ...Option) *Auditor {
	base := []Option{
		WithTagger(pattern.New(cfg.Scoring)),
		WithThreshold(cfg.Scoring.DetectionThreshold),
		WithWorkers(cfg.Audit.Workers),
		WithExcerptLength(cfg.Audit.ExcerptLength),
		WithHistogramBins(cfg.Audit.HistogramBins),
	}
	return NewAuditor(scorer, append(base, opts...)...)
}

// Threshold returns the detection threshold in use.
func (a *Auditor) Threshold() float64 {
	return a.threshold
}

// Audit scores every order and review and aggregates the batch. Per-record
// and per-review results are in input order.
func (a *Auditor) Audit(ctx context.Context, orders []*domain.Order, reviews []*domain.Review) (*domain.AuditReport, error) {
	if a.scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	for i, o := range orders {
		if o == nil {
			return nil, fmt.Errorf("order %d: %w", i, domain.ErrNilOrder)
		}
	}
	for i, r := range reviews {
		if r == nil {
			return nil, fmt.Errorf("review %d: %w", i, domain.ErrNilReview)
		}
	}

	ctx, span := tracer.Start(ctx, "audit.Audit",
		trace.WithAttributes(
			attribute.Int("orders", len(orders)),
			attribute.Int("reviews", len(reviews)),
		),
	)
	defer span.End()

	start := time.Now()

	perRecord := make([]domain.OrderResult, len(orders))
	perReview := make([]domain.ReviewResult, len(reviews))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for i, o := range orders {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perRecord[i] = a.auditOrder(o)
			return nil
		})
	}
	for i, r := range reviews {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perReview[i] = a.auditReview(r)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("audit cancelled: %w", err)
	}

	report := &domain.AuditReport{
		ID:        uuid.New().String(),
		CreatedAt: start.UTC(),
		Threshold: a.threshold,
		PerRecord: perRecord,
		PerReview: perReview,
		Metrics:   computeMetrics(orders, perRecord, reviews),
		Summary: domain.AuditSummary{
			FraudTypeDistribution: FraudTypeDistribution(orders),
			AmountHistogram:       AmountHistogram(orders, a.bins),
		},
	}

	span.SetAttributes(
		attribute.Int("fraud_count", report.Metrics.FraudCount),
		attribute.Int("detected_count", report.Metrics.DetectedCount),
	)

	a.logger.Info("audit completed",
		"report_id", report.ID,
		"orders", len(orders),
		"reviews", len(reviews),
		"fraud_count", report.Metrics.FraudCount,
		"detected_count", report.Metrics.DetectedCount,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return report, nil
}

func (a *Auditor) auditOrder(o *domain.Order) domain.OrderResult {
	score := a.scorer.Score(o)

	res := domain.OrderResult{
		OrderID:  o.ID,
		Score:    score,
		Detected: scoring.Detected(score, a.threshold),
		Tags:     a.tagger.Tag(o),
	}
	if o.FraudType != nil {
		v := *o.FraudType
		res.FraudType = &v
	}
	if o.Successful != nil {
		v := *o.Successful
		res.Successful = &v
	}
	return res
}

func (a *Auditor) auditReview(r *domain.Review) domain.ReviewResult {
	return domain.ReviewResult{
		ReviewID:       r.ID,
		Suspiciousness: r.Suspiciousness,
		Excerpt:        Excerpt(r.Text, a.excerptLen),
		Score:          a.reviewScorer.ScoreReview(r),
	}
}

func computeMetrics(orders []*domain.Order, results []domain.OrderResult, reviews []*domain.Review) domain.AuditMetrics {
	var m domain.AuditMetrics
	successes := 0

	for i, o := range orders {
		if o.IsLegitimate() {
			m.LegitimateCount++
		} else {
			m.FraudCount++
			if o.Successful != nil && *o.Successful {
				successes++
			}
		}
		if results[i].Detected {
			m.DetectedCount++
		}
	}

	if m.FraudCount > 0 {
		rate := float64(successes) / float64(m.FraudCount)
		m.FraudSuccessRate = &rate
	}

	m.ReviewCount = len(reviews)
	for _, r := range reviews {
		if r.IsSuspicious() {
			m.SuspiciousReviewCount++
		}
	}

	return m
}
