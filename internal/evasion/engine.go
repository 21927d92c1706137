// Package evasion implements the adversarial search engine: bounded random
// search for a lower-scoring variant of an order.
//
// Every attempt perturbs a fresh copy of the original order, never the
// running best. Attempts are independent, so they are split across a bounded
// set of workers, each keeping only its lowest-scoring candidate. The
// reduction orders by score, then attempt index; ties never replace the
// original. Each attempt's source is derived from the run seed and its
// index, so seeded runs are reproducible regardless of scheduling.
package evasion

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/fraudsim/internal/domain"
	"github.com/opensource-finance/fraudsim/internal/perturb"
	"github.com/opensource-finance/fraudsim/internal/scoring"
)

var tracer = otel.Tracer("fraudsim-evasion")

// Engine runs adversarial optimizations against a scorer.
type Engine struct {
	registry *perturb.Registry
	workers  int
	trace    bool
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures an Engine.
type Option func(*Engine)

// WithSeed makes the engine deterministic.
func WithSeed(seed uint64) Option {
	return func(e *Engine) {
		e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithRand sets the randomness source.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) {
		if rng != nil {
			e.rng = rng
		}
	}
}

// WithWorkers bounds the number of attempts evaluated concurrently.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithTrace records every attempt in EvasionRun.Trace.
func WithTrace(enabled bool) Option {
	return func(e *Engine) {
		e.trace = enabled
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an engine that perturbs orders with registry.
func NewEngine(registry *perturb.Registry, opts ...Option) *Engine {
	seed := uint64(time.Now().UnixNano())
	e := &Engine{
		registry: registry,
		workers:  8,
		logger:   slog.Default(),
		rng:      rand.New(rand.NewPCG(seed, seed>>1)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromConfig creates an engine from the search settings. A zero seed keeps
// the clock-seeded source.
func FromConfig(registry *perturb.Registry, cfg domain.SearchConfig, opts ...Option) *Engine {
	base := []Option{WithWorkers(cfg.Workers), WithTrace(cfg.RecordTrace)}
	if cfg.Seed != 0 {
		base = append(base, WithSeed(uint64(cfg.Seed)))
	}
	return NewEngine(registry, append(base, opts...)...)
}

// Optimize searches maxAttempts perturbations of order for the lowest score.
// The caller's order is never modified. If no attempt strictly improves on
// the original score, Best is a copy of the original.
func (e *Engine) Optimize(ctx context.Context, order *domain.Order, scorer scoring.Scorer, maxAttempts int) (*domain.EvasionRun, error) {
	if err := validate(order, scorer, maxAttempts); err != nil {
		return nil, err
	}

	e.mu.Lock()
	rng := e.child()
	e.mu.Unlock()

	return e.optimize(ctx, order, scorer, maxAttempts, rng)
}

// OptimizeBatch runs Optimize over orders on the worker pool. Results are in
// input order.
func (e *Engine) OptimizeBatch(ctx context.Context, orders []*domain.Order, scorer scoring.Scorer, maxAttempts int) ([]*domain.EvasionRun, error) {
	for i, order := range orders {
		if err := validate(order, scorer, maxAttempts); err != nil {
			return nil, fmt.Errorf("order %d: %w", i, err)
		}
	}

	e.mu.Lock()
	rngs := make([]*rand.Rand, len(orders))
	for i := range rngs {
		rngs[i] = e.child()
	}
	e.mu.Unlock()

	runs := make([]*domain.EvasionRun, len(orders))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, order := range orders {
		g.Go(func() error {
			run, err := e.optimize(gctx, order, scorer, maxAttempts, rngs[i])
			if err != nil {
				return fmt.Errorf("order %s: %w", order.ID, err)
			}
			runs[i] = run
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

func (e *Engine) optimize(ctx context.Context, order *domain.Order, scorer scoring.Scorer, maxAttempts int, rng *rand.Rand) (*domain.EvasionRun, error) {
	ctx, span := tracer.Start(ctx, "evasion.Optimize",
		trace.WithAttributes(
			attribute.String("order.id", order.ID),
			attribute.Int("max_attempts", maxAttempts),
		),
	)
	defer span.End()

	start := time.Now()

	base := [2]uint64{rng.Uint64(), rng.Uint64()}

	original := order.Clone()
	originalScore := scorer.Score(original)

	var attempts []domain.Attempt
	if e.trace {
		attempts = make([]domain.Attempt, maxAttempts)
	}

	workers := min(e.workers, maxAttempts)
	bests := make([]candidate, workers)

	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() error {
			local := candidate{index: -1}
			for i := w; i < maxAttempts; i += workers {
				if err := gctx.Err(); err != nil {
					return err
				}

				c := original.Clone()
				applied := e.registry.Apply(c, attemptRand(base, i))
				score := scorer.Score(c)

				if attempts != nil {
					attempts[i] = domain.Attempt{Index: i, Candidate: c, Score: score, Operators: applied}
				}
				if local.index < 0 || score < local.score {
					local = candidate{index: i, order: c, score: score}
				}
			}
			bests[w] = local
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("optimization cancelled: %w", err)
	}

	best := original.Clone()
	bestScore := originalScore
	bestIndex := -1
	for _, c := range bests {
		if c.index < 0 {
			continue
		}
		if c.score < bestScore || (c.score == bestScore && bestIndex >= 0 && c.index < bestIndex) {
			best, bestScore, bestIndex = c.order, c.score, c.index
		}
	}

	changed := e.registry.ChangedFields(original, best)
	if changed == nil {
		changed = []domain.Field{}
	}

	run := &domain.EvasionRun{
		ID:            uuid.New().String(),
		OrderID:       order.ID,
		CreatedAt:     start.UTC(),
		MaxAttempts:   maxAttempts,
		DurationMs:    time.Since(start).Milliseconds(),
		Original:      original,
		Best:          best,
		OriginalScore: originalScore,
		BestScore:     bestScore,
		Improved:      bestScore < originalScore,
		ChangedFields: changed,
	}
	if e.trace {
		run.Trace = attempts
	}

	span.SetAttributes(
		attribute.Float64("original_score", originalScore),
		attribute.Float64("best_score", bestScore),
	)

	e.logger.Debug("optimization completed",
		"order_id", order.ID,
		"run_id", run.ID,
		"max_attempts", maxAttempts,
		"original_score", originalScore,
		"best_score", bestScore,
		"duration_ms", run.DurationMs,
	)

	return run, nil
}

// candidate is a worker's lowest-scoring attempt so far. index is -1 until
// the worker has run an attempt.
type candidate struct {
	index int
	order *domain.Order
	score float64
}

// attemptRand returns the source for attempt i. It depends only on the run's
// base seed and i, so results do not depend on how attempts are scheduled.
func attemptRand(base [2]uint64, i int) *rand.Rand {
	return rand.New(rand.NewPCG(base[0], base[1]+uint64(i)*0x9e3779b97f4a7c15))
}

// child derives an independent source from the engine's source. e.mu must be held.
func (e *Engine) child() *rand.Rand {
	return rand.New(rand.NewPCG(e.rng.Uint64(), e.rng.Uint64()))
}

func validate(order *domain.Order, scorer scoring.Scorer, maxAttempts int) error {
	if maxAttempts <= 0 {
		return fmt.Errorf("%w: got %d", domain.ErrInvalidAttempts, maxAttempts)
	}
	if order == nil {
		return domain.ErrNilOrder
	}
	if scorer == nil {
		return fmt.Errorf("scorer is required")
	}
	return nil
}
