// Package scoring provides the detection scorers used by the evasion engine
// and the batch auditor.
package scoring

import (
	"math"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

// Scorer maps an order to a risk score in [0,1]. Implementations must be
// deterministic and safe for concurrent use.
type Scorer interface {
	Score(order *domain.Order) float64
}

// ScorerFunc adapts a plain function to Scorer.
type ScorerFunc func(order *domain.Order) float64

// Score calls f(order).
func (f ScorerFunc) Score(order *domain.Order) float64 {
	return f(order)
}

// Rule IDs reported by Heuristic.Explain.
const (
	RuleGeoMismatch = "geo-mismatch"
	RuleHighValue   = "high-value"
	RuleTestItem    = "test-item"
	RuleVelocity    = "velocity"
)

// Heuristic is the reference additive rule scorer.
//
// Contributions:
//   - billing country != shipping country: GeoMismatchWeight
//   - amount > HighValueThreshold: HighValueWeight
//   - any item SKU == "TEST_ITEM": TestItemWeight (flat, once per order)
//   - velocity > VelocityThreshold: min(VelocityCap, velocity * VelocityFactor)
//
// The sum is clamped to 1.0. A rule whose input field is absent contributes 0.
type Heuristic struct {
	cfg domain.ScoringConfig
}

// NewHeuristic creates a heuristic scorer with the given weights.
func NewHeuristic(cfg domain.ScoringConfig) *Heuristic {
	return &Heuristic{cfg: cfg}
}

// Score returns the clamped sum of triggered contributions.
func (h *Heuristic) Score(order *domain.Order) float64 {
	var total float64
	for _, c := range h.Explain(order) {
		total += c.Contribution
	}
	return Clamp(total)
}

// Explain returns the contribution of every triggered rule.
func (h *Heuristic) Explain(order *domain.Order) []domain.RuleContribution {
	if order == nil {
		return nil
	}

	var out []domain.RuleContribution

	if order.GeoMismatch() {
		out = append(out, contribution(RuleGeoMismatch, 1, h.cfg.GeoMismatchWeight))
	}

	if order.Amount != nil && *order.Amount > h.cfg.HighValueThreshold {
		out = append(out, contribution(RuleHighValue, 1, h.cfg.HighValueWeight))
	}

	if order.HasTestItem() {
		out = append(out, contribution(RuleTestItem, 1, h.cfg.TestItemWeight))
	}

	if order.Velocity != nil && *order.Velocity > h.cfg.VelocityThreshold {
		v := math.Min(h.cfg.VelocityCap, *order.Velocity*h.cfg.VelocityFactor)
		out = append(out, contribution(RuleVelocity, v, 1))
	}

	return out
}

func contribution(id string, value, weight float64) domain.RuleContribution {
	return domain.RuleContribution{
		RuleID:       id,
		Value:        value,
		Weight:       weight,
		Contribution: value * weight,
	}
}

// Clamp bounds v to [0,1]. NaN maps to 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Detected reports whether score exceeds threshold.
func Detected(score, threshold float64) bool {
	return score > threshold
}
