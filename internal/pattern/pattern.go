// Package pattern tags orders with named fraud signals for diagnostic
// reporting. Tags are independent of the numeric score.
package pattern

import (
	"github.com/opensource-finance/fraudsim/internal/domain"
)

// Tag names.
const (
	TagCardTesting  = "card_testing"
	TagGeoMismatch  = "geo_mismatch"
	TagHighValue    = "high_value"
	TagHighVelocity = "high_velocity"
	TagNormal       = "normal"
)

// Tagger applies the tag rules.
type Tagger struct {
	HighValueThreshold float64
	VelocityThreshold  float64 // count scale
}

// New returns a tagger using the scorer's thresholds.
func New(cfg domain.ScoringConfig) *Tagger {
	return &Tagger{
		HighValueThreshold: cfg.HighValueThreshold,
		VelocityThreshold:  cfg.VelocityThreshold,
	}
}

// Default is the tagger with reference thresholds.
var Default = New(domain.DefaultScoringConfig())

// Tag returns Default.Tag(order).
func Tag(order *domain.Order) []string {
	return Default.Tag(order)
}

// Tag returns the fired tags in a fixed order, or ["normal"] when none fire.
// Absent fields never fire a tag.
func (t *Tagger) Tag(order *domain.Order) []string {
	if order == nil {
		return []string{TagNormal}
	}

	var tags []string

	if order.HasTestItem() {
		tags = append(tags, TagCardTesting)
	}
	if order.GeoMismatch() {
		tags = append(tags, TagGeoMismatch)
	}
	if order.Amount != nil && *order.Amount > t.HighValueThreshold {
		tags = append(tags, TagHighValue)
	}
	if order.Velocity != nil && *order.Velocity > t.VelocityThreshold {
		tags = append(tags, TagHighVelocity)
	}

	if len(tags) == 0 {
		return []string{TagNormal}
	}
	return tags
}
