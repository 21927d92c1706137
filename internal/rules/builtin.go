package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudsim/internal/domain"
	"github.com/opensource-finance/fraudsim/internal/scoring"
)

// BuiltinRules returns CEL rules equivalent to the heuristic scorer for the
// given weights. Loading them into an Engine yields the same scores as
// scoring.NewHeuristic(cfg).
func BuiltinRules(cfg domain.ScoringConfig) []*domain.RuleConfig {
	velocity := fmt.Sprintf(
		"has_velocity && velocity > %[1]s ? (velocity * %[2]s > %[3]s ? %[3]s : velocity * %[2]s) : 0.0",
		celDouble(cfg.VelocityThreshold), celDouble(cfg.VelocityFactor), celDouble(cfg.VelocityCap),
	)

	return []*domain.RuleConfig{
		{
			ID:          scoring.RuleGeoMismatch,
			Name:        "Geo Mismatch",
			Description: "Billing and shipping country differ",
			Version:     "1.0.0",
			Expression:  "has_billing && has_shipping && billing_country != shipping_country",
			Weight:      cfg.GeoMismatchWeight,
			Enabled:     true,
		},
		{
			ID:          scoring.RuleHighValue,
			Name:        "High Value",
			Description: "Order amount above the high-value threshold",
			Version:     "1.0.0",
			Expression:  "has_amount && amount > " + celDouble(cfg.HighValueThreshold),
			Weight:      cfg.HighValueWeight,
			Enabled:     true,
		},
		{
			ID:          scoring.RuleTestItem,
			Name:        "Test Item",
			Description: "Order contains a card-testing SKU",
			Version:     "1.0.0",
			Expression:  fmt.Sprintf("items.exists(i, i.sku == %q)", domain.TestItemSKU),
			Weight:      cfg.TestItemWeight,
			Enabled:     true,
		},
		{
			ID:          scoring.RuleVelocity,
			Name:        "Velocity",
			Description: "Too many recent orders from the same user",
			Version:     "1.0.0",
			Expression:  velocity,
			Weight:      1.0,
			Enabled:     true,
		},
	}
}

// celDouble formats v as a CEL double literal.
func celDouble(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
