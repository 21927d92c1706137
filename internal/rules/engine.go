// Package rules provides the CEL-Go based detection scorer.
//
// Each rule is a CEL expression over order variables that yields a bool, int
// or double. The order score is the clamped sum of weight * value over all
// enabled rules, evaluated in load order.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/fraudsim/internal/domain"
	"github.com/opensource-finance/fraudsim/internal/scoring"
)

var _ scoring.Scorer = (*Engine)(nil)

// Engine is the CEL-based rule scorer.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	rules      []*CompiledRule
	index      map[string]int
	maxWorkers int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule engine. maxWorkers bounds the number of rules
// evaluated concurrently for a single order.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	env, err := cel.NewEnv(
		cel.Variable("order_id", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("has_amount", cel.BoolType),
		cel.Variable("billing_country", cel.StringType),
		cel.Variable("has_billing", cel.BoolType),
		cel.Variable("shipping_country", cel.StringType),
		cel.Variable("has_shipping", cel.BoolType),
		cel.Variable("ip", cel.StringType),
		cel.Variable("has_ip", cel.BoolType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("velocity", cel.DoubleType),
		cel.Variable("has_velocity", cel.BoolType),
		cel.Variable("item_count", cel.IntType),
		cel.Variable("items", cel.ListType(cel.MapType(cel.StringType, cel.DynType))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		index:      make(map[string]int),
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule. A rule with an existing ID replaces
// the old one in place.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	if i, ok := e.index[cfg.ID]; ok {
		e.rules[i] = compiled
		return nil
	}
	e.index[cfg.ID] = len(e.rules)
	e.rules = append(e.rules, compiled)

	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules atomically replaces all loaded rules. On error the previous
// rules stay loaded.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rules := make([]*CompiledRule, 0, len(configs))
	index := make(map[string]int, len(configs))

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		if i, ok := index[cfg.ID]; ok {
			rules[i] = compiled
			continue
		}
		index[cfg.ID] = len(rules)
		rules = append(rules, compiled)
	}

	e.rules = rules
	e.index = index

	return nil
}

// Score returns the clamped weighted sum of all rule values.
func (e *Engine) Score(order *domain.Order) float64 {
	contribs, _ := e.EvaluateAll(context.Background(), order)

	var total float64
	for _, c := range contribs {
		total += c.Contribution
	}
	return scoring.Clamp(total)
}

// Explain returns the contribution of every loaded rule, in load order.
func (e *Engine) Explain(order *domain.Order) []domain.RuleContribution {
	contribs, _ := e.EvaluateAll(context.Background(), order)
	return contribs
}

// EvaluateAll evaluates all loaded rules in parallel. Results are returned
// in load order regardless of completion order.
func (e *Engine) EvaluateAll(ctx context.Context, order *domain.Order) ([]domain.RuleContribution, error) {
	if order == nil {
		return nil, domain.ErrNilOrder
	}

	e.mu.RLock()
	rules := make([]*CompiledRule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	activation := Activation(order)

	results := make([]domain.RuleContribution, len(rules))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()

	return results, ctx.Err()
}

// Activation builds the CEL variables for an order. Absent optional fields
// are exposed as zero values with their has_* flag set to false.
func Activation(order *domain.Order) map[string]any {
	items := make([]any, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, map[string]any{
			"sku":      it.SKU,
			"name":     it.Name,
			"price":    it.UnitPrice,
			"quantity": int64(it.Quantity),
		})
	}

	return map[string]any{
		"order_id":         order.ID,
		"user_id":          order.UserID,
		"amount":           derefFloat(order.Amount),
		"has_amount":       order.Amount != nil,
		"billing_country":  derefString(order.BillingCountry),
		"has_billing":      order.BillingCountry != nil,
		"shipping_country": derefString(order.ShippingCountry),
		"has_shipping":     order.ShippingCountry != nil,
		"ip":               derefString(order.IP),
		"has_ip":           order.IP != nil,
		"payment_method":   derefString(order.PaymentMethod),
		"velocity":         derefFloat(order.Velocity),
		"has_velocity":     order.Velocity != nil,
		"item_count":       int64(len(order.Items)),
		"items":            items,
	}
}

// evaluateRule evaluates a single rule. A failing rule contributes nothing.
func evaluateRule(rule *CompiledRule, activation map[string]any) domain.RuleContribution {
	result := domain.RuleContribution{
		RuleID: rule.Config.ID,
		Weight: rule.Config.Weight,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Error = fmt.Sprintf("evaluation error: %v", err)
		return result
	}

	result.Value = toScore(out)
	result.Contribution = result.Value * result.Weight

	return result
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetLoadedRules returns the currently loaded rule configurations in load order.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.RuleConfig, 0, len(e.rules))
	for _, compiled := range e.rules {
		out = append(out, compiled.Config)
	}
	return out
}

// Close unloads all rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	e.index = make(map[string]int)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
