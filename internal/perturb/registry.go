package perturb

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

// Registry is an ordered set of operators keyed by name. Operators are
// applied in registration order.
type Registry struct {
	mu  sync.RWMutex
	ops []Operator
}

// NewRegistry creates a registry holding ops. Duplicate names are an error.
func NewRegistry(ops ...Operator) (*Registry, error) {
	r := &Registry{}
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewDefaultRegistry builds the amount, IP and shipping operators from cfg.
func NewDefaultRegistry(cfg domain.PerturbConfig) (*Registry, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	return NewRegistry(
		AmountOperator{
			MinFactor: cfg.AmountMinFactor,
			MaxFactor: cfg.AmountMaxFactor,
			Floor:     cfg.AmountFloor,
		},
		IPOperator{
			KeepCountryProb: cfg.IPKeepCountryProb,
			Book:            AddressBook{Prefixes: cfg.AddressTable, Pool: cfg.CountryPool},
		},
		ShippingOperator{
			RewriteProb: cfg.ShippingRewriteProb,
			HomeMarket:  cfg.HomeMarket,
		},
	)
}

// ValidateConfig checks operator parameters.
func ValidateConfig(cfg domain.PerturbConfig) error {
	if cfg.AmountMinFactor < 0 || cfg.AmountMaxFactor < cfg.AmountMinFactor {
		return fmt.Errorf("invalid amount factor range [%v, %v]", cfg.AmountMinFactor, cfg.AmountMaxFactor)
	}
	if cfg.AmountFloor <= 0 {
		return fmt.Errorf("amount floor must be positive, got %v", cfg.AmountFloor)
	}
	for name, p := range map[string]float64{
		"shipping rewrite": cfg.ShippingRewriteProb,
		"ip keep country":  cfg.IPKeepCountryProb,
	} {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s probability must be in [0,1], got %v", name, p)
		}
	}
	if cfg.HomeMarket == "" {
		return fmt.Errorf("home market is required")
	}
	return AddressBook{Prefixes: cfg.AddressTable, Pool: cfg.CountryPool}.Validate()
}

// Register appends op.
func (r *Registry) Register(op Operator) error {
	if op == nil {
		return fmt.Errorf("operator is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.ops {
		if existing.Name() == op.Name() {
			return fmt.Errorf("operator %s already registered", op.Name())
		}
	}
	r.ops = append(r.ops, op)
	return nil
}

// Remove deletes the operator with the given name and reports whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, op := range r.ops {
		if op.Name() == name {
			r.ops = append(r.ops[:i:i], r.ops[i+1:]...)
			return true
		}
	}
	return false
}

// Operators returns a snapshot of the registered operators.
func (r *Registry) Operators() []Operator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Operator, len(r.ops))
	copy(out, r.ops)
	return out
}

// Fields returns the distinct fields targeted by the registered operators.
func (r *Registry) Fields() []domain.Field {
	seen := make(map[domain.Field]bool)
	var fields []domain.Field
	for _, op := range r.Operators() {
		if f := op.Field(); !seen[f] {
			seen[f] = true
			fields = append(fields, f)
		}
	}
	return fields
}

// Apply runs every applicable operator once on order, which the caller must
// own. It returns the names of the operators applied.
func (r *Registry) Apply(order *domain.Order, rng *rand.Rand) []string {
	var applied []string
	for _, op := range r.Operators() {
		if !op.Applies(order) {
			continue
		}
		op.Apply(order, rng)
		applied = append(applied, op.Name())
	}
	return applied
}

// ChangedFields lists the registry fields whose values differ between a and b.
func (r *Registry) ChangedFields(a, b *domain.Order) []domain.Field {
	var changed []domain.Field
	for _, f := range r.Fields() {
		if !FieldEqual(a, b, f) {
			changed = append(changed, f)
		}
	}
	return changed
}

// FieldEqual reports whether a and b hold the same value for f. Unknown
// fields compare equal.
func FieldEqual(a, b *domain.Order, f domain.Field) bool {
	switch f {
	case domain.FieldAmount:
		return equalPtr(a.Amount, b.Amount)
	case domain.FieldShippingCountry:
		return equalPtr(a.ShippingCountry, b.ShippingCountry)
	case domain.FieldIP:
		return equalPtr(a.IP, b.IP)
	default:
		return true
	}
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
