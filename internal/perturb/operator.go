// Package perturb provides the field-level perturbation operators used by
// the evasion engine and the registry that groups them.
package perturb

import (
	"math/rand/v2"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

// Operator mutates a single order field using the supplied randomness.
// Apply must only touch Field() and must only be called when Applies
// returns true. Operators hold no mutable state.
type Operator interface {
	Name() string
	Field() domain.Field
	Applies(order *domain.Order) bool
	Apply(order *domain.Order, rng *rand.Rand)
}

// AmountOperator scales the amount by a factor drawn uniformly from
// [MinFactor, MaxFactor] and floors the result at Floor.
type AmountOperator struct {
	MinFactor float64
	MaxFactor float64
	Floor     float64
}

func (AmountOperator) Name() string        { return "amount" }
func (AmountOperator) Field() domain.Field { return domain.FieldAmount }

func (AmountOperator) Applies(order *domain.Order) bool {
	return order.Amount != nil
}

func (op AmountOperator) Apply(order *domain.Order, rng *rand.Rand) {
	factor := op.MinFactor + rng.Float64()*(op.MaxFactor-op.MinFactor)
	v := *order.Amount * factor
	if v < op.Floor {
		v = op.Floor
	}
	order.Amount = &v
}

// ShippingOperator forces the shipping country to HomeMarket with
// probability RewriteProb and otherwise leaves it unchanged.
type ShippingOperator struct {
	RewriteProb float64
	HomeMarket  string
}

func (ShippingOperator) Name() string        { return "shipping" }
func (ShippingOperator) Field() domain.Field { return domain.FieldShippingCountry }

func (ShippingOperator) Applies(order *domain.Order) bool {
	return order.ShippingCountry != nil
}

func (op ShippingOperator) Apply(order *domain.Order, rng *rand.Rand) {
	if rng.Float64() < op.RewriteProb {
		home := op.HomeMarket
		order.ShippingCountry = &home
	}
}

// IPOperator regenerates the IP address. With probability KeepCountryProb
// the new address stays in the country inferred from the current one;
// otherwise it moves to a random pool country.
type IPOperator struct {
	KeepCountryProb float64
	Book            AddressBook
}

func (IPOperator) Name() string        { return "ip" }
func (IPOperator) Field() domain.Field { return domain.FieldIP }

func (IPOperator) Applies(order *domain.Order) bool {
	return order.IP != nil
}

func (op IPOperator) Apply(order *domain.Order, rng *rand.Rand) {
	var country string
	if rng.Float64() < op.KeepCountryProb {
		country = op.Book.InferCountry(*order.IP, rng)
	} else {
		country = op.Book.RandomCountry(rng)
	}
	ip := op.Book.Generate(country, rng)
	order.IP = &ip
}
