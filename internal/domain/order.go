package domain

import (
	"fmt"
	"math"
)

// Order is the transaction record scored by detectors and perturbed by the
// evasion engine. Optional fields are pointers so that "absent" is distinct
// from a zero value; an absent field never contributes risk.
type Order struct {
	// Identity. Never changed by perturbation.
	ID     string `json:"order_id"`
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`

	Amount          *float64   `json:"amount,omitempty"`
	BillingCountry  *string    `json:"billing_country,omitempty"`
	ShippingCountry *string    `json:"shipping_country,omitempty"`
	IP              *string    `json:"ip,omitempty"`
	Items           []LineItem `json:"items,omitempty"`
	PaymentMethod   *string    `json:"payment_method,omitempty"`

	// Velocity is the number of orders seen for the same user in the
	// velocity window (count scale).
	Velocity *float64 `json:"velocity,omitempty"`

	// Synthetic labels, carried through but never used for scoring.
	FraudType  *string `json:"fraud_type,omitempty"`
	Successful *bool   `json:"is_successful,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// LineItem is a single order line.
type LineItem struct {
	SKU       string  `json:"sku"`
	Name      string  `json:"name,omitempty"`
	UnitPrice float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

// Field names an order field that a perturbation operator may target.
type Field string

const (
	FieldAmount          Field = "amount"
	FieldShippingCountry Field = "shipping_country"
	FieldIP              Field = "ip"
)

// FraudTypeLegitimate labels synthetic orders that are not fraud attempts.
const FraudTypeLegitimate = "legitimate"

// TestItemSKU is the reserved SKU used by card-testing orders.
const TestItemSKU = "TEST_ITEM"

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Amount = cloneFloat(o.Amount)
	c.BillingCountry = cloneString(o.BillingCountry)
	c.ShippingCountry = cloneString(o.ShippingCountry)
	c.IP = cloneString(o.IP)
	c.PaymentMethod = cloneString(o.PaymentMethod)
	c.Velocity = cloneFloat(o.Velocity)
	c.FraudType = cloneString(o.FraudType)
	if o.Successful != nil {
		v := *o.Successful
		c.Successful = &v
	}
	if o.Items != nil {
		c.Items = make([]LineItem, len(o.Items))
		copy(c.Items, o.Items)
	}
	if o.Metadata != nil {
		c.Metadata = make(map[string]any, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// HasTestItem reports whether any line item carries the reserved test SKU.
func (o *Order) HasTestItem() bool {
	for _, it := range o.Items {
		if it.SKU == TestItemSKU {
			return true
		}
	}
	return false
}

// GeoMismatch reports whether billing and shipping countries are both
// present and differ.
func (o *Order) GeoMismatch() bool {
	if o.BillingCountry == nil || o.ShippingCountry == nil {
		return false
	}
	return *o.BillingCountry != *o.ShippingCountry
}

// IsLegitimate reports whether the order carries the legitimate label.
// Unlabelled orders are not legitimate.
func (o *Order) IsLegitimate() bool {
	return o.FraudType != nil && *o.FraudType == FraudTypeLegitimate
}

// FraudLabel returns the fraud type label, or "" when absent.
func (o *Order) FraudLabel() string {
	if o.FraudType == nil {
		return ""
	}
	return *o.FraudType
}

// Validate checks the fields a client can set to values no producer emits.
func (o *Order) Validate() error {
	if o == nil {
		return ErrNilOrder
	}
	if a := o.Amount; a != nil && (*a < 0 || math.IsNaN(*a) || math.IsInf(*a, 0)) {
		return fmt.Errorf("order %s: %w", o.ID, ErrInvalidAmount)
	}
	return nil
}

// AmountValue returns the amount, or 0 when absent.
func (o *Order) AmountValue() float64 {
	if o.Amount == nil {
		return 0
	}
	return *o.Amount
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
