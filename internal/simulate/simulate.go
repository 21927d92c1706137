// Package simulate generates synthetic orders and reviews for audits and
// evasion runs.
package simulate

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/fraudsim/internal/domain"
	"github.com/opensource-finance/fraudsim/internal/perturb"
)

// Fraud types.
const (
	CardTesting     = "card_testing"
	AccountTakeover = "account_takeover"
	Triangulation   = "triangulation"
	RefundAbuse     = "refund_abuse"
)

// FraudTypes lists the valid fraud types.
var FraudTypes = []string{CardTesting, AccountTakeover, Triangulation, RefundAbuse}

// Payment methods.
const (
	PaymentCard   = "credit_card"
	PaymentPayPal = "paypal"
	PaymentCrypto = "crypto"
)

const taxRate = 0.08

var (
	countries      = []string{"US", "GB", "DE", "CA", "FR", "CN", "RU", "NG"}
	emailDomains   = []string{"example.com", "mail.test", "shop.test"}
	refundProducts = []string{"Shirt", "Dress", "Handbag"}
	catalog        = []string{"Wireless Earbuds", "Coffee Grinder", "Desk Lamp", "Yoga Mat", "Phone Case", "Backpack"}
)

// Generator produces synthetic records. It is safe for concurrent use.
type Generator struct {
	mu   sync.Mutex
	rng  *rand.Rand
	book perturb.AddressBook
	now  func() time.Time
}

// NewGenerator creates a generator. A zero seed is replaced by the clock.
func NewGenerator(seed uint64, cfg domain.PerturbConfig) *Generator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Generator{
		rng:  rand.New(rand.NewPCG(seed, seed^0x5bd1e995)),
		book: perturb.AddressBook{Prefixes: cfg.AddressTable, Pool: cfg.CountryPool},
		now:  time.Now,
	}
}

// Orders generates count orders of the given fraud type. Each order is
// marked successful with probability successRate.
func (g *Generator) Orders(fraudType string, count int, successRate float64) ([]*domain.Order, error) {
	if err := domain.ValidateChoice("fraud type", fraudType, FraudTypes); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("count must not be negative, got %d", count)
	}
	if successRate < 0 || successRate > 1 {
		return nil, fmt.Errorf("success rate must be in [0,1], got %v", successRate)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	orders := make([]*domain.Order, count)
	for i := range orders {
		orders[i] = g.fraudOrder(fraudType, successRate)
	}
	return orders, nil
}

// LegitimateOrders generates count ordinary orders labelled legitimate.
func (g *Generator) LegitimateOrders(count int) []*domain.Order {
	g.mu.Lock()
	defer g.mu.Unlock()

	orders := make([]*domain.Order, 0, max(count, 0))
	for i := 0; i < count; i++ {
		billing := g.pick(countries)
		items := g.catalogItems()
		order := g.base(fmt.Sprintf("customer_%d", 1000+g.rng.IntN(9000)), billing, billing, items, 5+g.rng.Float64()*15)
		order.PaymentMethod = domain.String(g.pick([]string{PaymentCard, PaymentPayPal}))
		order.Velocity = domain.Float(float64(g.rng.IntN(3)))
		order.FraudType = domain.String(domain.FraudTypeLegitimate)
		order.Successful = domain.Bool(true)
		orders = append(orders, order)
	}
	return orders
}

func (g *Generator) fraudOrder(fraudType string, successRate float64) *domain.Order {
	userID := fmt.Sprintf("fraudster_%d", 1000+g.rng.IntN(9000))
	if fraudType == AccountTakeover {
		userID = fmt.Sprintf("user_%s", strings.ToLower(randomString(g.rng, 8)))
	}

	billing := g.pick(countries)
	shipping := billing
	if fraudType == Triangulation || g.rng.Float64() > 0.7 {
		shipping = g.otherCountry(billing)
	}

	var items []domain.LineItem
	shippingCost := 5 + g.rng.Float64()*15
	switch fraudType {
	case CardTesting:
		items = []domain.LineItem{{SKU: domain.TestItemSKU, Name: "Test Product", UnitPrice: 1.00, Quantity: 1}}
		shippingCost = 0
	case RefundAbuse:
		items = []domain.LineItem{{
			SKU:       fmt.Sprintf("REF%d", 100+g.rng.IntN(900)),
			Name:      "Designer " + g.pick(refundProducts),
			UnitPrice: round2(100 + g.rng.Float64()*400),
			Quantity:  1,
		}}
	default:
		items = g.catalogItems()
	}

	order := g.base(userID, billing, shipping, items, shippingCost)
	order.PaymentMethod = domain.String(g.paymentMethod(fraudType))
	order.Velocity = domain.Float(float64(g.rng.IntN(10)))
	order.FraudType = domain.String(fraudType)
	order.Successful = domain.Bool(g.rng.Float64() < successRate)

	// Card testing totals stay at the item price.
	if fraudType == CardTesting {
		order.Amount = domain.Float(1.00)
	}
	return order
}

func (g *Generator) base(userID, billing, shipping string, items []domain.LineItem, shippingCost float64) *domain.Order {
	var subtotal float64
	for _, it := range items {
		subtotal += it.UnitPrice * float64(it.Quantity)
	}
	total := round2(subtotal + shippingCost + subtotal*taxRate)

	return &domain.Order{
		ID:              uuid.New().String(),
		UserID:          userID,
		Email:           fmt.Sprintf("%s@%s", userID, g.pick(emailDomains)),
		Amount:          domain.Float(total),
		BillingCountry:  domain.String(billing),
		ShippingCountry: domain.String(shipping),
		IP:              domain.String(g.book.Generate(billing, g.rng)),
		Items:           items,
		Metadata: map[string]any{
			"created_at": g.now().Add(-time.Duration(g.rng.IntN(60)) * time.Minute).UTC().Format(time.RFC3339),
			"device_id":  uuid.New().String(),
		},
	}
}

func (g *Generator) catalogItems() []domain.LineItem {
	n := 1 + g.rng.IntN(5)
	items := make([]domain.LineItem, n)
	for i := range items {
		items[i] = domain.LineItem{
			SKU:       fmt.Sprintf("%s-%04d", strings.ToUpper(randomLetters(g.rng, 2)), g.rng.IntN(10000)),
			Name:      g.pick(catalog),
			UnitPrice: round2(10 + g.rng.Float64()*490),
			Quantity:  1 + g.rng.IntN(3),
		}
	}
	return items
}

func (g *Generator) paymentMethod(fraudType string) string {
	switch fraudType {
	case Triangulation:
		return PaymentPayPal
	case CardTesting:
		return PaymentCard
	case RefundAbuse:
		return g.pick([]string{PaymentCard, PaymentPayPal})
	default:
		return g.pick([]string{PaymentCard, PaymentPayPal, PaymentCrypto})
	}
}

func (g *Generator) otherCountry(not string) string {
	for {
		if c := g.pick(countries); c != not {
			return c
		}
	}
}

func (g *Generator) pick(choices []string) string {
	return choices[g.rng.IntN(len(choices))]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

const (
	letters      = "abcdefghijklmnopqrstuvwxyz"
	alphanumeric = letters + "0123456789"
)

func randomString(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphanumeric[rng.IntN(len(alphanumeric))]
	}
	return string(b)
}

func randomLetters(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rng.IntN(len(letters))]
	}
	return string(b)
}
