package scoring

import (
	"math"
	"testing"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

const epsilon = 1e-9

func cardTestingOrder() *domain.Order {
	return &domain.Order{
		ID:              "ord-ct-001",
		Amount:          domain.Float(1.00),
		BillingCountry:  domain.String("US"),
		ShippingCountry: domain.String("NG"),
		Items:           []domain.LineItem{{SKU: domain.TestItemSKU, UnitPrice: 1.00, Quantity: 1}},
	}
}

func TestHeuristicScore(t *testing.T) {
	scorer := NewHeuristic(domain.DefaultScoringConfig())

	t.Run("CardTestingGeoMismatch", func(t *testing.T) {
		score := scorer.Score(cardTestingOrder())
		if score < 0.8-epsilon {
			t.Errorf("expected score >= 0.8, got %.4f", score)
		}
		if !Detected(score, domain.DefaultDetectionThreshold) {
			t.Errorf("expected score %.4f to be detected", score)
		}
	})

	t.Run("CleanOrder", func(t *testing.T) {
		order := &domain.Order{
			ID:              "ord-clean",
			Amount:          domain.Float(100),
			BillingCountry:  domain.String("US"),
			ShippingCountry: domain.String("US"),
			Items:           []domain.LineItem{{SKU: "PROD_001", UnitPrice: 100, Quantity: 1}},
			Velocity:        domain.Float(0),
		}
		if score := scorer.Score(order); score != 0 {
			t.Errorf("expected score 0, got %.4f", score)
		}
	})

	t.Run("EmptyOrder", func(t *testing.T) {
		if score := scorer.Score(&domain.Order{ID: "empty"}); score != 0 {
			t.Errorf("expected absent fields to contribute nothing, got %.4f", score)
		}
	})

	t.Run("NilOrder", func(t *testing.T) {
		if score := scorer.Score(nil); score != 0 {
			t.Errorf("expected 0 for nil order, got %.4f", score)
		}
	})

	t.Run("MissingShippingIsNotMismatch", func(t *testing.T) {
		order := &domain.Order{ID: "x", BillingCountry: domain.String("US")}
		if score := scorer.Score(order); score != 0 {
			t.Errorf("expected 0 with absent shipping country, got %.4f", score)
		}
	})

	t.Run("HighValue", func(t *testing.T) {
		order := &domain.Order{ID: "x", Amount: domain.Float(1000.01)}
		if score := scorer.Score(order); math.Abs(score-0.2) > epsilon {
			t.Errorf("expected 0.2, got %.4f", score)
		}

		order.Amount = domain.Float(1000)
		if score := scorer.Score(order); score != 0 {
			t.Errorf("amount equal to threshold should not trigger, got %.4f", score)
		}
	})

	t.Run("TestItemIsFlat", func(t *testing.T) {
		order := &domain.Order{ID: "x", Items: []domain.LineItem{
			{SKU: domain.TestItemSKU}, {SKU: domain.TestItemSKU}, {SKU: domain.TestItemSKU},
		}}
		if score := scorer.Score(order); math.Abs(score-0.5) > epsilon {
			t.Errorf("expected flat 0.5, got %.4f", score)
		}
	})

	t.Run("TestItemCaseSensitive", func(t *testing.T) {
		order := &domain.Order{ID: "x", Items: []domain.LineItem{{SKU: "test_item"}}}
		if score := scorer.Score(order); score != 0 {
			t.Errorf("expected lowercase sku to be ignored, got %.4f", score)
		}
	})

	t.Run("Velocity", func(t *testing.T) {
		order := &domain.Order{ID: "x", Velocity: domain.Float(5)}
		if score := scorer.Score(order); score != 0 {
			t.Errorf("velocity 5 should not trigger, got %.4f", score)
		}

		order.Velocity = domain.Float(6)
		if score := scorer.Score(order); math.Abs(score-0.3) > epsilon {
			t.Errorf("expected capped 0.3, got %.4f", score)
		}
	})

	t.Run("ClampedToOne", func(t *testing.T) {
		order := cardTestingOrder()
		order.Amount = domain.Float(5000)
		order.Velocity = domain.Float(20)
		if score := scorer.Score(order); score != 1.0 {
			t.Errorf("expected clamp to 1.0, got %.4f", score)
		}
	})
}

func TestHeuristicExplain(t *testing.T) {
	scorer := NewHeuristic(domain.DefaultScoringConfig())

	contribs := scorer.Explain(cardTestingOrder())
	if len(contribs) != 2 {
		t.Fatalf("expected 2 contributions, got %d", len(contribs))
	}
	if contribs[0].RuleID != RuleGeoMismatch {
		t.Errorf("expected first rule %s, got %s", RuleGeoMismatch, contribs[0].RuleID)
	}
	if contribs[1].RuleID != RuleTestItem {
		t.Errorf("expected second rule %s, got %s", RuleTestItem, contribs[1].RuleID)
	}
}

func TestScoreBounds(t *testing.T) {
	scorer := NewHeuristic(domain.DefaultScoringConfig())

	amounts := []float64{0, 1, 999, 1001, 1e9}
	velocities := []float64{0, 5, 6, 100}
	shipping := []string{"US", "NG"}

	for _, a := range amounts {
		for _, v := range velocities {
			for _, s := range shipping {
				order := cardTestingOrder()
				order.Amount = domain.Float(a)
				order.Velocity = domain.Float(v)
				order.ShippingCountry = domain.String(s)

				score := scorer.Score(order)
				if score < 0 || score > 1 {
					t.Errorf("score %.4f out of bounds for amount=%v velocity=%v shipping=%s", score, a, v, s)
				}
				if again := scorer.Score(order); again != score {
					t.Errorf("non-deterministic score: %.4f then %.4f", score, again)
				}
			}
		}
	}
}

func TestClamp(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-0.5, 0},
		{0.4, 0.4},
		{1.7, 1},
		{math.NaN(), 0},
	}
	for _, c := range cases {
		if got := Clamp(c.in); got != c.want {
			t.Errorf("Clamp(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestScorerFunc(t *testing.T) {
	var s Scorer = ScorerFunc(func(*domain.Order) float64 { return 0.42 })
	if got := s.Score(&domain.Order{}); got != 0.42 {
		t.Errorf("expected 0.42, got %v", got)
	}
}
