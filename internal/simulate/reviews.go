package simulate

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

var useCases = map[string][]string{
	"Electronics":    {"work", "entertainment", "communication"},
	"Home & Kitchen": {"cook", "clean", "decorate"},
	"Fashion":        {"dress", "accessorize", "express myself"},
	"Beauty":         {"look better", "feel confident", "take care of my skin"},
}

var categories = []string{"Electronics", "Home & Kitchen", "Fashion", "Beauty"}

// Reviews generates count reviews for product at the given suspiciousness.
func (g *Generator) Reviews(product string, count int, suspiciousness string) ([]*domain.Review, error) {
	if err := domain.ValidateChoice("suspiciousness", suspiciousness, domain.SuspiciousnessLevels); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("count must not be negative, got %d", count)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	category := g.pick(categories)
	reviews := make([]*domain.Review, count)
	for i := range reviews {
		rating := 5
		if suspiciousness == domain.SuspiciousnessLow {
			rating = 4 + g.rng.IntN(2)
		}

		days := 1 + g.rng.IntN(90)
		reviews[i] = &domain.Review{
			ID:             uuid.New().String(),
			Product:        product,
			Text:           g.reviewText(product, category, suspiciousness, days),
			Rating:         rating,
			Suspiciousness: suspiciousness,
			Timestamp:      g.now().Add(-time.Duration(days) * 24 * time.Hour).UTC(),
		}
	}
	return reviews, nil
}

func (g *Generator) reviewText(product, category, suspiciousness string, days int) string {
	useCase := g.pick(useCases[category])

	switch suspiciousness {
	case domain.SuspiciousnessHigh:
		text := fmt.Sprintf("BEST EVER!!! This %s is AMAZING and totally life changing. Must buy!", product)
		if g.rng.IntN(2) == 0 {
			text += " ORDER NOW before it sells out!"
		}
		return text
	case domain.SuspiciousnessMedium:
		return fmt.Sprintf("Really happy with this %s. Perfect to %s, I highly recommend it.", product, useCase)
	default:
		return fmt.Sprintf("I have used the %s for %d days to %s. It does the job, though setup took longer than %s.",
			strings.ToLower(product), days, useCase, g.pick([]string{"expected", "advertised", "I hoped"}))
	}
}
