package audit

import (
	"math"

	"github.com/opensource-finance/fraudsim/internal/domain"
)

// FraudTypeDistribution counts non-legitimate orders per fraud type.
func FraudTypeDistribution(orders []*domain.Order) map[string]int {
	dist := make(map[string]int)
	for _, o := range orders {
		if o.IsLegitimate() {
			continue
		}
		label := o.FraudLabel()
		if label == "" {
			label = UnknownFraudType
		}
		dist[label]++
	}
	return dist
}

// AmountHistogram bins the present amounts into bins equal-width buckets
// over [min, max]. The maximum falls in the last bucket. NaN and infinite
// amounts are skipped.
func AmountHistogram(orders []*domain.Order, bins int) domain.Histogram {
	if bins <= 0 {
		return domain.Histogram{Counts: []int{}}
	}
	h := domain.Histogram{Counts: make([]int, bins)}

	first := true
	for _, o := range orders {
		if !finiteAmount(o) {
			continue
		}
		v := *o.Amount
		if first {
			h.Min, h.Max = v, v
			first = false
			continue
		}
		h.Min = min(h.Min, v)
		h.Max = max(h.Max, v)
	}
	if first {
		return h
	}

	// Halved so that the span of extreme amounts cannot overflow.
	halfWidth := (h.Max/2 - h.Min/2) / float64(bins)
	for _, o := range orders {
		if !finiteAmount(o) {
			continue
		}
		idx := 0
		if halfWidth > 0 {
			pos := (*o.Amount/2 - h.Min/2) / halfWidth
			if !math.IsNaN(pos) && pos > 0 {
				idx = int(min(pos, float64(bins-1)))
			}
		}
		h.Counts[idx]++
	}
	return h
}

func finiteAmount(o *domain.Order) bool {
	return o.Amount != nil && !math.IsNaN(*o.Amount) && !math.IsInf(*o.Amount, 0)
}

// Excerpt returns the first n runes of text, with "..." appended only when
// text was truncated.
func Excerpt(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
