package domain

import "time"

// Review is a product review audited for fake-review signals. Read-only.
type Review struct {
	ID             string    `json:"id"`
	Product        string    `json:"product,omitempty"`
	Text           string    `json:"text"`
	Rating         int       `json:"rating"`
	Suspiciousness string    `json:"suspiciousness,omitempty"` // low, medium, high
	Timestamp      time.Time `json:"timestamp"`
}

// Suspiciousness labels.
const (
	SuspiciousnessLow    = "low"
	SuspiciousnessMedium = "medium"
	SuspiciousnessHigh   = "high"
)

// SuspiciousnessLevels lists the valid suspiciousness labels in order.
var SuspiciousnessLevels = []string{SuspiciousnessLow, SuspiciousnessMedium, SuspiciousnessHigh}

// IsSuspicious reports whether the supplied label is medium or high.
func (r *Review) IsSuspicious() bool {
	return r.Suspiciousness == SuspiciousnessMedium || r.Suspiciousness == SuspiciousnessHigh
}
