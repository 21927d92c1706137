package domain

import (
	"time"
)

// AuditReport is the outcome of a batch audit.
type AuditReport struct {
	ID        string    `json:"report_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Threshold float64   `json:"detection_threshold"`

	PerRecord []OrderResult  `json:"per_record"`
	PerReview []ReviewResult `json:"per_review"`
	Metrics   AuditMetrics   `json:"metrics"`

	// Summary holds numeric data for an external presentation layer.
	Summary AuditSummary `json:"summary"`
}

// OrderResult is the per-order line of an audit.
type OrderResult struct {
	OrderID    string   `json:"order_id"`
	FraudType  *string  `json:"fraud_type,omitempty"`
	Successful *bool    `json:"is_successful,omitempty"`
	Score      float64  `json:"score"`
	Detected   bool     `json:"detected"`
	Tags       []string `json:"tags"`
}

// ReviewResult is the per-review line of an audit.
type ReviewResult struct {
	ReviewID       string  `json:"review_id"`
	Suspiciousness string  `json:"suspiciousness,omitempty"`
	Excerpt        string  `json:"excerpt,omitempty"`
	Score          float64 `json:"score"`
}

// AuditMetrics aggregates the batch.
type AuditMetrics struct {
	// FraudSuccessRate is nil when the batch has no non-legitimate orders.
	FraudSuccessRate *float64 `json:"fraud_success_rate,omitempty"`
	FraudCount       int      `json:"fraud_count"`
	LegitimateCount  int      `json:"legitimate_count"`
	DetectedCount    int      `json:"detected_count"`

	SuspiciousReviewCount int `json:"suspicious_review_count"`
	ReviewCount           int `json:"review_count"`
}

// AuditSummary carries per-category counts and distributions.
type AuditSummary struct {
	FraudTypeDistribution map[string]int `json:"fraud_type_distribution"`
	AmountHistogram       Histogram      `json:"amount_histogram"`
}

// Histogram is a fixed-bin histogram over [Min, Max].
type Histogram struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Counts []int   `json:"counts"`
}

// EvasionRun records one adversarial optimization.
type EvasionRun struct {
	ID          string    `json:"run_id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	OrderID     string    `json:"order_id"`
	CreatedAt   time.Time `json:"created_at"`
	MaxAttempts int       `json:"max_attempts"`
	DurationMs  int64     `json:"duration_ms"`

	Original      *Order  `json:"original"`
	Best          *Order  `json:"best"`
	OriginalScore float64 `json:"original_score"`
	BestScore     float64 `json:"best_score"`
	Improved      bool    `json:"improved"`

	// ChangedFields lists operator fields that differ between Original and Best.
	ChangedFields []Field `json:"changed_fields"`

	Trace []Attempt `json:"trace,omitempty"`
}

// Attempt is one entry of a perturbation trace.
type Attempt struct {
	Index     int      `json:"index"`
	Candidate *Order   `json:"candidate"`
	Score     float64  `json:"score"`
	Operators []string `json:"operators"`
}
