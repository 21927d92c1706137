//go:build integration
// +build integration

// Package integration provides end-to-end tests against a running fraudsim
// server using the reference heuristic scorer.
//
// The reference weights are:
//
//	geo mismatch (billing != shipping)   +0.3
//	amount > 1000                        +0.2
//	TEST_ITEM line item                  +0.5
//	velocity > 5                         +min(0.3, velocity*0.06)
//
// An order is detected when its score is strictly above 0.7.
//
// Run with: go test -tags=integration -v ./tests/integration/...
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL  string
	TenantID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("FRAUDSIM_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL:  baseURL,
		TenantID: "test-tenant",
	}
}

// Order mirrors the order JSON accepted by the API.
type Order struct {
	ID              string     `json:"order_id"`
	Amount          *float64   `json:"amount,omitempty"`
	BillingCountry  string     `json:"billing_country,omitempty"`
	ShippingCountry string     `json:"shipping_country,omitempty"`
	IP              string     `json:"ip,omitempty"`
	Items           []LineItem `json:"items,omitempty"`
	Velocity        *float64   `json:"velocity,omitempty"`
	FraudType       string     `json:"fraud_type,omitempty"`
	Successful      *bool      `json:"is_successful,omitempty"`
}

type LineItem struct {
	SKU      string  `json:"sku"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type ScoreResponse struct {
	OrderID  string   `json:"order_id"`
	Score    float64  `json:"score"`
	Detected bool     `json:"detected"`
	Tags     []string `json:"tags"`
}

type EvasionRun struct {
	ID            string   `json:"run_id"`
	OriginalScore float64  `json:"original_score"`
	BestScore     float64  `json:"best_score"`
	Best          Order    `json:"best"`
	ChangedFields []string `json:"changed_fields"`
}

type AuditReport struct {
	ID      string `json:"report_id"`
	Metrics struct {
		FraudSuccessRate *float64 `json:"fraud_success_rate"`
		FraudCount       int      `json:"fraud_count"`
		LegitimateCount  int      `json:"legitimate_count"`
	} `json:"metrics"`
}

func f(v float64) *float64 { return &v }
func b(v bool) *bool       { return &v }

// ============================================================================
// Test Helper Functions
// ============================================================================

func call(t *testing.T, config TestConfig, method, path string, req any, wantStatus int, dst any) {
	t.Helper()

	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequest(method, config.BaseURL+path, body)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", config.TenantID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != wantStatus {
		t.Fatalf("Expected status %d, got %d: %s", wantStatus, resp.StatusCode, string(respBody))
	}

	if dst != nil {
		if err := json.Unmarshal(respBody, dst); err != nil {
			t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
		}
	}
}

func cardTesting(id string) Order {
	return Order{
		ID:              id,
		Amount:          f(1),
		BillingCountry:  "US",
		ShippingCountry: "CN",
		IP:              "36.110.1.2",
		Items:           []LineItem{{SKU: "TEST_ITEM", Price: 1, Quantity: 1}},
		Velocity:        f(0),
		FraudType:       "card_testing",
		Successful:      b(true),
	}
}

// ============================================================================
// Scoring
// ============================================================================

func TestNormalOrder_NotDetected(t *testing.T) {
	config := getTestConfig()

	order := Order{ID: "it-normal", Amount: f(100), BillingCountry: "US", ShippingCountry: "US", Velocity: f(0)}

	var result ScoreResponse
	call(t, config, http.MethodPost, "/score", order, http.StatusOK, &result)

	if result.Score != 0 || result.Detected {
		t.Errorf("Expected score 0 and no detection, got %+v", result)
	}
	if len(result.Tags) != 1 || result.Tags[0] != "normal" {
		t.Errorf("Expected [normal], got %v", result.Tags)
	}
}

func TestHighValueAlone_NotDetected(t *testing.T) {
	config := getTestConfig()

	order := Order{ID: "it-high", Amount: f(5000), BillingCountry: "US", ShippingCountry: "US"}

	var result ScoreResponse
	call(t, config, http.MethodPost, "/score", order, http.StatusOK, &result)

	if result.Score < 0.19 || result.Score > 0.21 || result.Detected {
		t.Errorf("Expected score 0.2 and no detection, got %+v", result)
	}
}

func TestCardTesting_Detected(t *testing.T) {
	config := getTestConfig()

	var result ScoreResponse
	call(t, config, http.MethodPost, "/score", cardTesting("it-ct"), http.StatusOK, &result)

	if result.Score < 0.8 || !result.Detected {
		t.Errorf("Expected detection with score >= 0.8, got %+v", result)
	}
}

// ============================================================================
// Adversarial search
// ============================================================================

func TestOptimize_NeverIncreasesScore(t *testing.T) {
	config := getTestConfig()

	req := map[string]any{"order": cardTesting("it-opt"), "max_attempts": 200}

	var run EvasionRun
	call(t, config, http.MethodPost, "/optimize", req, http.StatusOK, &run)

	if run.BestScore > run.OriginalScore {
		t.Errorf("Best score %.2f above original %.2f", run.BestScore, run.OriginalScore)
	}
	if run.Best.ID != "it-opt" {
		t.Errorf("Order identity changed: %s", run.Best.ID)
	}

	var stored EvasionRun
	call(t, config, http.MethodGet, "/evasions/"+run.ID, nil, http.StatusOK, &stored)
	if stored.BestScore != run.BestScore {
		t.Errorf("Stored best score %.2f, want %.2f", stored.BestScore, run.BestScore)
	}
}

func TestOptimize_RejectsZeroAttempts(t *testing.T) {
	config := getTestConfig()
	req := map[string]any{"order": cardTesting("it-zero"), "max_attempts": 0}
	call(t, config, http.MethodPost, "/optimize", req, http.StatusBadRequest, nil)
}

// ============================================================================
// Audit
// ============================================================================

func TestAudit_SuccessRate(t *testing.T) {
	config := getTestConfig()

	// A successful fraud order that evades detection plus one legitimate order.
	evading := Order{
		ID:              "it-evading",
		Amount:          f(50),
		BillingCountry:  "US",
		ShippingCountry: "US",
		Velocity:        f(0),
		FraudType:       "account_takeover",
		Successful:      b(true),
	}
	legit := Order{
		ID:              "it-legit",
		Amount:          f(80),
		BillingCountry:  "US",
		ShippingCountry: "US",
		FraudType:       "legitimate",
	}

	var report AuditReport
	call(t, config, http.MethodPost, "/audit", map[string]any{"orders": []Order{evading, legit}}, http.StatusOK, &report)

	if report.Metrics.FraudCount != 1 || report.Metrics.LegitimateCount != 1 {
		t.Errorf("Unexpected counts: %+v", report.Metrics)
	}
	if report.Metrics.FraudSuccessRate == nil || *report.Metrics.FraudSuccessRate != 1.0 {
		t.Errorf("Expected fraud success rate 1.0, got %v", report.Metrics.FraudSuccessRate)
	}

	var stored AuditReport
	call(t, config, http.MethodGet, "/reports/"+report.ID, nil, http.StatusOK, &stored)
	if stored.ID != report.ID {
		t.Errorf("Expected report %s, got %s", report.ID, stored.ID)
	}
}
