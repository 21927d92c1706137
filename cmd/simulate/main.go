// Simulation tool for exercising fraudsim detectors with synthetic data.
//
// Usage:
//
//	go run ./cmd/simulate -type card_testing -count 50 -legit 50 -attempts 200
//	go run ./cmd/simulate -url http://localhost:8080 -type triangulation
//
// This tool:
//  1. Generates labelled fraud and legitimate orders plus product reviews
//  2. Audits them locally, or against a running server with -url
//  3. Runs a batch adversarial search over every fraudulent order
//  4. Prints a confusion matrix to stderr and the JSON results to stdout
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/opensource-finance/fraudsim/internal/api"
	"github.com/opensource-finance/fraudsim/internal/audit"
	"github.com/opensource-finance/fraudsim/internal/domain"
	"github.com/opensource-finance/fraudsim/internal/evasion"
	"github.com/opensource-finance/fraudsim/internal/perturb"
	"github.com/opensource-finance/fraudsim/internal/rules"
	"github.com/opensource-finance/fraudsim/internal/scoring"
	"github.com/opensource-finance/fraudsim/internal/simulate"
)

// Output is the JSON document printed on stdout.
type Output struct {
	Report   *domain.AuditReport  `json:"report"`
	Evasions []*domain.EvasionRun `json:"evasions,omitempty"`
}

// Metrics is the confusion matrix of an audit against the synthetic labels.
type Metrics struct {
	TruePositives  int // Fraud detected
	FalsePositives int // Legitimate detected
	TrueNegatives  int // Legitimate passed
	FalseNegatives int // Fraud passed
}

func main() {
	fraudType := flag.String("type", simulate.CardTesting, "Fraud type to generate")
	count := flag.Int("count", 20, "Number of fraudulent orders")
	legit := flag.Int("legit", 20, "Number of legitimate orders")
	successRate := flag.Float64("success-rate", 0.5, "Share of fraud orders labelled successful")
	reviewCount := flag.Int("reviews", 10, "Number of reviews")
	suspiciousness := flag.String("suspiciousness", domain.SuspiciousnessMedium, "Review suspiciousness")
	product := flag.String("product", "Wireless Earbuds", "Reviewed product name")
	attempts := flag.Int("attempts", 100, "Evasion attempts per fraud order (0 skips the search)")
	seed := flag.Uint64("seed", 0, "Random seed (0 = clock)")
	scorerName := flag.String("scorer", domain.ScorerHeuristic, "Scorer: heuristic or cel")
	rulesFile := flag.String("rules", "", "YAML CEL rule set for -scorer cel")
	baseURL := flag.String("url", "", "fraudsim server URL (empty = run locally)")
	tenantID := flag.String("tenant", "simulate", "Tenant ID for server requests")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}

	cfg := domain.DefaultConfig()
	cfg.Scoring.Engine = *scorerName
	cfg.Scoring.RulesFile = *rulesFile

	gen := simulate.NewGenerator(*seed, cfg.Perturb)
	orders, err := gen.Orders(*fraudType, *count, *successRate)
	if err != nil {
		fatal(err)
	}
	orders = append(orders, gen.LegitimateOrders(*legit)...)

	reviews, err := gen.Reviews(*product, *reviewCount, *suspiciousness)
	if err != nil {
		fatal(err)
	}

	var out Output
	if *baseURL != "" {
		out, err = runRemote(*baseURL, *tenantID, orders, reviews, *attempts)
	} else {
		out, err = runLocal(cfg, *seed, orders, reviews, *attempts)
	}
	if err != nil {
		fatal(err)
	}

	printMetrics(confusion(out.Report), out.Report)
	printEvasions(out.Evasions)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal(err)
	}
}

func runLocal(cfg *domain.Config, seed uint64, orders []*domain.Order, reviews []*domain.Review, attempts int) (Output, error) {
	ctx := context.Background()

	var scorer scoring.Scorer = scoring.NewHeuristic(cfg.Scoring)
	if cfg.Scoring.Engine == domain.ScorerCEL {
		engine, err := rules.NewEngineFromConfig(cfg.Scoring, cfg.Search.Workers)
		if err != nil {
			return Output{}, err
		}
		scorer = engine
	} else if err := domain.ValidateChoice("scorer", cfg.Scoring.Engine, []string{domain.ScorerHeuristic, domain.ScorerCEL}); err != nil {
		return Output{}, err
	}

	report, err := audit.FromConfig(scorer, cfg).Audit(ctx, orders, reviews)
	if err != nil {
		return Output{}, err
	}
	out := Output{Report: report}

	targets := fraudOrders(orders)
	if attempts <= 0 || len(targets) == 0 {
		return out, nil
	}

	registry, err := perturb.NewDefaultRegistry(cfg.Perturb)
	if err != nil {
		return Output{}, err
	}
	engine := evasion.NewEngine(registry, evasion.WithSeed(seed), evasion.WithWorkers(cfg.Search.Workers))
	out.Evasions, err = engine.OptimizeBatch(ctx, targets, scorer, attempts)
	return out, err
}

func runRemote(baseURL, tenantID string, orders []*domain.Order, reviews []*domain.Review, attempts int) (Output, error) {
	client := &http.Client{Timeout: 60 * time.Second}

	var report domain.AuditReport
	if err := post(client, baseURL+"/audit", tenantID, api.AuditRequest{Orders: orders, Reviews: reviews}, &report); err != nil {
		return Output{}, fmt.Errorf("audit: %w", err)
	}
	out := Output{Report: &report}

	targets := fraudOrders(orders)
	if attempts <= 0 || len(targets) == 0 {
		return out, nil
	}

	var resp api.OptimizeBatchResponse
	if err := post(client, baseURL+"/optimize", tenantID, api.OptimizeRequest{Orders: targets, MaxAttempts: &attempts}, &resp); err != nil {
		return Output{}, fmt.Errorf("optimize: %w", err)
	}
	out.Evasions = resp.Runs
	return out, nil
}

func post(client *http.Client, url, tenantID string, body, dst any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.TenantIDHeader, tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	return json.Unmarshal(data, dst)
}

// fraudOrders returns the non-legitimate orders in input order.
func fraudOrders(orders []*domain.Order) []*domain.Order {
	var fraud []*domain.Order
	for _, o := range orders {
		if !o.IsLegitimate() {
			fraud = append(fraud, o)
		}
	}
	return fraud
}

func confusion(report *domain.AuditReport) Metrics {
	var m Metrics
	for _, r := range report.PerRecord {
		fraud := r.FraudType == nil || *r.FraudType != domain.FraudTypeLegitimate
		switch {
		case fraud && r.Detected:
			m.TruePositives++
		case fraud:
			m.FalseNegatives++
		case r.Detected:
			m.FalsePositives++
		default:
			m.TrueNegatives++
		}
	}
	return m
}

func printMetrics(m Metrics, report *domain.AuditReport) {
	w := os.Stderr
	fmt.Fprintln(w, "CONFUSION MATRIX")
	fmt.Fprintln(w, "                 detected   passed")
	fmt.Fprintf(w, "   fraud       %8d %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Fprintf(w, "   legitimate  %8d %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := 0.0
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	recall := 0.0
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	fmt.Fprintf(w, "   Precision:  %.4f\n", precision)
	fmt.Fprintf(w, "   Recall:     %.4f\n", recall)
	if rate := report.Metrics.FraudSuccessRate; rate != nil {
		fmt.Fprintf(w, "   Fraud success rate: %.4f\n", *rate)
	}
	fmt.Fprintf(w, "   Suspicious reviews: %d / %d\n", report.Metrics.SuspiciousReviewCount, report.Metrics.ReviewCount)
	fmt.Fprintln(w)
}

func printEvasions(runs []*domain.EvasionRun) {
	if len(runs) == 0 {
		return
	}
	w := os.Stderr
	improved := 0
	var drop float64
	for _, run := range runs {
		if run.Improved {
			improved++
			drop += run.OriginalScore - run.BestScore
		}
	}
	fmt.Fprintln(w, "EVASION")
	fmt.Fprintf(w, "   Orders searched:  %d\n", len(runs))
	fmt.Fprintf(w, "   Improved:         %d\n", improved)
	if improved > 0 {
		fmt.Fprintf(w, "   Mean score drop:  %.4f\n", drop/float64(improved))
	}
	fmt.Fprintln(w)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
