package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/fraudsim/internal/audit"
	"github.com/opensource-finance/fraudsim/internal/bus"
	"github.com/opensource-finance/fraudsim/internal/domain"
	"github.com/opensource-finance/fraudsim/internal/evasion"
	"github.com/opensource-finance/fraudsim/internal/pattern"
	"github.com/opensource-finance/fraudsim/internal/repository"
	"github.com/opensource-finance/fraudsim/internal/rules"
	"github.com/opensource-finance/fraudsim/internal/scoring"
	"github.com/opensource-finance/fraudsim/internal/worker"
	"go.opentelemetry.io/otel/trace"
)

// Dependencies are the collaborators of the API handlers. Repo, Cache, Bus
// and Rules are optional; the rest are required.
type Dependencies struct {
	Repo  domain.Repository
	Cache domain.Cache
	Bus   domain.EventBus

	Scorer  scoring.Scorer
	Rules   *rules.Engine
	Tagger  *pattern.Tagger
	Evasion *evasion.Engine
	Auditor *audit.Auditor

	// Pipeline scores ingested orders. Built from the other fields when nil.
	Pipeline *worker.Pipeline

	// AsyncIngest publishes ingested orders instead of scoring them inline.
	AsyncIngest bool

	// TracerProvider traces requests. Nil means the global provider.
	TracerProvider trace.TracerProvider

	MaxAttempts int
	// MaxAttemptsLimit rejects larger max_attempts with a 400.
	MaxAttemptsLimit int
	Version          string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Dependencies
	threshold float64
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	if deps.Tagger == nil {
		deps.Tagger = pattern.Default
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 100
	}
	if deps.MaxAttemptsLimit <= 0 {
		deps.MaxAttemptsLimit = domain.DefaultMaxAttemptsLimit
	}

	threshold := domain.DefaultDetectionThreshold
	if deps.Auditor != nil {
		threshold = deps.Auditor.Threshold()
	}

	if deps.Pipeline == nil {
		deps.Pipeline = &worker.Pipeline{
			Scorer:    deps.Scorer,
			Tagger:    deps.Tagger,
			Threshold: threshold,
			Repo:      deps.Repo,
			Bus:       deps.Bus,
		}
	}

	return &Handler{
		Dependencies: deps,
		threshold:    threshold,
	}
}

// ScoreResponse is the response for POST /score and synchronous POST /orders.
type ScoreResponse struct {
	OrderID       string                    `json:"order_id"`
	Score         float64                   `json:"score"`
	Detected      bool                      `json:"detected"`
	Tags          []string                  `json:"tags"`
	Contributions []domain.RuleContribution `json:"contributions,omitempty"`
	TraceID       string                    `json:"trace_id,omitempty"`
}

// TagResponse is the response for POST /tag.
type TagResponse struct {
	OrderID string   `json:"order_id"`
	Tags    []string `json:"tags"`
}

// explainer is implemented by scorers that can break a score down per rule.
type explainer interface {
	Explain(order *domain.Order) []domain.RuleContribution
}

// Score handles POST /score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	order, ok := decodeOrder(w, r)
	if !ok {
		return
	}

	score := h.Scorer.Score(order)
	resp := ScoreResponse{
		OrderID:  order.ID,
		Score:    score,
		Detected: scoring.Detected(score, h.threshold),
		Tags:     h.Tagger.Tag(order),
		TraceID:  GetTraceID(r.Context()),
	}
	if ex, ok := h.Scorer.(explainer); ok {
		resp.Contributions = ex.Explain(order)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Tag handles POST /tag requests.
func (h *Handler) Tag(w http.ResponseWriter, r *http.Request) {
	order, ok := decodeOrder(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, TagResponse{
		OrderID: order.ID,
		Tags:    h.Tagger.Tag(order),
	})
}

// IngestOrder handles POST /orders. The order is scored inline, or queued
// on the bus when async ingest is enabled.
func (h *Handler) IngestOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	order, ok := decodeOrder(w, r)
	if !ok {
		return
	}
	if order.ID == "" {
		order.ID = uuid.New().String()
	}

	if h.AsyncIngest && h.Bus != nil {
		msg := worker.OrderMessage{TenantID: tenantID, TraceID: traceID, Order: order}
		if err := bus.PublishJSON(ctx, h.Bus, tenantID, domain.TopicOrderIngested, msg); err != nil {
			slog.Error("failed to queue order", "order_id", order.ID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "failed to queue order")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"order_id": order.ID,
			"status":   "queued",
			"trace_id": traceID,
		})
		return
	}

	result, err := h.Pipeline.Process(ctx, tenantID, traceID, order)
	if err != nil {
		slog.Error("order processing failed", "order_id", order.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "order processing failed")
		return
	}

	writeJSON(w, http.StatusOK, ScoreResponse{
		OrderID:  result.OrderID,
		Score:    result.Score,
		Detected: result.Detected,
		Tags:     result.Tags,
		TraceID:  result.TraceID,
	})
}

// GetOrder retrieves an order by ID.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	orderID := chi.URLParam(r, "id")

	if h.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	order, err := h.Repo.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		writeLookupError(w, "order", orderID, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.Repo != nil {
		if err := h.Repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.Cache != nil {
		if err := h.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.Bus != nil {
		if err := h.Bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.Version,
	})
}

// Ready returns whether the server is ready to accept traffic. A CEL scorer
// with no rules loaded is not ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Scorer == nil || (h.Rules != nil && h.Scorer == scoring.Scorer(h.Rules) && h.Rules.RulesCount() == 0) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// decodeOrder reads an order body, writing a 400 on failure.
func decodeOrder(w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	var order domain.Order
	if !readJSON(w, r, &order) {
		return nil, false
	}
	if err := order.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &order, true
}

// readJSON decodes the request body into dst. Bodies over the server limit
// get a 413, malformed ones a 400.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid JSON request body")
	return false
}

// writeLookupError maps repository errors to 404 or 500.
func writeLookupError(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	slog.Error("lookup failed", "kind", kind, "id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to load "+kind)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
