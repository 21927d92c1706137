package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/fraudsim/internal/bus"
	"github.com/opensource-finance/fraudsim/internal/domain"
)

// OptimizeRequest is the request body for POST /optimize. Exactly one of
// Order and Orders is set; Orders runs a batch search.
type OptimizeRequest struct {
	Order  *domain.Order   `json:"order,omitempty"`
	Orders []*domain.Order `json:"orders,omitempty"`

	// MaxAttempts defaults to the server setting when omitted.
	MaxAttempts *int `json:"max_attempts,omitempty"`
}

// OptimizeBatchResponse is the response for a batch POST /optimize. Runs are
// in request order.
type OptimizeBatchResponse struct {
	Runs []*domain.EvasionRun `json:"runs"`
}

// AuditRequest is the request body for POST /audit.
type AuditRequest struct {
	Orders  []*domain.Order  `json:"orders"`
	Reviews []*domain.Review `json:"reviews,omitempty"`
}

// completedEvent is published when an evasion run or audit finishes.
type completedEvent struct {
	ID       string  `json:"id"`
	TenantID string  `json:"tenantId"`
	OrderID  string  `json:"orderId,omitempty"`
	Score    float64 `json:"score,omitempty"`
}

// Optimize handles POST /optimize requests. max_attempts applies per order
// and the limit bounds the attempts of the whole request.
func (h *Handler) Optimize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req OptimizeRequest
	if !readJSON(w, r, &req) {
		return
	}

	orders := req.Orders
	switch {
	case req.Order != nil && len(req.Orders) > 0:
		writeError(w, http.StatusBadRequest, "set either order or orders, not both")
		return
	case req.Order != nil:
		orders = []*domain.Order{req.Order}
	case len(orders) == 0:
		writeError(w, http.StatusBadRequest, "order is required")
		return
	}
	for i, o := range orders {
		if err := o.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("orders[%d]: %v", i, err))
			return
		}
	}

	maxAttempts := h.MaxAttempts
	if req.MaxAttempts != nil {
		maxAttempts = *req.MaxAttempts
	}
	if maxAttempts > h.MaxAttemptsLimit/len(orders) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("max_attempts must not exceed %d", h.MaxAttemptsLimit/len(orders)))
		return
	}

	var runs []*domain.EvasionRun
	var err error
	if req.Order != nil {
		var run *domain.EvasionRun
		run, err = h.Evasion.Optimize(ctx, req.Order, h.Scorer, maxAttempts)
		runs = []*domain.EvasionRun{run}
	} else {
		runs, err = h.Evasion.OptimizeBatch(ctx, orders, h.Scorer, maxAttempts)
	}
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAttempts) || errors.Is(err, domain.ErrNilOrder) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("optimization failed", "order_count", len(orders), "error", err)
		writeError(w, http.StatusInternalServerError, "optimization failed")
		return
	}

	for _, run := range runs {
		h.storeRun(ctx, tenantID, run)
	}

	if req.Order != nil {
		writeJSON(w, http.StatusOK, runs[0])
		return
	}
	writeJSON(w, http.StatusOK, OptimizeBatchResponse{Runs: runs})
}

// storeRun persists, caches and announces a finished evasion run.
func (h *Handler) storeRun(ctx context.Context, tenantID string, run *domain.EvasionRun) {
	run.TenantID = tenantID

	if h.Repo != nil {
		if err := h.Repo.SaveEvasionRun(ctx, tenantID, run); err != nil {
			slog.Error("failed to save evasion run", "run_id", run.ID, "error", err)
		}
	}
	h.cacheEvasion(ctx, tenantID, run)
	h.publish(ctx, tenantID, domain.TopicEvasionCompleted, completedEvent{
		ID:       run.ID,
		TenantID: tenantID,
		OrderID:  run.OrderID,
		Score:    run.BestScore,
	})
}

// Audit handles POST /audit requests.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req AuditRequest
	if !readJSON(w, r, &req) {
		return
	}
	for i, o := range req.Orders {
		if o == nil {
			continue
		}
		if err := o.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("orders[%d]: %v", i, err))
			return
		}
	}

	report, err := h.Auditor.Audit(ctx, req.Orders, req.Reviews)
	if err != nil {
		if errors.Is(err, domain.ErrNilOrder) || errors.Is(err, domain.ErrNilReview) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("audit failed", "order_count", len(req.Orders), "error", err)
		writeError(w, http.StatusInternalServerError, "audit failed")
		return
	}
	report.TenantID = tenantID

	if h.Repo != nil {
		if err := h.Repo.SaveAuditReport(ctx, tenantID, report); err != nil {
			slog.Error("failed to save audit report", "report_id", report.ID, "error", err)
		}
	}
	h.cacheReport(ctx, tenantID, report)
	h.publish(ctx, tenantID, domain.TopicAuditCompleted, completedEvent{
		ID:       report.ID,
		TenantID: tenantID,
	})

	writeJSON(w, http.StatusOK, report)
}

// GetReport retrieves an audit report, cache first.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	reportID := chi.URLParam(r, "id")

	if h.Cache != nil {
		report, err := h.Cache.GetReport(ctx, tenantID, reportID)
		if err != nil {
			slog.Warn("cache read failed", "namespace", domain.NamespaceReport, "id", reportID, "error", err)
		} else if report != nil {
			writeJSON(w, http.StatusOK, report)
			return
		}
	}

	if h.Repo == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}

	stored, err := h.Repo.GetAuditReport(ctx, tenantID, reportID)
	if err != nil {
		writeLookupError(w, "report", reportID, err)
		return
	}
	h.cacheReport(ctx, tenantID, stored)

	writeJSON(w, http.StatusOK, stored)
}

// GetEvasion retrieves an evasion run, cache first.
func (h *Handler) GetEvasion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	runID := chi.URLParam(r, "id")

	if h.Cache != nil {
		run, err := h.Cache.GetEvasion(ctx, tenantID, runID)
		if err != nil {
			slog.Warn("cache read failed", "namespace", domain.NamespaceEvasion, "id", runID, "error", err)
		} else if run != nil {
			writeJSON(w, http.StatusOK, run)
			return
		}
	}

	if h.Repo == nil {
		writeError(w, http.StatusNotFound, "evasion run not found")
		return
	}

	stored, err := h.Repo.GetEvasionRun(ctx, tenantID, runID)
	if err != nil {
		writeLookupError(w, "evasion run", runID, err)
		return
	}
	h.cacheEvasion(ctx, tenantID, stored)

	writeJSON(w, http.StatusOK, stored)
}

func (h *Handler) cacheReport(ctx context.Context, tenantID string, report *domain.AuditReport) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.PutReport(ctx, tenantID, report); err != nil {
		slog.Warn("failed to cache report", "report_id", report.ID, "error", err)
	}
}

func (h *Handler) cacheEvasion(ctx context.Context, tenantID string, run *domain.EvasionRun) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.PutEvasion(ctx, tenantID, run); err != nil {
		slog.Warn("failed to cache evasion run", "run_id", run.ID, "error", err)
	}
}

func (h *Handler) publish(ctx context.Context, tenantID, topic string, v any) {
	if h.Bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, h.Bus, tenantID, topic, v); err != nil {
		slog.Error("failed to publish event", "topic", topic, "error", err)
	}
}
