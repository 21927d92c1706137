package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/fraudsim/internal/domain"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Enabled     bool    `json:"enabled"`
}

// ListRules returns the rules loaded in the CEL engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.Rules == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not available")
		return
	}

	loadedRules := h.Rules.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loadedRules,
		"count": len(loadedRules),
	})
}

// GetRule retrieves a loaded rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	if h.Rules == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not available")
		return
	}

	ruleID := chi.URLParam(r, "id")
	for _, rule := range h.Rules.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRule validates a CEL rule and saves it globally (tenant "*").
// With a repository, POST /rules/reload applies it; without one the rule is
// loaded immediately.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.Rules == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not available")
		return
	}

	var req CreateRuleRequest
	if !readJSON(w, r, &req) {
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Weight:      req.Weight,
		Enabled:     req.Enabled,
	}

	if err := h.Rules.ValidateRule(ruleConfig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}

	message := "Rule created. Call POST /rules/reload to apply changes."
	if h.Repo != nil {
		if err := h.Repo.SaveRuleConfig(ctx, GlobalTenantID, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save rule")
			return
		}
	} else if ruleConfig.Enabled {
		if err := h.Rules.LoadRule(ruleConfig); err != nil {
			writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
			return
		}
		message = "Rule created and loaded."
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": message,
	})
}

// ReloadRules replaces the engine's rules with the enabled rules stored in
// the repository.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.Rules == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not available")
		return
	}
	if h.Repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	dbRules, err := h.Repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rules from database")
		return
	}

	if err := h.Rules.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   h.Rules.RulesCount(),
	})
}
