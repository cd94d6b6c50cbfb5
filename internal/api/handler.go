package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-commerce/kestrel/internal/domain"
	"github.com/opensource-commerce/kestrel/internal/evaluator"
	"github.com/opensource-commerce/kestrel/internal/policy"
	"github.com/opensource-commerce/kestrel/internal/repository"
	"github.com/opensource-commerce/kestrel/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	evaluator *evaluator.Evaluator
	pipeline  *evaluator.Pipeline
	policies  *policy.Service
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, ev *evaluator.Evaluator, pipeline *evaluator.Pipeline, policies *policy.Service, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		evaluator: ev,
		pipeline:  pipeline,
		policies:  policies,
		version:   version,
	}
}

// CreateOrder handles POST /orders: ingest an order snapshot and announce
// it on the bus. Evaluation happens asynchronously via the worker, or on
// demand through POST /orders/{id}/evaluate.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.TotalPrice < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "totalPrice must not be negative",
		})
		return
	}
	for _, item := range req.Items {
		if item.Quantity < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "item quantity must not be negative",
			})
			return
		}
	}

	order := req.ToOrder()
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.Currency == "" {
		order.Currency = "USD"
	}

	if err := h.repo.SaveOrder(ctx, order); err != nil {
		slog.Error("failed to save order", "order_id", order.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save order",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(order)
		if err := h.bus.Publish(ctx, domain.TopicOrderPlaced, payload); err != nil {
			slog.Warn("failed to publish order placed event", "order_id", order.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	order, err := h.repo.GetOrder(r.Context(), orderID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "order not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get order", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get order",
		})
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// EvaluateOrder handles POST /orders/{id}/evaluate: run the full pipeline
// synchronously and return the outcome.
func (h *Handler) EvaluateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")

	order, err := h.repo.GetOrder(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "order not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get order", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get order",
		})
		return
	}

	result, err := h.pipeline.Process(ctx, order)
	if err != nil {
		slog.Error("evaluation failed", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetSuspicion handles GET /orders/{id}/suspicion.
func (h *Handler) GetSuspicion(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	record, err := h.repo.GetSuspicionByOrder(r.Context(), orderID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no suspicion record for order",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get suspicion record", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get suspicion record",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"record":     record,
		"totalScore": record.TotalScore(),
	})
}

// ResetSuspicion handles DELETE /orders/{id}/suspicion: an admin reset
// that clears the record so the order re-scores from zero.
func (h *Handler) ResetSuspicion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")

	if err := h.evaluator.Reset(ctx, orderID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no suspicion record for order",
			})
			return
		}
		slog.Error("failed to reset suspicion record", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reset suspicion record",
		})
		return
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]string{"orderId": orderID})
		if err := h.bus.Publish(ctx, domain.TopicSuspicionCleared, payload); err != nil {
			slog.Warn("failed to publish suspicion cleared event", "order_id", orderID, "error", err)
		}
	}

	slog.Info("suspicion record reset", "order_id", orderID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "suspicion record cleared",
	})
}

// GetScore handles GET /orders/{id}/score: the cached read path for
// storefront display. Orders with no record score zero.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")

	score, err := h.evaluator.Score(ctx, orderID)
	if err != nil {
		slog.Error("failed to get score", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get score",
		})
		return
	}

	cfg, err := h.policies.Current(ctx)
	if err != nil {
		slog.Error("failed to load decision config", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load decision config",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"orderId":  orderID,
		"score":    score,
		"decision": policy.Decide(score, cfg),
	})
}

// GetActivityLog handles GET /orders/{id}/log.
func (h *Handler) GetActivityLog(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	entries, err := h.repo.ListLogEntries(r.Context(), orderID)
	if err != nil {
		slog.Error("failed to list log entries", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list log entries",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// ListRules returns all loaded rules from the engine in position order.
// Rules are loaded from the database at startup and can be reloaded via
// POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.All()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	rule, err := h.engine.Get(ruleID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /rules: validate, load into the engine, and
// persist. Unlike reload, creation rejects rules that fail validation.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.engine.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.engine.LoadRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveRule(ctx, &rule); err != nil {
		slog.Error("failed to save rule", "rule_id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "rule_id", rule.ID, "kind", rule.Kind)
	writeJSON(w, http.StatusCreated, &rule)
}

// UpdateRule handles PUT /rules/{id}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if _, err := h.engine.Get(ruleID); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	rule.ID = ruleID

	if err := h.engine.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.engine.LoadRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveRule(ctx, &rule); err != nil {
		slog.Error("failed to save rule", "rule_id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule updated", "rule_id", rule.ID)
	writeJSON(w, http.StatusOK, &rule)
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbRules, err := h.repo.ListRules(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	h.engine.ReloadRules(dbRules)

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// GetDecisionConfig handles GET /settings/decision.
func (h *Handler) GetDecisionConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.policies.Current(r.Context())
	if err != nil {
		slog.Error("failed to load decision config", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load decision config",
		})
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

// UpdateDecisionConfig handles PUT /settings/decision. Threshold
// invariants are enforced here, at save time: a checklist cap at or
// above the blocklist cap is rejected and the stored config is
// untouched.
func (h *Handler) UpdateDecisionConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var cfg domain.DecisionConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.policies.Update(ctx, cfg); err != nil {
		var cfgErr *domain.ConfigError
		if errors.As(err, &cfgErr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": cfgErr.Error(),
			})
			return
		}
		slog.Error("failed to save decision config", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save decision config",
		})
		return
	}

	slog.Info("decision config updated",
		"checklist_cap", cfg.ChecklistCap,
		"blocklist_cap", cfg.BlocklistCap,
		"stop_order", cfg.StopOrder,
	)
	writeJSON(w, http.StatusOK, cfg)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
