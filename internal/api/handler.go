package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *engine.Engine
	evaluator *metrics.AlertEvaluator
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, evaluator *metrics.AlertEvaluator, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    eng,
		evaluator: evaluator,
		version:   version,
	}
}

// PredictRequest is the request body for POST /predict: the transaction
// fields plus an optional customer_history. A supplied history is scored
// against verbatim; without one the history is derived from stored
// transactions.
type PredictRequest struct {
	domain.Transaction
	CustomerHistory *domain.CustomerHistory `json:"customer_history,omitempty"`
}

// PredictResponse is the response for POST /predict.
type PredictResponse struct {
	*domain.PredictionResult
	Metadata struct {
		TraceID string `json:"trace_id"`
		TotalMs int64  `json:"total_ms"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Predict handles POST /predict requests: synchronous single-transaction
// scoring.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx := req.Transaction
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	// Persist before scoring so the transaction feeds future histories
	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, &tx); err != nil {
			// Unparseable timestamps surface through scoring below;
			// other persistence failures must not block the verdict.
			if !errors.Is(err, domain.ErrInvalidTimestamp) {
				slog.Error("failed to save transaction", "transaction_id", tx.ID, "error", err)
			}
		}
	}

	result, err := h.engine.ScoreOne(ctx, &tx, req.CustomerHistory)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.repo != nil {
		if err := h.repo.SavePrediction(ctx, result); err != nil {
			slog.Error("failed to save prediction", "transaction_id", tx.ID, "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(result)
		if err := h.bus.Publish(ctx, domain.TopicPredictionScored, payload); err != nil {
			slog.Error("failed to publish prediction", "transaction_id", tx.ID, "error", err)
		}
	}

	h.checkFraudRate(ctx)

	resp := PredictResponse{PredictionResult: result}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// BatchRequest is the request body for POST /predict/batch. Each element
// takes the same shape as the /predict body, including the optional
// customer_history.
type BatchRequest struct {
	Transactions []*PredictRequest `json:"transactions"`
}

// BatchItemResponse is one element of the batch response. Failed elements
// carry an error string instead of a result.
type BatchItemResponse struct {
	Index         int                      `json:"index"`
	TransactionID string                   `json:"transaction_id,omitempty"`
	Result        *domain.PredictionResult `json:"result,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

// BatchResponse is the response for POST /predict/batch.
type BatchResponse struct {
	Items     []BatchItemResponse `json:"items"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

// PredictBatch handles POST /predict/batch requests. Elements fail
// independently; the response keeps input order.
func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions is required and must not be empty",
		})
		return
	}

	txs := make([]*domain.Transaction, len(req.Transactions))
	histories := make([]*domain.CustomerHistory, len(req.Transactions))
	for i, el := range req.Transactions {
		if el == nil {
			continue
		}
		if el.ID == "" {
			el.ID = uuid.New().String()
		}
		txs[i] = &el.Transaction
		histories[i] = el.CustomerHistory

		if h.repo != nil {
			if err := h.repo.SaveTransaction(ctx, txs[i]); err != nil && !errors.Is(err, domain.ErrInvalidTimestamp) {
				slog.Error("failed to save transaction", "transaction_id", el.ID, "error", err)
			}
		}
	}

	items := h.engine.ScoreBatch(ctx, txs, histories)

	resp := BatchResponse{Items: make([]BatchItemResponse, len(items))}
	for i, item := range items {
		out := BatchItemResponse{
			Index:         item.Index,
			TransactionID: item.TransactionID,
			Result:        item.Result,
		}
		if item.Err != nil {
			out.Error = item.Err.Error()
			resp.Failed++
		} else {
			resp.Succeeded++
			if h.repo != nil {
				if err := h.repo.SavePrediction(ctx, item.Result); err != nil {
					slog.Error("failed to save prediction", "transaction_id", item.TransactionID, "error", err)
				}
			}
		}
		resp.Items[i] = out
	}

	h.checkFraudRate(ctx)

	writeJSON(w, http.StatusOK, resp)
}

// GetPrediction retrieves a stored prediction by transaction ID.
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	// Cache first
	if h.cache != nil {
		if cached, err := h.cache.GetPrediction(ctx, txID); err == nil && cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	result, err := h.repo.GetPrediction(ctx, txID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get prediction", "id", txID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "prediction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, txID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get transaction", "id", txID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// MetricsSummary returns the current metrics snapshot.
func (h *Handler) MetricsSummary(w http.ResponseWriter, r *http.Request) {
	summary := h.engine.Metrics().Snapshot()

	writeJSON(w, http.StatusOK, map[string]any{
		"summary":       summary,
		"threshold":     h.engine.Threshold(),
		"model_version": h.engine.ModelVersion(),
	})
}

// ListAlerts returns the in-memory alert log, newest last.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.evaluator == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alerts": []*domain.Alert{}, "count": 0})
		return
	}

	alerts := h.evaluator.Alerts()

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		if limit < len(alerts) {
			alerts = alerts[len(alerts)-limit:]
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ThresholdRequest is the request body for PUT /threshold.
type ThresholdRequest struct {
	Threshold float64 `json:"threshold"`
}

// SetThreshold updates the fraud decision threshold.
func (h *Handler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	var req ThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.engine.SetThreshold(req.Threshold); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"threshold": h.engine.Threshold(),
	})
}

// GetThreshold returns the current fraud decision threshold.
func (h *Handler) GetThreshold(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"threshold": h.engine.Threshold(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

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

// checkFraudRate raises, persists, and publishes a detection-rate alert if
// the current snapshot exceeds the configured rate.
func (h *Handler) checkFraudRate(ctx context.Context) {
	if h.evaluator == nil {
		return
	}

	summary := h.engine.Metrics().Snapshot()
	if !h.evaluator.CheckFraudRate(summary) {
		return
	}

	alerts := h.evaluator.Alerts()
	if len(alerts) == 0 {
		return
	}
	latest := alerts[len(alerts)-1]

	if h.repo != nil {
		if err := h.repo.SaveAlert(ctx, latest); err != nil {
			slog.Error("failed to save alert", "alert_id", latest.ID, "error", err)
		}
	}
	if h.bus != nil {
		payload, _ := json.Marshal(latest)
		if err := h.bus.Publish(ctx, domain.TopicAlertRaised, payload); err != nil {
			slog.Error("failed to publish alert", "alert_id", latest.ID, "error", err)
		}
	}
}

// writeError maps typed scoring errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var classifierErr *domain.ClassifierError

	switch {
	case errors.As(err, &validationErr), errors.Is(err, domain.ErrInvalidTimestamp):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrClassifierTimeout):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrModelNotLoaded):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case errors.As(err, &classifierErr):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		slog.Error("scoring failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
