// Package worker provides async transaction scoring from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Worker scores transactions published on the ingestion topic and raises
// detection-rate alerts on a fixed interval.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	engine    *engine.Engine
	history   *history.Service
	evaluator *metrics.AlertEvaluator

	checkInterval time.Duration

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// AlertCheckInterval is how often the fraud rate is checked. Zero
	// disables periodic checks.
	AlertCheckInterval time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, eng *engine.Engine, hist *history.Service, evaluator *metrics.AlertEvaluator, cfg Config) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:           bus,
		repo:          repo,
		engine:        eng,
		history:       hist,
		evaluator:     evaluator,
		checkInterval: cfg.AlertCheckInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start subscribes to the ingestion topic and starts the alert loop.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	if w.evaluator != nil && w.checkInterval > 0 {
		w.wg.Add(1)
		go w.alertLoop()
	}

	slog.Info("worker started",
		"topic", domain.TopicTransactionIngested,
		"alert_check_interval", w.checkInterval,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processTransaction(ctx, msg)
}

// processTransaction scores an ingested transaction end to end.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Debug("processing transaction",
		"transaction_id", tx.ID,
		"customer_id", tx.CustomerID,
	)

	// 1. Persist the transaction so it contributes to future histories
	if w.repo != nil {
		if err := w.repo.SaveTransaction(ctx, &tx); err != nil {
			slog.Error("failed to save transaction",
				"transaction_id", tx.ID,
				"error", err,
			)
			return err
		}
	}
	if w.history != nil {
		w.history.RecordTransaction(ctx, &tx)
	}

	// 2. Score
	result, err := w.engine.ScoreOne(ctx, &tx, nil)
	if err != nil {
		slog.Error("scoring failed",
			"transaction_id", tx.ID,
			"error", err,
		)
		return err
	}

	// 3. Persist the prediction
	if w.repo != nil {
		if err := w.repo.SavePrediction(ctx, result); err != nil {
			slog.Error("failed to save prediction",
				"transaction_id", tx.ID,
				"error", err,
			)
		}
	}

	// 4. Publish the scored result
	resultPayload, _ := json.Marshal(result)
	if err := w.bus.Publish(ctx, domain.TopicPredictionScored, resultPayload); err != nil {
		slog.Error("failed to publish prediction",
			"transaction_id", tx.ID,
			"error", err,
		)
	}

	slog.Info("transaction scored",
		"transaction_id", tx.ID,
		"is_fraud", result.IsFraud,
		"probability", result.FraudProbability,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// alertLoop periodically checks the fraud detection rate.
func (w *Worker) alertLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.checkFraudRate()
		}
	}
}

// checkFraudRate evaluates the current detection rate and, if the alert
// fires, persists it and publishes it on the alert topic.
func (w *Worker) checkFraudRate() {
	summary := w.engine.Metrics().Snapshot()
	if !w.evaluator.CheckFraudRate(summary) {
		return
	}

	alerts := w.evaluator.Alerts()
	if len(alerts) == 0 {
		return
	}
	latest := alerts[len(alerts)-1]

	ctx, cancel := context.WithTimeout(w.ctx, 5*time.Second)
	defer cancel()

	if w.repo != nil {
		if err := w.repo.SaveAlert(ctx, latest); err != nil {
			slog.Error("failed to save alert", "alert_id", latest.ID, "error", err)
		}
	}

	payload, _ := json.Marshal(latest)
	if err := w.bus.Publish(ctx, domain.TopicAlertRaised, payload); err != nil {
		slog.Error("failed to publish alert", "alert_id", latest.ID, "error", err)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
