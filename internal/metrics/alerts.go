package metrics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// maxAlerts caps the in-memory alert log; the oldest entries are dropped.
const maxAlerts = 100

// AlertEvaluator checks metric summaries against a fraud-rate threshold.
// The check itself is stateless; the only state is the bounded alert log.
// Repeated checks over the same summary append repeated alerts: the check
// is not deduplicated, so a sustained breach keeps appending until the
// rate drops.
type AlertEvaluator struct {
	mu        sync.Mutex
	threshold float64
	alerts    []*domain.Alert
}

// NewAlertEvaluator creates an evaluator. A zero or negative threshold
// falls back to the 5.0% default.
func NewAlertEvaluator(fraudRateThreshold float64) *AlertEvaluator {
	if fraudRateThreshold <= 0 {
		fraudRateThreshold = 5.0
	}
	return &AlertEvaluator{threshold: fraudRateThreshold}
}

// CheckFraudRate compares the summary's detection rate against the
// threshold. On a breach it appends a HIGH_FRAUD_RATE alert and returns
// true.
func (e *AlertEvaluator) CheckFraudRate(summary Summary) bool {
	if summary.FraudDetectionRate <= e.threshold {
		return false
	}

	alert := &domain.Alert{
		ID:           uuid.New().String(),
		Kind:         domain.AlertHighFraudRate,
		ObservedRate: summary.FraudDetectionRate,
		Threshold:    e.threshold,
		Timestamp:    time.Now().UTC(),
	}

	e.mu.Lock()
	e.alerts = append(e.alerts, alert)
	if len(e.alerts) > maxAlerts {
		e.alerts = e.alerts[len(e.alerts)-maxAlerts:]
	}
	e.mu.Unlock()

	slog.Warn("high fraud rate detected",
		"observed_rate", summary.FraudDetectionRate,
		"threshold", e.threshold,
	)

	return true
}

// Threshold returns the configured fraud-rate threshold.
func (e *AlertEvaluator) Threshold() float64 {
	return e.threshold
}

// Alerts returns a copy of the alert log, oldest first.
func (e *AlertEvaluator) Alerts() []*domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*domain.Alert, len(e.alerts))
	copy(out, e.alerts)
	return out
}
