// Package metrics tracks process-wide prediction counters and raises
// detection-rate alerts.
package metrics

import (
	"sync"
	"time"
)

// latencyWindowSize bounds the recent-latency window used for the average.
const latencyWindowSize = 100

// Collector accumulates prediction outcomes, latencies, and errors. It is
// an explicitly constructed instance passed to every call site; safe for
// concurrent use.
type Collector struct {
	mu sync.Mutex

	total      int64
	fraud      int64
	legitimate int64
	errors     int64

	// Ring buffer of the most recent latency samples.
	latencies [latencyWindowSize]float64
	latCount  int
	latNext   int
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordPrediction records a scored transaction outcome.
func (c *Collector) RecordPrediction(isFraud int, probability float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if isFraud == 1 {
		c.fraud++
	} else {
		c.legitimate++
	}
}

// RecordLatency records a scoring latency sample in milliseconds. Only the
// last 100 samples are retained; older samples are dropped.
func (c *Collector) RecordLatency(ms float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.latencies[c.latNext] = ms
	c.latNext = (c.latNext + 1) % latencyWindowSize
	if c.latCount < latencyWindowSize {
		c.latCount++
	}
}

// RecordError records a pipeline failure.
func (c *Collector) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
}

// Summary is an immutable point-in-time view of the collector.
type Summary struct {
	TotalPredictions      int64     `json:"total_predictions"`
	FraudDetections       int64     `json:"fraud_detections"`
	LegitimatePredictions int64     `json:"legitimate_predictions"`

	// Percentage of scored transactions classified fraudulent.
	FraudDetectionRate float64 `json:"fraud_detection_rate"`

	// Mean of the last 100 latency samples, 0 if none recorded.
	AverageLatencyMs float64 `json:"average_latency_ms"`

	TotalErrors int64     `json:"total_errors"`
	Timestamp   time.Time `json:"timestamp"`
}

// Snapshot computes the current summary. Pure read: counters are not
// mutated.
func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.total
	if total == 0 {
		total = 1
	}

	var avgLatency float64
	if c.latCount > 0 {
		var sum float64
		for i := 0; i < c.latCount; i++ {
			sum += c.latencies[i]
		}
		avgLatency = sum / float64(c.latCount)
	}

	return Summary{
		TotalPredictions:      c.total,
		FraudDetections:       c.fraud,
		LegitimatePredictions: c.legitimate,
		FraudDetectionRate:    float64(c.fraud) / float64(total) * 100,
		AverageLatencyMs:      avgLatency,
		TotalErrors:           c.errors,
		Timestamp:             time.Now().UTC(),
	}
}
