//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel fraud
// scoring engine.
//
// These tests verify the COMPLETE scoring pipeline:
//
//	Transaction → Features → Normalization → Classifier → Verdict
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The tests exercise a RUNNING server (default http://localhost:8080,
// override with KESTREL_TEST_URL). Start one first:
//
//	go run cmd/kestrel/main.go
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("KESTREL_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// PredictRequest is the transaction sent to POST /predict
type PredictRequest struct {
	ID          string  `json:"transaction_id"`
	CustomerID  string  `json:"customer_id"`
	Amount      float64 `json:"amount"`
	MerchantID  string  `json:"merchant_id"`
	Timestamp   string  `json:"timestamp"`
	Location    string  `json:"location"`
	DeviceID    string  `json:"device_id"`
	Type        string  `json:"transaction_type"`
	CardPresent bool    `json:"card_present"`
}

// PredictResponse is what POST /predict returns
type PredictResponse struct {
	TransactionID    string   `json:"transaction_id"`
	IsFraud          int      `json:"is_fraud"`
	FraudProbability float64  `json:"fraud_probability"`
	ModelVersion     string   `json:"model_version"`
	Reasons          []string `json:"reasons"`
	Metadata         struct {
		TraceID string `json:"trace_id"`
		TotalMs int64  `json:"total_ms"`
		Version string `json:"version"`
	} `json:"metadata"`
}

func predict(t *testing.T, config TestConfig, req PredictRequest) PredictResponse {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result PredictResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

func getJSON(t *testing.T, config TestConfig, path string, out any) int {
	t.Helper()

	resp, err := http.Get(config.BaseURL + path)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("Failed to unmarshal %s response: %v (body: %s)", path, err, string(body))
		}
	}
	return resp.StatusCode
}

func sampleRequest() PredictRequest {
	return PredictRequest{
		ID:          uuid.New().String(),
		CustomerID:  "integration-cust-001",
		Amount:      125.50,
		MerchantID:  "integration-merch-001",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Location:    "US",
		DeviceID:    "integration-dev-001",
		Type:        "pos",
		CardPresent: true,
	}
}

func TestHealthCheck(t *testing.T) {
	config := getTestConfig()

	var resp map[string]string
	status := getJSON(t, config, "/health", &resp)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected healthy, got %s", resp["status"])
	}

	t.Logf("✓ Server healthy: version=%s", resp["version"])
}

func TestPredictPipeline(t *testing.T) {
	/*
	   SCENARIO: A regular card-present POS purchase.

	   EXPECTED BEHAVIOR:
	   - The full pipeline runs: feature extraction, normalization,
	     classification, verdict.
	   - The probability is a valid [0, 1] value.
	   - The verdict is consistent with the advertised threshold.
	*/
	config := getTestConfig()

	result := predict(t, config, sampleRequest())

	if result.FraudProbability < 0 || result.FraudProbability > 1 {
		t.Errorf("Probability out of range: %v", result.FraudProbability)
	}
	if result.IsFraud != 0 && result.IsFraud != 1 {
		t.Errorf("Verdict must be 0 or 1, got %d", result.IsFraud)
	}
	if result.ModelVersion == "" {
		t.Error("Expected model version in response")
	}
	if result.Metadata.TraceID == "" {
		t.Error("Expected trace_id in metadata")
	}

	var thresholdResp map[string]float64
	getJSON(t, config, "/threshold", &thresholdResp)
	threshold := thresholdResp["threshold"]

	wantFraud := 0
	if result.FraudProbability >= threshold {
		wantFraud = 1
	}
	if result.IsFraud != wantFraud {
		t.Errorf("Verdict %d inconsistent with probability %v and threshold %v",
			result.IsFraud, result.FraudProbability, threshold)
	}

	t.Logf("✓ Scored: is_fraud=%d probability=%.4f threshold=%.2f",
		result.IsFraud, result.FraudProbability, threshold)
}

func TestPredictionRetrieval(t *testing.T) {
	config := getTestConfig()

	req := sampleRequest()
	scored := predict(t, config, req)

	var fetched PredictResponse
	status := getJSON(t, config, "/predictions/"+req.ID, &fetched)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}

	if fetched.TransactionID != req.ID {
		t.Errorf("Expected %s, got %s", req.ID, fetched.TransactionID)
	}
	if fetched.FraudProbability != scored.FraudProbability {
		t.Errorf("Stored probability %v disagrees with scored %v",
			fetched.FraudProbability, scored.FraudProbability)
	}

	status = getJSON(t, config, "/transactions/"+req.ID, nil)
	if status != http.StatusOK {
		t.Errorf("Expected stored transaction, got status %d", status)
	}

	status = getJSON(t, config, "/predictions/"+uuid.New().String(), nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown prediction, got %d", status)
	}
}

func TestBatchScoring(t *testing.T) {
	/*
	   SCENARIO: A batch with one unparseable timestamp in the middle.

	   EXPECTED BEHAVIOR:
	   - The batch succeeds overall (HTTP 200).
	   - The bad element carries an error; its neighbors score normally.
	   - Order is preserved.
	*/
	config := getTestConfig()

	txs := []PredictRequest{sampleRequest(), sampleRequest(), sampleRequest()}
	txs[1].Timestamp = "not-a-timestamp"

	body, _ := json.Marshal(map[string]any{"transactions": txs})
	resp, err := http.Post(config.BaseURL+"/predict/batch", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var batchResp struct {
		Items []struct {
			Index         int              `json:"index"`
			TransactionID string           `json:"transaction_id"`
			Result        *PredictResponse `json:"result"`
			Error         string           `json:"error"`
		} `json:"items"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	respBody, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(respBody, &batchResp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	if batchResp.Succeeded != 2 || batchResp.Failed != 1 {
		t.Errorf("Expected 2 succeeded / 1 failed, got %d/%d", batchResp.Succeeded, batchResp.Failed)
	}
	for i, item := range batchResp.Items {
		if item.TransactionID != txs[i].ID {
			t.Errorf("Element %d out of order: expected %s, got %s", i, txs[i].ID, item.TransactionID)
		}
	}
	if batchResp.Items[1].Error == "" {
		t.Error("Expected error on the element with a bad timestamp")
	}

	t.Logf("✓ Batch: %d succeeded, %d failed", batchResp.Succeeded, batchResp.Failed)
}

func TestThresholdRoundTrip(t *testing.T) {
	config := getTestConfig()
	client := &http.Client{Timeout: 10 * time.Second}

	var original map[string]float64
	getJSON(t, config, "/threshold", &original)

	// Restore the original threshold whatever happens.
	defer func() {
		body := fmt.Sprintf(`{"threshold":%v}`, original["threshold"])
		req, _ := http.NewRequest(http.MethodPut, config.BaseURL+"/threshold", bytes.NewBufferString(body))
		client.Do(req)
	}()

	req, _ := http.NewRequest(http.MethodPut, config.BaseURL+"/threshold", bytes.NewBufferString(`{"threshold":0.75}`))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var updated map[string]float64
	getJSON(t, config, "/threshold", &updated)
	if updated["threshold"] != 0.75 {
		t.Errorf("Expected threshold 0.75, got %v", updated["threshold"])
	}

	// Out-of-range update must be rejected.
	req, _ = http.NewRequest(http.MethodPut, config.BaseURL+"/threshold", bytes.NewBufferString(`{"threshold":1.5}`))
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400 for out-of-range threshold, got %d", resp.StatusCode)
	}
}

func TestMetricsSummary(t *testing.T) {
	config := getTestConfig()

	// Score at least one transaction so the summary is non-empty.
	predict(t, config, sampleRequest())

	var resp struct {
		Summary struct {
			TotalPredictions   int64   `json:"total_predictions"`
			FraudDetectionRate float64 `json:"fraud_detection_rate"`
			AverageLatencyMs   float64 `json:"average_latency_ms"`
		} `json:"summary"`
		Threshold    float64 `json:"threshold"`
		ModelVersion string  `json:"model_version"`
	}
	status := getJSON(t, config, "/metrics/summary", &resp)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}

	if resp.Summary.TotalPredictions < 1 {
		t.Error("Expected at least one recorded prediction")
	}
	if resp.Summary.FraudDetectionRate < 0 || resp.Summary.FraudDetectionRate > 100 {
		t.Errorf("Detection rate out of range: %v", resp.Summary.FraudDetectionRate)
	}

	t.Logf("✓ Metrics: total=%d rate=%.2f%% avg_latency=%.2fms",
		resp.Summary.TotalPredictions, resp.Summary.FraudDetectionRate, resp.Summary.AverageLatencyMs)
}
