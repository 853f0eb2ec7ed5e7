// Package modelclient talks to the fraud model service over HTTP. Every
// call is bounded by a deadline and fails open: a timeout, transport
// error, or open circuit breaker never propagates outward as an error
// the caller must abort on, it degrades to a neutral prediction the
// score combiner can still use (spec.md §4.4's fail-open rule).
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mbd888/fraudpipeline/internal/circuitbreaker"
	"github.com/mbd888/fraudpipeline/internal/metrics"
	"github.com/mbd888/fraudpipeline/internal/security"
)

// breakerKey is the single circuit breaker key this client uses; there is
// one model service, not a set of per-tenant endpoints.
const breakerKey = "model-service"

// Client calls the model service's prediction, health, and feature
// metadata endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// New validates baseURL against SSRF (private/loopback/link-local
// targets are rejected) and constructs a Client with the given request
// timeout and circuit breaker failure threshold.
func New(baseURL string, timeout time.Duration, breakerFailN int, breakerCooldown time.Duration) (*Client, error) {
	if err := security.ValidateEndpointURL(baseURL); err != nil {
		return nil, fmt.Errorf("modelclient: %w", err)
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.New(breakerFailN, breakerCooldown),
	}, nil
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	FraudProbability float64 `json:"fraud_probability"`
	ModelVersion     string  `json:"model_version,omitempty"`
}

// Predict returns the model's fraud probability for the given feature
// vector. On any failure — timeout, transport error, non-2xx response,
// unparsable body, or an open circuit — it returns probability 0 and
// ok=false: callers must check ok, not err, to decide whether to trust
// the probability. err is non-nil for every failure except an open
// circuit; it is returned only to support logging and is never a reason
// to abort scoring.
func (c *Client) Predict(ctx context.Context, features []float64) (probability float64, ok bool, err error) {
	if !c.breaker.Allow(breakerKey) {
		metrics.ModelRequestsTotal.WithLabelValues("breaker_open").Inc()
		return 0, false, nil
	}

	timer := prometheusTimer()
	defer timer()

	body, marshalErr := json.Marshal(predictRequest{Features: features})
	if marshalErr != nil {
		return 0, false, fmt.Errorf("modelclient: marshal request: %w", marshalErr)
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if reqErr != nil {
		return 0, false, fmt.Errorf("modelclient: build request: %w", reqErr)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		c.breaker.RecordFailure(breakerKey)
		outcome := "error"
		var netErr net.Error
		if errors.As(doErr, &netErr) && netErr.Timeout() {
			outcome = "timeout"
		}
		metrics.ModelRequestsTotal.WithLabelValues(outcome).Inc()
		return 0, false, fmt.Errorf("modelclient: request: %w", doErr)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.breaker.RecordFailure(breakerKey)
		metrics.ModelRequestsTotal.WithLabelValues("error").Inc()
		return 0, false, fmt.Errorf("modelclient: unexpected status %d", resp.StatusCode)
	}

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		c.breaker.RecordFailure(breakerKey)
		metrics.ModelRequestsTotal.WithLabelValues("error").Inc()
		return 0, false, fmt.Errorf("modelclient: read response: %w", readErr)
	}

	var parsed predictResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		c.breaker.RecordFailure(breakerKey)
		metrics.ModelRequestsTotal.WithLabelValues("error").Inc()
		return 0, false, fmt.Errorf("modelclient: parse response: %w", err)
	}

	c.breaker.RecordSuccess(breakerKey)
	metrics.ModelRequestsTotal.WithLabelValues("ok").Inc()
	return parsed.FraudProbability, true, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// IsHealthy reports the model service's self-reported health. It never
// returns an error: transport failure and a non-UP status both mean false.
func (c *Client) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var parsed healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false
	}
	return parsed.Status == "UP"
}

// FeatureContract is the model's self-reported feature ordering and
// version, used to co-version the pipeline's feature vector against the
// model at startup.
type FeatureContract struct {
	ModelVersion string   `json:"model_version"`
	Features     []string `json:"features"`
}

// Features fetches the model's feature contract from GET /features.
func (c *Client) Features(ctx context.Context) (*FeatureContract, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/features", nil)
	if err != nil {
		return nil, fmt.Errorf("modelclient: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("modelclient: request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("modelclient: unexpected status %d", resp.StatusCode)
	}

	var contract FeatureContract
	if err := json.NewDecoder(resp.Body).Decode(&contract); err != nil {
		return nil, fmt.Errorf("modelclient: parse response: %w", err)
	}
	return &contract, nil
}

func prometheusTimer() func() {
	start := time.Now()
	return func() {
		metrics.ModelRequestDuration.Observe(time.Since(start).Seconds())
	}
}
