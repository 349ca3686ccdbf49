package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/scaleagents/api/internal/config"
)

// PlanGate defines the interface to the billing/subscription service. The
// pipeline only needs a boolean entitlement check before a run and a usage
// increment after it.
type PlanGate interface {
	CheckFeature(ctx context.Context, userID, feature string) (bool, error)
	RecordUsage(ctx context.Context, userID, feature string) error
	IsConfigured() bool
}

// BillingClient implements PlanGate for the internal billing microservice.
type BillingClient struct {
	httpClient *http.Client
	baseURL    string
}

type featureCheckRequest struct {
	UserID  string `json:"user_id"`
	Feature string `json:"feature"`
}

type featureCheckResponse struct {
	Allowed   bool   `json:"allowed"`
	Plan      string `json:"plan,omitempty"`
	Remaining int    `json:"remaining,omitempty"`
}

type usageRequest struct {
	UserID  string `json:"user_id"`
	Feature string `json:"feature"`
	Count   int    `json:"count"`
}

// NewBillingClient creates a new billing service client
func NewBillingClient(cfg *config.BillingConfig) *BillingClient {
	return &BillingClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// CheckFeature asks the billing service whether the user's plan allows a
// feature. An unconfigured client allows everything (development mode).
func (c *BillingClient) CheckFeature(ctx context.Context, userID, feature string) (bool, error) {
	if !c.IsConfigured() {
		return true, nil
	}

	var result featureCheckResponse
	err := c.post(ctx, "/entitlements/check", featureCheckRequest{UserID: userID, Feature: feature}, &result)
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// RecordUsage increments the user's usage counter for a feature. Failures
// are the caller's to log; usage recording never blocks a completed run.
func (c *BillingClient) RecordUsage(ctx context.Context, userID, feature string) error {
	if !c.IsConfigured() {
		return nil
	}

	var result struct {
		OK bool `json:"ok"`
	}
	return c.post(ctx, "/usage/record", usageRequest{UserID: userID, Feature: feature, Count: 1}, &result)
}

// post sends a POST request with JSON body and parses the response
func (c *BillingClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	log.Printf("[Billing] → POST %s", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newVendorError("billing", resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *BillingClient) IsConfigured() bool {
	return c.baseURL != ""
}
