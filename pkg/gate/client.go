// Package gate provides a client for the report-authorization policy
// service that decides whether a track may be reported over the maritime
// protocol.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a policy service API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new policy client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Decision represents a policy decision for one outbound report.
type Decision struct {
	Allowed    bool     `json:"allowed"`
	Reasons    []string `json:"reasons,omitempty"`
	Violations []string `json:"violations,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// QueryInput is the input for a policy query.
type QueryInput struct {
	Input interface{} `json:"input"`
}

// queryResult is the raw policy evaluation result.
type queryResult struct {
	Result map[string]interface{} `json:"result"`
}

// Decide evaluates a policy path and returns a structured decision.
func (c *Client) Decide(ctx context.Context, path string, input interface{}) (*Decision, error) {
	url := fmt.Sprintf("%s/v1/data/%s", c.baseURL, path)

	body, err := json.Marshal(QueryInput{Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("policy service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result queryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	decision := &Decision{}
	if allowed, ok := result.Result["allowed"].(bool); ok {
		decision.Allowed = allowed
	} else if allowed, ok := result.Result["allow"].(bool); ok {
		decision.Allowed = allowed
	}
	if reasons, ok := result.Result["deny"].([]interface{}); ok {
		for _, r := range reasons {
			if s, ok := r.(string); ok {
				decision.Reasons = append(decision.Reasons, s)
			}
		}
	}
	if warnings, ok := result.Result["warnings"].([]interface{}); ok {
		for _, w := range warnings {
			if s, ok := w.(string); ok {
				decision.Warnings = append(decision.Warnings, s)
			}
		}
	}

	return decision, nil
}

// CheckReport validates that a track update may go out over the protocol
// emitter.
func (c *Client) CheckReport(ctx context.Context, trackID string, confidence float64, status string) (*Decision, error) {
	input := map[string]interface{}{
		"track_id":   trackID,
		"confidence": confidence,
		"status":     status,
	}
	return c.Decide(ctx, "thebox/report", input)
}

// Health checks if the policy service is reachable.
func (c *Client) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("policy service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}
