// Package remote implements the HTTP client for the Smart Diet backend.
//
// The client performs no retries of its own: transient-failure retry policy
// belongs to the callers (the suggestion service falls back to cache, the
// consumption tracker runs its own backoff loop). What the client does own
// is the transient/permanent split: a transport error or a 5xx/429 status
// surfaces as an error, while a permanent rejection (2xx with success:false,
// or a non-retryable 4xx) is reported as a domain-level refusal.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Body)
}

// Transient reports whether the failure is worth retrying: server-side
// errors and rate limiting are; other client errors are not.
func (e *APIError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Client communicates with the Smart Diet backend over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client for the given backend base URL and API key.
func NewClient(baseURL, apiKey string) *Client {
	return NewClientWithTimeout(baseURL, apiKey, defaultTimeout)
}

// NewClientWithTimeout is NewClient with an explicit per-request timeout.
func NewClientWithTimeout(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchSuggestions requests personalized suggestions for one context.
func (c *Client) FetchSuggestions(ctx context.Context, req SuggestionRequest) (*SuggestionResponse, error) {
	var resp SuggestionResponse
	if err := c.postJSON(ctx, "/smart-diet/suggestions", req, &resp); err != nil {
		return nil, fmt.Errorf("fetching suggestions: %w", err)
	}
	return &resp, nil
}

// ConfirmConsumption reports an item as consumed. The returned bool is the
// backend's domain-level verdict: false means the request was processed and
// rejected, so repeating it cannot help. Transient failures (transport
// errors, 5xx, 429) return a non-nil error instead.
func (c *Client) ConfirmConsumption(ctx context.Context, userID, itemID string) (bool, error) {
	body := map[string]string{"user_id": userID}
	var resp consumptionResponse
	err := c.postJSON(ctx, "/smart-diet/consumption/"+itemID, body, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Transient() {
			// A validation-class rejection is a domain refusal, not a fault.
			return false, nil
		}
		return false, fmt.Errorf("confirming consumption of %s: %w", itemID, err)
	}
	return resp.Success, nil
}

// SubmitFeedback records the user's verdict on a suggestion.
func (c *Client) SubmitFeedback(ctx context.Context, req FeedbackRequest) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.postJSON(ctx, "/smart-diet/feedback", req, &resp); err != nil {
		return fmt.Errorf("submitting feedback: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	// The per-request deadline comes from httpClient.Timeout, so a timeout
	// configured at construction is honored; ctx only carries cancellation.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
