// Package client is a Go client for the IPS responder HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/invisible-tech/ips-responder/internal/types"
	"github.com/invisible-tech/ips-responder/internal/version"
)

// Client handles communication with a responder.
type Client struct {
	endpoint   string
	httpClient *http.Client
	stream     *http.Client
	log        *logrus.Logger
}

// Config for the responder client.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// NewClient creates a responder API client.
func NewClient(cfg Config, log *logrus.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		// Streams are bounded by the caller's context only.
		stream: &http.Client{},
		log:    log,
	}
}

// Outcome is the responder's answer to one dispatched alert.
type Outcome = types.Outcome

// OutcomeKind tags an Outcome.
type OutcomeKind = types.OutcomeKind

// Outcome kinds reported by the responder.
const (
	OutcomeNoMatchingRule     = types.OutcomeNoMatchingRule
	OutcomeLabeled            = types.OutcomeLabeled
	OutcomeWorkloadNotFound   = types.OutcomeWorkloadNotFound
	OutcomeInvalidAddress     = types.OutcomeInvalidAddress
	OutcomeClusterUnavailable = types.OutcomeClusterUnavailable
)

// LabeledWorkload is a pod currently carrying the isolation label.
type LabeledWorkload = types.LabeledWorkload

// Rule is one entry of the responder's rule table.
type Rule struct {
	ID          int    `json:"rule"`
	Description string `json:"description"`
	Action      int    `json:"action"`
}

// APIError is a non-success answer from the responder.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Value      string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("responder returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("responder returned %d: %s", e.StatusCode, e.Message)
}

// ListRules returns the rule table ordered by id.
func (c *Client) ListRules(ctx context.Context) ([]Rule, error) {
	var out []Rule
	return out, c.doJSON(ctx, http.MethodGet, "/rules", nil, &out)
}

// SetRule creates or replaces rule id.
func (c *Client) SetRule(ctx context.Context, id int, description string, action int) error {
	return c.doJSON(ctx, http.MethodPost, "/rules", Rule{ID: id, Description: description, Action: action}, nil)
}

// UpdateRule replaces an existing rule. A missing rule yields an *APIError
// with StatusCode 404.
func (c *Client) UpdateRule(ctx context.Context, id int, description string, action int) error {
	body := map[string]any{"description": description, "action": action}
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/rules/%d", id), body, nil)
}

// DeleteRule removes rule id and reports whether it existed.
func (c *Client) DeleteRule(ctx context.Context, id int) (bool, error) {
	var out struct {
		Removed bool `json:"removed"`
	}
	err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/rules/%d", id), nil, &out)
	return out.Removed, err
}

// SendAlert posts a raw alert payload. Dispatch outcomes are returned even
// when the responder answers 404 or 502; validation failures are *APIError.
func (c *Client) SendAlert(ctx context.Context, payload []byte) (Outcome, error) {
	resp, err := c.do(ctx, c.httpClient, http.MethodPost, "/alert", bytes.NewReader(payload))
	if err != nil {
		return Outcome{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read response: %w", err)
	}

	var out Outcome
	if json.Unmarshal(data, &out) == nil && out.Kind != "" {
		return out, nil
	}
	return Outcome{}, apiError(resp.StatusCode, data)
}

// Labeled returns workloads that currently carry the isolation label.
func (c *Client) Labeled(ctx context.Context) ([]LabeledWorkload, error) {
	var out []LabeledWorkload
	return out, c.doJSON(ctx, http.MethodGet, "/labeled-pods", nil, &out)
}

// Policies returns the isolation NetworkPolicies for namespace as YAML.
func (c *Client) Policies(ctx context.Context, namespace string) ([]byte, error) {
	path := "/policies?" + url.Values{"namespace": {namespace}, "format": {"yaml"}}.Encode()
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, data)
	}
	return data, nil
}

// StreamLogs follows the responder's live event stream and calls fn for
// each line until ctx is done or the stream ends.
func (c *Client) StreamLogs(ctx context.Context, fn func(line string)) error {
	resp, err := c.do(ctx, c.stream, http.MethodGet, "/log-stream", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return apiError(resp.StatusCode, data)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			fn(line)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

// HealthCheck checks if the responder is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}
	resp, err := c.do(ctx, c.httpClient, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "ipsctl/"+version.Version)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	c.log.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Debug("Responder API call")
	return resp, nil
}

func apiError(status int, body []byte) *APIError {
	var parsed struct {
		Error string `json:"error"`
		Code  string `json:"code"`
		Value string `json:"value"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		msg = parsed.Error
	}
	return &APIError{StatusCode: status, Message: msg, Code: parsed.Code, Value: parsed.Value}
}
