package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fleetgate/pkg/api"
)

const defaultTimeout = 30 * time.Second

// FleetClient sends action requests to a fleetgate dispatcher.
type FleetClient struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client
}

// NewFleetClient creates a new client with the given base URL and secret.
func NewFleetClient(baseURL, secret string, timeout time.Duration) *FleetClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &FleetClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Secret:  secret,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError represents an error response from the dispatcher.
type APIError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("Error (%d): %s [%s]", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("Error (%d): %s", e.StatusCode, e.Message)
}

// Status lists the fleet.
func (c *FleetClient) Status() (*api.StatusResponse, error) {
	var result api.StatusResponse
	if err := c.send(api.ActionRequest{Action: api.ActionStatus}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Start asks the dispatcher to start one instance.
func (c *FleetClient) Start(instanceID string) (*api.ActionResponse, error) {
	return c.changeState(api.ActionStart, instanceID)
}

// Stop asks the dispatcher to stop one instance.
func (c *FleetClient) Stop(instanceID string) (*api.ActionResponse, error) {
	return c.changeState(api.ActionStop, instanceID)
}

func (c *FleetClient) changeState(action, instanceID string) (*api.ActionResponse, error) {
	var result api.ActionResponse
	if err := c.send(api.ActionRequest{Action: action, InstanceID: instanceID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// send posts req to the dispatch endpoint and decodes a 200 body into out.
func (c *FleetClient) send(req api.ActionRequest, out any) error {
	req.SecurityString = c.Secret

	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, c.BaseURL+"/dispatch", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

// decodeResponse decodes a 200 body into out and turns anything else into an *APIError.
func decodeResponse(resp *http.Response, out any) error {
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var body api.ErrorResponse
		if json.Unmarshal(respBody, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
			apiErr.Details = body.Details
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// AuditClient reads the action log from a fleetgate auditor.
type AuditClient struct {
	BaseURL    string
	Secret     string
	HTTPClient *http.Client
}

// NewAuditClient creates a new audit client.
func NewAuditClient(baseURL, secret string, timeout time.Duration) *AuditClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &AuditClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// History lists recorded actions, newest first. An empty instanceID lists all.
func (c *AuditClient) History(instanceID string, limit int) (*api.ActionLogResponse, error) {
	q := url.Values{}
	if instanceID != "" {
		q.Set("instanceid", instanceID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := c.BaseURL + "/actions"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	httpReq, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.Secret)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result api.ActionLogResponse
	if err := decodeResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
