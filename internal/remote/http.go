// Package remote defines the transport boundary to the remote sync
// authority.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/offsitehq/fieldsync/internal/models"
)

// HTTPConfig holds REST endpoint connection configuration.
type HTTPConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// HTTPEndpoint implements Endpoint over a REST wire protocol:
// POST {base}/v1/sync/push and POST {base}/v1/sync/pull, JSON bodies.
type HTTPEndpoint struct {
	config     *HTTPConfig
	httpClient *http.Client
}

// NewHTTPEndpoint creates an HTTPEndpoint.
func NewHTTPEndpoint(config *HTTPConfig) *HTTPEndpoint {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEndpoint{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// pushRequest is the push wire envelope.
type pushRequest struct {
	DeviceID string           `json:"device_id"`
	Changes  []*models.Change `json:"changes"`
}

// pushResponse is the push wire response.
type pushResponse struct {
	Acks []PushAck `json:"acks"`
}

// pullRequest is the pull wire envelope. Entity versions are keyed by the
// joined "Type:ID" form because JSON object keys must be strings.
type pullRequest struct {
	DeviceID          string         `json:"device_id"`
	Since             int64          `json:"since"`
	EntityVersions    map[string]int `json:"entity_versions,omitempty"`
	ContinuationToken string         `json:"continuation_token,omitempty"`
}

// Push implements Endpoint.
func (c *HTTPEndpoint) Push(ctx context.Context, deviceID string, changes []*models.Change) ([]PushAck, error) {
	body := pushRequest{DeviceID: deviceID, Changes: changes}

	var resp pushResponse
	if err := c.post(ctx, "/v1/sync/push", &body, &resp); err != nil {
		return nil, fmt.Errorf("push failed: %w", err)
	}
	return resp.Acks, nil
}

// Pull implements Endpoint.
func (c *HTTPEndpoint) Pull(ctx context.Context, deviceID string, since time.Time, entityVersions map[models.EntityKey]int, token string) (*PullResponse, error) {
	body := pullRequest{
		DeviceID:          deviceID,
		ContinuationToken: token,
	}
	if !since.IsZero() {
		body.Since = since.UnixMilli()
	}
	if len(entityVersions) > 0 {
		body.EntityVersions = make(map[string]int, len(entityVersions))
		for key, version := range entityVersions {
			body.EntityVersions[key.String()] = version
		}
	}

	var resp PullResponse
	if err := c.post(ctx, "/v1/sync/pull", &body, &resp); err != nil {
		return nil, fmt.Errorf("pull failed: %w", err)
	}
	return &resp, nil
}

// post sends one JSON request and decodes the JSON response.
func (c *HTTPEndpoint) post(ctx context.Context, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
