// Package telemetry ships acceptance events to the telemetry endpoint.
package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"

	"fimtab/logger"
	"fimtab/track"
)

// DefaultEventsPath is the event ingestion endpoint.
const DefaultEventsPath = "/events/suggestion"

// eventBody is the minimal contract: the event name and nothing else.
type eventBody struct {
	Event string `json:"event"`
}

// Client posts telemetry events fire-and-forget, compressing bodies with
// brotli. It implements track.Sink.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	EventsPath string
}

// NewClient creates a telemetry client for the given endpoint.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		BaseURL:    baseURL,
		APIKey:     apiKey,
		EventsPath: DefaultEventsPath,
	}
}

// Send implements track.Sink. Failures are logged, never surfaced: losing a
// telemetry event must not disturb the suggestion flow.
func (c *Client) Send(event track.EventType) {
	go func() {
		if err := c.post(event); err != nil {
			logger.Debug("telemetry: failed to send %s: %v", event, err)
		}
	}()
}

// post performs one synchronous event upload.
func (c *Client) post(event track.EventType) error {
	payload, err := json.Marshal(&eventBody{Event: string(event)})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var compressed bytes.Buffer
	bw := brotli.NewWriter(&compressed)
	if _, err := bw.Write(payload); err != nil {
		return fmt.Errorf("failed to compress event: %w", err)
	}
	if err := bw.Close(); err != nil {
		return fmt.Errorf("failed to compress event: %w", err)
	}

	req, err := http.NewRequest("POST", c.BaseURL+c.EventsPath, &compressed)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "br")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
