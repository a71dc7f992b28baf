package fim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"fimtab/logger"
	"fimtab/types"
)

// tokenCap bounds max_tokens regardless of what the model allows. A lower
// model ceiling wins.
const tokenCap = 256

// defaultTemperature favors deterministic completions over creative ones.
const defaultTemperature = 0.2

// modelsPath lists the models the provider currently serves.
const modelsPath = "/v1/models"

// Gateway binds the transport client to one declared model and answers
// capability questions for it.
type Gateway struct {
	client      *Client
	temperature float64

	mu       sync.Mutex
	declared map[string]types.ModelInfo
	active   string
	loaded   bool
}

// NewGateway creates a gateway for the configured active model. declared
// carries each model's capability and output ceiling.
func NewGateway(client *Client, declared []types.ModelInfo, active string, temperature float64) *Gateway {
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	byName := make(map[string]types.ModelInfo, len(declared))
	for _, m := range declared {
		byName[m.Name] = m
	}
	return &Gateway{
		client:      client,
		temperature: temperature,
		declared:    byName,
		active:      active,
	}
}

// ModelLoaded reports whether the active model has been verified against the
// provider.
func (g *Gateway) ModelLoaded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loaded
}

// SupportsFIM reports the active model's declared FIM capability. Callers
// must check this before requesting a stream.
func (g *Gateway) SupportsFIM() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	info, ok := g.declared[g.active]
	return ok && info.SupportsFIM
}

// Reload synchronously re-verifies that the provider serves the active model.
func (g *Gateway) Reload(ctx context.Context) error {
	defer logger.Trace("fim.Reload")()

	served, err := g.listModels(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, name := range served {
		if name == g.active {
			g.loaded = true
			return nil
		}
	}
	g.loaded = false
	return fmt.Errorf("model %q is not served by the provider", g.active)
}

// StreamFIM opens one streaming completion for the prefix/suffix pair.
func (g *Gateway) StreamFIM(ctx context.Context, prefix, suffix string) *TokenStream {
	g.mu.Lock()
	info := g.declared[g.active]
	model := g.active
	g.mu.Unlock()

	maxTokens := tokenCap
	if info.MaxOutputTokens > 0 && info.MaxOutputTokens < maxTokens {
		maxTokens = info.MaxOutputTokens
	}

	return g.client.DoFIMStream(ctx, &Request{
		Model:       model,
		Prefix:      prefix,
		Suffix:      suffix,
		MaxTokens:   maxTokens,
		Temperature: g.temperature,
	})
}

// listModels queries the provider's model listing.
func (g *Gateway) listModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", g.client.BaseURL+modelsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if g.client.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.client.APIKey)
	}

	resp, err := g.client.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("failed to decode model listing: %w", err)
	}

	names := make([]string, 0, len(listing.Data))
	for _, m := range listing.Data {
		names = append(names, m.ID)
	}
	return names, nil
}
