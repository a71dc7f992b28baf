// Package fim speaks the provider's fill-in-the-middle wire protocol.
package fim

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"fimtab/logger"
)

// DefaultFIMPath is the provider's FIM completion endpoint.
const DefaultFIMPath = "/v1/fim/completions"

// completionRequest is the request body for the FIM endpoint.
type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Suffix      string  `json:"suffix"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
}

// streamEvent is one SSE payload from the streaming response.
type streamEvent struct {
	Choices []struct {
		Delta        json.RawMessage `json:"delta"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
}

// chunkKind tags the variant decoded from a delta payload. Providers shape
// deltas loosely; unknown kinds are ignored rather than failing dispatch.
type chunkKind int

const (
	chunkText chunkKind = iota
	chunkReasoning
	chunkUnknown
)

type chunk struct {
	kind chunkKind
	text string
}

// decodeDelta decodes a raw delta into a tagged chunk exactly once at the
// transport boundary.
func decodeDelta(raw json.RawMessage) chunk {
	var delta struct {
		Content          string `json:"content"`
		ReasoningContent string `json:"reasoning_content"`
	}
	if err := json.Unmarshal(raw, &delta); err != nil {
		return chunk{kind: chunkUnknown}
	}
	if delta.Content != "" {
		return chunk{kind: chunkText, text: delta.Content}
	}
	if delta.ReasoningContent != "" {
		return chunk{kind: chunkReasoning, text: delta.ReasoningContent}
	}
	return chunk{kind: chunkUnknown}
}

// StatusError is a transport failure carrying the response status and body.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// StreamResult is the final outcome of one stream.
type StreamResult struct {
	Text         string
	FinishReason string
	Err          error
}

// TokenStream delivers text fragments as the provider generates them. The
// stream is finite, not restartable, and consumed exactly once.
type TokenStream struct {
	fragments <-chan string
	done      <-chan StreamResult
	cancel    func()
}

// FragmentsChan returns the channel fragments arrive on. It is closed when
// the stream ends.
func (s *TokenStream) FragmentsChan() <-chan string { return s.fragments }

// DoneChan returns the channel carrying the final result.
func (s *TokenStream) DoneChan() <-chan StreamResult { return s.done }

// Cancel abandons the stream early. Remaining fragments are not awaited.
func (s *TokenStream) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Client is a reusable FIM API client.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	FIMPath    string
}

// NewClient creates a client for the given base URL and bearer token.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		HTTPClient: &http.Client{},
		BaseURL:    baseURL,
		APIKey:     apiKey,
		FIMPath:    DefaultFIMPath,
	}
}

// DoFIMStream opens one streaming FIM request and returns the token stream.
func (c *Client) DoFIMStream(ctx context.Context, req *Request) *TokenStream {
	fragChan := make(chan string, 100)
	doneChan := make(chan StreamResult, 1)

	ctx, cancel := context.WithCancel(ctx)

	stream := &TokenStream{
		fragments: fragChan,
		done:      doneChan,
		cancel:    cancel,
	}

	go func() {
		defer close(fragChan)
		defer close(doneChan)

		doneChan <- c.runStream(ctx, req, fragChan)
	}()

	return stream
}

// Request carries the parameters of one FIM stream.
type Request struct {
	Model       string
	Prefix      string
	Suffix      string
	MaxTokens   int
	Temperature float64
}

// runStream executes the streaming request and sends fragments to the channel.
func (c *Client) runStream(ctx context.Context, req *Request, fragments chan<- string) StreamResult {
	defer logger.Trace("fim.runStream")()

	body := &completionRequest{
		Model:       req.Model,
		Prompt:      req.Prefix,
		Suffix:      req.Suffix,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}

	// Marshal the request without HTML escaping
	var reqBodyBuf bytes.Buffer
	encoder := json.NewEncoder(&reqBodyBuf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(body); err != nil {
		return StreamResult{Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+c.FIMPath, &reqBodyBuf)
	if err != nil {
		return StreamResult{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return StreamResult{FinishReason: "cancelled"}
		}
		return StreamResult{Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return StreamResult{Err: &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}}
	}

	return c.processStream(ctx, resp.Body, fragments)
}

// processStream reads SSE events and emits one fragment per content-bearing
// delta, in arrival order. Stream end needs no sentinel.
func (c *Client) processStream(ctx context.Context, body io.Reader, fragments chan<- string) StreamResult {
	var textBuilder strings.Builder
	var finishReason string

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		// Cooperative cancellation between fragment reads
		select {
		case <-ctx.Done():
			return StreamResult{Text: textBuilder.String(), FinishReason: "cancelled"}
		default:
		}

		line := scanner.Text()

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		if line == "data: [DONE]" {
			break
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			logger.Debug("fim stream: failed to parse event: %v", err)
			continue
		}
		if len(event.Choices) == 0 {
			continue
		}

		ch := decodeDelta(event.Choices[0].Delta)
		if ch.kind == chunkText {
			textBuilder.WriteString(ch.text)
			select {
			case fragments <- ch.text:
			case <-ctx.Done():
				return StreamResult{Text: textBuilder.String(), FinishReason: "cancelled"}
			}
		}

		if event.Choices[0].FinishReason != "" {
			finishReason = event.Choices[0].FinishReason
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return StreamResult{Text: textBuilder.String(), FinishReason: "cancelled"}
		}
		logger.Debug("fim stream: scanner error: %v", err)
	}

	return StreamResult{Text: textBuilder.String(), FinishReason: finishReason}
}
