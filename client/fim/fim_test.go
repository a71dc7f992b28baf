package fim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"fimtab/assert"
	"fimtab/types"
)

func sseServer(t *testing.T, events []string, capture *completionRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			if err := json.NewDecoder(r.Body).Decode(capture); err != nil {
				t.Errorf("failed to decode request body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func collect(stream *TokenStream) ([]string, StreamResult) {
	var fragments []string
	for f := range stream.FragmentsChan() {
		fragments = append(fragments, f)
	}
	return fragments, <-stream.DoneChan()
}

func TestDoFIMStream_FragmentsInOrder(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo "}}]}`,
		`{"choices":[{"delta":{"content":"world"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	}, nil)
	defer srv.Close()

	client := NewClient(srv.URL, "")
	stream := client.DoFIMStream(context.Background(), &Request{Model: "m", Prefix: "p"})

	fragments, result := collect(stream)

	assert.Len(t, 3, fragments, "fragment count")
	assert.Equal(t, "hel", fragments[0], "first fragment")
	assert.Equal(t, "hello world", result.Text, "accumulated text")
	assert.Equal(t, "stop", result.FinishReason, "finish reason")
	assert.NoError(t, result.Err, "stream error")
}

func TestDoFIMStream_SkipsContentlessAndReasoning(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"reasoning_content":"thinking..."}}]}`,
		`{"choices":[{"delta":{}}]}`,
		`{"choices":[]}`,
		`{"choices":[{"delta":{"content":"answer"}}]}`,
		`{"choices":[{"delta":{"unknown_kind":42}}]}`,
	}, nil)
	defer srv.Close()

	client := NewClient(srv.URL, "")
	fragments, result := collect(client.DoFIMStream(context.Background(), &Request{Model: "m"}))

	assert.Len(t, 1, fragments, "only content deltas yield fragments")
	assert.Equal(t, "answer", result.Text, "accumulated text")
}

func TestDoFIMStream_RequestShape(t *testing.T) {
	var captured completionRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, DefaultFIMPath, r.URL.Path, "request path")
		json.NewDecoder(r.Body).Decode(&captured)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-token")
	_, _ = collect(client.DoFIMStream(context.Background(), &Request{
		Model:       "codemodel",
		Prefix:      "func main() {",
		Suffix:      "}",
		MaxTokens:   256,
		Temperature: 0.2,
	}))

	assert.Equal(t, "Bearer secret-token", gotAuth, "bearer auth header")
	assert.Equal(t, "codemodel", captured.Model, "model field")
	assert.Equal(t, "func main() {", captured.Prompt, "prompt carries the prefix")
	assert.Equal(t, "}", captured.Suffix, "suffix field")
	assert.Equal(t, 256, captured.MaxTokens, "max_tokens field")
	assert.Equal(t, 0.2, captured.Temperature, "temperature field")
	assert.True(t, captured.Stream, "stream flag")
}

func TestDoFIMStream_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "rate limited")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	fragments, result := collect(client.DoFIMStream(context.Background(), &Request{Model: "m"}))

	assert.Nil(t, fragments, "no fragments on transport error")
	assert.Error(t, result.Err, "transport error surfaced")

	var statusErr *StatusError
	assert.True(t, errors.As(result.Err, &statusErr), "error is a StatusError")
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode, "status code")
	assert.Equal(t, "rate limited", statusErr.Body, "response body")
}

func TestDoFIMStream_Cancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL, "")
	stream := client.DoFIMStream(context.Background(), &Request{Model: "m"})

	got := <-stream.FragmentsChan()
	assert.Equal(t, "partial", got, "fragment before cancel")

	stream.Cancel()

	// Drain remaining fragments; the stream must terminate promptly.
	for range stream.FragmentsChan() {
	}
	result := <-stream.DoneChan()
	assert.Equal(t, "cancelled", result.FinishReason, "finish reason after cancel")
}

func TestDecodeDelta(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind chunkKind
		wantText string
	}{
		{"text chunk", `{"content":"abc"}`, chunkText, "abc"},
		{"reasoning chunk", `{"reasoning_content":"hmm"}`, chunkReasoning, "hmm"},
		{"empty delta", `{}`, chunkUnknown, ""},
		{"malformed", `not json`, chunkUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeDelta(json.RawMessage(tt.raw))
			assert.Equal(t, tt.wantKind, got.kind, "chunk kind")
			assert.Equal(t, tt.wantText, got.text, "chunk text")
		})
	}
}

// --- Gateway tests ---

func modelListServer(models ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != modelsPath {
			http.NotFound(w, r)
			return
		}
		type entry struct {
			ID string `json:"id"`
		}
		var data []entry
		for _, m := range models {
			data = append(data, entry{ID: m})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func TestGateway_SupportsFIM(t *testing.T) {
	declared := []types.ModelInfo{
		{Name: "fim-model", SupportsFIM: true},
		{Name: "chat-model", SupportsFIM: false},
	}

	g := NewGateway(NewClient("http://unused", ""), declared, "fim-model", 0)
	assert.True(t, g.SupportsFIM(), "declared FIM model")

	g = NewGateway(NewClient("http://unused", ""), declared, "chat-model", 0)
	assert.False(t, g.SupportsFIM(), "chat-only model")

	g = NewGateway(NewClient("http://unused", ""), declared, "unknown", 0)
	assert.False(t, g.SupportsFIM(), "undeclared model")
}

func TestGateway_Reload(t *testing.T) {
	srv := modelListServer("fim-model", "other")
	defer srv.Close()

	g := NewGateway(NewClient(srv.URL, ""), []types.ModelInfo{{Name: "fim-model", SupportsFIM: true}}, "fim-model", 0)
	assert.False(t, g.ModelLoaded(), "not loaded before reload")

	assert.NoError(t, g.Reload(context.Background()), "reload with served model")
	assert.True(t, g.ModelLoaded(), "loaded after reload")
}

func TestGateway_ReloadMissingModel(t *testing.T) {
	srv := modelListServer("other")
	defer srv.Close()

	g := NewGateway(NewClient(srv.URL, ""), []types.ModelInfo{{Name: "fim-model"}}, "fim-model", 0)
	assert.Error(t, g.Reload(context.Background()), "reload without served model")
	assert.False(t, g.ModelLoaded(), "still unloaded")
}

func TestGateway_MaxTokensCeiling(t *testing.T) {
	var captured completionRequest
	srv := sseServer(t, nil, &captured)
	defer srv.Close()

	// Model ceiling below the fixed cap wins.
	g := NewGateway(NewClient(srv.URL, ""), []types.ModelInfo{
		{Name: "small", SupportsFIM: true, MaxOutputTokens: 128},
	}, "small", 0)
	_, _ = collect(g.StreamFIM(context.Background(), "p", "s"))
	assert.Equal(t, 128, captured.MaxTokens, "model ceiling wins")

	// No ceiling: the fixed cap applies.
	g = NewGateway(NewClient(srv.URL, ""), []types.ModelInfo{
		{Name: "big", SupportsFIM: true, MaxOutputTokens: 4096},
	}, "big", 0)
	_, _ = collect(g.StreamFIM(context.Background(), "p", "s"))
	assert.Equal(t, tokenCap, captured.MaxTokens, "fixed cap wins")

	assert.Equal(t, defaultTemperature, captured.Temperature, "default temperature")
}
