package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/obedparla/storechat/internal/api/openai"
)

// ErrNotConfigured means neither an OpenAI key nor a complete provider
// relay configuration is present. No network call is attempted in that
// state; the caller surfaces a fixed "chat unavailable" message.
var ErrNotConfigured = errors.New("chat is not configured: set an OpenAI API key or a provider URL and site key")

// SiteKeyHeader authenticates a chatbot install to its provider relay.
const SiteKeyHeader = "X-Site-Key"

// Transport issues chat completions against one upstream. Both
// implementations must yield identical chunk sequences for identical
// upstream behavior so the orchestrator's event stream is transport
// agnostic.
type Transport interface {
	Complete(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error)
	Stream(ctx context.Context, req *openai.ChatCompletionRequest) (<-chan openai.StreamResult, error)
}

// DirectTransport talks straight to the OpenAI API.
type DirectTransport struct {
	client *openai.Client
}

// NewDirectTransport wraps an OpenAI client.
func NewDirectTransport(client *openai.Client) *DirectTransport {
	return &DirectTransport{client: client}
}

func (t *DirectTransport) Complete(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	return t.client.CreateChatCompletion(ctx, req)
}

func (t *DirectTransport) Stream(ctx context.Context, req *openai.ChatCompletionRequest) (<-chan openai.StreamResult, error) {
	return t.client.StreamChatCompletion(ctx, req)
}

// ProviderTransport talks to a remote relay that proxies OpenAI. The relay
// response body is itself an SSE stream of raw OpenAI-compatible chunks,
// which this transport parses back into the same chunk sequence the direct
// transport produces.
type ProviderTransport struct {
	url        string
	siteKey    string
	httpClient *http.Client
}

// NewProviderTransport creates a relay-backed transport.
func NewProviderTransport(url, siteKey string, httpClient *http.Client) *ProviderTransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ProviderTransport{
		url:        strings.TrimSuffix(url, "/"),
		siteKey:    siteKey,
		httpClient: httpClient,
	}
}

type relayRequest struct {
	Messages []openai.Message `json:"messages"`
	Tools    []openai.Tool    `json:"tools,omitempty"`
	Model    string           `json:"model,omitempty"`
}

func (t *ProviderTransport) open(ctx context.Context, req *openai.ChatCompletionRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(relayRequest{
		Messages: req.Messages,
		Tools:    req.Tools,
		Model:    req.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(SiteKeyHeader, t.siteKey)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		// Distinct from an in-stream error payload: the stream never opened.
		return nil, fmt.Errorf("failed to connect to chat provider: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chat provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return resp.Body, nil
}

func (t *ProviderTransport) Stream(ctx context.Context, req *openai.ChatCompletionRequest) (<-chan openai.StreamResult, error) {
	body, err := t.open(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan openai.StreamResult)
	go relayStreamReader(body, out)
	return out, nil
}

// Complete runs a relay stream to completion and folds the chunks into a
// single response; the relay only exposes a streaming surface.
func (t *ProviderTransport) Complete(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	stream, err := t.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var (
		content      strings.Builder
		acc          = make(accumulators)
		finishReason = "stop"
	)
	for result := range stream {
		if result.Err != nil {
			return nil, result.Err
		}
		for _, choice := range result.Chunk.Choices {
			content.WriteString(choice.Delta.Content)
			for _, tc := range choice.Delta.ToolCalls {
				acc.absorb(tc, func(Event) {})
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finishReason = *choice.FinishReason
			}
		}
	}

	msg := openai.Message{Role: "assistant", Content: content.String()}
	if len(acc) > 0 {
		msg.ToolCalls = acc.calls()
	}
	return &openai.ChatCompletionResponse{
		Object:  "chat.completion",
		Model:   req.Model,
		Choices: []openai.Choice{{Message: msg, FinishReason: finishReason}},
	}, nil
}

// relayStreamReader parses the relay's SSE body: raw OpenAI chunks on
// "data:" lines, a literal [DONE] terminator, and a {"error": ...} line for
// a fatal in-stream failure.
func relayStreamReader(body io.ReadCloser, out chan<- openai.StreamResult) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return
		}

		if apiErr, err := openai.ParseErrorResponse([]byte(data)); err == nil && apiErr != nil {
			out <- openai.StreamResult{Err: apiErr}
			return
		}

		var chunk openai.ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			out <- openai.StreamResult{Err: fmt.Errorf("failed to unmarshal provider chunk: %w", err)}
			return
		}
		out <- openai.StreamResult{Chunk: &chunk}
	}

	if err := scanner.Err(); err != nil {
		out <- openai.StreamResult{Err: fmt.Errorf("provider stream read error: %w", err)}
	}
}
