package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/obedparla/storechat/internal/api/openai"
)

// scriptedTransport replays predetermined completion rounds.
type scriptedTransport struct {
	streams   [][]openai.StreamResult
	responses []*openai.ChatCompletionResponse

	requests []*openai.ChatCompletionRequest
}

func (s *scriptedTransport) Complete(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("no scripted response left")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scriptedTransport) Stream(ctx context.Context, req *openai.ChatCompletionRequest) (<-chan openai.StreamResult, error) {
	s.requests = append(s.requests, req)
	if len(s.streams) == 0 {
		return nil, fmt.Errorf("no scripted stream left")
	}
	round := s.streams[0]
	s.streams = s.streams[1:]

	out := make(chan openai.StreamResult)
	go func() {
		defer close(out)
		for _, r := range round {
			out <- r
		}
	}()
	return out, nil
}

// recordingTools echoes tool calls back as results.
type recordingTools struct {
	calls []string
	args  []string
}

func (r *recordingTools) Execute(ctx context.Context, name string, args json.RawMessage) any {
	r.calls = append(r.calls, name)
	r.args = append(r.args, string(args))
	return map[string]any{"tool": name, "ok": true}
}

func (r *recordingTools) Definitions(ctx context.Context) []openai.Tool {
	return []openai.Tool{{Type: "function", Function: openai.FunctionTool{Name: "search_products"}}}
}

func newTestOrchestrator(transport Transport, tools ToolExecutor, rounds int) *Orchestrator {
	o := NewOrchestrator(transport, tools, Options{
		Model:         "gpt-test",
		MaxToolRounds: rounds,
		Prompt:        PromptConfig{SiteName: "Test Shop", CommerceEnabled: true},
	}, slog.New(slog.DiscardHandler))
	n := 0
	o.newID = func() string {
		n++
		return fmt.Sprintf("txt-%d", n)
	}
	return o
}

func strptr(s string) *string { return &s }

func textChunk(content string) openai.StreamResult {
	return openai.StreamResult{Chunk: &openai.ChatCompletionChunk{
		Choices: []openai.ChunkChoice{{Delta: openai.ChunkDelta{Content: content}}},
	}}
}

func finishChunk(reason string) openai.StreamResult {
	return openai.StreamResult{Chunk: &openai.ChatCompletionChunk{
		Choices: []openai.ChunkChoice{{FinishReason: strptr(reason)}},
	}}
}

func toolChunk(index int, id, name, args string) openai.StreamResult {
	return openai.StreamResult{Chunk: &openai.ChatCompletionChunk{
		Choices: []openai.ChunkChoice{{Delta: openai.ChunkDelta{ToolCalls: []openai.ToolCallChunk{{
			Index:    index,
			ID:       id,
			Function: &openai.FunctionCallChunk{Name: name, Arguments: args},
		}}}}},
	}}
}

func collect(events <-chan Event) []Event {
	var out []Event
	for e := range events {
		out = append(out, e)
	}
	return out
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestStreamToolRoundTrip(t *testing.T) {
	transport := &scriptedTransport{streams: [][]openai.StreamResult{
		{
			toolChunk(0, "call_1", "search_products", ""),
			toolChunk(0, "", "", `{"search":`),
			toolChunk(0, "", "", `"mug"}`),
			finishChunk("tool_calls"),
		},
		{
			textChunk("Here "),
			textChunk("you go."),
			finishChunk("stop"),
		},
	}}
	tools := &recordingTools{}
	o := newTestOrchestrator(transport, tools, 10)

	events := collect(o.Stream(context.Background(), []openai.Message{{Role: "user", Content: "mugs?"}}))

	want := []string{
		EventToolInputStart,
		EventToolInputDelta,
		EventToolInputDelta,
		EventToolInputAvailable,
		EventToolOutputAvailable,
		EventTextStart,
		EventTextDelta,
		EventTextDelta,
		EventTextEnd,
	}
	got := eventTypes(events)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("event sequence mismatch\n got %v\nwant %v", got, want)
	}

	// The input event carries the fully accumulated, parsed arguments.
	if events[3].ToolCallID != "call_1" || events[3].ToolName != "search_products" {
		t.Errorf("unexpected tool-input-available identity: %+v", events[3])
	}
	input := events[3].Input.(map[string]any)
	if input["search"] != "mug" {
		t.Errorf("expected parsed args, got %v", events[3].Input)
	}
	if events[4].ToolCallID != "call_1" {
		t.Errorf("output must reference the same call id, got %q", events[4].ToolCallID)
	}

	if len(tools.calls) != 1 || tools.calls[0] != "search_products" {
		t.Fatalf("expected one tool execution, got %v", tools.calls)
	}
	if tools.args[0] != `{"search":"mug"}` {
		t.Errorf("expected accumulated args, got %s", tools.args[0])
	}

	// The second round must carry the assistant tool_calls message and the
	// tool result back to the model.
	second := transport.requests[1]
	n := len(second.Messages)
	assistant := second.Messages[n-2]
	toolMsg := second.Messages[n-1]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 {
		t.Errorf("expected assistant tool_calls message, got %+v", assistant)
	}
	if toolMsg.Role != "tool" || toolMsg.ToolCallID != "call_1" {
		t.Errorf("expected tool result message, got %+v", toolMsg)
	}
}

func TestStreamSingleTextEnvelope(t *testing.T) {
	transport := &scriptedTransport{streams: [][]openai.StreamResult{{
		textChunk("a"), textChunk("b"), textChunk("c"), finishChunk("stop"),
	}}}
	o := newTestOrchestrator(transport, &recordingTools{}, 10)

	events := collect(o.Stream(context.Background(), []openai.Message{{Role: "user", Content: "hi"}}))

	starts, ends := 0, 0
	for _, e := range events {
		switch e.Type {
		case EventTextStart:
			starts++
		case EventTextEnd:
			ends++
		case EventTextDelta:
			if starts != 1 || ends != 0 {
				t.Fatal("text-delta outside the start/end envelope")
			}
		}
	}
	if starts != 1 || ends != 1 {
		t.Fatalf("expected exactly one text envelope, got %d starts %d ends", starts, ends)
	}
	if events[0].ID == "" || events[0].ID != events[len(events)-1].ID {
		t.Errorf("envelope ids must match: %q vs %q", events[0].ID, events[len(events)-1].ID)
	}
}

func TestStreamNoTextMeansNoEnvelope(t *testing.T) {
	transport := &scriptedTransport{streams: [][]openai.StreamResult{{
		finishChunk("stop"),
	}}}
	o := newTestOrchestrator(transport, &recordingTools{}, 10)

	events := collect(o.Stream(context.Background(), []openai.Message{{Role: "user", Content: "hi"}}))
	if len(events) != 0 {
		t.Errorf("expected no events for an empty turn, got %v", eventTypes(events))
	}
}

func TestStreamMaxRoundsGuard(t *testing.T) {
	toolRound := []openai.StreamResult{
		toolChunk(0, "call_x", "search_products", `{}`),
		finishChunk("tool_calls"),
	}
	transport := &scriptedTransport{}
	for i := 0; i < 20; i++ {
		transport.streams = append(transport.streams, toolRound)
	}
	o := newTestOrchestrator(transport, &recordingTools{}, 2)

	events := collect(o.Stream(context.Background(), []openai.Message{{Role: "user", Content: "loop"}}))
	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("expected terminal error event, got %+v", last)
	}
	if !strings.Contains(last.Error, "tool call limit") {
		t.Errorf("unexpected error message: %q", last.Error)
	}
	// Rounds 0..MaxToolRounds inclusive, then the guard trips.
	if len(transport.requests) != 3 {
		t.Errorf("expected 3 completion rounds, got %d", len(transport.requests))
	}
}

func TestStreamErrorMidStream(t *testing.T) {
	transport := &scriptedTransport{streams: [][]openai.StreamResult{{
		textChunk("par"),
		{Err: fmt.Errorf("rate limited")},
	}}}
	o := newTestOrchestrator(transport, &recordingTools{}, 10)

	events := collect(o.Stream(context.Background(), []openai.Message{{Role: "user", Content: "hi"}}))
	last := events[len(events)-1]
	if last.Type != EventError || !strings.Contains(last.Error, "rate limited") {
		t.Fatalf("expected error event, got %+v", last)
	}
}

func TestStreamUnconfigured(t *testing.T) {
	o := newTestOrchestrator(nil, &recordingTools{}, 10)
	events := collect(o.Stream(context.Background(), []openai.Message{{Role: "user", Content: "hi"}}))
	if len(events) != 1 || events[0].Type != EventError || events[0].Error != UnavailableMessage {
		t.Fatalf("expected the fixed unavailable message, got %v", events)
	}
}

func TestSendMultiRound(t *testing.T) {
	transport := &scriptedTransport{responses: []*openai.ChatCompletionResponse{
		{Choices: []openai.Choice{{
			FinishReason: "tool_calls",
			Message: openai.Message{Role: "assistant", ToolCalls: []openai.ToolCall{{
				ID: "call_1", Type: "function",
				Function: openai.FunctionCall{Name: "search_products", Arguments: `{"search":"mug"}`},
			}}},
		}}},
		{Choices: []openai.Choice{{
			FinishReason: "stop",
			Message:      openai.Message{Role: "assistant", Content: "Two mugs in stock."},
		}}},
	}}
	tools := &recordingTools{}
	o := newTestOrchestrator(transport, tools, 10)

	content, err := o.Send(context.Background(), []openai.Message{{Role: "user", Content: "mugs?"}})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if content != "Two mugs in stock." {
		t.Errorf("unexpected content %q", content)
	}
	if len(tools.calls) != 1 {
		t.Errorf("expected one tool execution, got %v", tools.calls)
	}

	second := transport.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" {
		t.Errorf("expected tool result appended, got %+v", last)
	}
}

func TestSendMaxRoundsGuard(t *testing.T) {
	loop := &openai.ChatCompletionResponse{Choices: []openai.Choice{{
		FinishReason: "tool_calls",
		Message: openai.Message{Role: "assistant", ToolCalls: []openai.ToolCall{{
			ID: "call_x", Type: "function",
			Function: openai.FunctionCall{Name: "search_products", Arguments: `{}`},
		}}},
	}}}
	transport := &scriptedTransport{}
	for i := 0; i < 20; i++ {
		transport.responses = append(transport.responses, loop)
	}
	o := newTestOrchestrator(transport, &recordingTools{}, 3)

	if _, err := o.Send(context.Background(), []openai.Message{{Role: "user", Content: "loop"}}); err == nil {
		t.Fatal("expected the round guard to trip")
	}
}

func TestSendUnconfigured(t *testing.T) {
	o := newTestOrchestrator(nil, &recordingTools{}, 10)
	if _, err := o.Send(context.Background(), []openai.Message{{Role: "user", Content: "hi"}}); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestStreamSystemPromptLeadsMessages(t *testing.T) {
	transport := &scriptedTransport{streams: [][]openai.StreamResult{{
		finishChunk("stop"),
	}}}
	o := newTestOrchestrator(transport, &recordingTools{}, 10)

	collect(o.Stream(context.Background(), []openai.Message{{Role: "user", Content: "hi"}}))

	req := transport.requests[0]
	if req.Messages[0].Role != "system" {
		t.Fatalf("expected system message first, got %q", req.Messages[0].Role)
	}
	if !strings.Contains(req.Messages[0].Content, "Test Shop") {
		t.Errorf("expected site name in system prompt")
	}
	if len(req.Tools) != 1 {
		t.Errorf("expected tool definitions on the request, got %d", len(req.Tools))
	}
}
