package chat

import (
	"strings"
	"testing"

	"github.com/obedparla/storechat/internal/api/openai"
)

func TestTrimHistoryKeepsTrailingUserMessage(t *testing.T) {
	long := strings.Repeat("word ", 500)
	messages := []openai.Message{
		{Role: "user", Content: long},
		{Role: "assistant", Content: long},
		{Role: "user", Content: "latest question"},
	}

	trimmed := trimHistory(messages, 50)
	if len(trimmed) == 0 {
		t.Fatal("trim must never empty the history")
	}
	last := trimmed[len(trimmed)-1]
	if last.Role != "user" || last.Content != "latest question" {
		t.Errorf("trailing user message must survive, got %+v", last)
	}
}

func TestTrimHistoryNeverStartsOnToolResult(t *testing.T) {
	long := strings.Repeat("word ", 300)
	messages := []openai.Message{
		{Role: "user", Content: long},
		{Role: "assistant", ToolCalls: []openai.ToolCall{{ID: "c1", Type: "function",
			Function: openai.FunctionCall{Name: "search_products", Arguments: long}}}},
		{Role: "tool", Content: "result", ToolCallID: "c1"},
		{Role: "assistant", Content: "answer"},
		{Role: "user", Content: "next"},
	}

	trimmed := trimHistory(messages, 100)
	if trimmed[0].Role == "tool" {
		t.Error("history must not begin with a dangling tool result")
	}
}

func TestTrimHistoryWithinBudgetUntouched(t *testing.T) {
	messages := []openai.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	trimmed := trimHistory(messages, 10_000)
	if len(trimmed) != 2 {
		t.Errorf("expected untouched history, got %d messages", len(trimmed))
	}
}

func TestTrimHistoryZeroBudgetDisabled(t *testing.T) {
	messages := []openai.Message{{Role: "user", Content: strings.Repeat("x", 10_000)}}
	if got := trimHistory(messages, 0); len(got) != 1 {
		t.Errorf("zero budget disables trimming, got %d messages", len(got))
	}
}
