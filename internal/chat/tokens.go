package chat

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/obedparla/storechat/internal/api/openai"
)

// Per-message structural overhead for chat models, per OpenAI's counting
// guidance: 3 tokens per message plus 1 for the role.
const tokensPerMessage = 4

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		// O200kBase covers the gpt-4o/gpt-5 families this service targets.
		codec, _ = tokenizer.Get(tokenizer.O200kBase)
	})
	return codec
}

func countTokens(msg openai.Message) int {
	c := getCodec()
	if c == nil {
		// Tokenizer unavailable: fall back to a bytes/4 estimate.
		n := len(msg.Content)
		for _, tc := range msg.ToolCalls {
			n += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
		return tokensPerMessage + n/4
	}

	total := tokensPerMessage
	ids, _, _ := c.Encode(msg.Content)
	total += len(ids)
	for _, tc := range msg.ToolCalls {
		ids, _, _ = c.Encode(tc.Function.Name)
		total += len(ids)
		ids, _, _ = c.Encode(tc.Function.Arguments)
		total += len(ids)
	}
	return total
}

// trimHistory drops the oldest turns until the history fits the token
// budget. The trailing user message always survives, and a tool message is
// never left without the assistant tool_calls turn it answers.
func trimHistory(messages []openai.Message, budget int) []openai.Message {
	if budget <= 0 || len(messages) == 0 {
		return messages
	}

	total := 0
	for _, m := range messages {
		total += countTokens(m)
	}

	start := 0
	for total > budget && start < len(messages)-1 {
		total -= countTokens(messages[start])
		start++
	}

	// Never start on a dangling tool result.
	for start < len(messages)-1 && messages[start].Role == "tool" {
		start++
	}
	return messages[start:]
}
