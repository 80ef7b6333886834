package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/obedparla/storechat/internal/api/openai"
	"github.com/obedparla/storechat/internal/config"
)

// UnavailableMessage is the fixed user-facing text for a service with no
// completion backend configured. No network call is ever attempted in that
// state.
const UnavailableMessage = "Chat is currently unavailable. Please try again later or contact the site owner."

const finishToolCalls = "tool_calls"

// ToolExecutor is the tool layer the orchestrator drives. Execution results
// are JSON-serializable payloads; tool-level failures arrive as
// {"error": ...} values and are fed back to the model, not raised.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) any
	Definitions(ctx context.Context) []openai.Tool
}

// Options tune a single orchestrator instance.
type Options struct {
	Model  string
	Prompt PromptConfig
	// MaxToolRounds bounds how many tool-calling completions one request may
	// chain before the loop aborts. The model decides when to stop; this is
	// the safety margin for when it doesn't.
	MaxToolRounds int
	TokenBudget   int
}

// Orchestrator produces finished assistant turns, transparently executing
// any tool calls the model requests, in synchronous or streaming mode,
// against whichever transport is configured.
type Orchestrator struct {
	transport Transport
	tools     ToolExecutor
	opts      Options
	logger    *slog.Logger

	// newID generates text-part ids; swapped out in tests for determinism.
	newID func() string
}

// NewOrchestrator wires an orchestrator. transport may be nil for an
// unconfigured install, in which case every request yields the fixed
// unavailable message.
func NewOrchestrator(transport Transport, tools ToolExecutor, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 10
	}
	return &Orchestrator{
		transport: transport,
		tools:     tools,
		opts:      opts,
		logger:    logger,
		newID:     func() string { return uuid.New().String() },
	}
}

// NewTransportFromConfig selects the transport. Provider mode is active iff
// both a provider URL and site key are configured; in that mode no OpenAI
// client is constructed at all, even when an API key is present.
func NewTransportFromConfig(cfg *config.Config) (Transport, error) {
	if cfg.ProviderMode() {
		return NewProviderTransport(cfg.Provider.URL, cfg.Provider.SiteKey, http.DefaultClient), nil
	}
	if cfg.OpenAI.APIKey != "" {
		var opts []openai.ClientOption
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		return NewDirectTransport(openai.NewClient(cfg.OpenAI.APIKey, opts...)), nil
	}
	return nil, ErrNotConfigured
}

// prepare trims the client history to the token budget and prepends the
// system prompt.
func (o *Orchestrator) prepare(history []openai.Message) []openai.Message {
	trimmed := trimHistory(history, o.opts.TokenBudget)
	messages := make([]openai.Message, 0, len(trimmed)+1)
	messages = append(messages, openai.Message{Role: "system", Content: BuildSystemPrompt(o.opts.Prompt)})
	return append(messages, trimmed...)
}

func (o *Orchestrator) request(messages []openai.Message, tools []openai.Tool) *openai.ChatCompletionRequest {
	return &openai.ChatCompletionRequest{
		Model:    o.opts.Model,
		Messages: messages,
		Tools:    tools,
	}
}

// Send produces one finished assistant turn synchronously. Tool calls are
// executed between completion rounds until the model finishes with plain
// text or the round bound trips.
func (o *Orchestrator) Send(ctx context.Context, history []openai.Message) (string, error) {
	if o.transport == nil {
		return "", ErrNotConfigured
	}

	messages := o.prepare(history)
	defs := o.tools.Definitions(ctx)

	for round := 0; round <= o.opts.MaxToolRounds; round++ {
		resp, err := o.transport.Complete(ctx, o.request(messages, defs))
		if err != nil {
			return "", fmt.Errorf("completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("completion returned no choices")
		}

		choice := resp.Choices[0]
		if choice.FinishReason != finishToolCalls || len(choice.Message.ToolCalls) == 0 {
			return choice.Message.Content, nil
		}

		messages = append(messages, choice.Message)
		messages = append(messages, o.executeCalls(ctx, choice.Message.ToolCalls, nil)...)
	}

	return "", fmt.Errorf("tool call limit reached after %d rounds", o.opts.MaxToolRounds)
}

// Stream produces the normalized event stream for one assistant turn. The
// channel is closed when the turn completes or aborts; the caller appends
// the terminal [DONE] sentinel on the wire.
func (o *Orchestrator) Stream(ctx context.Context, history []openai.Message) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)

		if o.transport == nil {
			out <- errorEvent(UnavailableMessage)
			return
		}

		messages := o.prepare(history)
		defs := o.tools.Definitions(ctx)

		var (
			textID   string
			textOpen bool
		)

		for round := 0; round <= o.opts.MaxToolRounds; round++ {
			stream, err := o.transport.Stream(ctx, o.request(messages, defs))
			if err != nil {
				o.logger.Error("failed to open completion stream", slog.String("error", err.Error()))
				out <- errorEvent(err.Error())
				return
			}

			acc := make(accumulators)
			finish := ""
			for result := range stream {
				if result.Err != nil {
					o.logger.Error("completion stream failed", slog.String("error", result.Err.Error()))
					out <- errorEvent(result.Err.Error())
					return
				}
				for _, choice := range result.Chunk.Choices {
					if choice.Delta.Content != "" {
						if !textOpen {
							textOpen = true
							textID = o.newID()
							out <- textStart(textID)
						}
						out <- textDelta(textID, choice.Delta.Content)
					}
					for _, tc := range choice.Delta.ToolCalls {
						acc.absorb(tc, func(e Event) { out <- e })
					}
					if choice.FinishReason != nil && *choice.FinishReason != "" {
						finish = *choice.FinishReason
					}
				}
			}

			if finish == finishToolCalls && len(acc) > 0 {
				calls := acc.calls()
				messages = append(messages, openai.Message{Role: "assistant", ToolCalls: calls})
				messages = append(messages, o.executeCalls(ctx, calls, out)...)
				continue
			}

			if textOpen {
				out <- textEnd(textID)
			}
			return
		}

		out <- errorEvent(fmt.Sprintf("tool call limit reached after %d rounds", o.opts.MaxToolRounds))
	}()
	return out
}

// executeCalls runs each accumulated tool call and returns the tool result
// messages to append to the conversation. When events is non-nil the
// tool-input-available / tool-output-available pair is emitted per call,
// input always preceding output for the same id.
func (o *Orchestrator) executeCalls(ctx context.Context, calls []openai.ToolCall, events chan<- Event) []openai.Message {
	results := make([]openai.Message, 0, len(calls))
	for _, call := range calls {
		var input any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
			input = call.Function.Arguments
		}
		if events != nil {
			events <- toolInputAvailable(call.ID, call.Function.Name, input)
		}

		output := o.tools.Execute(ctx, call.Function.Name, json.RawMessage(call.Function.Arguments))
		if events != nil {
			events <- toolOutputAvailable(call.ID, output)
		}

		content, err := json.Marshal(output)
		if err != nil {
			o.logger.Error("failed to marshal tool output",
				slog.String("tool", call.Function.Name), slog.String("error", err.Error()))
			content = []byte(`{"error":"tool output could not be serialized"}`)
		}
		results = append(results, openai.Message{
			Role:       "tool",
			Content:    string(content),
			ToolCallID: call.ID,
		})
	}
	return results
}
