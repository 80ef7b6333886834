package chat

import (
	"sort"
	"strings"

	"github.com/obedparla/storechat/internal/api/openai"
)

// toolCallAccumulator gathers one tool call's deltas across a completion
// round. Arguments are only valid JSON once the round finishes; intermediate
// states are never parsed.
type toolCallAccumulator struct {
	id      string
	name    string
	args    strings.Builder
	started bool // guards the one-time tool-input-start emission
	emitted int  // args bytes already sent as tool-input-delta events
}

// accumulators tracks in-flight tool calls keyed by the model's call index.
// A fresh set is created for every completion round.
type accumulators map[int]*toolCallAccumulator

// absorb merges one delta into the set. emit is called for the one-time
// tool-input-start (when the call's name first becomes known) and for each
// arguments fragment.
func (a accumulators) absorb(tc openai.ToolCallChunk, emit func(Event)) {
	acc, ok := a[tc.Index]
	if !ok {
		acc = &toolCallAccumulator{}
		a[tc.Index] = acc
	}
	if tc.ID != "" {
		acc.id = tc.ID
	}
	if tc.Function != nil {
		if tc.Function.Name != "" {
			acc.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			acc.args.WriteString(tc.Function.Arguments)
		}
	}

	// The name can arrive before the call id does. Hold the start event, and
	// any argument fragments, until both are known so no event goes out with
	// an empty toolCallId.
	if !acc.started && acc.id != "" && acc.name != "" {
		acc.started = true
		emit(toolInputStart(acc.id, acc.name))
	}
	if acc.started && acc.args.Len() > acc.emitted {
		pending := acc.args.String()[acc.emitted:]
		acc.emitted = acc.args.Len()
		emit(toolInputDelta(acc.id, pending))
	}
}

// calls returns the completed tool calls in index order.
func (a accumulators) calls() []openai.ToolCall {
	indexes := make([]int, 0, len(a))
	for i := range a {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]openai.ToolCall, 0, len(a))
	for _, i := range indexes {
		acc := a[i]
		calls = append(calls, openai.ToolCall{
			ID:   acc.id,
			Type: "function",
			Function: openai.FunctionCall{
				Name:      acc.name,
				Arguments: acc.args.String(),
			},
		})
	}
	return calls
}
