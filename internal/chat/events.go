// Package chat owns the assistant's conversation orchestration: system
// prompt assembly, the tool-calling loop, and the normalization of two
// upstream transports into one stream-event vocabulary.
package chat

// Event types emitted to the frontend. The vocabulary is independent of the
// upstream transport; both the direct and relay transports produce identical
// event sequences for identical upstream chunks.
const (
	EventTextStart           = "text-start"
	EventTextDelta           = "text-delta"
	EventTextEnd             = "text-end"
	EventToolInputStart      = "tool-input-start"
	EventToolInputDelta      = "tool-input-delta"
	EventToolInputAvailable  = "tool-input-available"
	EventToolOutputAvailable = "tool-output-available"
	EventError               = "error"
)

// Event is one normalized stream frame. Exactly the fields for the event's
// type are set; the rest stay zero and are omitted from the JSON encoding.
type Event struct {
	Type           string `json:"type"`
	ID             string `json:"id,omitempty"`
	Delta          string `json:"delta,omitempty"`
	ToolCallID     string `json:"toolCallId,omitempty"`
	ToolName       string `json:"toolName,omitempty"`
	InputTextDelta string `json:"inputTextDelta,omitempty"`
	Input          any    `json:"input,omitempty"`
	Output         any    `json:"output,omitempty"`
	Error          string `json:"error,omitempty"`
}

func textStart(id string) Event {
	return Event{Type: EventTextStart, ID: id}
}

func textDelta(id, delta string) Event {
	return Event{Type: EventTextDelta, ID: id, Delta: delta}
}

func textEnd(id string) Event {
	return Event{Type: EventTextEnd, ID: id}
}

func toolInputStart(callID, name string) Event {
	return Event{Type: EventToolInputStart, ToolCallID: callID, ToolName: name}
}

func toolInputDelta(callID, fragment string) Event {
	return Event{Type: EventToolInputDelta, ToolCallID: callID, InputTextDelta: fragment}
}

func toolInputAvailable(callID, name string, input any) Event {
	return Event{Type: EventToolInputAvailable, ToolCallID: callID, ToolName: name, Input: input}
}

func toolOutputAvailable(callID string, output any) Event {
	return Event{Type: EventToolOutputAvailable, ToolCallID: callID, Output: output}
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Error: msg}
}
