// Package relay is the provider-mode gateway: it authenticates client
// installs by site key, validates their completion requests, and pipes the
// upstream SSE stream back verbatim. Tool execution stays on the client
// side; the relay never interprets the chunks it forwards.
package relay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/obedparla/storechat/internal/api/openai"
)

// Handler serves the relay chat endpoint. client is nil when no upstream
// API key is configured.
type Handler struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func NewHandler(client *openai.Client, defaultModel string, logger *slog.Logger) *Handler {
	return &Handler{client: client, model: defaultModel, logger: logger}
}

// Routes mounts the relay endpoints behind the site-key middleware.
func (h *Handler) Routes(r chi.Router, auth *Authenticator) {
	r.With(auth.Middleware).Post("/chat", h.Chat)
}

type chatRequest struct {
	Messages []json.RawMessage `json:"messages"`
	Tools    []openai.Tool     `json:"tools"`
	Model    string            `json:"model"`
}

// messageProbe checks the shape of one message without consuming it.
type messageProbe struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolCalls  json.RawMessage `json:"tool_calls"`
	ToolCallID string          `json:"tool_call_id"`
}

func hasValue(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// validate enforces the message shapes the upstream API would reject anyway,
// so malformed requests fail fast without spending an upstream call.
func validate(req *chatRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("messages is required")
	}
	for i, raw := range req.Messages {
		var probe messageProbe
		if err := json.Unmarshal(raw, &probe); err != nil {
			return fmt.Errorf("message %d is not an object", i)
		}
		if probe.Role == "" {
			return fmt.Errorf("message %d is missing a role", i)
		}
		switch probe.Role {
		case "tool":
			if probe.ToolCallID == "" {
				return fmt.Errorf("message %d: tool message requires tool_call_id", i)
			}
		case "assistant":
			if !hasValue(probe.Content) && !hasValue(probe.ToolCalls) {
				return fmt.Errorf("message %d is missing content", i)
			}
		default:
			if !hasValue(probe.Content) {
				return fmt.Errorf("message %d is missing content", i)
			}
		}
	}
	return nil
}

// Chat opens a streamed upstream completion and re-emits every upstream
// data: line verbatim. An upstream failure becomes a single error frame
// followed by the [DONE] sentinel so clients always see a terminated stream.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		writeError(w, http.StatusInternalServerError, "no upstream API key configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages := make([]openai.Message, len(req.Messages))
	for i, raw := range req.Messages {
		if err := json.Unmarshal(raw, &messages[i]); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("message %d is malformed", i))
			return
		}
	}

	model := req.Model
	if model == "" {
		model = h.model
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	body, err := h.client.StreamRawCompletion(r.Context(), &openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Tools:    req.Tools,
	})
	if err != nil {
		h.logger.Error("upstream completion failed", slog.String("error", err.Error()))
		writeErrorFrame(w, flusher, err)
		return
	}
	defer body.Close()

	sawDone := false
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s\n\n", line); err != nil {
			return
		}
		flusher.Flush()
		if strings.TrimPrefix(line, "data: ") == "[DONE]" {
			sawDone = true
		}
	}
	if err := scanner.Err(); err != nil {
		h.logger.Error("upstream stream read failed", slog.String("error", err.Error()))
		writeErrorFrame(w, flusher, err)
		return
	}
	if !sawDone {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

// writeErrorFrame emits one error frame and the sentinel in the upstream
// wire format so clients parse it with the same code path as real chunks.
func writeErrorFrame(w http.ResponseWriter, flusher http.Flusher, err error) {
	frame := map[string]any{"error": map[string]string{"message": err.Error()}}
	payload, merr := json.Marshal(frame)
	if merr != nil {
		payload = []byte(`{"error":{"message":"upstream request failed"}}`)
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
