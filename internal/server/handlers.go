package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/obedparla/storechat/internal/api/openai"
	"github.com/obedparla/storechat/internal/catalog"
	"github.com/obedparla/storechat/internal/chat"
	"github.com/obedparla/storechat/internal/logs"
	"github.com/obedparla/storechat/internal/search"
)

const maxProductListLimit = 50

// ChatHandler serves the assistant API: streaming and synchronous chat,
// product listing, and search index management.
type ChatHandler struct {
	orchestrator *chat.Orchestrator
	store        *catalog.Store
	index        *search.Index
	logs         *logs.Store
	logger       *slog.Logger
}

func NewChatHandler(orchestrator *chat.Orchestrator, store *catalog.Store, index *search.Index, logStore *logs.Store, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		orchestrator: orchestrator,
		store:        store,
		index:        index,
		logs:         logStore,
		logger:       logger,
	}
}

// Routes mounts the assistant endpoints on the router.
func (h *ChatHandler) Routes(r chi.Router) {
	r.Post("/chat/stream", h.StreamChat)
	r.Post("/chat", h.Chat)
	r.Get("/products", h.ListProducts)
	r.Get("/search/status", h.SearchStatus)
	r.Post("/search/rebuild", h.RebuildIndex)
}

type chatRequest struct {
	Messages  []openai.Message `json:"messages"`
	SessionID string           `json:"session_id,omitempty"`
}

func (h *ChatHandler) decodeChatRequest(w http.ResponseWriter, r *http.Request) (*chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required")
		return nil, false
	}
	for _, msg := range req.Messages {
		if msg.Role == "" {
			writeError(w, http.StatusBadRequest, "every message needs a role")
			return nil, false
		}
	}
	return &req, true
}

// StreamChat runs one assistant turn and streams the normalized events as
// SSE, one JSON object per data: line, terminated by a [DONE] sentinel.
// A client disconnect mid-stream is normal termination, not an error.
func (h *ChatHandler) StreamChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}
	AddLogField(r.Context(), "session_id", req.SessionID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	h.logUserTurn(r, req)

	var assistantText string
	events := h.orchestrator.Stream(r.Context(), req.Messages)
	for event := range events {
		if event.Type == chat.EventTextDelta {
			assistantText += event.Delta
		}
		payload, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("failed to marshal event", slog.String("error", err.Error()))
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// Client went away; drain the channel so the orchestrator
			// goroutine can finish, then stop.
			for range events {
			}
			return
		}
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	h.logAssistantTurn(r, req.SessionID, assistantText)
}

// Chat runs one assistant turn synchronously and returns the final text.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}
	AddLogField(r.Context(), "session_id", req.SessionID)

	h.logUserTurn(r, req)

	content, err := h.orchestrator.Send(r.Context(), req.Messages)
	if err != nil {
		AddError(r.Context(), err)
		if errors.Is(err, chat.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, chat.UnavailableMessage)
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	h.logAssistantTurn(r, req.SessionID, content)
	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

// logUserTurn records the trailing user message for the session transcript.
func (h *ChatHandler) logUserTurn(r *http.Request, req *chatRequest) {
	if h.logs == nil || req.SessionID == "" {
		return
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return
	}
	if err := h.logs.Append(r.Context(), req.SessionID, "user", last.Content); err != nil {
		h.logger.Error("failed to log user turn", slog.String("error", err.Error()))
	}
}

func (h *ChatHandler) logAssistantTurn(r *http.Request, sessionID, content string) {
	if h.logs == nil || sessionID == "" || content == "" {
		return
	}
	if err := h.logs.Append(r.Context(), sessionID, "assistant", content); err != nil {
		h.logger.Error("failed to log assistant turn", slog.String("error", err.Error()))
	}
}

// ListProducts returns product summaries matching the query parameters.
func (h *ChatHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	params := catalog.QueryParams{
		Search:   r.URL.Query().Get("search"),
		Category: r.URL.Query().Get("category"),
		Limit:    10,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		params.Limit = min(n, maxProductListLimit)
	}

	products, err := h.store.Query(r.Context(), params)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "product query failed")
		return
	}

	summaries := make([]map[string]any, 0, len(products))
	for _, p := range products {
		summaries = append(summaries, p.Summary())
	}
	writeJSON(w, http.StatusOK, summaries)
}

// SearchStatus reports whether the index files exist and their metadata. It
// never triggers a rebuild.
func (h *ChatHandler) SearchStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.index.Status())
}

// RebuildIndex rebuilds the search index from the full published catalog.
func (h *ChatHandler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	if err := h.index.Build(r.Context()); err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "index rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, h.index.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are gone by now; an encode failure has nowhere to go.
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
