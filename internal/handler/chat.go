package handler

import (
	"log/slog"
	"net/http"

	"neonagent/internal/domain/services"
	"neonagent/internal/httputil"
)

// ChatHandler handles session and message HTTP requests
// Follows Clean Architecture: handlers only communicate with services, never repositories
type ChatHandler struct {
	chatService services.ChatService
	logger      *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService services.ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		logger:      logger,
	}
}

// postMessageRequest is the body of POST /api/sessions/{id}/messages
type postMessageRequest struct {
	Query string `json:"query"`
}

// CreateSession creates a new conversation session
// POST /api/sessions
func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	apiKey := httputil.GetAPIKey(r)

	session, err := h.chatService.CreateSession(r.Context(), apiKey)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, map[string]string{
		"session_id": session.ID,
	})
}

// ListSessions lists the caller's session IDs
// GET /api/sessions
func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	apiKey := httputil.GetAPIKey(r)

	ids, err := h.chatService.ListSessions(r.Context(), apiKey)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string][]string{
		"session_ids": ids,
	})
}

// PostMessage runs one conversational turn
// POST /api/sessions/{id}/messages
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := PathParam(w, r, "id", "Session ID")
	if !ok {
		return
	}

	var req postMessageRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.chatService.ProcessTurn(r.Context(), &services.TurnRequest{
		SessionID: sessionID,
		Query:     req.Query,
		APIKey:    httputil.GetAPIKey(r),
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, resp)
}

// GetHistory returns the visible transcript of a session
// GET /api/sessions/{id}/history
func (h *ChatHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := PathParam(w, r, "id", "Session ID")
	if !ok {
		return
	}

	history, err := h.chatService.GetHistory(r.Context(), sessionID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, history)
}

// HealthCheck reports liveness
// GET /health
func (h *ChatHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
