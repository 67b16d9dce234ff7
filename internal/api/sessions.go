package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CreateSessionRequest is the request body for POST /sessions.
type CreateSessionRequest struct {
	ID            string `json:"id,omitempty" validate:"max=100"`
	CustomerName  string `json:"customerName" validate:"required,max=200"`
	CustomerEmail string `json:"customerEmail,omitempty" validate:"omitempty,email"`
	AgentID       string `json:"agentId,omitempty"`
}

// CreateSession opens a chat session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.AgentID != "" {
		if _, err := h.repo.GetAgent(ctx, req.AgentID); err != nil {
			writeStoreError(w, err, "agent")
			return
		}
	}

	session := &domain.ChatSession{
		ID:            strings.TrimSpace(req.ID),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		AgentID:       req.AgentID,
		Status:        domain.SessionOpen,
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}

	if err := h.repo.CreateSession(ctx, session); err != nil {
		writeStoreError(w, err, "session")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// GetSession retrieves a chat session by ID.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.repo.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// PostMessageRequest is the request body for POST /sessions/{id}/messages.
type PostMessageRequest struct {
	Sender domain.Sender `json:"sender" validate:"required"`
	Text   string        `json:"text" validate:"required,max=10000"`
}

// PostMessage appends a message to a session transcript. Visitor messages
// are throttled per session and announced on the bus for lead detection.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	var req PostMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Sender.Valid() {
		writeError(w, http.StatusBadRequest, "sender must be one of visitor, agent, bot, system")
		return
	}

	if req.Sender.IsCustomer() && h.limiter != nil {
		if d := h.limiter.Allow(ctx, sessionID); !d.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
			return
		}
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Sender:    req.Sender,
		Text:      req.Text,
	}
	if err := h.repo.AddMessage(ctx, msg); err != nil {
		writeStoreError(w, err, "session")
		return
	}

	h.publish(r, domain.TopicMessagePosted, domain.MessagePostedEvent{
		SessionID: sessionID,
		MessageID: msg.ID,
		Sender:    msg.Sender,
		TraceID:   GetTraceID(ctx),
	})
	writeJSON(w, http.StatusCreated, msg)
}

// ListMessages returns a session transcript in posting order.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	if _, err := h.repo.GetSession(ctx, sessionID); err != nil {
		writeStoreError(w, err, "session")
		return
	}

	msgs, err := h.repo.ListMessages(ctx, sessionID)
	if err != nil {
		writeStoreError(w, err, "messages")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// AssignRequest is the request body for PUT /sessions/{id}/assign.
type AssignRequest struct {
	AgentID string `json:"agentId" validate:"required"`
}

// AssignSession hands a session to an agent.
func (h *Handler) AssignSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	var req AssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if _, err := h.repo.GetAgent(ctx, req.AgentID); err != nil {
		writeStoreError(w, err, "agent")
		return
	}
	if err := h.repo.AssignSession(ctx, sessionID, req.AgentID); err != nil {
		writeStoreError(w, err, "session")
		return
	}

	session, err := h.repo.GetSession(ctx, sessionID)
	if err != nil {
		writeStoreError(w, err, "session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// SessionScore returns the live lead score of a session with the rules that
// fired.
func (h *Handler) SessionScore(w http.ResponseWriter, r *http.Request) {
	score, err := h.scoring.SessionScore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err, "session")
		return
	}
	writeJSON(w, http.StatusOK, score)
}
