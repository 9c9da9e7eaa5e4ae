package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kbchat/logger"
	"github.com/kbchat/services"
)

type SessionHandlers struct {
	sessionService services.SessionService
	logger         *logger.Logger
}

func NewSessionHandlers(sessionService services.SessionService, log *logger.Logger) *SessionHandlers {
	return &SessionHandlers{
		sessionService: sessionService,
		logger:         log,
	}
}

// CreateSession handles POST /api/chat-sessions.
func (h *SessionHandlers) CreateSession(c *gin.Context) {
	session, err := h.sessionService.CreateSession(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to create session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ListSessions handles GET /api/chat-sessions.
func (h *SessionHandlers) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	sessions, total, err := h.sessionService.ListSessions(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetSession handles GET /api/chat-sessions/:id.
func (h *SessionHandlers) GetSession(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	session, err := h.sessionService.GetSession(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get session")
		return
	}
	c.JSON(http.StatusOK, session)
}

// DeleteSession handles DELETE /api/chat-sessions/:id.
func (h *SessionHandlers) DeleteSession(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	if err := h.sessionService.DeleteSession(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "Failed to delete session")
		return
	}
	c.Status(http.StatusNoContent)
}

// ConcludeSession handles POST /api/chat-sessions/:id/conclude.
func (h *SessionHandlers) ConcludeSession(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "manual"
	}

	if err := h.sessionService.ConcludeSession(c.Request.Context(), id, body.Reason); err != nil {
		h.respondError(c, err, "Failed to conclude session")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetMessages handles GET /api/chat-sessions/:id/messages.
func (h *SessionHandlers) GetMessages(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	messages, err := h.sessionService.GetMessages(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "total": len(messages)})
}

func (h *SessionHandlers) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session ID"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *SessionHandlers) respondError(c *gin.Context, err error, fallback string) {
	if errors.Is(err, services.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	h.logger.Error(fallback, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
}
