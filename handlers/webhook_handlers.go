package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbchat/logger"
	"github.com/kbchat/services"
)

type WebhookHandlers struct {
	ingestionService services.IngestionService
	logger           *logger.Logger
}

func NewWebhookHandlers(ingestionService services.IngestionService, log *logger.Logger) *WebhookHandlers {
	return &WebhookHandlers{
		ingestionService: ingestionService,
		logger:           log,
	}
}

type webhookRequest struct {
	Object    string `json:"object"`
	EventType string `json:"event_type" binding:"required"`
	Data      struct {
		ID         string `json:"id"`
		PageID     string `json:"page_id"`
		DatabaseID string `json:"database_id"`
	} `json:"data"`
}

// pageID returns data.page_id, falling back to data.id. Page events
// carry the page identifier under either key depending on the event
// source.
func (r *webhookRequest) pageID() string {
	if r.Data.PageID != "" {
		return r.Data.PageID
	}
	return r.Data.ID
}

// NotionWebhook handles POST /notion/webhook. Page events trigger a
// reingest or delete through the regular pipeline.
func (h *WebhookHandlers) NotionWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid webhook payload", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	pageID := req.pageID()
	h.logger.Info("webhook received", "event_type", req.EventType, "page_id", pageID)

	switch req.EventType {
	case "page.created", "page.updated", "created", "updated":
		if pageID == "" || req.Data.DatabaseID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing page_id or database_id"})
			return
		}
		if err := h.ingestionService.IngestPage(ctx, req.Data.DatabaseID, pageID); err != nil {
			if errors.Is(err, services.ErrUnknownDatabase) {
				c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "database not registered"})
				return
			}
			h.logger.Error("webhook ingest failed", "page_id", pageID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Ingest failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ingested"})

	case "page.deleted", "deleted":
		if pageID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing page_id"})
			return
		}
		err := h.ingestionService.DeletePage(ctx, pageID)
		if err != nil && !errors.Is(err, services.ErrDocumentNotFound) {
			h.logger.Error("webhook delete failed", "page_id", pageID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Delete failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})

	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "unsupported event type"})
	}
}
