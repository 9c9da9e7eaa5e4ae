package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbchat/logger"
	"github.com/kbchat/models"
	"github.com/kbchat/services"
)

type SearchHandlers struct {
	retrievalService services.RetrievalService
	logger           *logger.Logger
}

func NewSearchHandlers(retrievalService services.RetrievalService, log *logger.Logger) *SearchHandlers {
	return &SearchHandlers{
		retrievalService: retrievalService,
		logger:           log,
	}
}

// Search handles POST /search.
func (h *SearchHandlers) Search(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	results, err := h.retrievalService.Search(c.Request.Context(), req.Query, req.Filters, req.Limit)
	if err != nil {
		h.logger.Error("search failed", "query", req.Query, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}

	if results == nil {
		results = []models.RetrievedChunk{}
	}
	c.JSON(http.StatusOK, models.SearchResponse{
		Results: results,
		Query:   req.Query,
		Total:   len(results),
	})
}
