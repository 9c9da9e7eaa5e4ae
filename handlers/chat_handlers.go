package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbchat/logger"
	"github.com/kbchat/models"
	"github.com/kbchat/services"
)

type ChatHandlers struct {
	chatService services.ChatService
	logger      *logger.Logger
}

func NewChatHandlers(chatService services.ChatService, log *logger.Logger) *ChatHandlers {
	return &ChatHandlers{
		chatService: chatService,
		logger:      log,
	}
}

// Chat handles POST /chat, streaming over SSE when stream=true.
func (h *ChatHandlers) Chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if !req.Stream {
		resp, err := h.chatService.Chat(c.Request.Context(), &req)
		if err != nil {
			h.logger.Error("chat failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Chat failed"})
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	stream := &sseStream{writer: c.Writer}
	if err := h.chatService.ChatStream(c.Request.Context(), &req, stream); err != nil {
		h.logger.Error("chat stream failed", "error", err)
		stream.sendError("chat failed")
		return
	}
	stream.sendDone()
}

// sseStream writes chat deltas as server-sent events.
type sseStream struct {
	writer gin.ResponseWriter
}

func (s *sseStream) SendContent(delta string) error {
	payload, err := json.Marshal(gin.H{"content": delta})
	if err != nil {
		return err
	}
	return s.send(string(payload))
}

func (s *sseStream) SendCitations(citations models.Citations) error {
	if citations == nil {
		citations = models.Citations{}
	}
	payload, err := json.Marshal(gin.H{"citations": citations})
	if err != nil {
		return err
	}
	return s.send(string(payload))
}

func (s *sseStream) sendError(msg string) {
	payload, _ := json.Marshal(gin.H{"error": msg})
	_ = s.send(string(payload))
}

func (s *sseStream) sendDone() {
	_ = s.send("[DONE]")
}

func (s *sseStream) send(data string) error {
	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", data); err != nil {
		return err
	}
	s.writer.Flush()
	return nil
}
