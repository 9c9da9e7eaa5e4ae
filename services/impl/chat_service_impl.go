package impl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/kbchat/logger"
	"github.com/kbchat/models"
	"github.com/kbchat/services"
)

const chatSystemPrompt = `You are an assistant answering questions from a personal knowledge base.
Use only the provided context passages. Cite nothing outside them.
If the context does not contain the answer, say so plainly.

Context:
%s`

const (
	noResultsMessageEN  = "I could not find anything in the knowledge base related to your question."
	noResultsMessageCJK = "知识库中没有找到与您的问题相关的内容。"
)

// chatService orchestrates retrieval-augmented answers: search, prompt
// assembly, streaming, and session persistence.
type chatService struct {
	retrieval services.RetrievalService
	llm       services.LLMService
	sessions  services.SessionService
	logger    *logger.Logger
}

func NewChatService(retrieval services.RetrievalService, llm services.LLMService, sessions services.SessionService, log *logger.Logger) services.ChatService {
	return &chatService{
		retrieval: retrieval,
		llm:       llm,
		sessions:  sessions,
		logger:    log,
	}
}

func (s *chatService) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	var full strings.Builder
	citations, err := s.run(ctx, req, func(delta string) error {
		full.WriteString(delta)
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return &models.ChatResponse{
		Content:   full.String(),
		Citations: citations,
		SessionID: req.SessionID,
	}, nil
}

func (s *chatService) ChatStream(ctx context.Context, req *models.ChatRequest, stream services.ChatStream) error {
	_, err := s.run(ctx, req, stream.SendContent, stream.SendCitations)
	return err
}

// run executes one chat turn. onDelta receives streamed content;
// sendCitations, when non-nil, receives the citation list before the
// answer completes.
func (s *chatService) run(ctx context.Context, req *models.ChatRequest, onDelta func(string) error, sendCitations func(models.Citations) error) (models.Citations, error) {
	query := lastUserMessage(req.Messages)
	if query == "" {
		return nil, errors.New("request has no user message")
	}

	if req.SessionID != nil {
		userMsg := &models.ChatMessage{
			Role:    models.MessageRoleUser,
			Content: query,
		}
		if err := s.sessions.AppendMessage(ctx, *req.SessionID, userMsg); err != nil {
			return nil, err
		}
	}

	results, err := s.retrieval.Search(ctx, query, req.Filters, 0)
	if err != nil {
		return nil, err
	}

	// Nothing relevant: answer with a fixed message in the query's
	// language and skip the LLM entirely.
	if len(results) == 0 {
		msg := noResultsMessageEN
		if containsCJK(query) {
			msg = noResultsMessageCJK
		}
		if err := onDelta(msg); err != nil {
			return nil, err
		}
		if req.SessionID != nil {
			s.persistAssistant(ctx, *req.SessionID, msg, nil, req)
		}
		return nil, nil
	}

	citations := buildCitations(results)
	turns := buildTurns(req.Messages, results)

	answer, streamErr := s.llm.Stream(ctx, turns, onDelta)

	// Partial output the client already saw is still persisted so the
	// stored conversation matches the screen.
	if req.SessionID != nil && answer != "" {
		s.persistAssistant(ctx, *req.SessionID, answer, citations, req)
	}
	if streamErr != nil {
		return citations, streamErr
	}

	if sendCitations != nil {
		if err := sendCitations(citations); err != nil {
			return citations, err
		}
	}
	return citations, nil
}

func (s *chatService) persistAssistant(ctx context.Context, id uuid.UUID, content string, citations models.Citations, req *models.ChatRequest) {
	contextUsed, err := json.Marshal(map[string]interface{}{
		"query":   lastUserMessage(req.Messages),
		"filters": req.Filters,
	})
	if err != nil {
		contextUsed = []byte("{}")
	}

	msg := &models.ChatMessage{
		Role:        models.MessageRoleAssistant,
		Content:     content,
		Citations:   citations,
		ContextUsed: string(contextUsed),
	}
	if err := s.sessions.AppendMessage(context.WithoutCancel(ctx), id, msg); err != nil {
		s.logger.Error("failed to persist assistant message", "session_id", id, "error", err)
	}
}

// containsCJK reports whether the query holds at least one CJK
// ideograph. A single ideograph is enough to select the Chinese
// no-results message even inside an otherwise Latin query.
func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

func lastUserMessage(messages []models.ChatInputMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

// buildTurns assembles the system prompt from the enriched passages
// plus the conversation history.
func buildTurns(history []models.ChatInputMessage, results []models.RetrievedChunk) []services.ChatTurn {
	var contextBlock strings.Builder
	for i, r := range results {
		fmt.Fprintf(&contextBlock, "[%d] %s", i+1, r.DocumentTitle)
		if r.DocumentSection != "" {
			fmt.Fprintf(&contextBlock, " (%s)", r.DocumentSection)
		}
		contextBlock.WriteString("\n")
		contextBlock.WriteString(r.EnrichedContent)
		contextBlock.WriteString("\n\n")
	}

	turns := []services.ChatTurn{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: fmt.Sprintf(chatSystemPrompt, strings.TrimSpace(contextBlock.String())),
		},
	}
	for _, m := range history {
		turns = append(turns, services.ChatTurn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// buildCitations lists each source document once, keeping its best
// scoring chunk.
func buildCitations(results []models.RetrievedChunk) models.Citations {
	seen := make(map[string]bool)
	var citations models.Citations
	for _, r := range results {
		key := r.DocumentID.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		citations = append(citations, models.Citation{
			DocumentID: key,
			Title:      r.DocumentTitle,
			PageURL:    r.PageURL,
			Section:    r.DocumentSection,
			Score:      r.FinalScore,
		})
	}
	return citations
}
