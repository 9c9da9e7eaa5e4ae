package impl

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kbchat/logger"
	"github.com/kbchat/services"
)

// llmService wraps the chat completion endpoint for both one-shot
// prompts (summaries, titles, chunk context) and streamed answers.
type llmService struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	maxRetries  int
	retryDelay  time.Duration
	logger      *logger.Logger
}

func NewLLMService(client *openai.Client, model string, temperature float64, maxTokens int, log *logger.Logger) services.LLMService {
	return &llmService{
		client:      client,
		model:       model,
		temperature: float32(temperature),
		maxTokens:   maxTokens,
		maxRetries:  2,
		retryDelay:  2 * time.Second,
		logger:      log,
	}
}

func (s *llmService) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", &services.LLMError{Op: "complete", Err: errors.New("empty choices")}
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}

		lastErr = err
		if !isRetryable(err) || attempt == s.maxRetries {
			break
		}
		s.logger.Warn("chat completion failed, retrying", "attempt", attempt+1, "error", err)
		select {
		case <-time.After(s.retryDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", &services.LLMError{Op: "complete", Err: lastErr}
}

func (s *llmService) Stream(ctx context.Context, turns []services.ChatTurn, onDelta func(delta string) error) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    t.Role,
			Content: t.Content,
		})
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		Messages:    messages,
		Stream:      true,
	})
	if err != nil {
		return "", &services.LLMError{Op: "stream", Err: err}
	}
	defer stream.Close()

	var full strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			// Client cancellation keeps the partial answer so callers
			// can persist what the user already saw.
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return full.String(), ctx.Err()
			}
			return full.String(), &services.LLMError{Op: "stream", Err: err}
		}

		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return full.String(), err
			}
		}
	}
}
