package impl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kbchat/logger"
	"github.com/kbchat/services"
)

// embeddingService wraps the provider's embeddings endpoint with
// pacing, rate-limit retries, and order-preserving internal batching.
type embeddingService struct {
	client     *openai.Client
	model      string
	dimensions int
	batchSize  int
	delay      time.Duration
	retryDelay time.Duration
	maxRetries int
	logger     *logger.Logger

	mu       sync.Mutex
	lastCall time.Time

	tokensUsed atomic.Int64
}

func NewEmbeddingService(client *openai.Client, model string, dimensions, batchSize int, delay time.Duration, maxRetries int, log *logger.Logger) services.EmbeddingService {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &embeddingService{
		client:     client,
		model:      model,
		dimensions: dimensions,
		batchSize:  batchSize,
		delay:      delay,
		retryDelay: 2 * time.Second,
		maxRetries: maxRetries,
		logger:     log,
	}
}

func (s *embeddingService) Dimensions() int {
	return s.dimensions
}

func (s *embeddingService) TokensUsed() int {
	return int(s.tokensUsed.Load())
}

func (s *embeddingService) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *embeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))
		batch, err := s.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// embed issues one provider call for up to batchSize inputs, retrying
// rate-limit and server errors with a fixed delay.
func (s *embeddingService) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := s.pace(ctx); err != nil {
			return nil, err
		}

		resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: texts,
			Model: openai.EmbeddingModel(s.model),
		})
		if err == nil {
			return s.collect(texts, resp)
		}

		lastErr = err
		if !isRetryable(err) || attempt == s.maxRetries {
			break
		}
		s.logger.Warn("embedding call failed, retrying",
			"attempt", attempt+1, "max_retries", s.maxRetries, "error", err)

		select {
		case <-time.After(s.retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, &services.EmbedError{Op: "create", Err: lastErr}
}

func (s *embeddingService) collect(texts []string, resp openai.EmbeddingResponse) ([][]float32, error) {
	if len(resp.Data) != len(texts) {
		return nil, &services.EmbedError{
			Op:  "create",
			Err: errors.New("provider returned wrong number of embeddings"),
		}
	}

	// Provider data carries an index per item; order by it rather than
	// trusting response order.
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, &services.EmbedError{
				Op:  "create",
				Err: errors.New("provider returned out-of-range embedding index"),
			}
		}
		if s.dimensions > 0 && len(d.Embedding) != s.dimensions {
			return nil, &services.EmbedError{
				Op:  "create",
				Err: errors.New("provider returned wrong embedding dimension"),
			}
		}
		vectors[d.Index] = d.Embedding
	}

	s.tokensUsed.Add(int64(resp.Usage.PromptTokens))
	return vectors, nil
}

// pace enforces the configured minimum gap between provider calls.
func (s *embeddingService) pace(ctx context.Context) error {
	if s.delay <= 0 {
		return nil
	}

	s.mu.Lock()
	wait := s.delay - time.Since(s.lastCall)
	if wait < 0 {
		wait = 0
	}
	s.lastCall = time.Now().Add(wait)
	s.mu.Unlock()

	if wait == 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isRetryable reports whether the provider error is a rate limit or a
// server-side failure worth retrying.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	return false
}
