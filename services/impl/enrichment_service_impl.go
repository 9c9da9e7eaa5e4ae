package impl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kbchat/chunker"
	"github.com/kbchat/logger"
	"github.com/kbchat/services"
)

const (
	enrichmentBatchSize  = 3
	enrichmentBatchPause = 500 * time.Millisecond
	contextSampleChars   = 500
	fallbackSummaryChars = 100
)

const documentSummaryPrompt = `You summarize documents for a retrieval index.
Write a concise 2-3 sentence summary capturing the document's purpose and key points.
Respond with the summary only.`

const chunkContextPrompt = `You describe how a passage fits into its parent document.
Given the document title, its summary, the passage's section, and the passage opening,
write 1-2 sentences explaining what this passage covers and how it relates to the document.
Respond with the description only.`

const chunkSummaryPrompt = `Summarize the following passage in exactly one sentence.
Respond with the sentence only.`

// enrichmentService generates document summaries and per-chunk context
// with the LLM, degrading to deterministic fallbacks per chunk.
type enrichmentService struct {
	llm        services.LLMService
	batchPause time.Duration
	logger     *logger.Logger
}

func NewEnrichmentService(llm services.LLMService, log *logger.Logger) services.EnrichmentService {
	return &enrichmentService{
		llm:        llm,
		batchPause: enrichmentBatchPause,
		logger:     log,
	}
}

func (s *enrichmentService) SummarizeDocument(ctx context.Context, title, content string) (string, error) {
	prompt := fmt.Sprintf("Title: %s\n\nDocument:\n%s", title, content)
	summary, err := s.llm.Complete(ctx, documentSummaryPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to summarize document %q: %w", title, err)
	}
	return summary, nil
}

func (s *enrichmentService) EnrichChunks(ctx context.Context, title, documentSummary string, chunks []chunker.Chunk) ([]services.EnrichedChunk, error) {
	enriched := make([]services.EnrichedChunk, len(chunks))

	for start := 0; start < len(chunks); start += enrichmentBatchSize {
		end := min(start+enrichmentBatchSize, len(chunks))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				enriched[i] = s.enrichOne(ctx, title, documentSummary, chunks[i])
			}(i)
		}
		wg.Wait()

		if end < len(chunks) {
			select {
			case <-time.After(s.batchPause):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return enriched, nil
}

// enrichOne produces context and summary for a single chunk. An LLM
// failure on either call yields that call's fallback and never affects
// the other chunks in the batch.
func (s *enrichmentService) enrichOne(ctx context.Context, title, documentSummary string, c chunker.Chunk) services.EnrichedChunk {
	chunkContext, err := s.generateContext(ctx, title, documentSummary, c)
	if err != nil {
		s.logger.Warn("chunk context generation failed, using fallback",
			"section", c.SectionTitle, "error", err)
		chunkContext = fallbackContext(title, c.SectionTitle)
	}

	chunkSummary, err := s.generateSummary(ctx, c)
	if err != nil {
		s.logger.Warn("chunk summary generation failed, using fallback",
			"section", c.SectionTitle, "error", err)
		chunkSummary = fallbackSummary(c.Content)
	}

	return services.EnrichedChunk{
		Chunk:             c,
		Context:           chunkContext,
		Summary:           chunkSummary,
		ContextualContent: chunkContext + "\n\n" + c.Content,
	}
}

func (s *enrichmentService) generateContext(ctx context.Context, title, documentSummary string, c chunker.Chunk) (string, error) {
	opening := c.Content
	if runes := []rune(opening); len(runes) > contextSampleChars {
		opening = string(runes[:contextSampleChars])
	}

	prompt := fmt.Sprintf("Document title: %s\nDocument summary: %s\nSection: %s\n\nPassage opening:\n%s",
		title, documentSummary, c.SectionTitle, opening)
	return s.llm.Complete(ctx, chunkContextPrompt, prompt)
}

func (s *enrichmentService) generateSummary(ctx context.Context, c chunker.Chunk) (string, error) {
	return s.llm.Complete(ctx, chunkSummaryPrompt, c.Content)
}

func fallbackContext(title, sectionTitle string) string {
	if sectionTitle == "" {
		return fmt.Sprintf("This section is part of '%s'.", title)
	}
	return fmt.Sprintf("This section is part of '%s' and discusses %s.", title, sectionTitle)
}

func fallbackSummary(content string) string {
	line := content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	runes := []rune(line)
	if len(runes) > fallbackSummaryChars {
		line = string(runes[:fallbackSummaryChars])
	}
	return line
}
