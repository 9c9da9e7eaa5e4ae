package chunker

// ParagraphStrategy emits one chunk per paragraph. No merging and no
// overlap; useful where the corpus is already paragraph-shaped.
type ParagraphStrategy struct{}

func NewParagraphStrategy() *ParagraphStrategy {
	return &ParagraphStrategy{}
}

func (s *ParagraphStrategy) Chunk(title, content string) []Chunk {
	paragraphs := splitParagraphs(content)
	chunks := make([]Chunk, 0, len(paragraphs))
	for i, p := range paragraphs {
		chunks = append(chunks, Chunk{
			Content:   p,
			Index:     i,
			ChunkType: ChunkTypeContent,
		})
	}
	return chunks
}
