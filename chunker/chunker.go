// Package chunker splits document text into embedding-sized pieces.
//
// Two strategies are provided. The paragraph strategy emits one chunk
// per paragraph with no merging. The article strategy parses markdown
// headers into sections, packs paragraphs greedily under a token
// budget, splits oversized paragraphs on sentence then phrase
// boundaries, and seeds each follow-on chunk with an overlap tail from
// the previous one.
package chunker

import (
	"regexp"
	"strings"
)

// Chunk is one emitted piece of a document.
type Chunk struct {
	Content      string
	Index        int
	SectionTitle string
	SectionLevel int
	Hierarchy    []string
	ChunkType    string
}

const (
	ChunkTypeContent = "content"
	ChunkTypeHeader  = "header"
)

// TokenCounter counts tokens the same way the embedding provider does.
type TokenCounter interface {
	Count(text string) int
}

// Strategy turns (title, content) into an ordered list of chunks.
type Strategy interface {
	Chunk(title, content string) []Chunk
}

var (
	headerRe    = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)
	paragraphRe = regexp.MustCompile(`\n\s*\n`)
	sentenceRe  = regexp.MustCompile(`(?s)(.*?[.!?。！？])(?:\s+|$)`)
)

// splitParagraphs splits text on blank lines and drops empty pieces.
func splitParagraphs(text string) []string {
	parts := paragraphRe.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences splits text on sentence-ending punctuation followed by
// whitespace. Text with no terminator comes back as a single sentence.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	matched := 0
	for _, m := range sentenceRe.FindAllStringSubmatch(text, -1) {
		s := strings.TrimSpace(m[1])
		if s != "" {
			sentences = append(sentences, s)
		}
		matched += len(m[0])
	}
	if rest := strings.TrimSpace(text[min(matched, len(text)):]); rest != "" {
		sentences = append(sentences, rest)
	}
	if len(sentences) == 0 {
		sentences = []string{text}
	}
	return sentences
}

// splitPhrases breaks one sentence on comma/semicolon boundaries.
func splitPhrases(sentence string) []string {
	fields := strings.FieldsFunc(sentence, func(r rune) bool {
		return r == ',' || r == ';' || r == '，' || r == '；'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return []string{sentence}
	}
	return out
}
