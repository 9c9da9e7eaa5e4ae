package chunker

import (
	"fmt"
	"strings"
)

// ArticleStrategy is the production chunking algorithm: markdown
// sections first, then greedy paragraph packing per section under a
// token budget, with an overlap tail carried between adjacent chunks.
type ArticleStrategy struct {
	counter       TokenCounter
	maxTokens     int
	overlapTokens int
}

func NewArticleStrategy(counter TokenCounter, maxTokens, overlapTokens int) *ArticleStrategy {
	if maxTokens <= 0 {
		maxTokens = 1000
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	return &ArticleStrategy{
		counter:       counter,
		maxTokens:     maxTokens,
		overlapTokens: overlapTokens,
	}
}

// section is one header-delimited region of the document.
type section struct {
	title     string
	level     int
	hierarchy []string
	text      string
}

func (s *ArticleStrategy) Chunk(title, content string) []Chunk {
	sections := parseSections(content)

	var chunks []Chunk
	for _, sec := range sections {
		if strings.TrimSpace(sec.text) == "" {
			continue
		}
		for _, body := range s.chunkSection(title, sec) {
			chunkType := ChunkTypeContent
			if sec.level <= 2 {
				chunkType = ChunkTypeHeader
			}
			chunks = append(chunks, Chunk{
				Content:      body,
				Index:        len(chunks),
				SectionTitle: sec.title,
				SectionLevel: sec.level,
				Hierarchy:    sec.hierarchy,
				ChunkType:    chunkType,
			})
		}
	}
	return chunks
}

// parseSections scans lines once, tracking a stack of enclosing header
// titles. Text before the first header lands in an untitled level-1
// preamble section.
func parseSections(content string) []section {
	var (
		sections []section
		stack    []string
		levels   []int
		current  = section{level: 1}
		buf      strings.Builder
	)

	flush := func() {
		current.text = buf.String()
		sections = append(sections, current)
		buf.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			buf.WriteString(line)
			buf.WriteString("\n")
			continue
		}

		flush()

		level := len(m[1])
		headerTitle := m[2]

		for len(levels) > 0 && levels[len(levels)-1] >= level {
			levels = levels[:len(levels)-1]
			stack = stack[:len(stack)-1]
		}
		levels = append(levels, level)
		stack = append(stack, headerTitle)

		hierarchy := make([]string, len(stack))
		copy(hierarchy, stack)

		current = section{
			title:     headerTitle,
			level:     level,
			hierarchy: hierarchy,
		}
	}
	flush()

	return sections
}

// chunkSection packs one section's paragraphs into chunk bodies, each
// prefixed with the document and section titles and kept under the
// token budget.
func (s *ArticleStrategy) chunkSection(docTitle string, sec section) []string {
	prefix := s.titlePrefix(docTitle, sec.title)
	available := s.maxTokens - s.counter.Count(prefix)
	if available < 1 {
		available = 1
	}

	var (
		bodies   []string
		current  []string
		tokens   int
		overlap  bool // current starts with a carried overlap tail
		hasFresh bool // current holds content beyond the overlap tail
	)

	emit := func() {
		if !hasFresh {
			return
		}
		body := strings.Join(current, "\n\n")
		bodies = append(bodies, prefix+body)

		tail := s.overlapTail(body)
		current = current[:0]
		tokens = 0
		overlap = false
		hasFresh = false
		if tail != "" {
			current = append(current, tail)
			tokens = s.counter.Count(tail)
			overlap = true
		}
	}

	addPiece := func(piece string) {
		n := s.counter.Count(piece)
		if tokens+n > available {
			if hasFresh {
				emit()
			}
			// Still over budget means the overlap tail alone is in the
			// way of this piece; drop it rather than emit a tail-only
			// chunk.
			if overlap && tokens+n > available {
				current = current[:0]
				tokens = 0
				overlap = false
			}
		}
		current = append(current, piece)
		tokens += n
		hasFresh = true
	}

	for _, para := range splitParagraphs(sec.text) {
		if s.counter.Count(para) <= available {
			addPiece(para)
			continue
		}

		// Oversized paragraph: sentence pieces, then phrase pieces for
		// any sentence that alone busts the budget.
		for _, piece := range s.splitOversized(para, available) {
			addPiece(piece)
		}
	}
	emit()

	return bodies
}

// splitOversized breaks a paragraph that exceeds the budget into
// sentence groups no larger than available tokens; sentences that are
// themselves too large fall back to comma/semicolon phrases.
func (s *ArticleStrategy) splitOversized(para string, available int) []string {
	var (
		pieces  []string
		group   []string
		gTokens int
	)

	flushGroup := func() {
		if len(group) > 0 {
			pieces = append(pieces, strings.Join(group, " "))
			group = group[:0]
			gTokens = 0
		}
	}

	for _, sentence := range splitSentences(para) {
		n := s.counter.Count(sentence)
		if n > available {
			flushGroup()
			for _, phrase := range splitPhrases(sentence) {
				pn := s.counter.Count(phrase)
				if len(group) > 0 && gTokens+pn > available {
					flushGroup()
				}
				group = append(group, phrase)
				gTokens += pn
			}
			flushGroup()
			continue
		}
		if len(group) > 0 && gTokens+n > available {
			flushGroup()
		}
		group = append(group, sentence)
		gTokens += n
	}
	flushGroup()

	return pieces
}

// overlapTail returns the last sentences of a chunk body, at most 3 and
// at most overlapTokens total, used to seed the next chunk.
func (s *ArticleStrategy) overlapTail(body string) string {
	if s.overlapTokens <= 0 {
		return ""
	}

	sentences := splitSentences(body)
	var (
		tail   []string
		tokens int
	)
	for i := len(sentences) - 1; i >= 0 && len(tail) < 3; i-- {
		n := s.counter.Count(sentences[i])
		if tokens+n > s.overlapTokens {
			break
		}
		tail = append([]string{sentences[i]}, tail...)
		tokens += n
	}
	return strings.Join(tail, " ")
}

func (s *ArticleStrategy) titlePrefix(docTitle, sectionTitle string) string {
	if strings.TrimSpace(sectionTitle) == "" {
		return fmt.Sprintf("# %s\n", docTitle)
	}
	return fmt.Sprintf("# %s\n## %s\n", docTitle, sectionTitle)
}
