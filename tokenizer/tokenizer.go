package tokenizer

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used when no encoding name is configured.
const DefaultEncoding = "cl100k_base"

// Tokenizer counts tokens with a shared BPE encoding table. The table
// is loaded once and is safe for concurrent use. If the encoding cannot
// be loaded the counter falls back to a character-based estimate so
// sizing decisions stay deterministic.
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
}

var (
	shared     *Tokenizer
	sharedOnce sync.Once
)

// New loads the named encoding. An empty name selects DefaultEncoding.
func New(encodingName string) (*Tokenizer, error) {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &Tokenizer{encoding: enc}, nil
}

// Shared returns the process-wide cl100k_base tokenizer. If the
// encoding table cannot be loaded, the returned tokenizer uses the
// estimate fallback.
func Shared() *Tokenizer {
	sharedOnce.Do(func() {
		t, err := New(DefaultEncoding)
		if err != nil {
			t = &Tokenizer{}
		}
		shared = t
	})
	return shared
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	if t.encoding == nil {
		return estimate(text)
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// estimate approximates token counts at roughly 4 characters per token,
// which tracks the BPE encodings closely enough for budget checks.
func estimate(text string) int {
	n := utf8.RuneCountInString(text)
	count := (n + 3) / 4
	if count == 0 && n > 0 {
		count = 1
	}
	return count
}
