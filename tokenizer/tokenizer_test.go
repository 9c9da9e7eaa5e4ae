package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSharedReturnsSameInstance(t *testing.T) {
	first := Shared()
	second := Shared()
	assert.Same(t, first, second)
}

func TestCountEmpty(t *testing.T) {
	assert.Equal(t, 0, Shared().Count(""))
}

func TestCountDeterministic(t *testing.T) {
	text := "The quarterly planning meeting covered roadmap priorities and hiring."
	tok := Shared()

	a := tok.Count(text)
	b := tok.Count(text)

	assert.Equal(t, a, b)
	assert.Greater(t, a, 0)
}

func TestCountGrowsWithText(t *testing.T) {
	tok := Shared()
	short := tok.Count("one sentence.")
	long := tok.Count("one sentence. and then a considerably longer continuation with many more words in it.")
	assert.Greater(t, long, short)
}

func TestEstimateFallback(t *testing.T) {
	tok := &Tokenizer{}

	assert.Equal(t, 0, tok.Count(""))
	assert.Equal(t, 1, tok.Count("abc"))
	assert.Equal(t, 2, tok.Count("abcdefgh"))

	a := tok.Count("同じ文章を二回数える")
	b := tok.Count("同じ文章を二回数える")
	assert.Equal(t, a, b)
}
