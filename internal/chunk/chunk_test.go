package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmptyContent(t *testing.T) {
	c := NewChunker(500, 50)
	assert.Nil(t, c.Split(""))
}

func TestSplitSmallContentSingleChunk(t *testing.T) {
	c := NewChunker(500, 50)
	chunks := c.Split("hello world")

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "hello world", chunks[0].Text)
}

func TestSplitOverlap(t *testing.T) {
	c := NewChunker(10, 3)
	content := "abcdefghijklmnopqrstuvwxyz"
	chunks := c.Split(content)

	require.GreaterOrEqual(t, len(chunks), 2)
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Text
		tail := prev[len(prev)-3:]
		assert.True(t, strings.HasPrefix(chunks[i].Text, tail),
			"chunk %d should start with the last 3 chars of chunk %d", i, i-1)
	}
}

func TestSplitChunkSizeBound(t *testing.T) {
	c := NewChunker(100, 10)
	chunks := c.Split(strings.Repeat("x", 1000))

	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 100)
	}
}

func TestSplitIndexesSequential(t *testing.T) {
	c := NewChunker(50, 5)
	chunks := c.Split(strings.Repeat("a", 500))

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
	}
}

func TestSplitDeterministic(t *testing.T) {
	c := NewChunker(64, 8)
	content := strings.Repeat("the quick brown fox ", 50)

	a := c.Split(content)
	b := c.Split(content)
	assert.Equal(t, a, b)
}

func TestSplitCoversAllContent(t *testing.T) {
	c := NewChunker(10, 3)
	content := "abcdefghijklmnopqrstuvwxyz0123456789"
	chunks := c.Split(content)

	last := chunks[len(chunks)-1]
	assert.True(t, strings.HasSuffix(content, last.Text))
}

func TestSplitMultibyteRunes(t *testing.T) {
	c := NewChunker(4, 1)
	content := "héllo wörld ünïcode"
	chunks := c.Split(content)

	for _, ch := range chunks {
		assert.True(t, utf8.ValidString(ch.Text))
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 4)
	}
}

func TestNewChunkerClampsOverlap(t *testing.T) {
	c := NewChunker(10, 50)
	chunks := c.Split(strings.Repeat("x", 30))
	// Step of 1: must still terminate and cover content.
	assert.NotEmpty(t, chunks)
}

func TestDecodeReplacesInvalidUTF8(t *testing.T) {
	out := Decode([]byte{'a', 0xff, 'b'}, 0)
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "b")
}

func TestDecodeTruncatesAtBoundary(t *testing.T) {
	// "é" is 2 bytes; cap of 3 bytes would split the second rune.
	data := []byte("aéé")
	out := Decode(data, 4)

	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, "aé", out)
}

func TestDecodeNoCapKeepsAll(t *testing.T) {
	data := []byte("hello")
	assert.Equal(t, "hello", Decode(data, 0))
	assert.Equal(t, "hello", Decode(data, 100))
}
