// Package chunk splits file content into fixed-size overlapping text
// windows for embedding. Chunking is deterministic: the same input and
// parameters always produce the same sequence of chunks.
package chunk

import (
	"strings"
	"unicode/utf8"
)

// Defaults for the sliding window.
const (
	DefaultChunkSize = 500 // characters per chunk
	DefaultOverlap   = 50  // characters shared between adjacent chunks
)

// Chunk is one window of file content.
type Chunk struct {
	// Index is the 0-based position of the chunk within the file.
	Index int
	// Text is the chunk content, at most chunk_size characters.
	Text string
}

// Chunker produces sliding-window chunks.
type Chunker struct {
	chunkSize int
	overlap   int
}

// NewChunker creates a Chunker. Non-positive size falls back to the
// default; overlap is clamped below chunkSize.
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}
}

// Split windows content into chunks. Consecutive chunks share the
// configured overlap in characters. Empty content yields no chunks.
func (c *Chunker) Split(content string) []Chunk {
	runes := []rune(content)
	if len(runes) == 0 {
		return nil
	}

	step := c.chunkSize - c.overlap
	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Decode converts raw file bytes to a string for chunking. Invalid
// UTF-8 sequences are replaced with U+FFFD. Content longer than
// maxBytes is truncated at a UTF-8 boundary first; maxBytes <= 0
// disables the cap.
func Decode(data []byte, maxBytes int) string {
	if maxBytes > 0 && len(data) > maxBytes {
		data = truncateAtBoundary(data, maxBytes)
	}
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

// truncateAtBoundary cuts data to at most max bytes without splitting
// a multi-byte rune.
func truncateAtBoundary(data []byte, max int) []byte {
	cut := max
	for cut > 0 && cut > max-utf8.UTFMax && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return data[:cut]
}
