package search

import (
	"os"
	"strings"
	"unicode/utf8"
)

const (
	// snippetWindow is the maximum snippet length in characters.
	snippetWindow = 300

	// snippetReadCap bounds how much of a file is read for snippets.
	snippetReadCap = 1 << 20
)

// snippetFor reads the file and extracts a window around the first
// literal match of any term. Missing or unreadable files yield an empty
// snippet rather than an error.
func snippetFor(filePath string, terms []string) string {
	f, err := os.Open(filePath)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, snippetReadCap)
	n, err := f.Read(buf)
	if n == 0 && err != nil {
		return ""
	}

	content := strings.ToValidUTF8(string(buf[:n]), "")
	return extractSnippet(content, terms)
}

// extractSnippet returns a window of up to snippetWindow characters
// centered on the first case-insensitive match of any term, falling back
// to the file prefix when no term matches literally.
func extractSnippet(content string, terms []string) string {
	if content == "" {
		return ""
	}

	matchAt := -1
	lower := strings.ToLower(content)
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if idx := strings.Index(lower, term); idx >= 0 && (matchAt == -1 || idx < matchAt) {
			matchAt = idx
		}
	}

	if matchAt == -1 {
		return truncateRunes(content, snippetWindow)
	}

	// Walk back up to half the window in runes, then fill the rest
	// forward. Both offsets stay on rune boundaries.
	start := matchAt
	for back := snippetWindow / 2; back > 0 && start > 0; back-- {
		_, size := utf8.DecodeLastRuneInString(content[:start])
		start -= size
	}

	remaining := snippetWindow - utf8.RuneCountInString(content[start:matchAt])
	end := matchAt
	for ; remaining > 0 && end < len(content); remaining-- {
		_, size := utf8.DecodeRuneInString(content[end:])
		end += size
	}

	return content[start:end]
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	end := 0
	for ; n > 0 && end < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[end:])
		end += size
	}
	return s[:end]
}
