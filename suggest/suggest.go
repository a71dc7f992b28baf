// Package suggest turns raw model output into an insertable suggestion.
// It is pure: no I/O, testable against literal strings.
package suggest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Delimiters the prompt instructs the model to bracket its answer with.
// Surrounding commentary outside the pair is tolerated and discarded.
const (
	BeginDelimiter = "<<<SUGGESTION>>>"
	EndDelimiter   = "<<<END_SUGGESTION>>>"
)

// maxLength caps the cleaned suggestion. Longer output is truncated at a
// word boundary when one exists past the midpoint.
const maxLength = 100

// Parse extracts the candidate suggestion from raw streamed output. When both
// delimiters are present the candidate is the text strictly between them,
// otherwise the full raw text is the candidate.
func Parse(raw string) string {
	begin := strings.Index(raw, BeginDelimiter)
	if begin == -1 {
		return raw
	}
	rest := raw[begin+len(BeginDelimiter):]
	end := strings.Index(rest, EndDelimiter)
	if end == -1 {
		return raw
	}
	return rest[:end]
}

// Clean filters and normalizes a candidate into the final single-line
// suggestion. An empty return means nothing should be shown.
func Clean(candidate, userText string) string {
	text := strings.TrimSpace(candidate)

	// Strip a verbatim echo of what the user already typed.
	if userText != "" && strings.HasPrefix(text, userText) {
		text = text[len(userText):]
	}

	// Single-line surface: keep only up to the first line break.
	if idx := strings.IndexByte(text, '\n'); idx != -1 {
		text = text[:idx]
	}
	text = strings.TrimSuffix(text, "\r")
	text = strings.TrimLeft(text, " \t")

	if unwanted(text) {
		return ""
	}

	if utf8.RuneCountInString(text) > maxLength {
		text = truncateAtWordBoundary(text, maxLength)
	}

	return text
}

// unwanted rejects output that would read as garbage when inserted as code.
func unwanted(text string) bool {
	if utf8.RuneCountInString(text) < 2 {
		return true
	}
	if strings.HasPrefix(text, "//") || strings.HasPrefix(text, "/*") || strings.HasPrefix(text, "*") {
		return true
	}
	// Shell/preprocessor lines start with a bare '#'; Markdown headers put a
	// space after it and pass through.
	if strings.HasPrefix(text, "#") && !strings.HasPrefix(text, "# ") {
		return true
	}
	return allSpaceOrPunct(text)
}

func allSpaceOrPunct(text string) bool {
	for _, r := range text {
		if !unicode.IsSpace(r) && !unicode.IsPunct(r) {
			return false
		}
	}
	return true
}

// truncateAtWordBoundary cuts text at the nearest space before cap, provided
// the space sits past cap/2; otherwise it hard-truncates at cap. Lengths and
// cut positions are in runes so multibyte text is never split mid-character.
func truncateAtWordBoundary(text string, capLen int) string {
	head := []rune(text)[:capLen]
	for idx := len(head) - 1; idx > capLen/2; idx-- {
		if head[idx] == ' ' {
			return string(head[:idx])
		}
	}
	return string(head)
}
