// Package prompt builds the prefix/suffix pair and the ambient context blob
// sent with a completion request.
package prompt

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"fimtab/logger"
	"fimtab/types"
)

// Clipboard bounds: anything shorter is noise, anything longer is likely an
// accidental paste of binary-ish or oversized content.
const (
	clipboardMinLen = 6
	clipboardMaxLen = 499
)

// Clipboard reads the system clipboard. Reads are best-effort; a failure only
// suppresses the clipboard fragment of the context blob.
type Clipboard interface {
	Read() (string, error)
}

// Prompt is the prompt-ready output for one trigger.
type Prompt struct {
	Prefix      string
	Suffix      string
	ContextBlob string
}

// Builder assembles prompts from editor snapshots and ambient signals.
type Builder struct {
	clipboard Clipboard
}

// NewBuilder creates a Builder. clipboard may be nil when the host surface
// has none.
func NewBuilder(clipboard Clipboard) *Builder {
	return &Builder{clipboard: clipboard}
}

// Build produces the prompt for a snapshot. An explicit override takes
// precedence over document-derived prefix/suffix.
func (b *Builder) Build(doc *types.DocumentSnapshot, edits []*types.EditedRange, override *types.PromptOverride) *Prompt {
	var prefix, suffix string
	if override != nil {
		prefix, suffix = override.Prefix, override.Suffix
	} else {
		prefix, suffix = SplitAtCursor(doc.Text, doc.Cursor)
	}

	return &Prompt{
		Prefix:      prefix,
		Suffix:      suffix,
		ContextBlob: b.buildContextBlob(doc, edits, prefix),
	}
}

// SplitAtCursor splits full document text at the byte offset of the cursor.
func SplitAtCursor(text string, pos types.Position) (prefix, suffix string) {
	offset := 0
	line := 0
	for line < pos.Line {
		idx := strings.IndexByte(text[offset:], '\n')
		if idx == -1 {
			return text, ""
		}
		offset += idx + 1
		line++
	}

	lineEnd := strings.IndexByte(text[offset:], '\n')
	if lineEnd == -1 {
		lineEnd = len(text) - offset
	}
	offset += min(pos.Col, lineEnd)

	return text[:offset], text[offset:]
}

// buildContextBlob aggregates ambient context in fixed order: visible editor
// regions, recent edit diffs, clipboard. The prompt prefix comes last so the
// model continues directly from the cursor position.
func (b *Builder) buildContextBlob(doc *types.DocumentSnapshot, edits []*types.EditedRange, prefix string) string {
	var sb strings.Builder

	sb.WriteString("Context from the user's editor:\n\n")
	for _, region := range doc.Viewport {
		fmt.Fprintf(&sb, "File: %s (%s)\n%s\n\n", region.FilePath, region.Language, region.Text)
	}

	if history := FormatEditHistory(edits); history != "" {
		sb.WriteString(history)
		sb.WriteString("\n")
	}

	if clip := b.readClipboard(); clip != "" {
		fmt.Fprintf(&sb, "Clipboard:\n%s\n\n", clip)
	}

	sb.WriteString(prefix)
	return sb.String()
}

// readClipboard returns clipboard text when it is within bounds, and nothing
// on read failure.
func (b *Builder) readClipboard() string {
	if b.clipboard == nil {
		return ""
	}
	text, err := b.clipboard.Read()
	if err != nil {
		logger.Debug("clipboard read failed: %v", err)
		return ""
	}
	if len(text) < clipboardMinLen || len(text) > clipboardMaxLen {
		return ""
	}
	return text
}

// FormatEditHistory renders recently edited ranges as fenced unified diff
// blocks, most recent last.
func FormatEditHistory(edits []*types.EditedRange) string {
	var parts []string
	for _, edit := range edits {
		diff := EditToUnifiedDiff(edit.Before, edit.After)
		if diff == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("User edited %q:\n```diff\n%s\n```", edit.FilePath, diff))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "\n\n") + "\n"
}

// EditToUnifiedDiff renders a before/after pair as one unified diff hunk.
// Identical content yields an empty string.
func EditToUnifiedDiff(before, after string) string {
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, lineIndex := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineIndex)

	var sb strings.Builder
	fmt.Fprintf(&sb, "@@ -1,%d +1,%d @@", countLines(before), countLines(after))
	for _, d := range diffs {
		marker := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			marker = "-"
		case diffmatchpatch.DiffInsert:
			marker = "+"
		}
		for _, line := range splitDiffLines(d.Text) {
			sb.WriteString("\n")
			sb.WriteString(marker)
			sb.WriteString(line)
		}
	}
	return sb.String()
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// splitDiffLines splits diff segment text into lines, ignoring the trailing
// empty element a terminal newline produces.
func splitDiffLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
