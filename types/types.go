package types

import "time"

// Position is a cursor location in a document.
type Position struct {
	Line int // 0-indexed
	Col  int // 0-indexed byte column
}

// ViewportRegion is the visible slice of one editor window.
type ViewportRegion struct {
	FilePath string
	Language string
	Text     string
}

// EditedRange records a recently edited span of a file. It is produced and
// evicted by the editor collaborator; the engine only reads it.
type EditedRange struct {
	FilePath  string
	StartLine int // 1-indexed
	EndLine   int // 1-indexed, inclusive
	// Before and After are the range content on either side of the edit,
	// used to render a diff into the prompt context.
	Before    string
	After     string
	Symbols   []string
	Timestamp time.Time
}

// DocumentSnapshot is everything the engine needs from the editor at the
// moment a trigger debounce expires.
type DocumentSnapshot struct {
	FilePath string
	Text     string
	Cursor   Position
	Viewport []ViewportRegion
	// UserText is the text the user authored on the trigger line up to the
	// cursor. The processor strips it when the model echoes it back.
	UserText string
}

// PromptOverride replaces document-derived prefix/suffix when the caller
// already synthesized a prompt (non-editor text surfaces).
type PromptOverride struct {
	Prefix string
	Suffix string
}

// CompletionRequest is one trigger's worth of prompt context. It is immutable
// once constructed; superseded requests are discarded, never mutated.
type CompletionRequest struct {
	RequestID   string
	FilePath    string
	Cursor      Position
	Prefix      string
	Suffix      string
	ContextBlob string
	UserText    string
	CreatedAt   time.Time
}

// Suggestion is the finished product of one completion request. CleanedText
// may be empty, meaning there is nothing to show.
type Suggestion struct {
	RequestID   string
	RawText     string
	CleanedText string
	Shown       bool
}

// Outcome is the terminal state of an acceptance record.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeAccepted
	OutcomeRejected
)

// String returns a human-readable name for the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "Pending"
	case OutcomeAccepted:
		return "Accepted"
	case OutcomeRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// ModelInfo describes one model the provider can serve.
type ModelInfo struct {
	Name string
	// SupportsFIM reports whether the model accepts fill-in-the-middle
	// requests. Chat-only models must never be sent one.
	SupportsFIM bool
	// MaxOutputTokens is the model's configured output ceiling (0 = provider
	// default).
	MaxOutputTokens int
}

// ProviderConfig holds transport configuration for the FIM provider.
type ProviderConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}
