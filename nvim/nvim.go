// Package nvim bridges the engine to a Neovim instance over msgpack-rpc. It
// surfaces suggestions as ghost text and translates editor events into engine
// triggers.
package nvim

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/neovim/go-client/nvim"

	"fimtab/engine"
	"fimtab/logger"
	"fimtab/types"
)

const (
	namespaceName  = "fimtab"
	ghostHighlight = "Comment"

	// editHistorySize bounds how many recent edits ride along as context.
	editHistorySize = 5
)

// Adapter is the Neovim side of the engine's collaborator interfaces. One
// adapter serves one Neovim instance.
type Adapter struct {
	v      *nvim.Nvim
	engine *engine.Engine
	nsID   int

	autoTrigger bool

	mu       sync.Mutex
	current  *types.Suggestion
	curPos   types.Position
	curBuf   nvim.Buffer
	lastText map[nvim.Buffer]string
	edits    []*types.EditedRange
}

// New attaches to a Neovim instance over stdio, the transport used when the
// plugin spawns this process with jobstart.
func New(autoTrigger bool, stdin io.Reader, stdout io.WriteCloser) (*Adapter, error) {
	v, err := nvim.New(stdin, stdout, stdout, func(format string, args ...interface{}) {
		logger.Debug("nvim rpc: "+format, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to nvim: %w", err)
	}

	nsID, err := v.CreateNamespace(namespaceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create namespace: %w", err)
	}

	return &Adapter{
		v:           v,
		nsID:        nsID,
		autoTrigger: autoTrigger,
		lastText:    make(map[nvim.Buffer]string),
	}, nil
}

// Bind registers the RPC handlers and wires the engine. Must be called before
// Serve.
func (a *Adapter) Bind(e *engine.Engine) error {
	a.engine = e

	if err := a.v.RegisterHandler("fimtab_event", a.handleEvent); err != nil {
		return err
	}
	if err := a.v.RegisterHandler("fimtab_accept", a.handleAccept); err != nil {
		return err
	}
	return nil
}

// Serve blocks handling RPC traffic until the connection closes.
func (a *Adapter) Serve() error {
	return a.v.Serve()
}

// handleEvent receives editor-side event names from the Lua plugin.
func (a *Adapter) handleEvent(v *nvim.Nvim, name string) error {
	switch engine.EventTypeFromString(name) {
	case engine.EventTextChanged:
		a.recordEdit()
		a.engine.TextChanged()
	case engine.EventInvoke:
		a.engine.Invoke(nil)
	case engine.EventCancel:
		a.engine.Cancel()
	default:
		logger.Debug("nvim: unknown event %q", name)
	}
	return nil
}

// handleAccept inserts the shown suggestion at its anchor and notifies the
// engine. Returns true when there was a suggestion to accept so the plugin
// can fall through to its default mapping otherwise.
func (a *Adapter) handleAccept(v *nvim.Nvim) (bool, error) {
	a.mu.Lock()
	sug := a.current
	pos := a.curPos
	buf := a.curBuf
	a.mu.Unlock()

	if sug == nil {
		return false, nil
	}

	// Resolve the acceptance before touching the buffer: the insertion fires
	// the editor's text-changed autocmd, and that trigger must not reach the
	// engine first and dismiss the suggestion as rejected.
	a.engine.Accept()

	text := []byte(sug.CleanedText)
	err := v.SetBufferText(buf, pos.Line, pos.Col, pos.Line, pos.Col, [][]byte{text})
	if err != nil {
		logger.Error("nvim: failed to insert accepted text: %v", err)
		return false, err
	}
	if err := v.SetWindowCursor(0, [2]int{pos.Line + 1, pos.Col + len(text)}); err != nil {
		logger.Debug("nvim: failed to move cursor after accept: %v", err)
	}

	return true, nil
}

// Snapshot implements engine.Editor.
func (a *Adapter) Snapshot() (*types.DocumentSnapshot, error) {
	buf, err := a.v.CurrentBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to get current buffer: %w", err)
	}
	name, err := a.v.BufferName(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to get buffer name: %w", err)
	}

	lines, err := a.v.BufferLines(buf, 0, -1, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read buffer: %w", err)
	}
	text := joinLines(lines)

	win, err := a.v.CurrentWindow()
	if err != nil {
		return nil, fmt.Errorf("failed to get current window: %w", err)
	}
	cur, err := a.v.WindowCursor(win)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	// Neovim rows are 1-based, columns are byte offsets.
	pos := types.Position{Line: cur[0] - 1, Col: cur[1]}

	var filetype string
	if err := a.v.BufferOption(buf, "filetype", &filetype); err != nil {
		logger.Debug("nvim: failed to read filetype: %v", err)
	}

	userText := ""
	if pos.Line >= 0 && pos.Line < len(lines) {
		line := string(lines[pos.Line])
		userText = line[:min(pos.Col, len(line))]
	}

	return &types.DocumentSnapshot{
		FilePath: name,
		Text:     text,
		Cursor:   pos,
		Viewport: a.viewport(name, filetype, lines, pos),
		UserText: userText,
	}, nil
}

// viewport extracts the window-visible slice of the buffer as a context
// region.
func (a *Adapter) viewport(name, filetype string, lines [][]byte, pos types.Position) []types.ViewportRegion {
	var top, bot int
	if err := a.v.Eval("line('w0')", &top); err != nil {
		return nil
	}
	if err := a.v.Eval("line('w$')", &bot); err != nil {
		return nil
	}
	top--
	if top < 0 {
		top = 0
	}
	if bot > len(lines) {
		bot = len(lines)
	}
	if top >= bot {
		return nil
	}
	return []types.ViewportRegion{{
		FilePath: name,
		Language: filetype,
		Text:     joinLines(lines[top:bot]),
	}}
}

// RecentEdits implements engine.Editor.
func (a *Adapter) RecentEdits() []*types.EditedRange {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*types.EditedRange, len(a.edits))
	copy(out, a.edits)
	return out
}

// recordEdit diffs the buffer against its last observed content and appends
// the change to the edit history.
func (a *Adapter) recordEdit() {
	buf, err := a.v.CurrentBuffer()
	if err != nil {
		return
	}
	name, err := a.v.BufferName(buf)
	if err != nil {
		return
	}
	lines, err := a.v.BufferLines(buf, 0, -1, true)
	if err != nil {
		return
	}
	text := joinLines(lines)

	a.mu.Lock()
	defer a.mu.Unlock()

	before, seen := a.lastText[buf]
	a.lastText[buf] = text
	if !seen || before == text {
		return
	}

	a.edits = append(a.edits, &types.EditedRange{
		FilePath:  name,
		Before:    before,
		After:     text,
		Timestamp: time.Now(),
	})
	if len(a.edits) > editHistorySize {
		a.edits = a.edits[len(a.edits)-editHistorySize:]
	}
}

// ShowSuggestion implements engine.Host. The suggestion renders as inline
// ghost text at the cursor.
func (a *Adapter) ShowSuggestion(s *types.Suggestion) error {
	buf, err := a.v.CurrentBuffer()
	if err != nil {
		return err
	}
	win, err := a.v.CurrentWindow()
	if err != nil {
		return err
	}
	cur, err := a.v.WindowCursor(win)
	if err != nil {
		return err
	}
	pos := types.Position{Line: cur[0] - 1, Col: cur[1]}

	if err := a.v.ClearBufferNamespace(buf, a.nsID, 0, -1); err != nil {
		logger.Debug("nvim: failed to clear namespace: %v", err)
	}

	opts := map[string]interface{}{
		"virt_text":     [][]interface{}{{s.CleanedText, ghostHighlight}},
		"virt_text_pos": "inline",
	}
	if _, err := a.v.SetBufferExtmark(buf, a.nsID, pos.Line, pos.Col, opts); err != nil {
		return fmt.Errorf("failed to place ghost text: %w", err)
	}

	a.mu.Lock()
	a.current = s
	a.curPos = pos
	a.curBuf = buf
	a.mu.Unlock()
	return nil
}

// ClearSuggestion implements engine.Host.
func (a *Adapter) ClearSuggestion() error {
	a.mu.Lock()
	buf := a.curBuf
	had := a.current != nil
	a.current = nil
	a.mu.Unlock()

	if !had {
		return nil
	}
	return a.v.ClearBufferNamespace(buf, a.nsID, 0, -1)
}

// AutoTriggerEnabled implements engine.Settings. A buffer-local or global
// variable overrides the configured default.
func (a *Adapter) AutoTriggerEnabled() bool {
	var enabled bool
	if err := a.v.Var("fimtab_auto_trigger", &enabled); err == nil {
		return enabled
	}
	return a.autoTrigger
}

// Read implements prompt.Clipboard via the plus register.
func (a *Adapter) Read() (string, error) {
	var text string
	if err := a.v.Eval("getreg('+')", &text); err != nil {
		return "", err
	}
	return text, nil
}

func joinLines(lines [][]byte) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = string(l)
	}
	return strings.Join(parts, "\n")
}
