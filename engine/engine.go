// Package engine is the completion orchestrator: it debounces trigger
// events, admits or suppresses requests, races the model stream against the
// moving cursor, and hands cleaned suggestions to the host surface.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"fimtab/client/fim"
	"fimtab/logger"
	"fimtab/prompt"
	"fimtab/suggest"
	"fimtab/track"
	"fimtab/types"
)

// Editor is the editor collaborator the engine reads from.
type Editor interface {
	// Snapshot captures the document, cursor and viewport at this moment.
	Snapshot() (*types.DocumentSnapshot, error)
	// RecentEdits lists recently edited ranges; the editor owns eviction.
	RecentEdits() []*types.EditedRange
}

// Host is the surface suggestions are shown on.
type Host interface {
	ShowSuggestion(s *types.Suggestion) error
	ClearSuggestion() error
}

// Settings supplies the auto-trigger flag, read at admission time.
type Settings interface {
	AutoTriggerEnabled() bool
}

// TokenStream is a finite, single-consumption stream of generated text.
type TokenStream interface {
	FragmentsChan() <-chan string
	DoneChan() <-chan fim.StreamResult
	Cancel()
}

// Gateway speaks to the model provider.
type Gateway interface {
	ModelLoaded() bool
	Reload(ctx context.Context) error
	SupportsFIM() bool
	StreamFIM(ctx context.Context, prefix, suffix string) TokenStream
}

// EventType identifies an engine event.
type EventType string

const (
	EventTextChanged     EventType = "text_changed"
	EventInvoke          EventType = "invoke"
	EventCancel          EventType = "cancel"
	EventAccept          EventType = "accept"
	EventDebounceTimeout EventType = "debounce_timeout"
	EventStreamDone      EventType = "stream_done"
)

// EventTypeFromString maps a host-side event name to an EventType.
func EventTypeFromString(s string) EventType {
	switch s {
	case "text_changed":
		return EventTextChanged
	case "invoke":
		return EventInvoke
	case "cancel":
		return EventCancel
	case "accept":
		return EventAccept
	default:
		return ""
	}
}

// Event is one message on the engine's event loop.
type Event struct {
	Type EventType
	// Seq ties timer and stream events to the request generation that
	// produced them; stale generations are dropped.
	Seq      uint64
	Result   *fim.StreamResult
	Override *types.PromptOverride
}

// state is the orchestrator's lifecycle position for the current trigger.
type state int

const (
	stateIdle state = iota
	stateDebouncing
	stateRequesting
)

// String returns a human-readable name for the state
func (s state) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateDebouncing:
		return "Debouncing"
	case stateRequesting:
		return "Requesting"
	default:
		return "Unknown"
	}
}

// transition maps a (state, event) pair to its handler.
type transition struct {
	from    state
	event   EventType
	handler func(*Engine, Event)
}

var transitions = []transition{
	{stateIdle, EventTextChanged, (*Engine).doDebounce},
	{stateIdle, EventInvoke, (*Engine).doDebounce},
	{stateIdle, EventAccept, (*Engine).doAccept},
	{stateIdle, EventCancel, (*Engine).doCancel},

	{stateDebouncing, EventTextChanged, (*Engine).doDebounce},
	{stateDebouncing, EventInvoke, (*Engine).doDebounce},
	{stateDebouncing, EventDebounceTimeout, (*Engine).doAdmit},
	{stateDebouncing, EventCancel, (*Engine).doCancel},

	{stateRequesting, EventTextChanged, (*Engine).doDebounce},
	{stateRequesting, EventInvoke, (*Engine).doDebounce},
	{stateRequesting, EventStreamDone, (*Engine).doFinalize},
	{stateRequesting, EventCancel, (*Engine).doCancel},
}

func findTransition(from state, event EventType) *transition {
	for i := range transitions {
		if transitions[i].from == from && transitions[i].event == event {
			return &transitions[i]
		}
	}
	return nil
}

// Config holds the engine's timing knobs.
type Config struct {
	Debounce          time.Duration
	CompletionTimeout time.Duration
	// CacheTTL enables the short-lived suggestion cache when positive.
	CacheTTL time.Duration
}

// Engine owns the single active request slot. All mutable state is touched
// only from the event loop; collaborator goroutines communicate by posting
// events.
type Engine struct {
	editor   Editor
	host     Host
	settings Settings
	gateway  Gateway
	tracker  *track.Tracker
	builder  *prompt.Builder
	clock    Clock
	config   Config

	mainCtx   context.Context
	eventChan chan Event

	state           state
	seq             uint64
	debounceTimer   Timer
	pendingOverride *types.PromptOverride
	streamCancel    context.CancelFunc
	activeReq       *types.CompletionRequest
	shownID         string

	cache *ttlcache.Cache[string, string]
}

// New creates an engine. The clock is injected so tests can drive timers.
func New(editor Editor, host Host, settings Settings, gateway Gateway, tracker *track.Tracker, builder *prompt.Builder, config Config, clock Clock) (*Engine, error) {
	if editor == nil || host == nil || settings == nil || gateway == nil || tracker == nil || builder == nil {
		return nil, fmt.Errorf("engine: all collaborators must be non-nil")
	}
	if clock == nil {
		clock = SystemClock()
	}

	e := &Engine{
		editor:    editor,
		host:      host,
		settings:  settings,
		gateway:   gateway,
		tracker:   tracker,
		builder:   builder,
		clock:     clock,
		config:    config,
		mainCtx:   context.Background(),
		eventChan: make(chan Event, 64),
		state:     stateIdle,
	}

	if config.CacheTTL > 0 {
		e.cache = ttlcache.New(
			ttlcache.WithTTL[string, string](config.CacheTTL),
			ttlcache.WithDisableTouchOnHit[string, string](),
		)
	}

	return e, nil
}

// Run consumes events until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.mainCtx = ctx
	if e.cache != nil {
		go e.cache.Start()
	}
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case ev := <-e.eventChan:
			e.dispatch(ev)
		}
	}
}

func (e *Engine) shutdown() {
	e.cancelInFlight()
	if e.cache != nil {
		e.cache.Stop()
	}
}

// TextChanged posts a keystroke/cursor-move trigger.
func (e *Engine) TextChanged() { e.post(Event{Type: EventTextChanged}) }

// Invoke posts an explicit trigger, optionally with a synthesized prompt.
func (e *Engine) Invoke(override *types.PromptOverride) {
	e.post(Event{Type: EventInvoke, Override: override})
}

// Cancel posts the editor's cancellation signal.
func (e *Engine) Cancel() { e.post(Event{Type: EventCancel}) }

// Accept posts the host's accept action for the shown suggestion.
func (e *Engine) Accept() { e.post(Event{Type: EventAccept}) }

// post enqueues an event without blocking the editor callback.
func (e *Engine) post(ev Event) {
	select {
	case e.eventChan <- ev:
	default:
		logger.Error("engine: event queue full, dropping %s", ev.Type)
	}
}

// dispatch routes one event through the transition table. Timer and stream
// events from superseded generations are dropped here.
func (e *Engine) dispatch(ev Event) bool {
	if ev.Type == EventDebounceTimeout || ev.Type == EventStreamDone {
		if ev.Seq != e.seq {
			logger.Debug("engine: dropping stale %s (seq %d, current %d)", ev.Type, ev.Seq, e.seq)
			return false
		}
	}

	trans := findTransition(e.state, ev.Type)
	if trans == nil {
		logger.Debug("engine: no transition for %s in %s", ev.Type, e.state)
		return false
	}
	trans.handler(e, ev)
	return true
}

// doDebounce starts (or restarts) the debounce window. Last trigger wins: any
// earlier trigger's context is discarded and in-flight work is cancelled with
// no telemetry.
func (e *Engine) doDebounce(ev Event) {
	e.cancelInFlight()
	e.dismissShown()

	e.seq++
	seq := e.seq
	e.pendingOverride = ev.Override
	e.debounceTimer = e.clock.AfterFunc(e.config.Debounce, func() {
		e.post(Event{Type: EventDebounceTimeout, Seq: seq})
	})
	e.state = stateDebouncing
}

// doCancel abandons whatever is pending. A cancelled request was never shown,
// so it reports nothing; a shown suggestion being dismissed counts as moved on.
func (e *Engine) doCancel(Event) {
	e.cancelInFlight()
	e.dismissShown()
	e.state = stateIdle
}

// doAccept resolves the shown suggestion as accepted.
func (e *Engine) doAccept(Event) {
	if e.shownID == "" {
		return
	}
	e.tracker.Accept(e.shownID)
	e.shownID = ""
	if err := e.host.ClearSuggestion(); err != nil {
		logger.Error("engine: failed to clear suggestion: %v", err)
	}
}

// doAdmit runs the admission gates when the debounce window closes, then
// opens the model stream.
func (e *Engine) doAdmit(Event) {
	e.debounceTimer = nil
	e.state = stateIdle

	// Feature flag off: suppressed, no telemetry.
	if !e.settings.AutoTriggerEnabled() {
		logger.Debug("engine: auto-trigger disabled, suppressing")
		return
	}

	// Model not loaded: one synchronous reload attempt.
	if !e.gateway.ModelLoaded() {
		reloadTimeout := e.config.CompletionTimeout
		if reloadTimeout <= 0 {
			reloadTimeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(e.mainCtx, reloadTimeout)
		err := e.gateway.Reload(ctx)
		cancel()
		if err != nil {
			logger.Info("engine: model reload failed: %v", err)
			e.tracker.RejectImmediately()
			return
		}
	}

	if !e.gateway.SupportsFIM() {
		logger.Debug("engine: active model does not support FIM, suppressing")
		e.tracker.RejectImmediately()
		return
	}

	req, err := e.buildRequest()
	if err != nil {
		logger.Error("engine: failed to build request: %v", err)
		e.tracker.RejectImmediately()
		return
	}
	e.activeReq = req

	if cleaned, ok := e.cachedSuggestion(req); ok {
		logger.Debug("engine: suggestion cache hit for %s", req.FilePath)
		e.activeReq = nil
		e.show(req, cleaned, cleaned)
		return
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if e.config.CompletionTimeout > 0 {
		ctx, cancel = context.WithTimeout(e.mainCtx, e.config.CompletionTimeout)
	} else {
		ctx, cancel = context.WithCancel(e.mainCtx)
	}
	e.streamCancel = cancel
	e.state = stateRequesting

	stream := e.gateway.StreamFIM(ctx, req.ContextBlob, req.Suffix)
	seq := e.seq
	go func() {
		defer cancel()
		// Fold fragments; the accumulated text arrives with the result.
		for range stream.FragmentsChan() {
		}
		result := <-stream.DoneChan()
		e.post(Event{Type: EventStreamDone, Seq: seq, Result: &result})
	}()
}

// doFinalize turns a completed stream into a shown suggestion, an empty
// result, or nothing at all for a cancelled stream.
func (e *Engine) doFinalize(ev Event) {
	e.streamCancel = nil
	req := e.activeReq
	e.activeReq = nil
	e.state = stateIdle

	result := ev.Result
	if result == nil || req == nil {
		return
	}

	if result.Err != nil {
		logger.Error("engine: completion failed: %v", result.Err)
		e.tracker.RejectImmediately()
		return
	}
	if result.FinishReason == "cancelled" {
		// Superseded mid-stream: the user never saw anything to reject.
		return
	}

	cleaned := suggest.Clean(suggest.Parse(result.Text), req.UserText)
	if cleaned == "" {
		logger.Debug("engine: generation produced nothing usable")
		e.tracker.RejectImmediately()
		if err := e.host.ClearSuggestion(); err != nil {
			logger.Error("engine: failed to clear suggestion: %v", err)
		}
		return
	}

	e.cacheSet(req, cleaned)
	e.show(req, result.Text, cleaned)
}

// show arms acceptance tracking and hands the suggestion to the host. The
// tracker is armed first so an instant accept cannot be lost.
func (e *Engine) show(req *types.CompletionRequest, raw, cleaned string) {
	sug := &types.Suggestion{
		RequestID:   req.RequestID,
		RawText:     raw,
		CleanedText: cleaned,
		Shown:       true,
	}
	e.tracker.Arm(req.RequestID)
	e.shownID = req.RequestID
	if err := e.host.ShowSuggestion(sug); err != nil {
		logger.Error("engine: failed to show suggestion: %v", err)
	}
}

// buildRequest snapshots the editor and assembles an immutable request.
func (e *Engine) buildRequest() (*types.CompletionRequest, error) {
	snap, err := e.editor.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("editor snapshot failed: %w", err)
	}

	override := e.pendingOverride
	e.pendingOverride = nil
	p := e.builder.Build(snap, e.editor.RecentEdits(), override)

	return &types.CompletionRequest{
		RequestID:   uuid.NewString(),
		FilePath:    snap.FilePath,
		Cursor:      snap.Cursor,
		Prefix:      p.Prefix,
		Suffix:      p.Suffix,
		ContextBlob: p.ContextBlob,
		UserText:    snap.UserText,
		CreatedAt:   e.clock.Now(),
	}, nil
}

// cancelInFlight stops the debounce timer and abandons any open stream.
// Cancellation is distinct from rejection: nothing is reported for it.
func (e *Engine) cancelInFlight() {
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
		e.debounceTimer = nil
	}
	if e.streamCancel != nil {
		e.streamCancel()
		e.streamCancel = nil
	}
	e.activeReq = nil
	e.pendingOverride = nil
}

// dismissShown resolves a still-shown suggestion as rejected: the user moved
// on without accepting it.
func (e *Engine) dismissShown() {
	if e.shownID == "" {
		return
	}
	e.tracker.Supersede(e.shownID)
	e.shownID = ""
	if err := e.host.ClearSuggestion(); err != nil {
		logger.Error("engine: failed to clear suggestion: %v", err)
	}
}

func cacheKey(req *types.CompletionRequest) string {
	return req.Prefix + "\x00" + req.Suffix
}

func (e *Engine) cachedSuggestion(req *types.CompletionRequest) (string, bool) {
	if e.cache == nil {
		return "", false
	}
	item := e.cache.Get(cacheKey(req))
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

func (e *Engine) cacheSet(req *types.CompletionRequest, cleaned string) {
	if e.cache == nil {
		return
	}
	e.cache.Set(cacheKey(req), cleaned, ttlcache.DefaultTTL)
}
