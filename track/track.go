// Package track correlates shown suggestions with accept signals and reports
// exactly one accept-or-reject outcome per suggestion.
package track

import (
	"sync"
	"time"

	"fimtab/logger"
	"fimtab/types"
)

// EventType names a telemetry event.
type EventType string

const (
	EventAccept EventType = "ACCEPT_SUGGESTION"
	EventReject EventType = "REJECT_SUGGESTION"
)

// Sink receives telemetry events. Implementations must not block.
type Sink interface {
	Send(event EventType)
}

// NopSink discards events.
type NopSink struct{}

// Send implements Sink.
func (NopSink) Send(EventType) {}

// Timer is a stoppable pending timer.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so tests can drive the rejection timeout.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
func (systemClock) Now() time.Time                            { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// record is one armed suggestion awaiting resolution. It is destroyed as soon
// as it resolves.
type record struct {
	outcome types.Outcome
	timer   Timer
	armedAt time.Time
}

// Tracker owns the acceptance records. The rejection timeout and the engine's
// supersede path race to resolve the same record; the first transition from
// pending wins and later attempts are no-ops.
type Tracker struct {
	sink    Sink
	clock   Clock
	timeout time.Duration

	mu      sync.Mutex
	records map[string]*record
}

// New creates a tracker reporting to sink. timeout is how long a shown
// suggestion may sit unaccepted before it counts as rejected.
func New(sink Sink, clock Clock, timeout time.Duration) *Tracker {
	return &Tracker{
		sink:    sink,
		clock:   clock,
		timeout: timeout,
		records: make(map[string]*record),
	}
}

// Arm registers a shown suggestion and starts its rejection timeout. Must be
// called before the suggestion is handed to the host surface.
func (t *Tracker) Arm(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.records[requestID]; exists {
		logger.Error("tracker: request %s armed twice", requestID)
		return
	}

	rec := &record{outcome: types.OutcomePending, armedAt: t.clock.Now()}
	rec.timer = t.clock.AfterFunc(t.timeout, func() {
		t.resolve(requestID, types.OutcomeRejected)
	})
	t.records[requestID] = rec
}

// Accept resolves a shown suggestion as accepted. Returns false when the
// request is unknown or already resolved.
func (t *Tracker) Accept(requestID string) bool {
	return t.resolve(requestID, types.OutcomeAccepted)
}

// Supersede resolves a shown suggestion as rejected right away: the user
// moved on without accepting.
func (t *Tracker) Supersede(requestID string) {
	t.resolve(requestID, types.OutcomeRejected)
}

// RejectImmediately reports a rejection for a request that never produced a
// visible suggestion. No record is created and no timeout armed.
func (t *Tracker) RejectImmediately() {
	t.sink.Send(EventReject)
}

// Pending reports whether a request is armed and unresolved.
func (t *Tracker) Pending(requestID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[requestID]
	return ok && rec.outcome == types.OutcomePending
}

// resolve transitions a record from pending to a terminal outcome exactly
// once and reports the matching event.
func (t *Tracker) resolve(requestID string, outcome types.Outcome) bool {
	t.mu.Lock()
	rec, ok := t.records[requestID]
	if !ok || rec.outcome != types.OutcomePending {
		t.mu.Unlock()
		return false
	}
	rec.outcome = outcome
	if rec.timer != nil {
		rec.timer.Stop()
	}
	lifespan := t.clock.Now().Sub(rec.armedAt)
	delete(t.records, requestID)
	t.mu.Unlock()

	logger.Debug("tracker: request %s resolved %s after %s", requestID, outcome, lifespan)
	if outcome == types.OutcomeAccepted {
		t.sink.Send(EventAccept)
	} else {
		t.sink.Send(EventReject)
	}
	return true
}
