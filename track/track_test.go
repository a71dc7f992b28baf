package track

import (
	"sync"
	"testing"
	"time"

	"fimtab/assert"
)

// recordingSink counts events per type.
type recordingSink struct {
	mu     sync.Mutex
	events []EventType
}

func (s *recordingSink) Send(event EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) count(event EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

// mockClock fires timers only when advanced.
type mockClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*mockTimer
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Now()}
}

func (c *mockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &mockTimer{fireTime: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var toFire []*mockTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fireTime.After(c.now) {
			toFire = append(toFire, t)
		}
	}
	c.mu.Unlock()

	for _, t := range toFire {
		t.fire()
	}
}

type mockTimer struct {
	mu       sync.Mutex
	fireTime time.Time
	f        func()
	stopped  bool
}

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

func (t *mockTimer) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	f := t.f
	t.mu.Unlock()
	f()
}

const timeout = 10 * time.Second

func TestAcceptBeforeTimeout(t *testing.T) {
	sink := &recordingSink{}
	clock := newMockClock()
	tr := New(sink, clock, timeout)

	tr.Arm("req-1")
	assert.True(t, tr.Pending("req-1"), "pending after arm")

	assert.True(t, tr.Accept("req-1"), "accept resolves")
	assert.False(t, tr.Pending("req-1"), "record destroyed after resolution")

	clock.Advance(timeout * 2)

	assert.Equal(t, 1, sink.count(EventAccept), "accept events")
	assert.Equal(t, 0, sink.count(EventReject), "reject events")
}

func TestTimeoutRejects(t *testing.T) {
	sink := &recordingSink{}
	clock := newMockClock()
	tr := New(sink, clock, timeout)

	tr.Arm("req-1")

	clock.Advance(timeout - time.Millisecond)
	assert.Equal(t, 0, sink.count(EventReject), "no reject before the timeout")

	clock.Advance(time.Millisecond)
	assert.Equal(t, 1, sink.count(EventReject), "one reject at timeout")
	assert.Equal(t, 0, sink.count(EventAccept), "no accept")
}

func TestAcceptAfterTimeoutIsNoOp(t *testing.T) {
	sink := &recordingSink{}
	clock := newMockClock()
	tr := New(sink, clock, timeout)

	tr.Arm("req-1")
	clock.Advance(timeout)

	assert.False(t, tr.Accept("req-1"), "accept after timeout")
	assert.Equal(t, 1, sink.count(EventReject), "reject events")
	assert.Equal(t, 0, sink.count(EventAccept), "accept events")
}

func TestSupersedeCancelsTimeout(t *testing.T) {
	sink := &recordingSink{}
	clock := newMockClock()
	tr := New(sink, clock, timeout)

	tr.Arm("req-1")
	tr.Supersede("req-1")

	assert.Equal(t, 1, sink.count(EventReject), "one reject from supersede")

	// The timeout firing later must not double-report.
	clock.Advance(timeout * 2)
	assert.Equal(t, 1, sink.count(EventReject), "still one reject after timeout window")
}

func TestDoubleResolutionIsNoOp(t *testing.T) {
	sink := &recordingSink{}
	clock := newMockClock()
	tr := New(sink, clock, timeout)

	tr.Arm("req-1")
	assert.True(t, tr.Accept("req-1"), "first resolution")
	assert.False(t, tr.Accept("req-1"), "second accept is a no-op")
	tr.Supersede("req-1")

	assert.Equal(t, 1, sink.count(EventAccept), "accept events")
	assert.Equal(t, 0, sink.count(EventReject), "reject events")
}

func TestRejectImmediately(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink, newMockClock(), timeout)

	tr.RejectImmediately()

	assert.Equal(t, 1, sink.count(EventReject), "one immediate reject")
	assert.False(t, tr.Pending("anything"), "no record created")
}

func TestAcceptUnknownRequest(t *testing.T) {
	sink := &recordingSink{}
	tr := New(sink, newMockClock(), timeout)

	assert.False(t, tr.Accept("never-armed"), "unknown request")
	assert.Equal(t, 0, len(sink.events), "no events for unknown request")
}

func TestIndependentRecords(t *testing.T) {
	sink := &recordingSink{}
	clock := newMockClock()
	tr := New(sink, clock, timeout)

	tr.Arm("req-1")
	tr.Arm("req-2")

	assert.True(t, tr.Accept("req-1"), "accept first")
	clock.Advance(timeout)

	assert.Equal(t, 1, sink.count(EventAccept), "one accept")
	assert.Equal(t, 1, sink.count(EventReject), "one reject from the other record's timeout")
}
