// Package presence tracks who is typing in which room. State for a key exists
// only while the member is typing and decays on its own after a fixed timeout.
package presence

import (
	"sync"
	"time"
)

type Key struct {
	RoomID       string
	ConnectionID string
}

type entry struct {
	timer *time.Timer
}

// Tracker debounces typing signals per Key. A renewed signal restarts the
// timeout instead of stacking a second expiry.
type Tracker struct {
	mu       sync.Mutex
	timeout  time.Duration
	entries  map[Key]*entry
	onExpire func(Key)
	stopped  bool
}

// NewTracker returns a tracker that calls onExpire, from its own goroutine,
// when a key lapses without renewal. Cancelled keys never reach onExpire.
func NewTracker(timeout time.Duration, onExpire func(Key)) *Tracker {
	return &Tracker{
		timeout:  timeout,
		entries:  make(map[Key]*entry),
		onExpire: onExpire,
	}
}

// Touch records a typing signal. It reports true when the key went from idle
// to typing and false when an existing window was extended.
func (t *Tracker) Touch(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}

	if e, ok := t.entries[key]; ok {
		e.timer.Stop()
		t.schedule(key)
		return false
	}
	t.schedule(key)
	return true
}

// schedule must be called with t.mu held. Each timer captures its own entry
// so a stale firing can tell it has been superseded.
func (t *Tracker) schedule(key Key) {
	e := &entry{}
	e.timer = time.AfterFunc(t.timeout, func() { t.expire(key, e) })
	t.entries[key] = e
}

func (t *Tracker) expire(key Key, e *entry) {
	t.mu.Lock()
	if current, ok := t.entries[key]; !ok || current != e {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(key)
	}
}

// Cancel drops the key without firing onExpire.
func (t *Tracker) Cancel(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, key)
	return true
}

// CancelConnection drops every key held by connID and returns how many.
func (t *Tracker) CancelConnection(connID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for key, e := range t.entries {
		if key.ConnectionID != connID {
			continue
		}
		e.timer.Stop()
		delete(t.entries, key)
		n++
	}
	return n
}

// Stop cancels every pending timer; later Touch calls are ignored.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for key, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, key)
	}
}
