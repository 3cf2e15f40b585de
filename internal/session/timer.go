package session

import (
	"fmt"
	"sync"
	"time"
)

// Timer measures recorded time. It only advances while running and
// reports whole seconds.
type Timer struct {
	now func() time.Time

	mu        sync.Mutex
	banked    time.Duration
	since     time.Time
	running   bool
	finalized bool
}

// NewTimer creates a stopped timer. A nil clock uses time.Now.
func NewTimer(now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{now: now}
}

// Start begins or resumes counting
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running || t.finalized {
		return
	}
	t.running = true
	t.since = t.now()
}

// Pause freezes the count
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bank()
}

// Stop freezes the count for good
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bank()
	t.finalized = true
}

func (t *Timer) bank() {
	if !t.running {
		return
	}
	t.banked += t.now().Sub(t.since)
	t.running = false
}

// Duration returns the recorded time
func (t *Timer) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.banked
	if t.running {
		d += t.now().Sub(t.since)
	}
	return d
}

// Elapsed returns the recorded time in whole seconds
func (t *Timer) Elapsed() int {
	return int(t.Duration() / time.Second)
}

// FormatElapsed renders seconds as MM:SS. Minutes keep counting past 59.
func FormatElapsed(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
