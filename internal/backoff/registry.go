// Package backoff tracks per-operation-class throttling windows and in-flight flags.
package backoff

import (
	"sync"
	"time"
)

// Class names a family of requests that share a throttling window.
type Class string

const (
	ClassPoll  Class = "poll"
	ClassSend  Class = "send"
	ClassMark  Class = "mark"
	ClassOther Class = "other"
)

// MinRetryAfter is the floor applied to every throttling window.
const MinRetryAfter = 3 * time.Second

// Registry maps a class to the time it becomes available again.
// One Registry is owned by the application root and injected into every component.
type Registry struct {
	mu       sync.Mutex
	until    map[Class]time.Time
	inFlight map[string]struct{}
	now      func() time.Time
}

// NewRegistry builds a Registry reading time from now (time.Now when nil).
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		until:    make(map[Class]time.Time),
		inFlight: make(map[string]struct{}),
		now:      now,
	}
}

// Now returns the registry clock.
func (r *Registry) Now() time.Time {
	return r.now()
}

// Throttle closes class for max(MinRetryAfter, retryAfter) and returns when it reopens.
// A later deadline already in place is kept.
func (r *Registry) Throttle(class Class, retryAfter time.Duration) time.Time {
	if retryAfter < MinRetryAfter {
		retryAfter = MinRetryAfter
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	until := r.now().Add(retryAfter)
	if cur, ok := r.until[class]; ok && cur.After(until) {
		return cur
	}
	r.until[class] = until
	return until
}

// Remaining returns how long class stays closed, zero when it is available.
func (r *Registry) Remaining(class Class) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.until[class]
	if !ok {
		return 0
	}
	left := until.Sub(r.now())
	if left <= 0 {
		delete(r.until, class)
		return 0
	}
	return left
}

// Until returns the reopening time of class and whether it is currently closed.
func (r *Registry) Until(class Class) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.until[class]
	if !ok {
		return time.Time{}, false
	}
	if !until.After(r.now()) {
		delete(r.until, class)
		return time.Time{}, false
	}
	return until, true
}

// Blocked reports whether class is inside a throttling window.
func (r *Registry) Blocked(class Class) bool {
	return r.Remaining(class) > 0
}

// Reset clears the window for class.
func (r *Registry) Reset(class Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.until, class)
}

// TryAcquire marks key as in flight. It returns false when key is already held.
// The flag is advisory; it keeps a component from overlapping its own requests.
func (r *Registry) TryAcquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inFlight[key]; busy {
		return false
	}
	r.inFlight[key] = struct{}{}
	return true
}

// Release clears the in-flight flag for key.
func (r *Registry) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, key)
}

// InFlight reports whether key is held.
func (r *Registry) InFlight(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.inFlight[key]
	return busy
}
