// ABOUTME: Fixed-window per-address admission limiter for incoming connections.
// ABOUTME: Counts admissions per remote address; stale windows are pruned on sweep.

package gateway

import (
	"sync"
	"time"
)

// Default admission gate parameters.
const (
	DefaultAdmissionLimit  = 100
	DefaultAdmissionWindow = 60 * time.Second
)

type admissionWindow struct {
	start time.Time
	count int
}

// AddressLimiter admits up to limit connections per window per remote
// address. The window is fixed, not sliding: the counter resets when the
// window elapses.
type AddressLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*admissionWindow

	now func() time.Time
}

// NewAddressLimiter creates a limiter. Non-positive parameters fall back
// to the defaults.
func NewAddressLimiter(limit int, window time.Duration) *AddressLimiter {
	if limit <= 0 {
		limit = DefaultAdmissionLimit
	}
	if window <= 0 {
		window = DefaultAdmissionWindow
	}
	return &AddressLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*admissionWindow),
		now:     time.Now,
	}
}

// Allow consumes one admission for addr, reporting whether it fits in the
// current window.
func (l *AddressLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[addr]
	if !ok || now.Sub(w.start) >= l.window {
		w = &admissionWindow{start: now}
		l.windows[addr] = w
	}
	w.count++
	return w.count <= l.limit
}

// Prune drops expired windows so idle addresses don't accumulate.
func (l *AddressLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for addr, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, addr)
		}
	}
}
