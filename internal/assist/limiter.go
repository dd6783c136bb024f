package assist

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter throttles assist calls per user. The sidecar is metered, so
// one noisy client must not exhaust the shared quota.
type Limiter struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 0.5
	}
	if burst <= 0 {
		burst = 3
	}
	return &Limiter{m: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (l *Limiter) get(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.m[userID]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.m[userID] = lim
	return lim
}

// Allow reports whether userID may make an assist call right now.
func (l *Limiter) Allow(userID string) bool {
	return l.get(userID).Allow()
}
