package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps windows in process. Expired windows are swept at most
// once per window length.
type MemoryLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	windows   map[string]*window
	lastSweep time.Time
}

type window struct {
	count int
	reset time.Time
}

func NewMemory(limit int, length time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  length,
		windows: make(map[string]*window),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.window {
		for k, w := range l.windows {
			if now.After(w.reset) {
				delete(l.windows, k)
			}
		}
		l.lastSweep = now
	}

	w, ok := l.windows[key]
	if !ok || now.After(w.reset) {
		l.windows[key] = &window{count: 1, reset: now.Add(l.window)}
		return true, 0, nil
	}
	if w.count >= l.limit {
		return false, max(w.reset.Sub(now), 0), nil
	}
	w.count++
	return true, 0, nil
}
