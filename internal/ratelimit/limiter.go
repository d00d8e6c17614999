// Package ratelimit bounds outbound vendor API calls with a sliding
// window. One limiter instance may be shared by every goroutine in a
// worker process; the prune-check-record sequence runs under a single
// mutex.
package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow admits at most budget acquisitions within any interval of
// length window.
type SlidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	budget int
	stamps []time.Time
	now    func() time.Time
}

func NewSlidingWindow(budget int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		window: window,
		budget: budget,
		now:    time.Now,
	}
}

// TryAcquire records one call if the budget allows it. Rejections record
// nothing; callers must wait or surface a rate-limit error, never drop the
// request silently.
func (l *SlidingWindow) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.stamps) >= l.budget {
		return false
	}
	l.stamps = append(l.stamps, now)
	return true
}

// TimeUntilNextSlot reports how long until the oldest recorded call ages
// out of the window. Zero means a slot is available now.
func (l *SlidingWindow) TimeUntilNextSlot() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	if len(l.stamps) < l.budget {
		return 0
	}
	return l.stamps[0].Add(l.window).Sub(now)
}

// prune drops timestamps older than the window. Caller holds the mutex.
func (l *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}
