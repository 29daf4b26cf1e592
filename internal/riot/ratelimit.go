package riot

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Rate limits for a development key (conservative values)
	DefaultRequestsPerSecond = 15 // Actual: 20
	DefaultRequestsPer2Min   = 90 // Actual: 100

	longWindow = 2 * time.Minute
)

// sleepFunc blocks for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// dualLimiter enforces a per-second token budget and a rolling two-minute
// request count. Wait returns once a request may be sent under both.
type dualLimiter struct {
	perSecond *rate.Limiter

	mu        sync.Mutex
	limit     int
	window    time.Duration
	requests  []time.Time // sent within the last window, oldest first
	now       func() time.Time
	sleep     sleepFunc
	onWaiting func(time.Duration)
}

func newDualLimiter(perSecond, perWindow int) *dualLimiter {
	if perSecond <= 0 {
		perSecond = DefaultRequestsPerSecond
	}
	if perWindow <= 0 {
		perWindow = DefaultRequestsPer2Min
	}
	return &dualLimiter{
		perSecond: rate.NewLimiter(rate.Limit(perSecond), perSecond),
		limit:     perWindow,
		window:    longWindow,
		requests:  make([]time.Time, 0, perWindow),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Wait blocks until both budgets allow one more request, then records it.
func (l *dualLimiter) Wait(ctx context.Context) error {
	if err := l.perSecond.Wait(ctx); err != nil {
		return err
	}

	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.requests) < l.limit {
			l.requests = append(l.requests, now)
			l.mu.Unlock()
			return nil
		}

		wait := l.requests[0].Add(l.window).Sub(now)
		l.mu.Unlock()

		if l.onWaiting != nil {
			l.onWaiting(wait)
		}
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// prune drops requests that have left the rolling window. Caller holds mu.
func (l *dualLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.requests) && !l.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.requests = append(l.requests[:0], l.requests[i:]...)
	}
}

// InWindow returns how many requests are counted in the rolling window.
func (l *dualLimiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.requests)
}
