package crawler

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/clinic-crawler/internal/clock/system"
)

// visitTracker records clinic URLs whose page has already been fetched.
type visitTracker interface {
	Seen(url string) bool
	Mark(url string)
}

type concurrentVisitTracker struct {
	seen sync.Map
}

func newConcurrentVisitTracker() *concurrentVisitTracker {
	return &concurrentVisitTracker{}
}

// Seen reports whether url has been marked.
func (t *concurrentVisitTracker) Seen(url string) bool {
	_, ok := t.seen.Load(url)
	return ok
}

// Mark stores url. Empty URLs are ignored.
func (t *concurrentVisitTracker) Mark(url string) {
	if url == "" {
		return
	}
	t.seen.Store(url, struct{}{})
}

// pauseController abstracts how the crawler sleeps between requests.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Throttle spaces request starts by a fresh draw from [min, max]. The lock is
// held while pausing, so concurrent callers queue behind one another and the
// spacing is global.
type Throttle struct {
	mu     sync.Mutex
	min    time.Duration
	max    time.Duration
	jitter Jitter
	clock  Clock
	pauser pauseController
	last   time.Time
}

// NewThrottle builds a courtesy throttle. A nil jitter or clock falls back to
// crypto/rand and the system clock.
func NewThrottle(minDelay, maxDelay time.Duration, jitter Jitter, clock Clock) *Throttle {
	if jitter == nil {
		jitter = cryptoJitter{}
	}
	if clock == nil {
		clock = system.New()
	}
	return &Throttle{
		min:    minDelay,
		max:    maxDelay,
		jitter: jitter,
		clock:  clock,
		pauser: &timerPauseController{},
	}
}

// Wait blocks until the next request may start and returns the drawn
// courtesy delay (zero for the first request).
func (t *Throttle) Wait(ctx context.Context) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var delay time.Duration
	if !t.last.IsZero() {
		delay = t.jitter.Between(t.min, t.max)
		if wait := t.last.Add(delay).Sub(t.clock.Now()); wait > 0 {
			t.pauser.Pause(ctx, wait)
			if err := ctx.Err(); err != nil {
				return delay, err
			}
		}
	}
	t.last = t.clock.Now()
	return delay, nil
}
