package crawler

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 7, 8, 18, 0, 27, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// advancingPauser moves the fake clock instead of sleeping.
type advancingPauser struct {
	mu     sync.Mutex
	clock  *fakeClock
	pauses []time.Duration
}

func (p *advancingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	p.pauses = append(p.pauses, d)
	p.mu.Unlock()
	p.clock.advance(d)
}

type seededJitter struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSeededJitter() *seededJitter {
	return &seededJitter{rng: rand.New(rand.NewPCG(7, 11))}
}

func (j *seededJitter) Between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return lo + time.Duration(j.rng.Int64N(int64(hi-lo)+1))
}

// scriptedTransport replays outcomes in order, repeating the last one.
type scriptedTransport struct {
	mu       sync.Mutex
	outcomes []FetchOutcome
	clock    *fakeClock
	calls    int
	starts   []time.Time
}

func (s *scriptedTransport) Get(_ context.Context, url string) FetchOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	}
	s.calls++
	if s.clock != nil {
		s.starts = append(s.starts, s.clock.Now())
	}
	out := s.outcomes[idx]
	out.URL = url
	return out
}

func newTestFetcher(t *testing.T, transport *scriptedTransport, policy BackoffPolicy) (*RetryingFetcher, *advancingPauser) {
	t.Helper()
	clock := transport.clock
	if clock == nil {
		clock = newFakeClock()
		transport.clock = clock
	}
	pauser := &advancingPauser{clock: clock}
	throttle := NewThrottle(policy.MinDelay, policy.MaxDelay, policy.Jitter, clock)
	throttle.pauser = pauser
	f := NewRetryingFetcher(transport, policy, throttle, zaptest.NewLogger(t))
	f.pauser = pauser
	return f, pauser
}

func serverError() FetchOutcome {
	return RetryableFailure("", http.StatusInternalServerError, errors.New("Internal Server Error"))
}

func TestRetryingFetcherExactRetryCount(t *testing.T) {
	t.Parallel()

	for _, maxRetries := range []int{1, 2, 3, 5} {
		transport := &scriptedTransport{outcomes: []FetchOutcome{serverError()}}
		f, _ := newTestFetcher(t, transport, BackoffPolicy{MaxRetries: maxRetries, Base: time.Second, Cap: time.Minute})

		out := f.Fetch(context.Background(), "https://archive.test/our-clinics/")

		require.Equal(t, OutcomeTerminal, out.Kind)
		require.ErrorIs(t, out.Reason, ErrRetriesExhausted)
		require.Equal(t, maxRetries+1, transport.calls, "one attempt plus exactly %d retries", maxRetries)
		require.Equal(t, maxRetries+1, out.Attempts)
		require.Equal(t, http.StatusInternalServerError, out.StatusCode)
	}
}

func TestRetryingFetcherRecoversAfterTransientFailures(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{outcomes: []FetchOutcome{
		serverError(),
		RetryableFailure("", 0, errors.New("connection reset")),
		Success("", http.StatusOK, []byte("<html></html>")),
	}}
	f, _ := newTestFetcher(t, transport, BackoffPolicy{MaxRetries: 3})

	out := f.Fetch(context.Background(), "https://archive.test/clinic")

	require.True(t, out.OK())
	require.Equal(t, 3, out.Attempts)
	require.Equal(t, "<html></html>", string(out.Body))
}

func TestRetryingFetcherStopsOnTerminalOutcome(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{outcomes: []FetchOutcome{
		TerminalFailure("", 0, errors.New("malformed url")),
	}}
	f, _ := newTestFetcher(t, transport, BackoffPolicy{MaxRetries: 4})

	out := f.Fetch(context.Background(), "::bad")

	require.Equal(t, OutcomeTerminal, out.Kind)
	require.Equal(t, 1, transport.calls)
	require.NotErrorIs(t, out.Reason, ErrRetriesExhausted)
}

func TestRetryingFetcherHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{outcomes: []FetchOutcome{serverError()}}
	f, _ := newTestFetcher(t, transport, BackoffPolicy{MaxRetries: 3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.Fetch(ctx, "https://archive.test/")

	require.Equal(t, OutcomeTerminal, out.Kind)
	require.ErrorIs(t, out.Reason, context.Canceled)
	require.Zero(t, transport.calls)
}

func TestRetryingFetcherBackoffSchedule(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{outcomes: []FetchOutcome{serverError()}}
	policy := BackoffPolicy{MaxRetries: 4, Base: time.Second, Cap: 5 * time.Second}
	f, pauser := newTestFetcher(t, transport, policy)

	f.Fetch(context.Background(), "https://archive.test/")

	require.Equal(t,
		[]time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second},
		pauser.pauses,
	)
}

func TestRetryingFetcherCourtesyDelaysWithinWindow(t *testing.T) {
	t.Parallel()

	minDelay, maxDelay := time.Second, 2*time.Second
	transport := &scriptedTransport{outcomes: []FetchOutcome{Success("", http.StatusOK, []byte("ok"))}}
	policy := BackoffPolicy{MaxRetries: 3, MinDelay: minDelay, MaxDelay: maxDelay, Jitter: newSeededJitter()}
	f, _ := newTestFetcher(t, transport, policy)

	for i := 0; i < 25; i++ {
		require.True(t, f.Fetch(context.Background(), "https://archive.test/page").OK())
	}

	require.Len(t, transport.starts, 25)
	for i := 1; i < len(transport.starts); i++ {
		gap := transport.starts[i].Sub(transport.starts[i-1])
		require.GreaterOrEqual(t, gap, minDelay, "gap %d", i)
		require.LessOrEqual(t, gap, maxDelay, "gap %d", i)
	}
}

func TestRetryingFetcherConsultsLimiter(t *testing.T) {
	t.Parallel()

	transport := &scriptedTransport{outcomes: []FetchOutcome{Success("", http.StatusOK, nil)}}
	limiter := &countingWaiter{}
	f, _ := newTestFetcher(t, transport, BackoffPolicy{MaxRetries: 1})
	WithLimiter(limiter)(f)

	f.Fetch(context.Background(), "https://archive.test/a")
	f.Fetch(context.Background(), "https://archive.test/b")
	require.Equal(t, 2, limiter.calls)

	limiter.err = errors.New("limiter closed")
	out := f.Fetch(context.Background(), "https://archive.test/c")
	require.Equal(t, OutcomeTerminal, out.Kind)
	require.Equal(t, 2, transport.calls)
}

type countingWaiter struct {
	calls int
	err   error
}

func (w *countingWaiter) Wait(context.Context, string) error {
	if w.err != nil {
		return w.err
	}
	w.calls++
	return nil
}
