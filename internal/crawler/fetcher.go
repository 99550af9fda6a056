package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/clinic-crawler/internal/logging"
	"github.com/JakeFAU/clinic-crawler/internal/metrics"
)

// RetryingFetcher applies the courtesy throttle, the optional ceiling limiter,
// and the bounded retry policy around a single-attempt Transport.
type RetryingFetcher struct {
	transport Transport
	policy    BackoffPolicy
	throttle  *Throttle
	limiter   Waiter
	pauser    pauseController
	logger    *zap.Logger
}

// FetcherOption customizes a RetryingFetcher.
type FetcherOption func(*RetryingFetcher)

// WithLimiter adds a ceiling limiter consulted before every attempt.
func WithLimiter(limiter Waiter) FetcherOption {
	return func(f *RetryingFetcher) {
		f.limiter = limiter
	}
}

// NewRetryingFetcher wires a transport to its retry and throttle policy.
func NewRetryingFetcher(
	transport Transport,
	policy BackoffPolicy,
	throttle *Throttle,
	logger *zap.Logger,
	opts ...FetcherOption,
) *RetryingFetcher {
	if throttle == nil {
		throttle = NewThrottle(policy.MinDelay, policy.MaxDelay, policy.Jitter, nil)
	}
	f := &RetryingFetcher{
		transport: transport,
		policy:    policy,
		throttle:  throttle,
		pauser:    &timerPauseController{},
		logger:    logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch runs the retry state machine for url until it succeeds, fails
// terminally, or exhausts MaxRetries retries.
func (f *RetryingFetcher) Fetch(ctx context.Context, url string) FetchOutcome {
	start := time.Now()
	state := retryState{}
	for {
		if err := f.beforeAttempt(ctx, url); err != nil {
			return f.abort(url, state, err, start)
		}

		out := f.transport.Get(ctx, url)
		metrics.ObserveAttempt(url, out.Kind.String())

		state = f.policy.advance(state, out)
		if state.done {
			final := state.outcome
			final.Duration = time.Since(start)
			if !final.OK() {
				f.logger.Error("fetch failed",
					zap.String("url", url),
					zap.Int("attempts", final.Attempts),
					zap.Int("status_code", final.StatusCode),
					zap.Error(final.Reason),
				)
			}
			return final
		}

		f.logger.Warn("fetch attempt failed; retrying",
			zap.String("url", url),
			zap.Int("attempt", state.attempts),
			zap.Int("max_retries", f.policy.MaxRetries),
			zap.Int("status_code", out.StatusCode),
			zap.Duration("backoff", state.nextDelay),
			zap.Error(state.lastErr),
		)
		metrics.ObserveRetry(url)
		f.pauser.Pause(ctx, state.nextDelay)
	}
}

func (f *RetryingFetcher) beforeAttempt(ctx context.Context, url string) error {
	delay, err := f.throttle.Wait(ctx)
	if err != nil {
		return fmt.Errorf("courtesy delay: %w", err)
	}
	if delay > 0 {
		metrics.ObserveCourtesyDelay(delay)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return err
		}
	}
	return nil
}

func (f *RetryingFetcher) abort(url string, state retryState, err error, start time.Time) FetchOutcome {
	out := TerminalFailure(url, 0, err)
	out.Attempts = state.attempts
	out.Duration = time.Since(start)
	return out
}
