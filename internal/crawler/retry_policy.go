package crawler

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// BackoffPolicy bounds the retry loop of a fetch. Retry k waits a courtesy
// draw from [MinDelay, MaxDelay] plus Base·2^(k-1), the penalty capped at Cap.
type BackoffPolicy struct {
	MaxRetries int
	MinDelay   time.Duration
	MaxDelay   time.Duration
	Base       time.Duration
	Cap        time.Duration
	Jitter     Jitter
}

// Backoff returns the wait duration before retry number retry (1-based).
func (p BackoffPolicy) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	penalty := float64(p.Base) * math.Pow(2, float64(retry-1))
	if p.Cap > 0 && penalty > float64(p.Cap) {
		penalty = float64(p.Cap)
	}
	return p.jitter().Between(p.MinDelay, p.MaxDelay) + time.Duration(penalty)
}

func (p BackoffPolicy) jitter() Jitter {
	if p.Jitter == nil {
		return cryptoJitter{}
	}
	return p.Jitter
}

// retryState is the explicit state of one fetch's retry loop.
type retryState struct {
	attempts  int
	retries   int
	lastErr   error
	nextDelay time.Duration
	done      bool
	outcome   FetchOutcome
}

// advance folds one attempt's outcome into the state. Once done is set,
// outcome holds the final result; otherwise nextDelay is the wait before the
// next attempt.
func (p BackoffPolicy) advance(s retryState, out FetchOutcome) retryState {
	s.attempts++
	s.nextDelay = 0
	switch out.Kind {
	case OutcomeSuccess:
		s.done = true
		s.outcome = out
	case OutcomeTerminal:
		s.lastErr = out.Reason
		s.done = true
		s.outcome = out
	default:
		reason := out.Reason
		if reason == nil {
			reason = errors.New("unclassified fetch failure")
		}
		s.lastErr = reason
		if s.retries >= p.MaxRetries {
			s.done = true
			s.outcome = TerminalFailure(out.URL, out.StatusCode,
				fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, s.attempts, reason))
			break
		}
		s.retries++
		s.nextDelay = p.Backoff(s.retries)
	}
	if s.done {
		s.outcome.Attempts = s.attempts
	}
	return s
}

// cryptoJitter draws uniformly using crypto/rand.
type cryptoJitter struct{}

func (cryptoJitter) Between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	bound := big.NewInt(int64(hi-lo) + 1)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return lo + (hi-lo)/2
	}
	return lo + time.Duration(n.Int64())
}
