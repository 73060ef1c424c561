// Package retry provides the two waiting policies the distribution workflow
// relies on: a bounded exponential-backoff retry for transient RPC failures
// (log paging, broadcasting) and an unbounded fixed-interval poll for the
// operator-supervised funding wait. Both are context-cancellable and take an
// injectable clock so tests never sleep.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config holds bounded retry configuration.
type Config struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Clock       clockwork.Clock
}

// DefaultConfig returns the retry configuration used for broadcast and
// chain-query calls: 1 initial attempt plus 2 retries with short backoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  10 * time.Second,
	}
}

func (cfg *Config) clock() clockwork.Clock {
	if cfg.Clock == nil {
		return clockwork.NewRealClock()
	}
	return cfg.Clock
}

// Do executes fn with exponential backoff, retrying only errors classified as
// transient by IsRetryable. The last error is returned once attempts are
// exhausted.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	clock := cfg.clock()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := calculateBackoff(cfg.BaseBackoff, cfg.MaxBackoff, attempt-1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// Poll invokes fn at the given interval until it reports done, the context is
// cancelled, or fn returns an error. There is no attempt bound: the funding
// wait is supervised by the operator, not by a timeout. Cancellation is only
// observed between attempts, never mid-call.
func Poll(ctx context.Context, clock clockwork.Clock, interval time.Duration, fn func() (done bool, err error)) error {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	for {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clock.After(interval):
		}
	}
}

// IsRetryable reports whether an error is worth retrying. Rejections carry a
// chain-level code and are never retried; transport-level failures are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Permanent chain-side rejections (bad tx, invalid sequence) must
	// surface to the operator immediately.
	type rejected interface{ Rejected() bool }
	var rej rejected
	if errors.As(err, &rej) && rej.Rejected() {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	type hasStatusCode interface{ StatusCode() int }
	var sc hasStatusCode
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"broken pipe",
		"eof",
		"timeout",
		"temporary failure",
		"service unavailable",
		"rate limit",
		"too many requests",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// calculateBackoff returns base * 2^attempt capped at max, with jitter in
// [0.5, 1.0) to spread out concurrent retries.
func calculateBackoff(base, max time.Duration, attempt int) time.Duration {
	backoff := base * time.Duration(1<<uint(attempt))
	if backoff > max {
		backoff = max
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(backoff) * jitter)
}
