// Package retry implements the shared retry policy used for Telegram API
// calls: exponential backoff for transient failures and server-dictated
// pauses for rate limits.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mymmrac/telego/telegoapi"
)

// Class describes how an error should be handled by the policy.
type Class int

const (
	// ClassTransient errors are retried with exponential backoff.
	ClassTransient Class = iota
	// ClassRateLimited errors carry a server-provided wait duration.
	ClassRateLimited
	// ClassPermanent errors are returned immediately without retrying.
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimited:
		return "rate_limited"
	case ClassPermanent:
		return "permanent"
	}
	return "unknown"
}

// Classify inspects err and returns its retry class. For rate-limited
// errors the returned duration is the server-requested wait; it is zero
// for all other classes.
func Classify(err error) (Class, time.Duration) {
	if err == nil {
		return ClassPermanent, 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassPermanent, 0
	}

	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode == 429 {
			wait := 5 * time.Second
			if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
				wait = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
			}
			return ClassRateLimited, wait
		}
		if apiErr.ErrorCode >= 400 && apiErr.ErrorCode < 500 {
			return ClassPermanent, 0
		}
		return ClassTransient, 0
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient, 0
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "timed out", "connection", "reset by peer", "unreachable", "broken pipe", "eof"} {
		if strings.Contains(msg, marker) {
			return ClassTransient, 0
		}
	}

	// Unknown errors are retried; a second attempt is cheap and the
	// Telegram API surfaces sporadic failures with opaque messages.
	return ClassTransient, 0
}

// RetryAfter reports whether err is a rate-limit error and, if so, how
// long the server asked to wait.
func RetryAfter(err error) (time.Duration, bool) {
	class, wait := Classify(err)
	if class != ClassRateLimited {
		return 0, false
	}
	return wait, true
}

// Policy drives retries for a single operation. The zero value is not
// usable; construct with the fields set.
type Policy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts int
	// BaseDelay is the backoff for the first retry; it doubles on each
	// subsequent transient failure.
	BaseDelay time.Duration
	// Sleep is swapped out in tests. When nil a context-aware timer
	// sleep is used.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op until it succeeds, fails permanently, or the attempt budget
// is exhausted. Rate-limit waits consume an attempt but sleep for the
// server-requested duration instead of the backoff.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		class, wait := Classify(lastErr)
		if class == ClassPermanent {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		if class == ClassRateLimited {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}

	return fmt.Errorf("%s: all %d attempts failed: %w", name, attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
