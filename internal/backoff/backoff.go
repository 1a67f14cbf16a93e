// Package backoff holds the retry policies used by producers retrying
// appends and by consumer loops recovering from transport errors.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"
)

// Type selects the delay curve.
type Type string

const (
	Exp       Type = "exp"
	ExpJitter Type = "exp-jitter"
	Fixed     Type = "fixed"
	None      Type = "none"
)

// ParseType maps a name to a Type; unknown names yield ok=false.
func ParseType(s string) (Type, bool) {
	switch Type(strings.ToLower(s)) {
	case Exp:
		return Exp, true
	case ExpJitter:
		return ExpJitter, true
	case Fixed:
		return Fixed, true
	case None:
		return None, true
	}
	return "", false
}

// Policy describes how long to wait before attempt n+1.
type Policy struct {
	Type        Type
	Base        time.Duration
	Cap         time.Duration
	Factor      float64
	MaxAttempts uint32 // 0 = unlimited
}

// Default is exp-jitter from 200ms up to 30s, five attempts.
func Default() Policy {
	return Policy{Type: ExpJitter, Base: 200 * time.Millisecond, Cap: 30 * time.Second, Factor: 2.0, MaxAttempts: 5}
}

// ApplyEnv overrides pol from variables named prefix+"_BACKOFF_TYPE",
// "_BACKOFF_BASE_MS", "_BACKOFF_CAP_MS", "_BACKOFF_FACTOR" and
// "_MAX_ATTEMPTS". Malformed values are ignored.
func ApplyEnv(pol *Policy, prefix string) {
	if v := os.Getenv(prefix + "_BACKOFF_TYPE"); v != "" {
		if t, ok := ParseType(v); ok {
			pol.Type = t
		}
	}
	if v := os.Getenv(prefix + "_BACKOFF_BASE_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms >= 0 {
			pol.Base = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv(prefix + "_BACKOFF_CAP_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms >= 0 {
			pol.Cap = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv(prefix + "_BACKOFF_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			pol.Factor = f
		}
	}
	if v := os.Getenv(prefix + "_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			pol.MaxAttempts = uint32(n)
		}
	}
}

// Delay returns the wait before the next try after attempts failures
// (attempts starts at 1).
func (pol Policy) Delay(attempts uint32) time.Duration {
	if attempts == 0 {
		attempts = 1
	}
	switch pol.Type {
	case None:
		return 0
	case Fixed:
		if pol.Base <= 0 {
			return 0
		}
		if pol.Cap > 0 && pol.Base > pol.Cap {
			return pol.Cap
		}
		return pol.Base
	case Exp, ExpJitter:
		base := pol.Base
		if base <= 0 {
			base = 200 * time.Millisecond
		}
		factor := pol.Factor
		if factor <= 0 {
			factor = 2.0
		}
		delay := float64(base) * math.Pow(factor, float64(attempts-1))
		d := time.Duration(delay)
		if delay > float64(math.MaxInt64) {
			d = time.Duration(math.MaxInt64)
		}
		if pol.Cap > 0 && d > pol.Cap {
			d = pol.Cap
		}
		if pol.Type == ExpJitter {
			if d <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(d)))
		}
		return d
	default:
		return 0
	}
}

// Exhausted reports whether attempts has used up the policy.
func (pol Policy) Exhausted(attempts uint32) bool {
	return pol.MaxAttempts > 0 && attempts >= pol.MaxAttempts
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in that case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry calls fn until it succeeds, retryable reports false, the policy is
// exhausted or ctx is done. onRetry, when set, sees each failure before the
// wait. The last error is returned.
func Retry(ctx context.Context, pol Policy, retryable func(error) bool, onRetry func(attempt uint32, err error, wait time.Duration), fn func(ctx context.Context) error) error {
	var attempt uint32
	for {
		attempt++
		err := fn(ctx)
		if err == nil || !retryable(err) || pol.Exhausted(attempt) {
			return err
		}
		wait := pol.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		if serr := Sleep(ctx, wait); serr != nil {
			return err
		}
	}
}
