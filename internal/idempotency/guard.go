package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/backoff"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/buserr"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/metrics"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

// FailMode decides what happens when the store cannot be reached.
type FailMode string

const (
	// FailOpen runs the operation without deduplication.
	FailOpen FailMode = "open"
	// FailClosed refuses with buserr.ErrStoreUnavailable.
	FailClosed FailMode = "closed"
)

// ParseFailMode accepts "open" and "closed"; anything else is open.
func ParseFailMode(s string) FailMode {
	if s == string(FailClosed) {
		return FailClosed
	}
	return FailOpen
}

// Outcome says how Run satisfied a call.
type Outcome int

const (
	// Executed means fn ran under the key.
	Executed Outcome = iota
	// Replayed means a stored result was returned and fn did not run.
	Replayed
	// Bypassed means the store was unreachable and fn ran unguarded.
	Bypassed
)

func (o Outcome) String() string {
	switch o {
	case Replayed:
		return "replayed"
	case Bypassed:
		return "bypassed"
	default:
		return "executed"
	}
}

// Options configures a Guard. Zero fields take the defaults below.
type Options struct {
	TTL           time.Duration // completed records, default 24h
	ProcessingTTL time.Duration // in-flight marker, default 5m
	FailedTTL     time.Duration // failed records, default 1h
	WaitTimeout   time.Duration // polling budget, default 5s
	PollInitial   time.Duration // default 50ms
	PollMax       time.Duration // default 500ms
	FailMode      FailMode

	// BreakerFailures consecutive store errors open the breaker (default 5);
	// it half-opens after BreakerTimeout (default 30s).
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	Logger  log.Logger
	Metrics *metrics.Metrics
}

func (o *Options) defaults() {
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	if o.ProcessingTTL <= 0 {
		o.ProcessingTTL = 5 * time.Minute
	}
	if o.FailedTTL <= 0 {
		o.FailedTTL = time.Hour
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 5 * time.Second
	}
	if o.PollInitial <= 0 {
		o.PollInitial = 50 * time.Millisecond
	}
	if o.PollMax <= 0 {
		o.PollMax = 500 * time.Millisecond
	}
	if o.FailMode == "" {
		o.FailMode = FailOpen
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
}

// Guard runs operations at most once per key across retries and processes
// sharing the store.
type Guard struct {
	store   Store
	opts    Options
	breaker *gobreaker.CircuitBreaker
	logger  log.Logger
	metrics *metrics.Metrics
	newID   func() string
}

// NewGuard returns a Guard over store.
func NewGuard(store Store, opts Options) *Guard {
	opts.defaults()
	logger := opts.Logger.With(log.Component("idempotency"))
	settings := gobreaker.Settings{
		Name:        "idempotency-store",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				log.Str("breaker", name), log.Str("from", from.String()), log.Str("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotOwner) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	}
	return &Guard{
		store:   store,
		opts:    opts,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
		metrics: opts.Metrics,
		newID:   uuid.NewString,
	}
}

// FailMode returns the configured mode.
func (g *Guard) FailMode() FailMode { return g.opts.FailMode }

// BreakerState exposes the store breaker state for health reporting.
func (g *Guard) BreakerState() string { return g.breaker.State().String() }

// Execute is Run without the outcome. ttl <= 0 means Options.TTL.
func (g *Guard) Execute(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	res, _, err := g.Run(ctx, key, ttl, fn)
	return res, err
}

// Do is Execute for JSON-serializable results.
func Do[T any](ctx context.Context, g *Guard, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := g.Execute(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if len(raw) == 0 {
		return zero, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("idempotency: decode stored result for %q: %w", key, err)
	}
	return out, nil
}

// Run executes fn at most once for key. A completed key returns its stored
// result. A key held by another execution is polled until it resolves or
// WaitTimeout passes, which yields *buserr.StillProcessingError. Errors from
// fn are recorded as failed with FailedTTL and returned unchanged.
func (g *Guard) Run(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) ([]byte, error)) ([]byte, Outcome, error) {
	if ttl <= 0 {
		ttl = g.opts.TTL
	}
	owner := g.newID()
	start := time.Now()
	delay := g.opts.PollInitial
	for {
		acquired, cur, err := g.acquire(ctx, key, owner)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return nil, Executed, cerr
			}
			return g.storeDown(ctx, key, fn, err)
		}
		if acquired {
			break
		}
		if cur != nil && cur.Status == StatusCompleted {
			g.metrics.IncIdempotency("replayed")
			g.logger.Debug("returning stored result", log.Str("key", key))
			return cur.Result, Replayed, nil
		}
		waited := time.Since(start)
		if waited >= g.opts.WaitTimeout {
			g.metrics.IncIdempotency("still_processing")
			return nil, Executed, &buserr.StillProcessingError{Key: key, Waited: waited}
		}
		wait := delay
		if remaining := g.opts.WaitTimeout - waited; wait > remaining {
			wait = remaining
		}
		if err := backoff.Sleep(ctx, wait); err != nil {
			return nil, Executed, err
		}
		if delay *= 2; delay > g.opts.PollMax {
			delay = g.opts.PollMax
		}
	}

	res, ferr := fn(ctx)
	if ferr != nil {
		g.metrics.IncIdempotency("failed")
		if err := g.finish(ctx, func(ctx context.Context) error {
			return g.store.Fail(ctx, key, owner, ferr.Error(), g.opts.FailedTTL)
		}); err != nil {
			g.logger.Warn("failed to record failure", log.Str("key", key), log.Err(err))
		}
		return nil, Executed, ferr
	}
	g.metrics.IncIdempotency("executed")
	if err := g.finish(ctx, func(ctx context.Context) error {
		return g.store.Complete(ctx, key, owner, res, ttl)
	}); err != nil {
		g.logger.Warn("failed to record result", log.Str("key", key), log.Err(err))
	}
	return res, Executed, nil
}

func (g *Guard) acquire(ctx context.Context, key, owner string) (bool, *Record, error) {
	type result struct {
		acquired bool
		cur      *Record
	}
	v, err := g.breaker.Execute(func() (interface{}, error) {
		ok, cur, err := g.store.Acquire(ctx, key, owner, g.opts.ProcessingTTL)
		return result{ok, cur}, err
	})
	if err != nil {
		return false, nil, err
	}
	r := v.(result)
	return r.acquired, r.cur, nil
}

// finish records the outcome on a context that survives caller
// cancellation, so a finished handler is never left marked processing.
func (g *Guard) finish(ctx context.Context, op func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, op(ctx)
	})
	return err
}

func (g *Guard) storeDown(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error), cause error) ([]byte, Outcome, error) {
	g.metrics.IncIdempotency("store_error")
	if g.opts.FailMode == FailClosed {
		g.logger.Error("idempotency store unavailable, refusing", log.Str("key", key), log.Err(cause))
		return nil, Executed, fmt.Errorf("%w: %w", buserr.ErrStoreUnavailable, cause)
	}
	g.logger.Warn("idempotency store unavailable, executing without deduplication", log.Str("key", key), log.Err(cause))
	g.metrics.IncIdempotency("bypassed")
	res, err := fn(ctx)
	return res, Bypassed, err
}
