package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/buserr"
)

// downStore fails every call.
type downStore struct{ calls atomic.Int32 }

var errDown = errors.New("connection refused")

func (s *downStore) Get(context.Context, string) (*Record, error) {
	s.calls.Add(1)
	return nil, errDown
}

func (s *downStore) Acquire(context.Context, string, string, time.Duration) (bool, *Record, error) {
	s.calls.Add(1)
	return false, nil, errDown
}

func (s *downStore) Complete(context.Context, string, string, []byte, time.Duration) error {
	s.calls.Add(1)
	return errDown
}

func (s *downStore) Fail(context.Context, string, string, string, time.Duration) error {
	s.calls.Add(1)
	return errDown
}

func fastOptions() Options {
	return Options{WaitTimeout: 300 * time.Millisecond, PollInitial: 5 * time.Millisecond, PollMax: 20 * time.Millisecond}
}

func TestExecuteReplaysCompleted(t *testing.T) {
	g := NewGuard(NewMemoryStore(), fastOptions())
	ctx := context.Background()
	var runs atomic.Int32
	fn := func(context.Context) ([]byte, error) {
		runs.Add(1)
		return []byte("result"), nil
	}

	res, outcome, err := g.Run(ctx, "k", 0, fn)
	require.NoError(t, err)
	assert.Equal(t, Executed, outcome)
	assert.Equal(t, []byte("result"), res)

	res, outcome, err = g.Run(ctx, "k", 0, fn)
	require.NoError(t, err)
	assert.Equal(t, Replayed, outcome)
	assert.Equal(t, []byte("result"), res)
	assert.EqualValues(t, 1, runs.Load())
}

func TestFailureAllowsRetry(t *testing.T) {
	store := NewMemoryStore()
	g := NewGuard(store, fastOptions())
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := g.Execute(ctx, "k", 0, func(context.Context) ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	r, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "boom", r.Error)
	assert.WithinDuration(t, time.Now().Add(time.Hour), r.ExpiresAt, time.Minute)

	res, err := g.Execute(ctx, "k", 0, func(context.Context) ([]byte, error) { return []byte("ok"), nil })
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), res)
}

func TestConcurrentCallersRunOnce(t *testing.T) {
	g := NewGuard(NewMemoryStore(), Options{WaitTimeout: 2 * time.Second, PollInitial: 5 * time.Millisecond, PollMax: 20 * time.Millisecond})
	var runs atomic.Int32
	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := g.Execute(context.Background(), "k", 0, func(context.Context) ([]byte, error) {
				runs.Add(1)
				time.Sleep(50 * time.Millisecond)
				return []byte("once"), nil
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, runs.Load())
	for _, r := range results {
		assert.Equal(t, []byte("once"), r)
	}
}

func TestStillProcessingAfterWait(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ok, _, err := store.Acquire(ctx, "k", "other", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	g := NewGuard(store, fastOptions())
	start := time.Now()
	_, err = g.Execute(ctx, "k", 0, func(context.Context) ([]byte, error) {
		t.Fatal("must not run")
		return nil, nil
	})
	var sp *buserr.StillProcessingError
	require.ErrorAs(t, err, &sp)
	assert.Equal(t, "k", sp.Key)
	assert.True(t, buserr.IsRetryable(err))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestWaiterTakesOverAfterOwnerFails(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _, _ = store.Acquire(ctx, "k", "other", time.Minute)

	g := NewGuard(store, Options{WaitTimeout: 2 * time.Second, PollInitial: 5 * time.Millisecond, PollMax: 10 * time.Millisecond})
	go func() {
		time.Sleep(40 * time.Millisecond)
		_ = store.Fail(ctx, "k", "other", "crashed", time.Hour)
	}()
	res, outcome, err := g.Run(ctx, "k", 0, func(context.Context) ([]byte, error) { return []byte("mine"), nil })
	require.NoError(t, err)
	assert.Equal(t, Executed, outcome)
	assert.Equal(t, []byte("mine"), res)
}

func TestFailOpenRunsUnguarded(t *testing.T) {
	g := NewGuard(&downStore{}, fastOptions())
	res, outcome, err := g.Run(context.Background(), "k", 0, func(context.Context) ([]byte, error) { return []byte("x"), nil })
	require.NoError(t, err)
	assert.Equal(t, Bypassed, outcome)
	assert.Equal(t, []byte("x"), res)
}

func TestFailClosedRefuses(t *testing.T) {
	opts := fastOptions()
	opts.FailMode = FailClosed
	g := NewGuard(&downStore{}, opts)
	_, err := g.Execute(context.Background(), "k", 0, func(context.Context) ([]byte, error) {
		t.Fatal("must not run")
		return nil, nil
	})
	require.ErrorIs(t, err, buserr.ErrStoreUnavailable)
	assert.True(t, buserr.IsRetryable(err))
}

func TestBreakerStopsCallingDeadStore(t *testing.T) {
	store := &downStore{}
	opts := fastOptions()
	opts.BreakerFailures = 3
	opts.BreakerTimeout = time.Hour
	g := NewGuard(store, opts)
	for i := 0; i < 10; i++ {
		_, _ = g.Execute(context.Background(), "k", 0, func(context.Context) ([]byte, error) { return nil, nil })
	}
	assert.EqualValues(t, 3, store.calls.Load())
	assert.Equal(t, "open", g.BreakerState())
}

func TestDoRoundTripsValues(t *testing.T) {
	type receipt struct {
		ID    string `json:"id"`
		Total int    `json:"total"`
	}
	g := NewGuard(NewMemoryStore(), fastOptions())
	ctx := context.Background()
	var runs int
	fn := func(context.Context) (receipt, error) {
		runs++
		return receipt{ID: "r1", Total: 7}, nil
	}
	first, err := Do(ctx, g, "k", time.Hour, fn)
	require.NoError(t, err)
	second, err := Do(ctx, g, "k", time.Hour, fn)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, runs)
}

func TestParseFailMode(t *testing.T) {
	assert.Equal(t, FailClosed, ParseFailMode("closed"))
	assert.Equal(t, FailOpen, ParseFailMode("open"))
	assert.Equal(t, FailOpen, ParseFailMode(""))
}
