package idempotency

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pebblestore "github.com/tlgselvi/desewebv5-gitops-sub006/internal/storage/pebble"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type clockedStore interface {
	Store
	SetClock(func() time.Time)
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) clockedStore) {
	ctx := context.Background()

	t.Run("AcquireIsExclusive", func(t *testing.T) {
		s := newStore(t)
		ok, _, err := s.Acquire(ctx, "k", "a", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		ok, cur, err := s.Acquire(ctx, "k", "b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NotNil(t, cur)
		assert.Equal(t, StatusProcessing, cur.Status)
		assert.Equal(t, "a", cur.Owner)
	})

	t.Run("CompleteThenGet", func(t *testing.T) {
		s := newStore(t)
		_, _, err := s.Acquire(ctx, "k", "a", time.Minute)
		require.NoError(t, err)
		require.NoError(t, s.Complete(ctx, "k", "a", []byte(`{"ok":true}`), time.Hour))

		r, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, StatusCompleted, r.Status)
		assert.JSONEq(t, `{"ok":true}`, string(r.Result))

		ok, cur, err := s.Acquire(ctx, "k", "b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, StatusCompleted, cur.Status)
	})

	t.Run("FailedIsReacquirable", func(t *testing.T) {
		s := newStore(t)
		_, _, _ = s.Acquire(ctx, "k", "a", time.Minute)
		require.NoError(t, s.Fail(ctx, "k", "a", "boom", time.Hour))

		r, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, r.Status)
		assert.Equal(t, "boom", r.Error)

		ok, _, err := s.Acquire(ctx, "k", "b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ExpiredProcessingIsReacquirable", func(t *testing.T) {
		s := newStore(t)
		c := &clock{t: time.Unix(1_700_000_000, 0)}
		s.SetClock(c.now)
		_, _, _ = s.Acquire(ctx, "k", "a", time.Minute)
		c.advance(2 * time.Minute)

		r, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Nil(t, r)

		ok, _, err := s.Acquire(ctx, "k", "b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.ErrorIs(t, s.Complete(ctx, "k", "a", nil, time.Hour), ErrNotOwner)
		assert.NoError(t, s.Complete(ctx, "k", "b", nil, time.Hour))
	})

	t.Run("CompleteWithoutAcquire", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Complete(ctx, "missing", "a", nil, time.Hour), ErrNotOwner)
		assert.ErrorIs(t, s.Fail(ctx, "missing", "a", "x", time.Hour), ErrNotOwner)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) clockedStore { return NewMemoryStore() })
}

func openDB(t *testing.T) *pebblestore.DB {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPebbleStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) clockedStore { return NewPebbleStore(openDB(t)) })
}

func TestPebbleStoreSweep(t *testing.T) {
	ctx := context.Background()
	s := NewPebbleStore(openDB(t))
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s.SetClock(c.now)
	for _, k := range []string{"a", "b", "c"} {
		_, _, err := s.Acquire(ctx, k, "o", time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, s.Complete(ctx, "c", "o", nil, time.Hour))
	c.advance(2 * time.Minute)

	n, err := s.Sweep(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	r, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	s.SetClock(c.now)
	_, _, _ = s.Acquire(ctx, "a", "o", time.Minute)
	c.advance(time.Hour)
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestPostgresStore runs against a live database when
// EVENT_BUS_TEST_POSTGRES_DSN is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("EVENT_BUS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EVENT_BUS_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, pool, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = pool.Exec(ctx, `DELETE FROM idempotency_records WHERE key LIKE 'test:%'`)
	require.NoError(t, err)

	key := "test:" + time.Now().Format(time.RFC3339Nano)
	ok, _, err := s.Acquire(ctx, key, "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, cur, err := s.Acquire(ctx, key, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StatusProcessing, cur.Status)

	require.NoError(t, s.Fail(ctx, key, "a", "boom", time.Hour))
	ok, _, err = s.Acquire(ctx, key, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, s.Complete(ctx, key, "b", []byte("42"), time.Hour))

	r, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, []byte("42"), r.Result)
}
