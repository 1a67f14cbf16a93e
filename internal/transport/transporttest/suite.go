// Package transporttest is a conformance suite run against every
// transport.Transport implementation.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/buserr"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport"
)

// Clock is a settable time source shared with the transport under test.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts at a fixed instant.
func NewClock() *Clock { return &Clock{t: time.UnixMilli(1_700_000_000_000)} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Factory builds a fresh transport driven by clock.
type Factory func(t *testing.T, clock *Clock) transport.Transport

// Run executes the suite.
func Run(t *testing.T, newTransport Factory) {
	ctx := context.Background()

	t.Run("AppendOrderAndRange", func(t *testing.T) {
		tr := newTransport(t, NewClock())
		var ids []string
		for i := 0; i < 5; i++ {
			eid, err := tr.Append(ctx, "orders", []byte(fmt.Sprintf("m%d", i)))
			require.NoError(t, err)
			ids = append(ids, eid)
		}
		all, err := tr.Range(ctx, "orders", "", 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, e := range all {
			assert.Equal(t, ids[i], e.ID)
			assert.Equal(t, fmt.Sprintf("m%d", i), string(e.Payload))
			assert.Equal(t, "orders", e.Topic)
		}
		tail, err := tr.Range(ctx, "orders", ids[3], 10)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, ids[3], tail[0].ID)
		_, err = tr.Range(ctx, "orders", "garbage", 1)
		assert.True(t, buserr.IsPermanent(err))
	})

	t.Run("GroupStartsAtTail", func(t *testing.T) {
		tr := newTransport(t, NewClock())
		_, err := tr.Append(ctx, "t", []byte("old"))
		require.NoError(t, err)
		require.NoError(t, tr.EnsureGroup(ctx, "t", "g"))
		require.NoError(t, tr.EnsureGroup(ctx, "t", "g"))
		_, err = tr.Append(ctx, "t", []byte("new"))
		require.NoError(t, err)

		got, err := tr.ReadGroup(ctx, "t", "g", "c1", 10, 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "new", string(got[0].Payload))

		_, err = tr.ReadGroup(ctx, "t", "missing", "c1", 10, 0)
		assert.ErrorIs(t, err, transport.ErrNoGroup)
	})

	t.Run("ReadGroupOrderAndExclusivity", func(t *testing.T) {
		tr := newTransport(t, NewClock())
		require.NoError(t, tr.EnsureGroup(ctx, "t", "g"))
		for i := 0; i < 6; i++ {
			_, err := tr.Append(ctx, "t", []byte{byte('a' + i)})
			require.NoError(t, err)
		}
		first, err := tr.ReadGroup(ctx, "t", "g", "c1", 4, 0)
		require.NoError(t, err)
		second, err := tr.ReadGroup(ctx, "t", "g", "c2", 4, 0)
		require.NoError(t, err)
		require.Len(t, first, 4)
		require.Len(t, second, 2)
		seen := map[string]bool{}
		var order []string
		for _, e := range append(first, second...) {
			assert.False(t, seen[e.ID], "entry %s delivered twice", e.ID)
			seen[e.ID] = true
			order = append(order, string(e.Payload))
		}
		assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, order)

		empty, err := tr.ReadGroup(ctx, "t", "g", "c1", 4, 0)
		require.NoError(t, err)
		assert.Empty(t, empty)

		require.NoError(t, tr.EnsureGroup(ctx, "t", "other"))
		_, err = tr.Append(ctx, "t", []byte("g"))
		require.NoError(t, err)
		other, err := tr.ReadGroup(ctx, "t", "other", "x", 10, 0)
		require.NoError(t, err)
		require.Len(t, other, 1, "groups read independently")
	})

	t.Run("PendingAckIdempotent", func(t *testing.T) {
		clock := NewClock()
		tr := newTransport(t, clock)
		require.NoError(t, tr.EnsureGroup(ctx, "t", "g"))
		a, _ := tr.Append(ctx, "t", []byte("a"))
		b, _ := tr.Append(ctx, "t", []byte("b"))
		_, err := tr.ReadGroup(ctx, "t", "g", "c1", 10, 0)
		require.NoError(t, err)
		clock.Advance(1500 * time.Millisecond)

		pend, err := tr.Pending(ctx, "t", "g")
		require.NoError(t, err)
		require.Len(t, pend, 2)
		assert.Equal(t, transport.PendingEntry{EntryID: a, Consumer: "c1", IdleMs: 1500, DeliveryCount: 1}, pend[0])

		n, err := tr.Ack(ctx, "t", "g", a)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = tr.Ack(ctx, "t", "g", a, "not-an-id")
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		pend, err = tr.Pending(ctx, "t", "g")
		require.NoError(t, err)
		require.Len(t, pend, 1)
		assert.Equal(t, b, pend[0].EntryID)

		all, err := tr.Range(ctx, "t", "", 0)
		require.NoError(t, err)
		assert.Len(t, all, 2, "acked entries stay in the log")
	})

	t.Run("ClaimIdleEntries", func(t *testing.T) {
		clock := NewClock()
		tr := newTransport(t, clock)
		require.NoError(t, tr.EnsureGroup(ctx, "t", "g"))
		a, _ := tr.Append(ctx, "t", []byte("a"))
		_, err := tr.ReadGroup(ctx, "t", "g", "c1", 10, 0)
		require.NoError(t, err)

		got, err := tr.Claim(ctx, "t", "g", "c2", 30*time.Second, a)
		require.NoError(t, err)
		assert.Empty(t, got, "not idle yet")

		clock.Advance(31 * time.Second)
		got, err = tr.Claim(ctx, "t", "g", "c2", 30*time.Second, a)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a", string(got[0].Payload))

		pend, err := tr.Pending(ctx, "t", "g")
		require.NoError(t, err)
		require.Len(t, pend, 1)
		assert.Equal(t, "c2", pend[0].Consumer)
		assert.Equal(t, 2, pend[0].DeliveryCount)
		assert.Equal(t, int64(0), pend[0].IdleMs)

		_, err = tr.Ack(ctx, "t", "g", a)
		require.NoError(t, err)
		got, err = tr.Claim(ctx, "t", "g", "c3", 0, a)
		require.NoError(t, err)
		assert.Empty(t, got, "acked entries cannot be claimed")
	})

	t.Run("BlockingReadWakesOnAppend", func(t *testing.T) {
		tr := newTransport(t, NewClock())
		require.NoError(t, tr.EnsureGroup(ctx, "t", "g"))
		done := make(chan []transport.Entry, 1)
		go func() {
			got, _ := tr.ReadGroup(ctx, "t", "g", "c1", 10, 2*time.Second)
			done <- got
		}()
		time.Sleep(50 * time.Millisecond)
		_, err := tr.Append(ctx, "t", []byte("x"))
		require.NoError(t, err)
		select {
		case got := <-done:
			require.Len(t, got, 1)
		case <-time.After(3 * time.Second):
			t.Fatal("blocked reader never woke")
		}

		start := time.Now()
		got, err := tr.ReadGroup(ctx, "t", "g", "c1", 10, 60*time.Millisecond)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("ConcurrentAppendTotalOrder", func(t *testing.T) {
		tr := newTransport(t, NewClock())
		var wg sync.WaitGroup
		for p := 0; p < 4; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					_, err := tr.Append(ctx, "t", []byte(fmt.Sprintf("%d-%d", p, i)))
					assert.NoError(t, err)
				}
			}(p)
		}
		wg.Wait()
		all, err := tr.Range(ctx, "t", "", 0)
		require.NoError(t, err)
		require.Len(t, all, 100)
		last := map[byte]int{}
		for _, e := range all {
			var p, i int
			_, err := fmt.Sscanf(string(e.Payload), "%d-%d", &p, &i)
			require.NoError(t, err)
			if prev, ok := last[byte(p)]; ok {
				assert.Greater(t, i, prev, "producer order preserved")
			}
			last[byte(p)] = i
		}
	})

	t.Run("ClosedIsUnavailable", func(t *testing.T) {
		tr := newTransport(t, NewClock())
		require.NoError(t, tr.Close())
		_, err := tr.Append(ctx, "t", []byte("x"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, buserr.ErrTransportUnavailable))
		assert.True(t, buserr.IsRetryable(err))
	})
}
