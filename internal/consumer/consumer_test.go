package consumer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/backoff"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/buserr"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/metrics"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport/memory"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport/transporttest"
)

const (
	topic = "finbot.events"
	group = "finbot-consumers"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	tr      *memory.Transport
	clock   *transporttest.Clock
	env     *envelope.Envelope
	metrics *metrics.Metrics
	c       *Consumer
}

type recorder struct {
	mu     sync.Mutex
	events []*envelope.Event
}

func (r *recorder) BroadcastEvent(ev *envelope.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return 1
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	clock := transporttest.NewClock()
	tr := memory.New(memory.WithClock(clock.Now))
	env, err := envelope.New(nil, secret)
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())
	base := []Option{
		WithMetrics(m),
		WithOptions(Options{
			Block:           20 * time.Millisecond,
			SweepInterval:   time.Hour,
			ShutdownTimeout: 100 * time.Millisecond,
			Backoff:         backoff.Policy{Type: backoff.Fixed, Base: 10 * time.Millisecond},
		}),
	}
	c := New(tr, env, nil, append(base, opts...)...)
	t.Cleanup(func() { _ = c.Stop() })
	return &fixture{tr: tr, clock: clock, env: env, metrics: m, c: c}
}

func (f *fixture) publish(t *testing.T) (*envelope.Event, []byte) {
	t.Helper()
	ev, err := f.env.CreateEvent(envelope.TypeFinbotTransactionCreated, envelope.SourceFinbot, map[string]any{
		"transactionId": "tx-1",
		"accountId":     "acc-1",
		"amount":        10,
		"currency":      "USD",
		"type":          "expense",
	}, nil)
	require.NoError(t, err)
	raw, err := ev.Marshal()
	require.NoError(t, err)
	_, err = f.tr.Append(context.Background(), topic, raw)
	require.NoError(t, err)
	return ev, raw
}

func (f *fixture) pending(t *testing.T) []transport.PendingEntry {
	t.Helper()
	p, err := f.tr.Pending(context.Background(), topic, group)
	require.NoError(t, err)
	return p
}

// sweepAfter advances the transport clock past ClaimIdle and sweeps once.
func (f *fixture) sweepAfter(t *testing.T) {
	t.Helper()
	f.clock.Advance(31 * time.Second)
	ctx := context.Background()
	require.NoError(t, f.c.sweep(ctx, ctx))
}

func (f *fixture) consumed(outcome string) float64 {
	return testutil.ToFloat64(f.metrics.Consumed.WithLabelValues(topic, group, outcome))
}

func TestHandledEventIsAckedAndFannedOut(t *testing.T) {
	fan := &recorder{}
	f := newFixture(t, WithFanOut(fan))
	var got atomic.Pointer[envelope.Event]
	require.NoError(t, f.c.OnEvent(envelope.TypeFinbotTransactionCreated, func(ctx context.Context, ev *envelope.Event) error {
		got.Store(ev)
		return nil
	}))
	require.NoError(t, f.c.Start(context.Background(), topic, group, "c1"))

	ev, _ := f.publish(t)
	require.Eventually(t, func() bool { return fan.len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ev.ID, got.Load().ID)
	assert.Empty(t, f.pending(t))
	assert.Equal(t, 1.0, f.consumed(metrics.OutcomeAcked))
}

func TestPoisonEntryIsAcked(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	require.NoError(t, f.c.OnEvent(envelope.TypeFinbotTransactionCreated, func(context.Context, *envelope.Event) error {
		calls.Add(1)
		return nil
	}))
	require.NoError(t, f.c.Start(context.Background(), topic, group, "c1"))

	ev, _ := f.publish(t)
	tampered := ev.Clone()
	tampered.Data["amount"] = 1_000_000
	raw, _ := tampered.Marshal()
	for _, p := range [][]byte{[]byte("not json"), raw} {
		_, err := f.tr.Append(context.Background(), topic, p)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return f.consumed(metrics.OutcomePoison) == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(f.pending(t)) == 0 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestUnhandledTypeIsAcked(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Start(context.Background(), topic, group, "c1"))
	f.publish(t)
	require.Eventually(t, func() bool { return f.consumed(metrics.OutcomeUnhandled) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, f.pending(t))
}

func TestDuplicateEventRunsHandlerOnce(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	require.NoError(t, f.c.OnEvent(envelope.TypeFinbotTransactionCreated, func(context.Context, *envelope.Event) error {
		calls.Add(1)
		return nil
	}))
	_, raw := f.publish(t)
	require.NoError(t, f.c.Start(context.Background(), topic, group, "c1"))
	_, err := f.tr.Append(context.Background(), topic, raw)
	require.NoError(t, err)
	_, err = f.tr.Append(context.Background(), topic, raw)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return f.consumed(metrics.OutcomeDuplicate) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, f.pending(t))
}

func TestFailedEntryIsRedeliveredBySweep(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	require.NoError(t, f.c.OnEvent(envelope.TypeFinbotTransactionCreated, func(context.Context, *envelope.Event) error {
		if calls.Add(1) == 1 {
			return errors.New("downstream unavailable")
		}
		return nil
	}))
	require.NoError(t, f.c.Start(context.Background(), topic, group, "c1"))
	f.publish(t)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	p := f.pending(t)
	require.Len(t, p, 1)
	assert.Equal(t, 1, p[0].DeliveryCount)
	assert.Equal(t, "c1", p[0].Consumer)

	f.sweepAfter(t)
	assert.EqualValues(t, 2, calls.Load())
	assert.Empty(t, f.pending(t))
	assert.Equal(t, 1.0, f.consumed(metrics.OutcomeFailed))
	assert.Equal(t, 1.0, f.consumed(metrics.OutcomeAcked))
}

func TestSweepSkipsRecentlyDelivered(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.OnEvent(envelope.TypeFinbotTransactionCreated, func(context.Context, *envelope.Event) error {
		return errors.New("nope")
	}))
	require.NoError(t, f.c.Start(context.Background(), topic, group, "c1"))
	f.publish(t)
	require.Eventually(t, func() bool { return len(f.pending(t)) == 1 }, 2*time.Second, 5*time.Millisecond)

	f.clock.Advance(5 * time.Second)
	ctx := context.Background()
	require.NoError(t, f.c.sweep(ctx, ctx))
	assert.Equal(t, 1, f.pending(t)[0].DeliveryCount)
}

func TestExhaustedEntryIsDeadLettered(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	require.NoError(t, f.c.OnEvent(envelope.TypeFinbotTransactionCreated, func(context.Context, *envelope.Event) error {
		calls.Add(1)
		return errors.New("ledger rejected")
	}))
	require.NoError(t, f.c.Start(context.Background(), topic, group, "c1"))
	ev, raw := f.publish(t)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	original := f.pending(t)[0].EntryID

	for i := 2; i <= 5; i++ {
		f.sweepAfter(t)
		require.EqualValues(t, i, calls.Load())
		require.Equal(t, i, f.pending(t)[0].DeliveryCount)
	}
	f.sweepAfter(t)
	assert.EqualValues(t, 5, calls.Load())
	assert.Empty(t, f.pending(t))

	dlq, err := f.tr.Range(context.Background(), transport.DeadLetterTopic(topic), "", 10)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	rec, err := DecodeDeadLetter(dlq[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, original, rec.OriginalID)
	assert.Equal(t, topic, rec.Topic)
	assert.Equal(t, group, rec.Group)
	assert.Equal(t, ev.Type, rec.EventType)
	assert.Equal(t, string(raw), rec.Payload)
	assert.Equal(t, 5, rec.DeliveryCount)
	assert.Contains(t, rec.Error, "ledger rejected")
	assert.NotEmpty(t, rec.DeadLetteredAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DeadLettered.WithLabelValues(topic, group)))
}

func TestSweepLeavesExhaustedEntryOwnedByLiveMember(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.OnEvent(envelope.TypeFinbotTransactionCreated, func(context.Context, *envelope.Event) error {
		return nil
	}))
	ctx := context.Background()
	require.NoError(t, f.tr.EnsureGroup(ctx, topic, group))
	f.publish(t)

	// Another member reads the entry and re-claims it up to its last attempt.
	read, err := f.tr.ReadGroup(ctx, topic, group, "other", 10, 0)
	require.NoError(t, err)
	require.Len(t, read, 1)
	for i := 0; i < 4; i++ {
		claimed, err := f.tr.Claim(ctx, topic, group, "other", 0, read[0].ID)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
	}
	p := f.pending(t)
	require.Len(t, p, 1)
	require.Equal(t, 5, p[0].DeliveryCount)
	require.Equal(t, "other", p[0].Consumer)

	require.NoError(t, f.c.Start(ctx, topic, group, "c1"))
	require.NoError(t, f.c.sweep(ctx, ctx))

	p = f.pending(t)
	require.Len(t, p, 1, "entry still being handled must stay pending")
	assert.Equal(t, "other", p[0].Consumer)
	dlq, err := f.tr.Range(ctx, transport.DeadLetterTopic(topic), "", 10)
	require.NoError(t, err)
	assert.Empty(t, dlq)

	// Once the owner goes quiet for ClaimIdle, two sweeping members dead-letter it once.
	second := New(f.tr, f.env, nil, WithMetrics(f.metrics), WithOptions(Options{
		Block: 20 * time.Millisecond, SweepInterval: time.Hour, ShutdownTimeout: 100 * time.Millisecond,
	}))
	require.NoError(t, second.OnEvent(envelope.TypeFinbotTransactionCreated, func(context.Context, *envelope.Event) error {
		return nil
	}))
	require.NoError(t, second.Start(ctx, topic, group, "c2"))
	t.Cleanup(func() { _ = second.Stop() })

	f.clock.Advance(31 * time.Second)
	require.NoError(t, f.c.sweep(ctx, ctx))
	require.NoError(t, second.sweep(ctx, ctx))

	assert.Empty(t, f.pending(t))
	dlq, err = f.tr.Range(ctx, transport.DeadLetterTopic(topic), "", 10)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	rec, err := DecodeDeadLetter(dlq[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, read[0].ID, rec.OriginalID)
	assert.Equal(t, 5, rec.DeliveryCount)
	assert.Equal(t, errMaxDeliveries, rec.Error)
}

func TestStopLeavesUnfinishedEntryPending(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	require.NoError(t, f.c.OnEvent(envelope.TypeFinbotTransactionCreated, func(ctx context.Context, _ *envelope.Event) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, f.c.Start(context.Background(), topic, group, "c1"))
	f.publish(t)
	<-started
	assert.Equal(t, 1, f.c.Status().InFlight)

	require.NoError(t, f.c.Stop())
	p := f.pending(t)
	require.Len(t, p, 1)
	assert.Equal(t, 1, p[0].DeliveryCount)
	assert.False(t, f.c.Status().Running)
}

func TestStartRefusedUntilTimedOutLoopsExit(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, f.c.OnEvent(envelope.TypeFinbotTransactionCreated, func(context.Context, *envelope.Event) error {
		close(started)
		<-release
		return nil
	}))
	require.NoError(t, f.c.Start(context.Background(), topic, group, "c1"))
	f.publish(t)
	<-started

	assert.ErrorIs(t, f.c.Stop(), ErrShutdownTimeout)
	assert.False(t, f.c.Status().Running)
	assert.ErrorIs(t, f.c.Start(context.Background(), "other.topic", group, "c2"), ErrStopping)
	assert.Equal(t, topic, f.c.Status().Topic)

	close(release)
	require.Eventually(t, func() bool {
		return f.c.Start(context.Background(), topic, group, "c2") == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "c2", f.c.Status().Consumer)
}

func TestStopWaitsForInFlightHandler(t *testing.T) {
	f := newFixture(t, WithOptions(Options{Block: 20 * time.Millisecond, SweepInterval: time.Hour, ShutdownTimeout: time.Second}))
	started := make(chan struct{})
	require.NoError(t, f.c.OnEvent(envelope.TypeFinbotTransactionCreated, func(ctx context.Context, _ *envelope.Event) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return ctx.Err()
	}))
	require.NoError(t, f.c.Start(context.Background(), topic, group, "c1"))
	f.publish(t)
	<-started
	require.NoError(t, f.c.Stop())
	assert.Empty(t, f.pending(t))
}

func TestOnEventRules(t *testing.T) {
	f := newFixture(t)
	noop := func(context.Context, *envelope.Event) error { return nil }
	err := f.c.OnEvent("unknown.thing.happened", noop)
	assert.True(t, buserr.IsPermanent(err))
	require.NoError(t, f.c.OnEvent(envelope.TypeMubotDataQualityAlert, noop))
	assert.Error(t, f.c.OnEvent(envelope.TypeMubotDataQualityAlert, noop))
	assert.Error(t, f.c.OnEvent(envelope.TypeFinbotBudgetUpdated, nil))
}

func TestStartDefaultsNameAndRejectsDoubleStart(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.c.Start(context.Background(), topic, group, ""))
	st := f.c.Status()
	assert.True(t, st.Running)
	assert.True(t, strings.HasPrefix(st.Consumer, "consumer-"))
	assert.Equal(t, topic, st.Topic)
	assert.ErrorIs(t, f.c.Start(context.Background(), topic, group, "c2"), ErrRunning)
}
