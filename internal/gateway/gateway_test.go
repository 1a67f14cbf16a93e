package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/auth"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/metrics"
)

func event(t *testing.T, eventType string, data map[string]any) *envelope.Event {
	t.Helper()
	env, err := envelope.New(nil, []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	ev, err := env.CreateEvent(eventType, envelope.SourceFinbot, data, envelope.AnyObject)
	require.NoError(t, err)
	return ev
}

func drain(c *Connection) []ServerMessage {
	var out []ServerMessage
	for {
		select {
		case b := <-c.Outbound():
			var m ServerMessage
			_ = json.Unmarshal(b, &m)
			out = append(out, m)
		default:
			return out
		}
	}
}

func register(t *testing.T, g *Gateway, role string, topics ...string) *Connection {
	t.Helper()
	c, err := g.Register(auth.Identity{ID: "u-" + role, Role: role})
	require.NoError(t, err)
	if len(topics) > 0 {
		_, err = g.Subscribe(c, topics, "")
		require.NoError(t, err)
	}
	return c
}

func TestPatternMatching(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"*", "finbot.transaction.created", true},
		{"finbot.*", "finbot.transaction.created", true},
		{"finbot.transaction.*", "finbot.transaction.created", true},
		{"finbot.*", "mubot.ingestion.completed", false},
		{"finbot.*", "finbot", false},
		{"finbot.transaction.created", "finbot.transaction.created", true},
		{"finbot.transaction.created", "finbot.transaction.updated", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchPattern(tc.pattern, tc.topic), "%s vs %s", tc.pattern, tc.topic)
	}
	assert.True(t, ValidPattern("finbot.*"))
	assert.True(t, ValidPattern("*"))
	assert.False(t, ValidPattern("finbot.*.created"))
	assert.False(t, ValidPattern(""))
	assert.False(t, ValidPattern("a b"))
}

func TestBroadcastEventReachesSubscribers(t *testing.T) {
	g := New(Options{})
	exact := register(t, g, "exact", envelope.TypeFinbotTransactionCreated)
	prefix := register(t, g, "prefix", "finbot.*")
	all := register(t, g, "all", "*")
	other := register(t, g, "other", "mubot.*")
	none := register(t, g, "none")

	ev := event(t, envelope.TypeFinbotTransactionCreated, map[string]any{"amount": 5})
	assert.Equal(t, 3, g.BroadcastEvent(ev))

	for _, c := range []*Connection{exact, prefix, all} {
		msgs := drain(c)
		require.Len(t, msgs, 1, c.ID)
		assert.Equal(t, MsgEvent, msgs[0].Type)
		assert.Equal(t, ev.ID, msgs[0].Event.ID)
	}
	assert.Empty(t, drain(other))
	assert.Empty(t, drain(none))
}

func TestBroadcastPreservesOrder(t *testing.T) {
	g := New(Options{})
	c := register(t, g, "ops", "*")
	for i := 0; i < 50; i++ {
		g.Broadcast("finbot.events", []byte{byte(i)})
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, []byte{byte(i)}, <-c.Outbound())
	}
}

func TestFullQueueForceClosesOnlyThatConnection(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	g := New(Options{QueueDepth: 2, Metrics: m})
	slow := register(t, g, "slow", "*")
	fast := register(t, g, "fast", "*")

	assert.Equal(t, 2, g.Broadcast("t", []byte("1")))
	drain(fast)
	assert.Equal(t, 2, g.Broadcast("t", []byte("2")))
	drain(fast)
	assert.Equal(t, 1, g.Broadcast("t", []byte("3")))

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow connection not closed")
	}
	assert.Equal(t, ReasonQueueFull, slow.CloseReason())
	require.Len(t, g.Connections(), 1)
	assert.Equal(t, fast.ID, g.Connections()[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayForceClosed.WithLabelValues(ReasonQueueFull)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayConnections))

	assert.Equal(t, 1, g.Broadcast("t", []byte("4")))
}

func TestFilterNarrowsDelivery(t *testing.T) {
	g := New(Options{})
	c := register(t, g, "big")
	_, err := g.Subscribe(c, []string{"finbot.*"}, `data.amount > 100.0 && source == "finbot"`)
	require.NoError(t, err)

	assert.Equal(t, 0, g.BroadcastEvent(event(t, envelope.TypeFinbotTransactionCreated, map[string]any{"amount": 5})))
	assert.Equal(t, 1, g.BroadcastEvent(event(t, envelope.TypeFinbotTransactionCreated, map[string]any{"amount": 500})))
	assert.Equal(t, 0, g.BroadcastEvent(event(t, envelope.TypeFinbotTransactionCreated, map[string]any{"note": "no amount"})))
	assert.Len(t, drain(c), 1)
	assert.Equal(t, `data.amount > 100.0 && source == "finbot"`, g.Connections()[0].Filter)
}

func TestSubscribeRejectsBadInput(t *testing.T) {
	g := New(Options{})
	c := register(t, g, "x")
	_, err := g.Subscribe(c, nil, "")
	assert.Error(t, err)
	_, err = g.Subscribe(c, []string{"bad topic"}, "")
	assert.Error(t, err)
	_, err = g.Subscribe(c, []string{"finbot.*"}, "data.amount >")
	assert.Error(t, err)
	assert.Empty(t, c.Topics())
}

func TestUnsubscribe(t *testing.T) {
	g := New(Options{})
	c := register(t, g, "x", "finbot.*", "mubot.*")
	assert.Equal(t, []string{"finbot.*"}, g.Unsubscribe(c, []string{"finbot.*", "dese.*"}))
	assert.Equal(t, []string{"mubot.*"}, c.Topics())
	assert.Equal(t, 0, g.BroadcastEvent(event(t, envelope.TypeFinbotTransactionCreated, map[string]any{})))
}

func TestUnregisterAndClose(t *testing.T) {
	g := New(Options{})
	c := register(t, g, "x", "*")
	g.Unregister(c)
	g.Unregister(c)
	assert.Empty(t, g.Connections())
	assert.Equal(t, 0, g.Broadcast("t", []byte("x")))

	d := register(t, g, "y", "*")
	require.NoError(t, g.Close(context.Background()))
	assert.Equal(t, ReasonShutdown, d.CloseReason())
	_, err := g.Register(auth.Identity{ID: "late"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConnectionIDUsesRoleThenID(t *testing.T) {
	g := New(Options{})
	c, _ := g.Register(auth.Identity{ID: "u-1", Role: "admin"})
	assert.Regexp(t, `^admin-\d+-[0-9a-f]{8}$`, c.ID)
	d, _ := g.Register(auth.Identity{ID: "u-2"})
	assert.Regexp(t, `^u-2-\d+-[0-9a-f]{8}$`, d.ID)
}
