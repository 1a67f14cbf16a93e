package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
)

func TestIsolatedRegistries(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())
	a.IncConsumed("t", "g", OutcomeAcked)
	a.IncConsumed("t", "g", OutcomeAcked)
	if got := testutil.ToFloat64(a.Consumed.WithLabelValues("t", "g", OutcomeAcked)); got != 2 {
		t.Fatalf("a consumed = %v", got)
	}
	if got := testutil.ToFloat64(b.Consumed.WithLabelValues("t", "g", OutcomeAcked)); got != 0 {
		t.Fatalf("registries must not share state: %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncPublished("t", "x")
	m.ObserveHandler("x", time.Millisecond)
	m.EmitTrimRange("t", id.Zero, id.Zero, 3)
	m.StorageHook().ObserveRead(time.Millisecond, 10)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(nil)
	m.IncPublished("finbot.events", "finbot.transaction.created")
	m.StorageHook().ObserveBatchCommit(time.Millisecond, 1, 64)
	m.EmitTrimRange("finbot.events", id.Zero, id.Zero, 2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`eventbus_events_published_total{topic="finbot.events",type="finbot.transaction.created"} 1`,
		`eventbus_retention_trimmed_entries_total{topic="finbot.events"} 2`,
		`eventbus_storage_bytes_total{op="commit"} 64`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
