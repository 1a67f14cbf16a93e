package metrics

import (
	"time"

	pebblestore "github.com/tlgselvi/desewebv5-gitops-sub006/internal/storage/pebble"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
)

type storageHook struct{ m *Metrics }

// StorageHook adapts m to the Pebble metrics hook.
func (m *Metrics) StorageHook() pebblestore.MetricsHook {
	if m == nil {
		return pebblestore.NoopMetrics{}
	}
	return storageHook{m: m}
}

func (h storageHook) ObserveWrite(d time.Duration, bytes int) {
	h.m.StorageLatency.WithLabelValues("write").Observe(d.Seconds())
	h.m.StorageBytes.WithLabelValues("write").Add(float64(bytes))
}

func (h storageHook) ObserveRead(d time.Duration, bytes int) {
	h.m.StorageLatency.WithLabelValues("read").Observe(d.Seconds())
	h.m.StorageBytes.WithLabelValues("read").Add(float64(bytes))
}

func (h storageHook) ObserveBatchCommit(d time.Duration, _ int, bytes int) {
	h.m.StorageLatency.WithLabelValues("commit").Observe(d.Seconds())
	h.m.StorageBytes.WithLabelValues("commit").Add(float64(bytes))
}

// EmitTrimRange implements eventlog.ArchiverHook by counting trimmed entries.
func (m *Metrics) EmitTrimRange(topic string, _, _ id.ID, count int) {
	m.AddTrimmed(topic, count)
}
