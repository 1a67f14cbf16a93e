// Package pebblestore wraps the Pebble instance shared by the durable
// transport, the consumer-group tables and the idempotency store.
//
// It adds an fsync policy (always, interval group commit, never), an
// idempotent Close with ErrClosed for later calls, prefix scans and a
// MetricsHook that feeds the Prometheus storage collectors.
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: dir,
//	    Fsync:   pebblestore.FsyncModeInterval,
//	    Metrics: m.StorageHook(),
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
package pebblestore
