// Package eventlog implements the append-only per-topic log backing durable
// streams.
//
// # Overview
//
// Each topic is one ordered log persisted in Pebble. Keys are
// lexicographically ordered for efficient range scans:
//   - bus/log/{topic}/m             (metadata: last entry id)
//   - bus/log/{topic}/e/{id_be16}   (entries)
//   - bus/cursor/{topic}/{group}    (last id handed to a consumer group)
//
// Entry ids come from pkg/id, so key order is append order. Records are
// stored as payload | crc32c(payload).
//
// API surface (internal)
//
//	l, _ := OpenLog(db, "finbot.events")
//	ids, _ := l.Append(ctx, [][]byte{payload})
//
//	// Read forward from an inclusive start id
//	items, next := l.Read(ReadOptions{Start: ids[0], Limit: 100})
//	_ = next // resume position, zero when exhausted
//
//	// Blocking wait/notify
//	woke := l.WaitForAppend(ctx, 200*time.Millisecond)
//
//	// Group cursors never regress
//	_ = l.CommitCursor("analytics", ids[len(ids)-1])
//
//	// Retention by age (id timestamp) or by total bytes
//	_, _, _ = l.TrimOlderThan(ctx, cutoffMs, 1024, 0)
//	_, _ = l.TrimToMaxBytes(ctx, maxBytes, 1024, 0)
//
// # Archiver integration
//
// When trims delete entries the ArchiverHook receives the contiguous range
// {min, max} of each committed batch. The default hook is a no-op; the
// server installs one that counts trimmed entries.
package eventlog
