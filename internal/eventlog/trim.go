package eventlog

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/tlgselvi/desewebv5-gitops-sub006/internal/storage/pebble"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
)

// TrimOlderThan deletes entries whose id timestamp is < cutoffMs. Deletes are
// committed in batches of up to batchLimit keys with an optional throttle
// between commits. Returns the number deleted and the last deleted id.
func (l *Log) TrimOlderThan(ctx context.Context, cutoffMs int64, batchLimit int, throttle time.Duration) (int, id.ID, error) {
	return l.trim(ctx, batchLimit, throttle, func(entry id.ID, _ []byte) bool {
		return entry.Ms() < cutoffMs
	}, nil)
}

// TrimToMaxBytes approximates retention by total value bytes: the oldest
// entries are deleted until the remainder fits in maxBytes.
func (l *Log) TrimToMaxBytes(ctx context.Context, maxBytes int64, batchLimit int, throttle time.Duration) (int, error) {
	if maxBytes < 0 {
		return 0, nil
	}
	var total int64
	prefix := KeyLogEntryPrefix(l.topic)
	if err := l.db.ScanPrefix(prefix, func(_, v []byte) bool {
		total += int64(len(v))
		return true
	}); err != nil {
		return 0, err
	}
	if total <= maxBytes {
		return 0, nil
	}
	n, _, err := l.trim(ctx, batchLimit, throttle, func(_ id.ID, v []byte) bool {
		return total > maxBytes
	}, func(v []byte) { total -= int64(len(v)) })
	return n, err
}

// trim deletes entries oldest first for as long as del reports true.
func (l *Log) trim(ctx context.Context, batchLimit int, throttle time.Duration, del func(id.ID, []byte) bool, onDelete func([]byte)) (int, id.ID, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	l.mu.Lock()
	hook := l.archiver
	l.mu.Unlock()

	prefix := KeyLogEntryPrefix(l.topic)
	deleted := 0
	var last id.ID
	for {
		if err := ctx.Err(); err != nil {
			return deleted, last, err
		}
		b := l.db.NewBatch()
		var first id.ID
		n := 0
		done := false
		err := l.db.Iterate(&pebble.IterOptions{LowerBound: prefix, UpperBound: pebblestore.PrefixEnd(prefix)}, func(iter *pebble.Iterator) error {
			ok := iter.First()
			for ok && n < batchLimit {
				entry := entryIDFromKey(iter.Key())
				if !del(entry, iter.Value()) {
					break
				}
				if err := b.Delete(iter.Key(), nil); err != nil {
					return err
				}
				if onDelete != nil {
					onDelete(iter.Value())
				}
				if n == 0 {
					first = entry
				}
				last = entry
				n++
				ok = iter.Next()
			}
			done = n < batchLimit
			return iter.Error()
		})
		if err == nil && n > 0 {
			err = l.db.CommitBatch(ctx, b)
		}
		b.Close()
		if err != nil {
			return deleted, last, err
		}
		if n > 0 {
			deleted += n
			hook.EmitTrimRange(l.topic, first, last, n)
		}
		if done {
			return deleted, last, nil
		}
		if throttle > 0 {
			time.Sleep(throttle)
		}
	}
}
