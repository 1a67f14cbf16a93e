package eventlog

import (
	"github.com/cockroachdb/pebble"
	pebblestore "github.com/tlgselvi/desewebv5-gitops-sub006/internal/storage/pebble"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
)

// ReadOptions selects a window of the log.
type ReadOptions struct {
	Start   id.ID // inclusive; zero begins at the first (or, reversed, last) entry
	Limit   int
	Reverse bool
}

// Item is one decoded entry.
type Item struct {
	ID      id.ID
	Payload []byte
}

// Read returns up to Limit items starting at Start. The returned id is the
// position to resume from, zero when the scan reached the end. Corrupt
// records are skipped.
func (l *Log) Read(opts ReadOptions) ([]Item, id.ID, error) {
	prefix := KeyLogEntryPrefix(l.topic)
	items := make([]Item, 0, max(1, opts.Limit))
	var next id.ID
	iterOpts := &pebble.IterOptions{LowerBound: prefix, UpperBound: pebblestore.PrefixEnd(prefix)}
	err := l.db.Iterate(iterOpts, func(iter *pebble.Iterator) error {
		var ok bool
		switch {
		case opts.Reverse && opts.Start.IsZero():
			ok = iter.Last()
		case opts.Reverse:
			ok = iter.SeekLT(KeyLogEntry(l.topic, opts.Start.Next()))
		case opts.Start.IsZero():
			ok = iter.First()
		default:
			ok = iter.SeekGE(KeyLogEntry(l.topic, opts.Start))
		}
		for ok && (opts.Limit <= 0 || len(items) < opts.Limit) {
			if p, good := DecodeRecord(iter.Value()); good {
				items = append(items, Item{ID: entryIDFromKey(iter.Key()), Payload: p})
			}
			if opts.Reverse {
				ok = iter.Prev()
			} else {
				ok = iter.Next()
			}
		}
		if ok {
			next = entryIDFromKey(iter.Key())
		}
		return iter.Error()
	})
	return items, next, err
}

// ReadAfter returns up to limit entries strictly after pos.
func (l *Log) ReadAfter(pos id.ID, limit int) ([]Item, error) {
	start := id.Zero
	if !pos.IsZero() {
		start = pos.Next()
	}
	items, _, err := l.Read(ReadOptions{Start: start, Limit: limit})
	return items, err
}
