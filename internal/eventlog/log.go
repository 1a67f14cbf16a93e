package eventlog

import (
	"context"
	"errors"
	"sync"

	pebblestore "github.com/tlgselvi/desewebv5-gitops-sub006/internal/storage/pebble"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
)

// ErrNotFound is returned by Get for ids that were never appended or were trimmed.
var ErrNotFound = errors.New("entry not found")

// Log provides append-only operations for one topic.
type Log struct {
	db    *pebblestore.DB
	topic string

	mu       sync.Mutex
	lastID   id.ID
	gen      *id.Generator
	notifyCh chan struct{}
	archiver ArchiverHook
}

// OpenLog initializes a Log and loads the last id from metadata (if any).
func OpenLog(db *pebblestore.DB, topic string) (*Log, error) {
	l := &Log{db: db, topic: topic, notifyCh: make(chan struct{}), archiver: noopArchiver{}}
	meta, err := db.Get(KeyLogMeta(topic))
	switch {
	case err == nil:
		if last, ok := id.FromBytes(meta); ok {
			l.lastID = last
		}
	case !errors.Is(err, pebblestore.ErrNotFound):
		return nil, err
	}
	l.gen = id.NewGeneratorAfter(l.lastID)
	return l, nil
}

// Topic returns the topic name.
func (l *Log) Topic() string { return l.topic }

// SetArchiver installs the trim hook. A nil hook restores the no-op.
func (l *Log) SetArchiver(h ArchiverHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h == nil {
		h = noopArchiver{}
	}
	l.archiver = h
}

// Last returns the id of the most recent append, zero for an empty log.
func (l *Log) Last() id.ID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastID
}

// Append appends payloads as a single atomic batch and returns their ids in
// order. Concurrent appends are serialized so ids follow commit order.
func (l *Log) Append(ctx context.Context, payloads [][]byte) ([]id.ID, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	ids := make([]id.ID, len(payloads))
	for i, p := range payloads {
		ids[i] = l.gen.Next()
		if err := b.Set(KeyLogEntry(l.topic, ids[i]), EncodeRecord(p), nil); err != nil {
			return nil, err
		}
	}
	last := ids[len(ids)-1]
	if err := b.Set(KeyLogMeta(l.topic), last[:], nil); err != nil {
		return nil, err
	}
	if err := l.db.CommitBatch(ctx, b); err != nil {
		return nil, err
	}
	l.lastID = last
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})
	return ids, nil
}

// Get loads one entry payload.
func (l *Log) Get(entry id.ID) ([]byte, error) {
	v, err := l.db.Get(KeyLogEntry(l.topic, entry))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p, ok := DecodeRecord(v)
	if !ok {
		return nil, ErrCorrupt
	}
	return p, nil
}

// ErrCorrupt is returned for records whose checksum does not match.
var ErrCorrupt = errors.New("entry checksum mismatch")
