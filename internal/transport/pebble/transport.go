// Package pebbletransport is the durable Transport: topics are event logs,
// consumer groups are a cursor plus a Pending Entries List, all in one
// Pebble database shared with the rest of the runtime.
package pebbletransport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/buserr"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/catalog"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/consumergroup"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/eventlog"
	pebblestore "github.com/tlgselvi/desewebv5-gitops-sub006/internal/storage/pebble"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

var errClosed = errors.New("pebble transport closed")

// Options configures the transport.
type Options struct {
	// ConsumerTTL is how long a consumer stays registered without reading.
	ConsumerTTL time.Duration
	// Archiver receives trimmed ranges. Optional.
	Archiver eventlog.ArchiverHook
	Logger   log.Logger
	// Now overrides the clock used for idle times. Tests only.
	Now func() time.Time
}

type topicState struct {
	log  *eventlog.Log
	meta catalog.TopicMeta
}

type groupState struct {
	mu    sync.Mutex
	start id.ID
	pel   *consumergroup.PEL
	reg   *consumergroup.Registry
}

// Transport implements transport.Transport on Pebble.
type Transport struct {
	db     *pebblestore.DB
	opts   Options
	logger log.Logger

	mu      sync.Mutex
	topics  map[string]*topicState
	groups  map[string]*groupState
	closed  atomic.Bool
	closing chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// New returns a transport over db. The caller keeps ownership of db.
func New(db *pebblestore.DB, opts Options) *Transport {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	return &Transport{
		db:      db,
		opts:    opts,
		logger:  opts.Logger.With(log.Component("transport")),
		topics:  map[string]*topicState{},
		groups:  map[string]*groupState{},
		closing: make(chan struct{}),
	}
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var ve *buserr.ValidationError
	if errors.As(err, &ve) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return buserr.Unavailable(op, err)
}

func (t *Transport) topic(name string) (*topicState, error) {
	if t.closed.Load() {
		return nil, errClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ts, ok := t.topics[name]; ok {
		return ts, nil
	}
	if err := catalog.ValidateName("topic", name); err != nil {
		return nil, buserr.Validation("topic", err.Error())
	}
	meta, err := catalog.EnsureTopic(t.db, name)
	if err != nil {
		return nil, err
	}
	l, err := eventlog.OpenLog(t.db, name)
	if err != nil {
		return nil, err
	}
	if t.opts.Archiver != nil {
		l.SetArchiver(t.opts.Archiver)
	}
	ts := &topicState{log: l, meta: meta}
	t.topics[name] = ts
	return ts, nil
}

// group returns the state of an existing group; ok is false if it was never
// ensured.
func (t *Transport) group(topicName, name string) (*groupState, bool, error) {
	key := topicName + "/" + name
	t.mu.Lock()
	gs, ok := t.groups[key]
	t.mu.Unlock()
	if ok {
		return gs, true, nil
	}
	meta, ok, err := catalog.GetGroup(t.db, topicName, name)
	if err != nil || !ok {
		return nil, false, err
	}
	return t.cacheGroup(topicName, name, meta), true, nil
}

func (t *Transport) cacheGroup(topicName, name string, meta catalog.GroupMeta) *groupState {
	key := topicName + "/" + name
	t.mu.Lock()
	defer t.mu.Unlock()
	if gs, ok := t.groups[key]; ok {
		return gs
	}
	start, err := id.Parse(meta.StartID)
	if err != nil {
		start = id.Zero
	}
	gs := &groupState{
		start: start,
		pel:   consumergroup.NewPEL(t.db, topicName, name),
		reg:   consumergroup.NewRegistry(t.db, topicName, name, t.opts.ConsumerTTL),
	}
	gs.pel.SetClock(t.opts.Now)
	gs.reg.SetClock(t.opts.Now)
	t.groups[key] = gs
	return gs
}

// Append implements transport.Transport.
func (t *Transport) Append(ctx context.Context, topicName string, payload []byte) (string, error) {
	ts, err := t.topic(topicName)
	if err != nil {
		return "", unavailable("append", err)
	}
	if max := ts.meta.PayloadMaxBytes; max > 0 && len(payload) > max {
		return "", buserr.Validation("payload", fmt.Sprintf("exceeds %d bytes", max))
	}
	ids, err := ts.log.Append(ctx, [][]byte{payload})
	if err != nil {
		return "", unavailable("append", err)
	}
	return ids[0].String(), nil
}

// EnsureGroup implements transport.Transport.
func (t *Transport) EnsureGroup(ctx context.Context, topicName, name string) error {
	ts, err := t.topic(topicName)
	if err != nil {
		return unavailable("ensure group", err)
	}
	meta, created, err := catalog.EnsureGroup(t.db, topicName, name, ts.log.Last())
	if err != nil {
		return unavailable("ensure group", err)
	}
	t.cacheGroup(topicName, name, meta)
	if created {
		t.logger.Info("consumer group created", log.Topic(topicName), log.Group(name), log.Str("start", meta.StartID))
	}
	return nil
}

// cursor is the last id handed to the group.
func (t *Transport) cursor(ts *topicState, gs *groupState, name string) id.ID {
	cur, ok := ts.log.GetCursor(name)
	if !ok || cur.Compare(gs.start) < 0 {
		return gs.start
	}
	return cur
}

// ReadGroup implements transport.Transport.
func (t *Transport) ReadGroup(ctx context.Context, topicName, name, consumer string, maxCount int, block time.Duration) ([]transport.Entry, error) {
	if maxCount <= 0 {
		maxCount = 1
	}
	ts, err := t.topic(topicName)
	if err != nil {
		return nil, unavailable("read group", err)
	}
	gs, ok, err := t.group(topicName, name)
	if err != nil {
		return nil, unavailable("read group", err)
	}
	if !ok {
		return nil, transport.ErrNoGroup
	}
	if _, err := gs.reg.Heartbeat(ctx, consumer, nil); err != nil {
		t.logger.Debug("consumer heartbeat failed", log.Group(name), log.Consumer(consumer), log.Err(err))
	}

	var deadline <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		changed := ts.log.Changed()
		out, err := t.deliver(ctx, ts, gs, topicName, name, consumer, maxCount)
		if err != nil || len(out) > 0 || block <= 0 {
			return out, err
		}
		select {
		case <-changed:
		case <-deadline:
			return nil, nil
		case <-t.closing:
			return nil, unavailable("read group", errClosed)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *Transport) deliver(ctx context.Context, ts *topicState, gs *groupState, topicName, name, consumer string, maxCount int) ([]transport.Entry, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if t.closed.Load() {
		return nil, unavailable("read group", errClosed)
	}
	items, err := ts.log.ReadAfter(t.cursor(ts, gs, name), maxCount)
	if err != nil || len(items) == 0 {
		return nil, unavailable("read group", err)
	}
	ids := make([]id.ID, len(items))
	out := make([]transport.Entry, len(items))
	for i, it := range items {
		ids[i] = it.ID
		out[i] = transport.Entry{ID: it.ID.String(), Topic: topicName, Payload: it.Payload}
	}
	b := t.db.NewBatch()
	defer b.Close()
	if err := gs.pel.Deliver(b, ids, consumer); err != nil {
		return nil, unavailable("read group", err)
	}
	last := ids[len(ids)-1]
	if err := b.Set(eventlog.KeyCursor(topicName, name), last[:], nil); err != nil {
		return nil, unavailable("read group", err)
	}
	if err := t.db.CommitBatch(ctx, b); err != nil {
		return nil, unavailable("read group", err)
	}
	return out, nil
}

func parseIDs(raw []string) []id.ID {
	out := make([]id.ID, 0, len(raw))
	for _, s := range raw {
		if v, err := id.Parse(s); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// Ack implements transport.Transport.
func (t *Transport) Ack(ctx context.Context, topicName, name string, ids ...string) (int, error) {
	if t.closed.Load() {
		return 0, unavailable("ack", errClosed)
	}
	gs, ok, err := t.group(topicName, name)
	if err != nil || !ok {
		return 0, unavailable("ack", err)
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()
	n, err := gs.pel.Ack(ctx, parseIDs(ids)...)
	return n, unavailable("ack", err)
}

// Pending implements transport.Transport.
func (t *Transport) Pending(ctx context.Context, topicName, name string) ([]transport.PendingEntry, error) {
	if t.closed.Load() {
		return nil, unavailable("pending", errClosed)
	}
	gs, ok, err := t.group(topicName, name)
	if err != nil || !ok {
		return nil, unavailable("pending", err)
	}
	recs, err := gs.pel.List(0)
	if err != nil {
		return nil, unavailable("pending", err)
	}
	now := t.opts.Now().UnixMilli()
	out := make([]transport.PendingEntry, len(recs))
	for i, r := range recs {
		out[i] = transport.PendingEntry{EntryID: r.EntryID.String(), Consumer: r.Consumer, IdleMs: r.IdleMs(now), DeliveryCount: r.DeliveryCount}
	}
	return out, nil
}

// Claim implements transport.Transport. Entries trimmed while pending are
// dropped from the PEL instead of being redelivered.
func (t *Transport) Claim(ctx context.Context, topicName, name, consumer string, minIdle time.Duration, ids ...string) ([]transport.Entry, error) {
	ts, err := t.topic(topicName)
	if err != nil {
		return nil, unavailable("claim", err)
	}
	gs, ok, err := t.group(topicName, name)
	if err != nil {
		return nil, unavailable("claim", err)
	}
	if !ok {
		return nil, transport.ErrNoGroup
	}
	gs.mu.Lock()
	defer gs.mu.Unlock()
	claimed, err := gs.pel.Claim(ctx, consumer, minIdle, parseIDs(ids)...)
	if err != nil {
		return nil, unavailable("claim", err)
	}
	out := make([]transport.Entry, 0, len(claimed))
	var gone []id.ID
	for _, c := range claimed {
		payload, err := ts.log.Get(c.EntryID)
		if errors.Is(err, eventlog.ErrNotFound) || errors.Is(err, eventlog.ErrCorrupt) {
			gone = append(gone, c.EntryID)
			continue
		}
		if err != nil {
			return nil, unavailable("claim", err)
		}
		out = append(out, transport.Entry{ID: c.EntryID.String(), Topic: topicName, Payload: payload})
	}
	if len(gone) > 0 {
		if _, err := gs.pel.Ack(ctx, gone...); err != nil {
			return nil, unavailable("claim", err)
		}
		t.logger.Warn("dropped pending entries missing from log", log.Topic(topicName), log.Group(name), log.Int("count", len(gone)))
	}
	return out, nil
}

// Range implements transport.Transport.
func (t *Transport) Range(ctx context.Context, topicName, start string, count int) ([]transport.Entry, error) {
	from := id.Zero
	if start != "" && start != "0" && start != "-" {
		var err error
		if from, err = id.Parse(start); err != nil {
			return nil, buserr.Validation("start", "malformed entry id")
		}
	}
	ts, err := t.topic(topicName)
	if err != nil {
		return nil, unavailable("range", err)
	}
	items, _, err := ts.log.Read(eventlog.ReadOptions{Start: from, Limit: count})
	if err != nil {
		return nil, unavailable("range", err)
	}
	out := make([]transport.Entry, len(items))
	for i, it := range items {
		out[i] = transport.Entry{ID: it.ID.String(), Topic: topicName, Payload: it.Payload}
	}
	return out, nil
}

// Trim applies retention to topic: entries older than maxAge and, after
// that, the oldest entries beyond maxBytes are removed. Zero disables a limit.
func (t *Transport) Trim(ctx context.Context, topicName string, maxAge time.Duration, maxBytes int64) (int, error) {
	ts, err := t.topic(topicName)
	if err != nil {
		return 0, unavailable("trim", err)
	}
	total := 0
	if maxAge > 0 {
		cutoff := t.opts.Now().Add(-maxAge).UnixMilli()
		n, _, err := ts.log.TrimOlderThan(ctx, cutoff, 1024, 0)
		total += n
		if err != nil {
			return total, unavailable("trim", err)
		}
	}
	if maxBytes > 0 {
		n, err := ts.log.TrimToMaxBytes(ctx, maxBytes, 1024, 0)
		total += n
		if err != nil {
			return total, unavailable("trim", err)
		}
	}
	return total, nil
}

// Topics lists every topic known to the catalog.
func (t *Transport) Topics() ([]string, error) {
	metas, err := catalog.ListTopics(t.db)
	if err != nil {
		return nil, unavailable("topics", err)
	}
	out := make([]string, len(metas))
	for i, m := range metas {
		out[i] = m.Name
	}
	return out, nil
}

// Consumers lists the registered consumers of a group.
func (t *Transport) Consumers(topicName, name string) ([]*consumergroup.Consumer, error) {
	gs, ok, err := t.group(topicName, name)
	if err != nil || !ok {
		return nil, unavailable("consumers", err)
	}
	list, err := gs.reg.List()
	return list, unavailable("consumers", err)
}

// Close stops blocked readers and rejects further calls. The database stays
// open; it belongs to the caller.
func (t *Transport) Close() error {
	if t.closed.CompareAndSwap(false, true) {
		close(t.closing)
	}
	return nil
}
