// Package memory is an in-process Transport with the same delivery semantics
// as the durable one. State is lost on exit.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/buserr"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
)

var errClosed = errors.New("memory transport closed")

type pending struct {
	consumer   string
	deliveries int
	lastMs     int64
}

type group struct {
	lastDelivered id.ID
	pel           map[id.ID]*pending
}

type stream struct {
	gen     *id.Generator
	ids     []id.ID
	entries map[id.ID][]byte
	groups  map[string]*group
	notify  chan struct{}
}

// Transport implements transport.Transport in memory.
type Transport struct {
	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
	now     func() time.Time
}

var _ transport.Transport = (*Transport)(nil)

// Option customizes the transport.
type Option func(*Transport)

// WithClock overrides the clock used for idle times.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

// New returns an empty in-memory transport.
func New(opts ...Option) *Transport {
	t := &Transport{streams: map[string]*stream{}, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

// stream returns the named stream, creating it. Callers hold t.mu.
func (t *Transport) stream(topic string) *stream {
	s, ok := t.streams[topic]
	if !ok {
		s = &stream{gen: id.NewGenerator(), entries: map[id.ID][]byte{}, groups: map[string]*group{}, notify: make(chan struct{})}
		t.streams[topic] = s
	}
	return s
}

func (t *Transport) Append(ctx context.Context, topic string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return "", buserr.Unavailable("append", errClosed)
	}
	s := t.stream(topic)
	eid := s.gen.Next()
	s.ids = append(s.ids, eid)
	s.entries[eid] = append([]byte(nil), payload...)
	close(s.notify)
	s.notify = make(chan struct{})
	return eid.String(), nil
}

func (t *Transport) EnsureGroup(ctx context.Context, topic, g string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return buserr.Unavailable("ensure group", errClosed)
	}
	s := t.stream(topic)
	if _, ok := s.groups[g]; ok {
		return nil
	}
	var tail id.ID
	if n := len(s.ids); n > 0 {
		tail = s.ids[n-1]
	}
	s.groups[g] = &group{lastDelivered: tail, pel: map[id.ID]*pending{}}
	return nil
}

func (t *Transport) ReadGroup(ctx context.Context, topic, g, consumer string, maxCount int, block time.Duration) ([]transport.Entry, error) {
	if maxCount <= 0 {
		maxCount = 1
	}
	var deadline <-chan time.Time
	if block > 0 {
		timer := time.NewTimer(block)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		out, wait, err := t.tryRead(topic, g, consumer, maxCount)
		if err != nil || len(out) > 0 || block <= 0 {
			return out, err
		}
		select {
		case <-wait:
		case <-deadline:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *Transport) tryRead(topic, g, consumer string, maxCount int) ([]transport.Entry, <-chan struct{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, nil, buserr.Unavailable("read group", errClosed)
	}
	s := t.stream(topic)
	grp, ok := s.groups[g]
	if !ok {
		return nil, nil, transport.ErrNoGroup
	}
	start := sort.Search(len(s.ids), func(i int) bool { return s.ids[i].Compare(grp.lastDelivered) > 0 })
	now := t.now().UnixMilli()
	var out []transport.Entry
	for _, eid := range s.ids[start:] {
		if len(out) == maxCount {
			break
		}
		grp.pel[eid] = &pending{consumer: consumer, deliveries: 1, lastMs: now}
		grp.lastDelivered = eid
		out = append(out, transport.Entry{ID: eid.String(), Topic: topic, Payload: s.entries[eid]})
	}
	return out, s.notify, nil
}

func (t *Transport) Ack(ctx context.Context, topic, g string, ids ...string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, buserr.Unavailable("ack", errClosed)
	}
	grp, ok := t.stream(topic).groups[g]
	if !ok {
		return 0, nil
	}
	n := 0
	for _, raw := range ids {
		eid, err := id.Parse(raw)
		if err != nil {
			continue
		}
		if _, ok := grp.pel[eid]; ok {
			delete(grp.pel, eid)
			n++
		}
	}
	return n, nil
}

func (t *Transport) Pending(ctx context.Context, topic, g string) ([]transport.PendingEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, buserr.Unavailable("pending", errClosed)
	}
	grp, ok := t.stream(topic).groups[g]
	if !ok {
		return nil, nil
	}
	keys := make([]id.ID, 0, len(grp.pel))
	for k := range grp.pel {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	now := t.now().UnixMilli()
	out := make([]transport.PendingEntry, 0, len(keys))
	for _, k := range keys {
		p := grp.pel[k]
		idle := now - p.lastMs
		if idle < 0 {
			idle = 0
		}
		out = append(out, transport.PendingEntry{EntryID: k.String(), Consumer: p.consumer, IdleMs: idle, DeliveryCount: p.deliveries})
	}
	return out, nil
}

func (t *Transport) Claim(ctx context.Context, topic, g, consumer string, minIdle time.Duration, ids ...string) ([]transport.Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, buserr.Unavailable("claim", errClosed)
	}
	s := t.stream(topic)
	grp, ok := s.groups[g]
	if !ok {
		return nil, transport.ErrNoGroup
	}
	now := t.now().UnixMilli()
	var out []transport.Entry
	for _, raw := range ids {
		eid, err := id.Parse(raw)
		if err != nil {
			continue
		}
		p, ok := grp.pel[eid]
		if !ok || now-p.lastMs < minIdle.Milliseconds() {
			continue
		}
		p.consumer = consumer
		p.deliveries++
		p.lastMs = now
		payload, ok := s.entries[eid]
		if !ok {
			// trimmed while pending; nothing left to redeliver
			delete(grp.pel, eid)
			continue
		}
		out = append(out, transport.Entry{ID: eid.String(), Topic: topic, Payload: payload})
	}
	return out, nil
}

func (t *Transport) Range(ctx context.Context, topic, start string, count int) ([]transport.Entry, error) {
	from := id.Zero
	if start != "" && start != "0" && start != "-" {
		var err error
		if from, err = id.Parse(start); err != nil {
			return nil, buserr.Validation("start", "malformed entry id")
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, buserr.Unavailable("range", errClosed)
	}
	s, ok := t.streams[topic]
	if !ok {
		return nil, nil
	}
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i].Compare(from) >= 0 })
	var out []transport.Entry
	for _, eid := range s.ids[i:] {
		if count > 0 && len(out) == count {
			break
		}
		out = append(out, transport.Entry{ID: eid.String(), Topic: topic, Payload: s.entries[eid]})
	}
	return out, nil
}

// Close marks the transport closed and wakes blocked readers.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, s := range t.streams {
		close(s.notify)
		s.notify = make(chan struct{})
	}
	return nil
}
