package consumergroup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/tlgselvi/desewebv5-gitops-sub006/internal/storage/pebble"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
)

// Pending is the PEL record of one delivered but unacknowledged entry.
type Pending struct {
	EntryID         id.ID  `json:"-"`
	Consumer        string `json:"consumer"`
	DeliveryCount   int    `json:"deliveries"`
	FirstDeliveryMs int64  `json:"first_ms"`
	LastDeliveryMs  int64  `json:"last_ms"`
}

// IdleMs is the time since the last delivery.
func (p Pending) IdleMs(nowMs int64) int64 {
	if d := nowMs - p.LastDeliveryMs; d > 0 {
		return d
	}
	return 0
}

// PEL manages the pending entries of one topic/group.
type PEL struct {
	db    *pebblestore.DB
	topic string
	group string
	now   func() time.Time
}

// NewPEL creates a PEL view.
func NewPEL(db *pebblestore.DB, topic, group string) *PEL {
	return &PEL{db: db, topic: topic, group: group, now: time.Now}
}

// SetClock overrides the clock used for idle times.
func (p *PEL) SetClock(now func() time.Time) { p.now = now }

// Deliver records entries as pending for consumer in batch b. The caller
// commits b together with the cursor advance.
func (p *PEL) Deliver(b *pebble.Batch, entries []id.ID, consumer string) error {
	now := p.now().UnixMilli()
	for _, e := range entries {
		rec, err := json.Marshal(Pending{Consumer: consumer, DeliveryCount: 1, FirstDeliveryMs: now, LastDeliveryMs: now})
		if err != nil {
			return fmt.Errorf("marshal pending: %w", err)
		}
		if err := b.Set(pelKey(p.topic, p.group, e), rec, nil); err != nil {
			return fmt.Errorf("write PEL: %w", err)
		}
	}
	return nil
}

// Get loads one pending record.
func (p *PEL) Get(entry id.ID) (Pending, bool, error) {
	raw, err := p.db.Get(pelKey(p.topic, p.group, entry))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Pending{}, false, nil
	}
	if err != nil {
		return Pending{}, false, err
	}
	var rec Pending
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Pending{}, false, fmt.Errorf("unmarshal pending: %w", err)
	}
	rec.EntryID = entry
	return rec, true, nil
}

// Ack removes entries from the PEL and returns how many were pending.
func (p *PEL) Ack(ctx context.Context, entries ...id.ID) (int, error) {
	b := p.db.NewBatch()
	defer b.Close()
	n := 0
	for _, e := range entries {
		_, ok, err := p.Get(e)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		if err := b.Delete(pelKey(p.topic, p.group, e), nil); err != nil {
			return 0, fmt.Errorf("delete PEL: %w", err)
		}
		n++
	}
	if n == 0 {
		return 0, nil
	}
	if err := p.db.CommitBatch(ctx, b); err != nil {
		return 0, fmt.Errorf("commit ack: %w", err)
	}
	return n, nil
}

// List returns up to limit pending records in entry order (limit <= 0: all).
func (p *PEL) List(limit int) ([]Pending, error) {
	prefix := pelPrefix(p.topic, p.group)
	var out []Pending
	var decodeErr error
	err := p.db.ScanPrefix(prefix, func(k, v []byte) bool {
		var rec Pending
		if err := json.Unmarshal(v, &rec); err != nil {
			decodeErr = fmt.Errorf("unmarshal pending: %w", err)
			return false
		}
		rec.EntryID, _ = id.FromBytes(k[len(prefix):])
		out = append(out, rec)
		return limit <= 0 || len(out) < limit
	})
	if err == nil {
		err = decodeErr
	}
	return out, err
}

// Claim transfers entries idle for at least minIdle to consumer, bumping their
// delivery count. Entries that are not pending or not idle long enough are
// skipped. It returns the records as they are after the claim.
func (p *PEL) Claim(ctx context.Context, consumer string, minIdle time.Duration, entries ...id.ID) ([]Pending, error) {
	now := p.now().UnixMilli()
	b := p.db.NewBatch()
	defer b.Close()
	var claimed []Pending
	for _, e := range entries {
		rec, ok, err := p.Get(e)
		if err != nil {
			return nil, err
		}
		if !ok || rec.IdleMs(now) < minIdle.Milliseconds() {
			continue
		}
		rec.Consumer = consumer
		rec.DeliveryCount++
		rec.LastDeliveryMs = now
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal pending: %w", err)
		}
		if err := b.Set(pelKey(p.topic, p.group, e), raw, nil); err != nil {
			return nil, fmt.Errorf("write PEL: %w", err)
		}
		claimed = append(claimed, rec)
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	if err := p.db.CommitBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}
