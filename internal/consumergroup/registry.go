package consumergroup

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	pebblestore "github.com/tlgselvi/desewebv5-gitops-sub006/internal/storage/pebble"
)

// Consumer represents a registered consumer of a group.
type Consumer struct {
	ID            string            `json:"id"`
	Group         string            `json:"group"`
	RegisteredMs  int64             `json:"registeredMs"`
	LastHeartbeat int64             `json:"lastHeartbeat"`
	ExpiresAtMs   int64             `json:"expiresAtMs"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Registry manages consumer registration, heartbeats and TTL for one group.
type Registry struct {
	db    *pebblestore.DB
	topic string
	group string
	ttl   time.Duration
	now   func() time.Time
}

// NewRegistry creates a consumer registry. ttl defaults to 15s.
func NewRegistry(db *pebblestore.DB, topic, group string, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Registry{db: db, topic: topic, group: group, ttl: ttl, now: time.Now}
}

// SetClock overrides the clock used for expiry.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Heartbeat registers the consumer or extends its TTL.
func (r *Registry) Heartbeat(ctx context.Context, consumerID string, metadata map[string]string) (*Consumer, error) {
	now := r.now().UnixMilli()
	c := &Consumer{
		ID:            consumerID,
		Group:         r.group,
		RegisteredMs:  now,
		LastHeartbeat: now,
		ExpiresAtMs:   now + r.ttl.Milliseconds(),
		Metadata:      metadata,
	}

	b := r.db.NewBatch()
	defer b.Close()

	prev, err := r.Get(consumerID)
	switch {
	case err == nil:
		c.RegisteredMs = prev.RegisteredMs
		if c.Metadata == nil {
			c.Metadata = prev.Metadata
		}
		if prev.ExpiresAtMs != c.ExpiresAtMs {
			if err := b.Delete(consumerIndexKey(r.topic, r.group, prev.ExpiresAtMs, consumerID), nil); err != nil {
				return nil, fmt.Errorf("delete old consumer index: %w", err)
			}
		}
	case !errors.Is(err, pebblestore.ErrNotFound):
		return nil, err
	}

	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal consumer: %w", err)
	}
	if err := b.Set(consumerKey(r.topic, r.group, consumerID), raw, nil); err != nil {
		return nil, fmt.Errorf("write consumer: %w", err)
	}
	if err := b.Set(consumerIndexKey(r.topic, r.group, c.ExpiresAtMs, consumerID), []byte(consumerID), nil); err != nil {
		return nil, fmt.Errorf("write consumer index: %w", err)
	}
	if err := r.db.CommitBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("commit heartbeat: %w", err)
	}
	return c, nil
}

// Unregister removes a consumer registration. Missing consumers are ignored.
func (r *Registry) Unregister(ctx context.Context, consumerID string) error {
	c, err := r.Get(consumerID)
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	b := r.db.NewBatch()
	defer b.Close()
	if err := b.Delete(consumerKey(r.topic, r.group, consumerID), nil); err != nil {
		return fmt.Errorf("delete consumer: %w", err)
	}
	if err := b.Delete(consumerIndexKey(r.topic, r.group, c.ExpiresAtMs, consumerID), nil); err != nil {
		return fmt.Errorf("delete consumer index: %w", err)
	}
	if err := r.db.CommitBatch(ctx, b); err != nil {
		return fmt.Errorf("commit unregister: %w", err)
	}
	return nil
}

// Get retrieves a consumer by id. Missing consumers yield pebblestore.ErrNotFound.
func (r *Registry) Get(consumerID string) (*Consumer, error) {
	raw, err := r.db.Get(consumerKey(r.topic, r.group, consumerID))
	if err != nil {
		return nil, err
	}
	var c Consumer
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("unmarshal consumer: %w", err)
	}
	return &c, nil
}

// List returns all consumers of the group ordered by id.
func (r *Registry) List() ([]*Consumer, error) {
	var out []*Consumer
	err := r.db.ScanPrefix(consumerPrefix(r.topic, r.group), func(_, v []byte) bool {
		var c Consumer
		if json.Unmarshal(v, &c) == nil {
			out = append(out, &c)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// IsActive reports whether consumerID is registered and not expired.
func (r *Registry) IsActive(consumerID string) bool {
	c, err := r.Get(consumerID)
	if err != nil {
		return false
	}
	return c.ExpiresAtMs > r.now().UnixMilli()
}

// ListExpired returns up to limit consumers that missed their heartbeat.
func (r *Registry) ListExpired(limit int) ([]string, error) {
	now := r.now().UnixMilli()
	prefix := consumerIndexPrefix(r.topic, r.group)
	var out []string
	err := r.db.ScanPrefix(prefix, func(k, v []byte) bool {
		if len(k) < len(prefix)+8 {
			return true
		}
		if int64(binary.BigEndian.Uint64(k[len(prefix):len(prefix)+8])) > now {
			return false // index is sorted by expiry
		}
		out = append(out, string(v))
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// CleanupExpired removes expired consumers and returns how many were removed.
func (r *Registry) CleanupExpired(ctx context.Context, limit int) (int, error) {
	expired, err := r.ListExpired(limit)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}
	n := 0
	for _, id := range expired {
		if err := r.Unregister(ctx, id); err != nil {
			continue
		}
		n++
	}
	return n, nil
}
