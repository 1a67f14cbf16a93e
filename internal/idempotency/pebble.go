package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pebblestore "github.com/tlgselvi/desewebv5-gitops-sub006/internal/storage/pebble"
)

var pebblePrefix = []byte("bus/idem/")

func pebbleKey(key string) []byte {
	return append(append([]byte(nil), pebblePrefix...), key...)
}

// PebbleStore keeps records in the bus database. The read-modify-write in
// Acquire is serialized in process; the database has a single owner.
type PebbleStore struct {
	db  *pebblestore.DB
	mu  sync.Mutex
	now func() time.Time
}

var _ Store = (*PebbleStore)(nil)

// NewPebbleStore returns a store on db. The caller owns db.
func NewPebbleStore(db *pebblestore.DB) *PebbleStore {
	return &PebbleStore{db: db, now: time.Now}
}

// SetClock overrides the clock used for expiry.
func (s *PebbleStore) SetClock(now func() time.Time) { s.now = now }

func (s *PebbleStore) load(key string) (*Record, error) {
	b, err := s.db.Get(pebbleKey(key))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode idempotency record %q: %w", key, err)
	}
	return &r, nil
}

func (s *PebbleStore) save(ctx context.Context, r *Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(pebbleKey(r.Key), b, nil); err != nil {
		return err
	}
	return s.db.CommitBatch(ctx, batch)
}

func (s *PebbleStore) Get(_ context.Context, key string) (*Record, error) {
	r, err := s.load(key)
	if err != nil || r == nil {
		return nil, err
	}
	if r.Expired(s.now()) {
		return nil, nil
	}
	return r, nil
}

func (s *PebbleStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, *Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.load(key)
	if err != nil {
		return false, nil, err
	}
	now := s.now()
	if !r.acquirable(now) {
		return false, r, nil
	}
	next := &Record{Key: key, Status: StatusProcessing, Owner: owner, CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(ttl)}
	if err := s.save(ctx, next); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

func (s *PebbleStore) Complete(ctx context.Context, key, owner string, result []byte, ttl time.Duration) error {
	return s.finish(ctx, key, owner, func(r *Record, now time.Time) {
		r.Status = StatusCompleted
		r.Result = result
		r.ExpiresAt = now.Add(ttl)
	})
}

func (s *PebbleStore) Fail(ctx context.Context, key, owner, errMsg string, ttl time.Duration) error {
	return s.finish(ctx, key, owner, func(r *Record, now time.Time) {
		r.Status = StatusFailed
		r.Error = errMsg
		r.ExpiresAt = now.Add(ttl)
	})
}

func (s *PebbleStore) finish(ctx context.Context, key, owner string, apply func(*Record, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.load(key)
	if err != nil {
		return err
	}
	if r == nil || r.Owner != owner || r.Status != StatusProcessing {
		return ErrNotOwner
	}
	now := s.now()
	apply(r, now)
	r.UpdatedAt = now
	return s.save(ctx, r)
}

// Sweep deletes up to limit expired records.
func (s *PebbleStore) Sweep(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var expired [][]byte
	err := s.db.ScanPrefix(pebblePrefix, func(k, v []byte) bool {
		var r Record
		if json.Unmarshal(v, &r) != nil || r.Expired(now) {
			expired = append(expired, append([]byte(nil), k...))
		}
		return limit <= 0 || len(expired) < limit
	})
	if err != nil || len(expired) == 0 {
		return 0, err
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, k := range expired {
		if err := batch.Delete(k, nil); err != nil {
			return 0, err
		}
	}
	if err := s.db.CommitBatch(ctx, batch); err != nil {
		return 0, err
	}
	return len(expired), nil
}
