package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*Record{}, now: time.Now}
}

// SetClock overrides the clock used for expiry.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok || r.Expired(s.now()) {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (s *MemoryStore) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, *Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	r := s.records[key]
	if !r.acquirable(now) {
		c := *r
		return false, &c, nil
	}
	s.records[key] = &Record{Key: key, Status: StatusProcessing, Owner: owner, CreatedAt: now, UpdatedAt: now, ExpiresAt: now.Add(ttl)}
	return true, nil, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, owner string, result []byte, ttl time.Duration) error {
	return s.finish(key, owner, func(r *Record, now time.Time) {
		r.Status = StatusCompleted
		r.Result = append([]byte(nil), result...)
		r.ExpiresAt = now.Add(ttl)
	})
}

func (s *MemoryStore) Fail(_ context.Context, key, owner, errMsg string, ttl time.Duration) error {
	return s.finish(key, owner, func(r *Record, now time.Time) {
		r.Status = StatusFailed
		r.Error = errMsg
		r.ExpiresAt = now.Add(ttl)
	})
}

func (s *MemoryStore) finish(key, owner string, apply func(*Record, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok || r.Owner != owner || r.Status != StatusProcessing {
		return ErrNotOwner
	}
	now := s.now()
	apply(r, now)
	r.UpdatedAt = now
	return nil
}

// Sweep drops expired records and returns how many were removed.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, r := range s.records {
		if r.Expired(now) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}
