package idempotency

import (
	"context"
	"errors"
	"time"
)

// Status of an idempotency record.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrNotOwner is returned by Complete and Fail when the record was taken
// over (processing TTL elapsed and another caller acquired it).
var ErrNotOwner = errors.New("idempotency: record owned by another execution")

// Record is the stored state of one key.
type Record struct {
	Key       string    `json:"key"`
	Status    Status    `json:"status"`
	Owner     string    `json:"owner,omitempty"`
	Result    []byte    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the record no longer counts at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// acquirable reports whether a new execution may take over r.
func (r *Record) acquirable(now time.Time) bool {
	return r == nil || r.Status == StatusFailed || r.Expired(now)
}

// Store persists idempotency records. Implementations must make Acquire
// atomic: of concurrent callers for one key at most one gets acquired=true.
type Store interface {
	// Get returns the live record for key, or nil when absent or expired.
	Get(ctx context.Context, key string) (*Record, error)
	// Acquire marks key processing for owner when it is absent, failed or
	// expired. Otherwise it returns the current record.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (acquired bool, current *Record, err error)
	// Complete stores result for key if owner still holds it.
	Complete(ctx context.Context, key, owner string, result []byte, ttl time.Duration) error
	// Fail records errMsg for key if owner still holds it.
	Fail(ctx context.Context, key, owner, errMsg string, ttl time.Duration) error
}
