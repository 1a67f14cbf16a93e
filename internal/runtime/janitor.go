package runtime

import (
	"context"
	"time"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/idempotency"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

const sweepBatch = 1000

// Retain applies the retention limits to every durable topic and returns
// the number of entries removed. The memory transport keeps everything.
func (r *Runtime) Retain(ctx context.Context) (int, error) {
	if r.durable == nil {
		return 0, nil
	}
	rc := r.config.Retention
	if rc.MaxAge() <= 0 && rc.MaxBytes <= 0 {
		return 0, nil
	}
	topics, err := r.durable.Topics()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, topic := range topics {
		n, err := r.durable.Trim(ctx, topic, rc.MaxAge(), rc.MaxBytes)
		total += n
		r.metrics.AddTrimmed(topic, n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SweepIdempotency deletes expired idempotency records.
func (r *Runtime) SweepIdempotency(ctx context.Context) (int, error) {
	switch s := r.store.(type) {
	case *idempotency.PebbleStore:
		return s.Sweep(ctx, sweepBatch)
	case *idempotency.MemoryStore:
		return s.Sweep(ctx)
	case *idempotency.PostgresStore:
		return s.Sweep(ctx)
	}
	return 0, nil
}

// RunJanitor runs Retain and SweepIdempotency every retention interval
// until ctx is done.
func (r *Runtime) RunJanitor(ctx context.Context) {
	interval := r.config.Retention.Interval()
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.janitorPass(ctx)
		}
	}
}

func (r *Runtime) janitorPass(ctx context.Context) {
	if n, err := r.Retain(ctx); err != nil {
		r.logger.Warn("retention pass failed", log.Err(err))
	} else if n > 0 {
		r.logger.Info("retention pass", log.Int("trimmed", n))
	}
	if n, err := r.SweepIdempotency(ctx); err != nil {
		r.logger.Warn("idempotency sweep failed", log.Err(err))
	} else if n > 0 {
		r.logger.Debug("idempotency sweep", log.Int("removed", n))
	}
}
