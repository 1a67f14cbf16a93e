package consumer

import (
	"time"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/backoff"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/metrics"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

// Options tunes the read loop and the sweep. Zero fields take defaults.
type Options struct {
	ReadCount       int           // entries per ReadGroup, default 10
	Block           time.Duration // ReadGroup wait, default 1s
	MaxDeliveries   int           // dead-letter threshold, default 5
	ClaimIdle       time.Duration // min idle before a claim, default 30s
	SweepInterval   time.Duration // default 30s
	ShutdownTimeout time.Duration // wait for in-flight handlers, default 10s
	IdempotencyTTL  time.Duration // completed-key retention, 0 = guard default
	// Backoff paces ReadGroup retries after transport errors. Attempts are
	// unlimited; MaxAttempts is ignored.
	Backoff backoff.Policy
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		ReadCount:       10,
		Block:           time.Second,
		MaxDeliveries:   5,
		ClaimIdle:       30 * time.Second,
		SweepInterval:   30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Backoff:         backoff.Default(),
	}
}

func (o *Options) fill() {
	d := DefaultOptions()
	if o.ReadCount <= 0 {
		o.ReadCount = d.ReadCount
	}
	if o.Block <= 0 {
		o.Block = d.Block
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = d.MaxDeliveries
	}
	if o.ClaimIdle <= 0 {
		o.ClaimIdle = d.ClaimIdle
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = d.ShutdownTimeout
	}
	if o.Backoff.Type == "" {
		o.Backoff = d.Backoff
	}
}

// Option customizes a Consumer.
type Option func(*Consumer)

// WithOptions replaces the tuning options.
func WithOptions(o Options) Option { return func(c *Consumer) { c.opts = o } }

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option { return func(c *Consumer) { c.logger = l } }

// WithMetrics records consume outcomes on m.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Consumer) { c.metrics = m } }

// WithFanOut broadcasts every successfully handled event through b.
func WithFanOut(b Broadcaster) Option { return func(c *Consumer) { c.fanout = b } }
