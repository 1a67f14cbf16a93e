package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/jackc/pgx/v5/pgxpool"

	cfgpkg "github.com/tlgselvi/desewebv5-gitops-sub006/internal/config"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/eventlog"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/idempotency"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/metrics"
	pebblestore "github.com/tlgselvi/desewebv5-gitops-sub006/internal/storage/pebble"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport"
	memorytransport "github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport/memory"
	pebbletransport "github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport/pebble"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config  cfgpkg.Config
	Logger  log.Logger
	Metrics *metrics.Metrics
}

// Runtime owns the storage of a single-node bus: the Pebble database when
// any component needs it, the stream transport and the idempotency store.
type Runtime struct {
	config  cfgpkg.Config
	logger  log.Logger
	metrics *metrics.Metrics

	db        *pebblestore.DB
	pool      *pgxpool.Pool
	transport transport.Transport
	durable   *pebbletransport.Transport
	store     idempotency.Store
}

// Open initializes storage according to opts.Config.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if opts.Logger == nil {
		opts.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	rt := &Runtime{config: cfg, logger: opts.Logger.With(log.Component("runtime")), metrics: opts.Metrics}

	if cfg.Transport == "pebble" || cfg.Idempotency.Store == "pebble" {
		db, err := pebblestore.Open(pebblestore.Options{
			DataDir: cfg.DataDir,
			Fsync:   pebblestore.ParseFsyncMode(cfg.Fsync),
			Metrics: opts.Metrics.StorageHook(),
		})
		if err != nil {
			return nil, fmt.Errorf("open pebble at %s: %w", cfg.DataDir, err)
		}
		rt.db = db
	}

	switch cfg.Transport {
	case "memory":
		rt.transport = memorytransport.New()
	default:
		rt.durable = pebbletransport.New(rt.db, pebbletransport.Options{
			Logger:   opts.Logger,
			Archiver: rt.archiver(),
		})
		rt.transport = rt.durable
	}

	switch cfg.Idempotency.Store {
	case "memory":
		rt.store = idempotency.NewMemoryStore()
	case "postgres":
		store, pool, err := idempotency.OpenPostgres(ctx, cfg.Idempotency.PostgresDSN)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("open idempotency store: %w", err)
		}
		rt.store, rt.pool = store, pool
	default:
		rt.store = idempotency.NewPebbleStore(rt.db)
	}

	rt.logger.Info("runtime opened",
		log.Str("transport", cfg.Transport),
		log.Str("idempotency_store", cfg.Idempotency.Store),
		log.Str("data_dir", cfg.DataDir))
	return rt, nil
}

func (r *Runtime) archiver() eventlog.ArchiverHook {
	return eventlog.ArchiverFunc(func(topic string, min, max id.ID, count int) {
		r.logger.Debug("retention trimmed range",
			log.Topic(topic), log.Str("min", min.String()), log.Str("max", max.String()), log.Int("count", count))
	})
}

// NewGuard builds the idempotency guard configured for this runtime.
func (r *Runtime) NewGuard() *idempotency.Guard {
	c := r.config.Idempotency
	return idempotency.NewGuard(r.store, idempotency.Options{
		TTL:         c.TTL(),
		FailedTTL:   c.FailedTTL(),
		WaitTimeout: c.WaitTimeout(),
		FailMode:    idempotency.ParseFailMode(c.FailMode),
		Logger:      r.logger,
		Metrics:     r.metrics,
	})
}

// Close closes the transport, then the stores. It is safe to call twice.
func (r *Runtime) Close() error {
	var errs []error
	if r.transport != nil {
		errs = append(errs, r.transport.Close())
	}
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	return errors.Join(errs...)
}

// CheckHealth reports whether the backing stores answer.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db != nil {
		if err := r.db.Iterate(nil, func(*pebble.Iterator) error { return nil }); err != nil {
			return fmt.Errorf("pebble: %w", err)
		}
	}
	if r.pool != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := r.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

// Transport returns the stream transport.
func (r *Runtime) Transport() transport.Transport { return r.transport }

// IdempotencyStore returns the idempotency store.
func (r *Runtime) IdempotencyStore() idempotency.Store { return r.store }

// DB exposes the underlying DB; nil when nothing is stored in Pebble.
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
