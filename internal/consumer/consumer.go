package consumer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/backoff"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/buserr"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/idempotency"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/metrics"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

var tracer = otel.Tracer("eventbus-consumer")

// ErrRunning is returned by Start on a consumer that is already running.
var ErrRunning = errors.New("consumer: already running")

// ErrShutdownTimeout is returned by Stop when handlers outlived the grace
// period. Their entries stay pending.
var ErrShutdownTimeout = errors.New("consumer: handlers still running after shutdown timeout")

// ErrStopping is returned by Start while loops from a Stop that timed out
// have not exited yet.
var ErrStopping = errors.New("consumer: previous run still stopping")

// Handler processes one event. A returned error leaves the entry pending.
type Handler func(ctx context.Context, ev *envelope.Event) error

// Broadcaster receives events after their handler succeeded.
type Broadcaster interface {
	BroadcastEvent(ev *envelope.Event) int
}

// Status is a point-in-time view of a consumer.
type Status struct {
	Running  bool     `json:"running"`
	Topic    string   `json:"topic"`
	Group    string   `json:"group"`
	Consumer string   `json:"consumer"`
	InFlight int      `json:"inFlight"`
	Handlers []string `json:"handlers"`
}

// Consumer is one member of a consumer group.
type Consumer struct {
	tr      transport.Transport
	env     *envelope.Envelope
	guard   *idempotency.Guard
	opts    Options
	logger  log.Logger
	base    log.Logger
	metrics *metrics.Metrics
	fanout  Broadcaster

	mu       sync.Mutex
	handlers map[string]Handler
	running  bool
	topic    string
	group    string
	name     string
	cancel   context.CancelFunc // stops the loops
	hcancel  context.CancelFunc // aborts in-flight handlers
	done     chan struct{}

	inFlight atomic.Int32

	errMu   sync.Mutex
	lastErr map[string]string
}

// New returns a stopped consumer. A nil guard gets an in-memory one.
func New(tr transport.Transport, env *envelope.Envelope, guard *idempotency.Guard, opts ...Option) *Consumer {
	c := &Consumer{
		tr:       tr,
		env:      env,
		guard:    guard,
		opts:     DefaultOptions(),
		handlers: map[string]Handler{},
		lastErr:  map[string]string{},
	}
	for _, o := range opts {
		o(c)
	}
	c.opts.fill()
	if c.logger == nil {
		c.logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	c.logger = c.logger.With(log.Component("consumer"))
	c.base = c.logger
	if c.guard == nil {
		c.guard = idempotency.NewGuard(idempotency.NewMemoryStore(), idempotency.Options{Logger: c.logger, Metrics: c.metrics})
	}
	return c
}

// DefaultName is "consumer-<pid>-<unixms>".
func DefaultName() string {
	return fmt.Sprintf("consumer-%d-%d", os.Getpid(), time.Now().UnixMilli())
}

// OnEvent binds h to eventType. Each registered type takes one handler.
func (c *Consumer) OnEvent(eventType string, h Handler) error {
	if h == nil {
		return errors.New("consumer: nil handler")
	}
	if !c.env.Registry().Known(eventType) {
		return buserr.Validation("type", "unknown event type "+eventType)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handlers[eventType]; ok {
		return fmt.Errorf("consumer: handler for %s already registered", eventType)
	}
	c.handlers[eventType] = h
	return nil
}

func (c *Consumer) handler(eventType string) Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers[eventType]
}

// Start ensures the group and launches the read and sweep loops. An empty
// name means DefaultName. Cancelling ctx stops the loops like Stop does but
// does not wait.
func (c *Consumer) Start(ctx context.Context, topic, group, name string) error {
	if name == "" {
		name = DefaultName()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrRunning
	}
	if c.done != nil {
		select {
		case <-c.done:
		default:
			return ErrStopping
		}
	}
	if err := c.tr.EnsureGroup(ctx, topic, group); err != nil {
		return fmt.Errorf("ensure group %s/%s: %w", topic, group, err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	hctx, hcancel := context.WithCancel(context.WithoutCancel(ctx))
	c.topic, c.group, c.name = topic, group, name
	c.cancel, c.hcancel = cancel, hcancel
	c.done = make(chan struct{})
	c.running = true
	c.logger = c.base.With(log.Topic(topic), log.Group(group), log.Consumer(name))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readLoop(loopCtx, hctx)
	}()
	go func() {
		defer wg.Done()
		c.sweepLoop(loopCtx, hctx)
	}()
	go func(done chan struct{}) {
		wg.Wait()
		close(done)
	}(c.done)

	c.logger.Info("consumer started",
		log.Int("read_count", c.opts.ReadCount), log.Int("max_deliveries", c.opts.MaxDeliveries),
		log.Dur("claim_idle", c.opts.ClaimIdle))
	return nil
}

// Stop stops issuing reads and waits up to ShutdownTimeout for in-flight
// handlers. Handlers still running after that see their context cancelled;
// their entries are not acknowledged.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel, hcancel, done := c.cancel, c.hcancel, c.done
	c.mu.Unlock()

	cancel()
	var err error
	select {
	case <-done:
	case <-time.After(c.opts.ShutdownTimeout):
		hcancel()
		select {
		case <-done:
		case <-time.After(c.opts.ShutdownTimeout):
			err = ErrShutdownTimeout
		}
	}
	hcancel()

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.logger.Info("consumer stopped", log.Bool("clean", err == nil))
	return err
}

// Status reports the current state.
func (c *Consumer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return Status{
		Running:  c.running,
		Topic:    c.topic,
		Group:    c.group,
		Consumer: c.name,
		InFlight: int(c.inFlight.Load()),
		Handlers: types,
	}
}

func (c *Consumer) readLoop(ctx, hctx context.Context) {
	var failures uint32
	for {
		if ctx.Err() != nil {
			return
		}
		entries, err := c.tr.ReadGroup(ctx, c.topic, c.group, c.name, c.opts.ReadCount, c.opts.Block)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			wait := c.opts.Backoff.Delay(failures)
			c.logger.Warn("read failed", log.Err(err), log.Int("failures", int(failures)), log.Dur("retry_in", wait))
			if errors.Is(err, transport.ErrNoGroup) {
				if gerr := c.tr.EnsureGroup(ctx, c.topic, c.group); gerr != nil {
					c.logger.Warn("re-create group failed", log.Err(gerr))
				}
			}
			if backoff.Sleep(ctx, wait) != nil {
				return
			}
			continue
		}
		failures = 0
		for _, e := range entries {
			if ctx.Err() != nil {
				// Unprocessed entries stay pending for a claim.
				return
			}
			c.process(hctx, e)
		}
	}
}

func (c *Consumer) sweepLoop(ctx, hctx context.Context) {
	t := time.NewTicker(c.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.sweep(ctx, hctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("sweep failed", log.Err(err))
			}
		}
	}
}

// sweep dead-letters exhausted entries and claims idle ones. Both only
// touch entries idle for ClaimIdle, and only after Claim made this consumer
// their owner, so an entry another member is still handling is left alone.
func (c *Consumer) sweep(ctx, hctx context.Context) error {
	pending, err := c.tr.Pending(ctx, c.topic, c.group)
	if err != nil {
		return err
	}
	c.metrics.SetPending(c.topic, c.group, len(pending))
	c.pruneErrors(pending)

	minIdle := c.opts.ClaimIdle.Milliseconds()
	var idle, exhausted []string
	deliveries := make(map[string]int)
	for _, p := range pending {
		if p.IdleMs < minIdle {
			continue
		}
		if p.DeliveryCount >= c.opts.MaxDeliveries {
			exhausted = append(exhausted, p.EntryID)
			deliveries[p.EntryID] = p.DeliveryCount
			continue
		}
		idle = append(idle, p.EntryID)
	}

	if len(exhausted) > 0 {
		owned, err := c.tr.Claim(ctx, c.topic, c.group, c.name, c.opts.ClaimIdle, exhausted...)
		if err != nil {
			return err
		}
		for _, e := range owned {
			if err := c.deadLetter(ctx, e, deliveries[e.ID]); err != nil {
				c.logger.Error("dead-letter failed", log.EntryID(e.ID), log.Err(err))
			}
		}
	}

	if len(idle) == 0 {
		return nil
	}
	claimed, err := c.tr.Claim(ctx, c.topic, c.group, c.name, c.opts.ClaimIdle, idle...)
	if err != nil {
		return err
	}
	c.metrics.AddClaimed(c.topic, c.group, len(claimed))
	if len(claimed) > 0 {
		c.logger.Info("claimed idle entries", log.Int("count", len(claimed)))
	}
	for _, e := range claimed {
		if ctx.Err() != nil {
			return nil
		}
		c.process(hctx, e)
	}
	return nil
}

// process runs one entry through parse, guard, handler and ack.
func (c *Consumer) process(ctx context.Context, e transport.Entry) {
	ackCtx := context.WithoutCancel(ctx)

	ev, perr := c.env.ParseEvent(e.Payload)
	if ev == nil {
		c.logger.Warn("poison entry dropped", log.EntryID(e.ID), log.Err(perr))
		c.metrics.IncConsumed(c.topic, c.group, metrics.OutcomePoison)
		c.ack(ackCtx, e.ID)
		return
	}
	h := c.handler(ev.Type)
	if h == nil {
		c.logger.Debug("no handler, acking", log.EntryID(e.ID), log.EventID(ev.ID), log.Str("type", ev.Type))
		c.metrics.IncConsumed(c.topic, c.group, metrics.OutcomeUnhandled)
		c.ack(ackCtx, e.ID)
		return
	}

	ctx, span := tracer.Start(ctx, "eventbus.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", c.topic),
		attribute.String("messaging.consumer.group", c.group),
		attribute.String("messaging.message.id", e.ID),
		attribute.String("event.type", ev.Type),
		attribute.String("event.id", ev.ID),
	)

	c.inFlight.Add(1)
	start := time.Now()
	_, outcome, err := c.guard.Run(ctx, idempotency.EventKey(c.group, ev), c.opts.IdempotencyTTL,
		func(ctx context.Context) ([]byte, error) {
			return nil, invoke(ctx, h, ev)
		})
	c.metrics.ObserveHandler(ev.Type, time.Since(start))
	c.inFlight.Add(-1)

	if err != nil {
		if !isGuardError(err) {
			err = &buserr.HandlerError{EventType: ev.Type, EventID: ev.ID, Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		c.rememberError(e.ID, err.Error())
		c.metrics.IncConsumed(c.topic, c.group, metrics.OutcomeFailed)
		c.logger.WithContext(ctx).Warn("handler failed, entry left pending",
			log.EntryID(e.ID), log.EventID(ev.ID), log.Str("type", ev.Type), log.Err(err))
		return
	}

	if outcome == idempotency.Replayed {
		c.metrics.IncConsumed(c.topic, c.group, metrics.OutcomeDuplicate)
		c.logger.Debug("duplicate delivery acked", log.EntryID(e.ID), log.EventID(ev.ID))
	} else {
		c.metrics.IncConsumed(c.topic, c.group, metrics.OutcomeAcked)
	}
	c.ack(ackCtx, e.ID)
	c.forgetError(e.ID)

	if c.fanout != nil && outcome != idempotency.Replayed {
		c.fanout.BroadcastEvent(ev)
	}
}

func (c *Consumer) ack(ctx context.Context, entryID string) {
	if _, err := c.tr.Ack(ctx, c.topic, c.group, entryID); err != nil {
		// Redelivery is deduplicated by the guard.
		c.logger.Warn("ack failed", log.EntryID(entryID), log.Err(err))
	}
}

// invoke turns a handler panic into an error.
func invoke(ctx context.Context, h Handler, ev *envelope.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, ev)
}

func isGuardError(err error) bool {
	var sp *buserr.StillProcessingError
	return errors.As(err, &sp) || errors.Is(err, buserr.ErrStoreUnavailable)
}

func (c *Consumer) rememberError(entryID, msg string) {
	c.errMu.Lock()
	c.lastErr[entryID] = msg
	c.errMu.Unlock()
}

func (c *Consumer) lastError(entryID string) string {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr[entryID]
}

func (c *Consumer) forgetError(entryID string) {
	c.errMu.Lock()
	delete(c.lastErr, entryID)
	c.errMu.Unlock()
}

// pruneErrors drops remembered errors of entries no longer pending, e.g.
// acked by another group member.
func (c *Consumer) pruneErrors(pending []transport.PendingEntry) {
	live := make(map[string]struct{}, len(pending))
	for _, p := range pending {
		live[p.EntryID] = struct{}{}
	}
	c.errMu.Lock()
	for id := range c.lastErr {
		if _, ok := live[id]; !ok {
			delete(c.lastErr, id)
		}
	}
	c.errMu.Unlock()
}
