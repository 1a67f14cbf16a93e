package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/auth"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/metrics"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

// ErrClosed is returned when registering on a closed gateway.
var ErrClosed = errors.New("gateway: closed")

// Options configures the gateway. Zero fields take the defaults.
type Options struct {
	QueueDepth       int           // per-connection outbound queue, default 100
	PingInterval     time.Duration // default 30s
	PongWait         time.Duration // read deadline extended by pongs, default 60s
	WriteWait        time.Duration // per-frame write deadline, default 10s
	HandshakeTimeout time.Duration // default 10s
	MaxMessageBytes  int64         // inbound frame limit, default 64 KiB
	AllowedOrigins   []string      // empty allows every origin

	Logger  log.Logger
	Metrics *metrics.Metrics
}

func (o *Options) defaults() {
	if o.QueueDepth <= 0 {
		o.QueueDepth = 100
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	if o.Logger == nil {
		o.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
}

// ConnectionInfo describes a live connection.
type ConnectionInfo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Role        string    `json:"role,omitempty"`
	Topics      []string  `json:"topics"`
	Filter      string    `json:"filter,omitempty"`
	QueueLen    int       `json:"queueLen"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Gateway is the registry of live connections.
type Gateway struct {
	opts    Options
	logger  log.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	conns  map[string]*Connection
	closed bool

	// bmu serializes broadcasts so per-connection order equals call order.
	bmu sync.Mutex

	// sessions tracks socket goroutines started by the HTTP handler.
	sessions sync.WaitGroup
}

// New returns an empty gateway.
func New(opts Options) *Gateway {
	opts.defaults()
	return &Gateway{
		opts:    opts,
		logger:  opts.Logger.With(log.Component("gateway")),
		metrics: opts.Metrics,
		conns:   map[string]*Connection{},
	}
}

// Register adds a connection for identity.
func (g *Gateway) Register(identity auth.Identity) (*Connection, error) {
	c := newConnection(identity, g.opts.QueueDepth, time.Now())
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrClosed
	}
	g.conns[c.ID] = c
	g.mu.Unlock()
	g.metrics.ConnectionOpened()
	g.logger.Info("connection registered", log.Str("connection_id", c.ID), log.Str("user_id", identity.ID))
	return c, nil
}

// Subscribe adds topic patterns to c and replaces its filter when filterExpr
// is non-empty. It returns c's full pattern set.
func (g *Gateway) Subscribe(c *Connection, topics []string, filterExpr string) ([]string, error) {
	if len(topics) == 0 {
		return nil, errors.New("topics required")
	}
	for _, t := range topics {
		if !ValidPattern(t) {
			return nil, fmt.Errorf("invalid topic pattern %q", t)
		}
	}
	f, err := CompileFilter(filterExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	c.mu.Lock()
	for _, t := range topics {
		c.patterns[t] = struct{}{}
	}
	if f != nil {
		c.filter = f
	}
	c.mu.Unlock()
	g.logger.Debug("subscribed", log.Str("connection_id", c.ID), log.Any("topics", topics))
	return c.Topics(), nil
}

// Unsubscribe removes patterns and returns those that were present.
func (g *Gateway) Unsubscribe(c *Connection, topics []string) []string {
	c.mu.Lock()
	var removed []string
	for _, t := range topics {
		if _, ok := c.patterns[t]; ok {
			delete(c.patterns, t)
			removed = append(removed, t)
		}
	}
	if len(c.patterns) == 0 {
		c.filter = nil
	}
	c.mu.Unlock()
	return removed
}

// Broadcast enqueues payload on every connection subscribed to topic and
// returns how many accepted it.
func (g *Gateway) Broadcast(topic string, payload []byte) int {
	return g.broadcast(topic, nil, payload)
}

// BroadcastEvent sends {"type":"event","event":ev} to subscribers of
// ev.Type whose filter accepts ev.
func (g *Gateway) BroadcastEvent(ev *envelope.Event) int {
	return g.broadcast(ev.Type, ev, encode(ServerMessage{Type: MsgEvent, Event: ev}))
}

func (g *Gateway) broadcast(topic string, ev *envelope.Event, payload []byte) int {
	g.bmu.Lock()
	defer g.bmu.Unlock()

	g.mu.RLock()
	targets := make([]*Connection, 0, len(g.conns))
	for _, c := range g.conns {
		if c.wants(topic, ev) {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			sent++
			continue
		}
		g.forceClose(c, ReasonQueueFull)
	}
	g.metrics.ObserveBroadcast(sent)
	return sent
}

// send enqueues a direct reply to c, force-closing it when the queue is full.
func (g *Gateway) send(c *Connection, m ServerMessage) {
	if !c.enqueue(encode(m)) {
		g.forceClose(c, ReasonQueueFull)
	}
}

func (g *Gateway) forceClose(c *Connection, reason string) {
	if c.close(reason) {
		g.metrics.IncForceClosed(reason)
		g.logger.Warn("connection force-closed", log.Str("connection_id", c.ID), log.Str("reason", reason))
	}
	g.Unregister(c)
}

// Unregister removes c and closes it. It is safe to call more than once.
func (g *Gateway) Unregister(c *Connection) {
	c.close(ReasonClientClosed)
	g.mu.Lock()
	_, ok := g.conns[c.ID]
	delete(g.conns, c.ID)
	g.mu.Unlock()
	if ok {
		g.metrics.ConnectionClosed()
		g.logger.Info("connection unregistered", log.Str("connection_id", c.ID), log.Str("reason", c.CloseReason()))
	}
}

// Connections lists live connections ordered by id.
func (g *Gateway) Connections() []ConnectionInfo {
	g.mu.RLock()
	out := make([]ConnectionInfo, 0, len(g.conns))
	for _, c := range g.conns {
		c.mu.RLock()
		filter := c.filter.String()
		c.mu.RUnlock()
		out = append(out, ConnectionInfo{
			ID:          c.ID,
			UserID:      c.Identity.ID,
			Role:        c.Identity.Role,
			Topics:      c.Topics(),
			Filter:      filter,
			QueueLen:    c.QueueLen(),
			ConnectedAt: c.ConnectedAt,
		})
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close closes every connection, refuses new ones and waits until ctx is
// done for socket goroutines to flush their close frames.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	conns := make([]*Connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		c.close(ReasonShutdown)
		g.Unregister(c)
	}
	g.logger.Info("gateway closed", log.Int("connections", len(conns)))

	done := make(chan struct{})
	go func() {
		g.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
