package gateway

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/auth"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
)

// Close reasons.
const (
	ReasonQueueFull    = "queue_full"
	ReasonTokenExpired = "token_expired"
	ReasonClientClosed = "client_closed"
	ReasonWriteError   = "write_error"
	ReasonShutdown     = "shutdown"
)

// Connection is one registered client.
type Connection struct {
	ID          string
	Identity    auth.Identity
	ConnectedAt time.Time

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	reason    string

	mu       sync.RWMutex
	patterns map[string]struct{}
	filter   *Filter
}

func newConnection(identity auth.Identity, depth int, now time.Time) *Connection {
	return &Connection{
		ID:          fmt.Sprintf("%s-%d-%s", identity.Label(), now.UnixMilli(), uuid.NewString()[:8]),
		Identity:    identity,
		ConnectedAt: now,
		send:        make(chan []byte, depth),
		done:        make(chan struct{}),
		patterns:    map[string]struct{}{},
	}
}

// Outbound yields queued messages in order.
func (c *Connection) Outbound() <-chan []byte { return c.send }

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// CloseReason is set once Done is closed.
func (c *Connection) CloseReason() string {
	select {
	case <-c.done:
		return c.reason
	default:
		return ""
	}
}

// Topics lists the subscribed patterns.
func (c *Connection) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.patterns))
	for p := range c.patterns {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// QueueLen is the number of messages waiting for the writer.
func (c *Connection) QueueLen() int { return len(c.send) }

// enqueue never blocks; false means the queue is full or the connection
// closed.
func (c *Connection) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Connection) close(reason string) bool {
	closed := false
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
		closed = true
	})
	return closed
}

func (c *Connection) wants(topic string, ev *envelope.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	matched := false
	for p := range c.patterns {
		if matchPattern(p, topic) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if ev == nil {
		return true
	}
	return c.filter.Match(topic, ev)
}
