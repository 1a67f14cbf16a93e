// Package transport defines the stream transport contract used by
// producers and consumer groups: an append-only log per topic with
// consumer-group delivery, acknowledgement and pending inspection.
//
// Implementations:
//   - transport/memory: in-process, for tests and single-process embedding
//   - transport/pebble: durable, backed by the event log and PEL on Pebble
package transport

import (
	"context"
	"errors"
	"time"
)

// DLQSuffix names the dead-letter stream of a topic.
const DLQSuffix = ".dlq"

// DeadLetterTopic returns "<topic>.dlq".
func DeadLetterTopic(topic string) string { return topic + DLQSuffix }

// ErrNoGroup is returned when reading from a group that was never ensured.
var ErrNoGroup = errors.New("transport: consumer group does not exist")

// Entry is a payload with its transport-assigned id.
type Entry struct {
	ID      string
	Topic   string
	Payload []byte
}

// PendingEntry describes an entry delivered to a consumer and not yet acked.
type PendingEntry struct {
	EntryID       string `json:"entryId"`
	Consumer      string `json:"consumer"`
	IdleMs        int64  `json:"idleMs"`
	DeliveryCount int    `json:"deliveryCount"`
}

// Transport is an ordered, consumer-group-capable log.
//
// Append order is total per topic. Within a group an entry is owned by at
// most one consumer while pending. Failures caused by the backing store are
// wrapped with buserr.ErrTransportUnavailable.
type Transport interface {
	// Append adds payload to topic and returns its entry id.
	Append(ctx context.Context, topic string, payload []byte) (string, error)
	// EnsureGroup creates group at the current tail unless it exists.
	EnsureGroup(ctx context.Context, topic, group string) error
	// ReadGroup hands up to maxCount never-delivered entries to consumer,
	// waiting up to block when none are available.
	ReadGroup(ctx context.Context, topic, group, consumer string, maxCount int, block time.Duration) ([]Entry, error)
	// Ack removes ids from the group's pending set and returns how many were
	// pending. Acking unknown ids is not an error.
	Ack(ctx context.Context, topic, group string, ids ...string) (int, error)
	// Pending lists the group's pending entries in id order.
	Pending(ctx context.Context, topic, group string) ([]PendingEntry, error)
	// Claim moves entries idle for at least minIdle to consumer, increments
	// their delivery count and returns them.
	Claim(ctx context.Context, topic, group, consumer string, minIdle time.Duration, ids ...string) ([]Entry, error)
	// Range returns up to count entries with id >= start ("" or "0" for the
	// beginning) without touching any group state.
	Range(ctx context.Context, topic, start string, count int) ([]Entry, error)
	// Close releases resources; later calls fail as unavailable.
	Close() error
}
