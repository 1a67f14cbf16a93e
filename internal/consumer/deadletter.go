package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

// DeadLetter is the record appended to "<topic>.dlq".
type DeadLetter struct {
	OriginalID     string `json:"originalId"`
	Topic          string `json:"topic"`
	Group          string `json:"group"`
	EventType      string `json:"eventType,omitempty"`
	Payload        string `json:"payload"`
	Error          string `json:"error"`
	DeliveryCount  int    `json:"deliveryCount"`
	DeadLetteredAt string `json:"deadLetteredAt"`
}

// DecodeDeadLetter parses a DLQ entry payload.
func DecodeDeadLetter(b []byte) (DeadLetter, error) {
	var d DeadLetter
	err := json.Unmarshal(b, &d)
	return d, err
}

const errMaxDeliveries = "max deliveries exceeded"

// deadLetter moves an entry this consumer has just claimed to the DLQ topic,
// then acks it. deliveries is the count before the claim. The ack only
// happens after the DLQ append succeeded; on failure the entry stays pending
// under this consumer and a later sweep retries.
func (c *Consumer) deadLetter(ctx context.Context, e transport.Entry, deliveries int) error {
	reason := c.lastError(e.ID)
	if reason == "" {
		reason = errMaxDeliveries
	}
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(e.Payload, &head)

	rec := DeadLetter{
		OriginalID:     e.ID,
		Topic:          c.topic,
		Group:          c.group,
		EventType:      head.Type,
		Payload:        string(e.Payload),
		Error:          reason,
		DeliveryCount:  deliveries,
		DeadLetteredAt: c.now().UTC().Format(envelope.TimestampLayout),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	dlq := transport.DeadLetterTopic(c.topic)
	dlqID, err := c.tr.Append(ctx, dlq, raw)
	if err != nil {
		return fmt.Errorf("append %s: %w", dlq, err)
	}
	if _, err := c.tr.Ack(ctx, c.topic, c.group, e.ID); err != nil {
		return fmt.Errorf("ack dead-lettered %s: %w", e.ID, err)
	}
	c.forgetError(e.ID)
	c.metrics.IncDeadLettered(c.topic, c.group)
	c.logger.Warn("entry dead-lettered",
		log.EntryID(e.ID), log.Str("dlq_id", dlqID), log.Str("type", head.Type),
		log.Int("deliveries", deliveries), log.Str("reason", reason))
	return nil
}

func (c *Consumer) now() time.Time { return time.Now() }
