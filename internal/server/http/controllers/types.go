package controllers

import (
	"encoding/json"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/consumer"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport"
)

// publishReq represents a request to publish an event to a topic.
type publishReq struct {
	Topic  string         `json:"topic"`
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Data   map[string]any `json:"data"`
}

// publishResp is returned with 202 Accepted.
type publishResp struct {
	EntryID string          `json:"entryId"`
	Event   *envelope.Event `json:"event"`
}

// pendingResp lists the pending entries of a group.
type pendingResp struct {
	Topic   string                   `json:"topic"`
	Group   string                   `json:"group"`
	Count   int                      `json:"count"`
	Entries []transport.PendingEntry `json:"entries"`
}

// dlqItem is one dead-letter entry. Record is nil when the payload could
// not be decoded.
type dlqItem struct {
	EntryID string               `json:"entryId"`
	Record  *consumer.DeadLetter `json:"record,omitempty"`
	Raw     json.RawMessage      `json:"raw,omitempty"`
}

// rangeItem is one raw stream entry.
type rangeItem struct {
	EntryID string          `json:"entryId"`
	Payload json.RawMessage `json:"payload"`
}

// listResp pages through a stream; Next is the id to pass as start for the
// following page, empty at the end.
type listResp[T any] struct {
	Topic string `json:"topic"`
	Items []T    `json:"items"`
	Next  string `json:"next,omitempty"`
}
