package gateway

import (
	"encoding/json"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
)

// Message types exchanged with clients.
const (
	MsgConnected    = "connected"
	MsgSubscribe    = "subscribe"
	MsgSubscribed   = "subscribed"
	MsgUnsubscribe  = "unsubscribe"
	MsgUnsubscribed = "unsubscribed"
	MsgEvent        = "event"
	MsgPing         = "ping"
	MsgPong         = "pong"
	MsgError        = "error"
)

// ClientMessage is what clients send. Topic is accepted as a single-topic
// shorthand for Topics.
type ClientMessage struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics,omitempty"`
	Topic  string   `json:"topic,omitempty"`
	Filter string   `json:"filter,omitempty"`
}

func (m ClientMessage) topics() []string {
	if m.Topic != "" {
		return append([]string{m.Topic}, m.Topics...)
	}
	return m.Topics
}

// ServerMessage is what the gateway sends.
type ServerMessage struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Topics       []string        `json:"topics,omitempty"`
	Filter       string          `json:"filter,omitempty"`
	Event        *envelope.Event `json:"event,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func encode(m ServerMessage) []byte {
	b, _ := json.Marshal(m)
	return b
}
