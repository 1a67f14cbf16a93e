package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/buserr"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/consumer"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/runtime"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/id"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// StreamsController exposes read-only stream inspection: pending entries,
// dead letters and raw ranges.
type StreamsController struct {
	rt *runtime.Runtime
}

// NewStreamsController creates a new streams controller.
func NewStreamsController(d Deps) *StreamsController {
	return &StreamsController{rt: d.Runtime}
}

// RegisterRoutes registers all stream-related routes with the given mux.
func (c *StreamsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/streams/pending", c.handlePending)
	mux.HandleFunc("/v1/streams/dlq", c.handleDLQ)
	mux.HandleFunc("/v1/streams/messages", c.handleMessages)
}

// handlePending lists ?topic&group pending entries.
func (c *StreamsController) handlePending(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	topic, group := q.Get("topic"), q.Get("group")
	if topic == "" || group == "" {
		writeError(w, http.StatusBadRequest, "topic and group are required")
		return
	}
	list, err := c.rt.Transport().Pending(r.Context(), topic, group)
	if err != nil {
		writeBusError(w, err)
		return
	}
	if list == nil {
		list = []transport.PendingEntry{}
	}
	writeJSON(w, pendingResp{Topic: topic, Group: group, Count: len(list), Entries: list})
}

// handleDLQ pages through "<topic>.dlq" from ?start, decoding records.
func (c *StreamsController) handleDLQ(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	topic := q.Get("topic")
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	dlq := transport.DeadLetterTopic(topic)
	entries, next, err := c.page(r, dlq)
	if err != nil {
		writeBusError(w, err)
		return
	}
	items := make([]dlqItem, 0, len(entries))
	for _, e := range entries {
		item := dlqItem{EntryID: e.ID}
		if rec, err := consumer.DecodeDeadLetter(e.Payload); err == nil {
			item.Record = &rec
		} else {
			item.Raw = rawJSON(e.Payload)
		}
		items = append(items, item)
	}
	writeJSON(w, listResp[dlqItem]{Topic: dlq, Items: items, Next: next})
}

// handleMessages pages through raw ?topic entries from ?start.
func (c *StreamsController) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	entries, next, err := c.page(r, topic)
	if err != nil {
		writeBusError(w, err)
		return
	}
	items := make([]rangeItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, rangeItem{EntryID: e.ID, Payload: rawJSON(e.Payload)})
	}
	writeJSON(w, listResp[rangeItem]{Topic: topic, Items: items, Next: next})
}

// page reads limit+1 entries to learn whether another page follows.
func (c *StreamsController) page(r *http.Request, topic string) ([]transport.Entry, string, error) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), defaultPageSize, maxPageSize)
	start := q.Get("start")
	if start != "" && start != "0" {
		if _, err := id.Parse(start); err != nil {
			return nil, "", buserr.Validation("start", "malformed entry id")
		}
	}
	entries, err := c.rt.Transport().Range(r.Context(), topic, start, limit+1)
	if err != nil {
		return nil, "", err
	}
	next := ""
	if len(entries) > limit {
		next = entries[limit].ID
		entries = entries[:limit]
	}
	return entries, next, nil
}

// rawJSON returns b when it is valid JSON and a JSON string otherwise.
func rawJSON(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}
	s, _ := json.Marshal(string(b))
	return s
}
