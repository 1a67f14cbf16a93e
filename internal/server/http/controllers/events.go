package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/idempotency"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/producer"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/runtime"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

const maxPublishBody = 1 << 20

// EventsController publishes events over HTTP.
type EventsController struct {
	rt       *runtime.Runtime
	producer *producer.Producer
	guard    *idempotency.Guard
	logger   log.Logger
}

// NewEventsController creates a new events controller.
func NewEventsController(d Deps) *EventsController {
	return &EventsController{rt: d.Runtime, producer: d.Producer, guard: d.Guard, logger: d.Logger.With(log.Component("http"))}
}

// RegisterRoutes registers /v1/events/publish. With a guard the route
// honours Idempotency-Key headers.
func (c *EventsController) RegisterRoutes(mux *http.ServeMux) {
	var h http.Handler = http.HandlerFunc(c.handlePublish)
	if c.guard != nil {
		h = idempotency.Middleware(c.guard, c.rt.Config().Idempotency.TTL())(h)
	}
	mux.Handle("/v1/events/publish", h)
}

// handlePublish signs and appends {topic,type,source,data} and answers 202
// with the entry id and the event.
func (c *EventsController) handlePublish(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req publishReq
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPublishBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Data == nil {
		req.Data = map[string]any{}
	}
	entryID, ev, err := c.producer.Publish(r.Context(), req.Topic, req.Type, req.Source, req.Data, nil)
	if err != nil {
		c.logger.Debug("publish rejected", log.Topic(req.Topic), log.Str("type", req.Type), log.Err(err))
		writeBusError(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, publishResp{EntryID: entryID, Event: ev})
}
