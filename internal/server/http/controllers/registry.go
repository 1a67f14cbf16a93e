package controllers

import (
	"net/http"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/consumer"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/idempotency"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/metrics"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/producer"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/runtime"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

// Deps are the components controllers delegate to. Guard, Metrics and
// Consumers are optional.
type Deps struct {
	Runtime   *runtime.Runtime
	Producer  *producer.Producer
	Guard     *idempotency.Guard
	Metrics   *metrics.Metrics
	Consumers func() []consumer.Status
	Logger    log.Logger
}

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general *GeneralController
	events  *EventsController
	streams *StreamsController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(d Deps) *ControllerRegistry {
	if d.Logger == nil {
		d.Logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	return &ControllerRegistry{
		general: NewGeneralController(d),
		events:  NewEventsController(d),
		streams: NewStreamsController(d),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.events.RegisterRoutes(mux)
	r.streams.RegisterRoutes(mux)
}
