package controllers

import (
	"net/http"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/consumer"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/metrics"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/runtime"
)

// GeneralController handles health, metrics and consumer status.
type GeneralController struct {
	rt        *runtime.Runtime
	metrics   *metrics.Metrics
	consumers func() []consumer.Status
}

// NewGeneralController creates a new general controller.
func NewGeneralController(d Deps) *GeneralController {
	return &GeneralController{rt: d.Runtime, metrics: d.Metrics, consumers: d.Consumers}
}

// RegisterRoutes registers general routes with the given mux.
//
// This method sets up HTTP endpoints for:
// - Health checks (/v1/healthz)
// - Consumer status (/v1/consumers)
// - Prometheus scraping (/metrics)
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/v1/consumers", c.handleConsumers)
	if c.metrics != nil {
		mux.Handle("/metrics", c.metrics.Handler())
	}
}

// handleHealth returns 200 {"status":"ok"} when storage answers and 503
// otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving", "error": err.Error()})
		return
	}
	running := 0
	for _, s := range c.statuses() {
		if s.Running {
			running++
		}
	}
	writeJSON(w, map[string]any{"status": "ok", "consumersRunning": running})
}

func (c *GeneralController) handleConsumers(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, map[string]any{"consumers": c.statuses()})
}

func (c *GeneralController) statuses() []consumer.Status {
	if c.consumers == nil {
		return []consumer.Status{}
	}
	return c.consumers()
}
