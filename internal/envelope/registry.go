package envelope

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// Event types known to the default registry.
const (
	TypeFinbotTransactionCreated = "finbot.transaction.created"
	TypeFinbotTransactionUpdated = "finbot.transaction.updated"
	TypeFinbotAccountCreated     = "finbot.account.created"
	TypeFinbotBudgetUpdated      = "finbot.budget.updated"
	TypeMubotIngestionCompleted  = "mubot.ingestion.completed"
	TypeMubotDataQualityAlert    = "mubot.data.quality.alert"
	TypeDeseAnomalyDetected      = "dese.aiops.anomaly.detected"
	TypeDeseCorrelationMatched   = "dese.correlation.matched"
)

// Producing modules known to the default registry.
const (
	SourceFinbot = "finbot"
	SourceMubot  = "mubot"
	SourceDese   = "dese"
)

var typePattern = regexp.MustCompile(`^[a-z][a-z0-9]*(\.[a-z][a-z0-9_]*){2,}$`)

// Registry is the closed set of event types (each bound to a payload schema)
// and producing sources a bus instance accepts.
type Registry struct {
	version string

	mu      sync.RWMutex
	types   map[string]Schema
	sources map[string]struct{}
}

// NewRegistry returns an empty registry stamping version on new events.
func NewRegistry(version string) *Registry {
	if version == "" {
		version = DefaultVersion
	}
	return &Registry{version: version, types: map[string]Schema{}, sources: map[string]struct{}{}}
}

// DefaultRegistry returns the registry shared by the platform modules.
func DefaultRegistry() *Registry {
	r := NewRegistry(DefaultVersion)
	for _, s := range []string{SourceFinbot, SourceMubot, SourceDese} {
		r.AllowSource(s)
	}
	r.MustRegister(TypeFinbotTransactionCreated, StructSchema[FinbotTransactionCreated]{})
	r.MustRegister(TypeFinbotTransactionUpdated, StructSchema[FinbotTransactionUpdated]{})
	r.MustRegister(TypeFinbotAccountCreated, AnyObject)
	r.MustRegister(TypeFinbotBudgetUpdated, AnyObject)
	r.MustRegister(TypeMubotIngestionCompleted, AnyObject)
	r.MustRegister(TypeMubotDataQualityAlert, StructSchema[MubotDataQualityAlert]{})
	r.MustRegister(TypeDeseAnomalyDetected, AnyObject)
	r.MustRegister(TypeDeseCorrelationMatched, AnyObject)
	return r
}

// Version is stamped on every event created against this registry.
func (r *Registry) Version() string { return r.version }

// Register adds an event type of the form <domain>.<entity>.<action>.
func (r *Registry) Register(eventType string, schema Schema) error {
	if !typePattern.MatchString(eventType) {
		return fmt.Errorf("envelope: event type %q is not <domain>.<entity>.<action>", eventType)
	}
	if schema == nil {
		schema = AnyObject
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[eventType]; ok {
		return fmt.Errorf("envelope: event type %q already registered", eventType)
	}
	r.types[eventType] = schema
	return nil
}

// MustRegister is Register for static setup.
func (r *Registry) MustRegister(eventType string, schema Schema) {
	if err := r.Register(eventType, schema); err != nil {
		panic(err)
	}
}

// AllowSource admits a producing module identifier.
func (r *Registry) AllowSource(source string) {
	r.mu.Lock()
	r.sources[source] = struct{}{}
	r.mu.Unlock()
}

// Lookup returns the schema bound to eventType.
func (r *Registry) Lookup(eventType string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.types[eventType]
	return s, ok
}

// Known reports whether eventType is registered.
func (r *Registry) Known(eventType string) bool {
	_, ok := r.Lookup(eventType)
	return ok
}

// SourceAllowed reports whether source may produce events.
func (r *Registry) SourceAllowed(source string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[source]
	return ok
}

// Types lists registered types in lexical order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.types))
	for t := range r.types {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
