package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/buserr"
)

// Envelope creates, signs and verifies events against one registry and secret.
type Envelope struct {
	reg    *Registry
	signer *Signer
	now    func() time.Time
	newID  func() string
}

// Option customizes an Envelope.
type Option func(*Envelope)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Envelope) { e.now = now }
}

// WithIDFunc overrides event id generation.
func WithIDFunc(f func() string) Option {
	return func(e *Envelope) { e.newID = f }
}

// New returns an Envelope. A nil registry means DefaultRegistry.
func New(reg *Registry, secret []byte, opts ...Option) (*Envelope, error) {
	s, err := NewSigner(secret)
	if err != nil {
		return nil, err
	}
	if reg == nil {
		reg = DefaultRegistry()
	}
	e := &Envelope{reg: reg, signer: s, now: time.Now, newID: uuid.NewString}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Registry returns the type registry events are checked against.
func (e *Envelope) Registry() *Registry { return e.reg }

// CreateEvent validates data, stamps id, timestamp and version, and signs.
// A nil schema means the schema registered for eventType.
func (e *Envelope) CreateEvent(eventType, source string, data any, schema Schema) (*Event, error) {
	registered, ok := e.reg.Lookup(eventType)
	if !ok {
		return nil, buserr.Validation("type", "unknown event type "+eventType)
	}
	if !e.reg.SourceAllowed(source) {
		return nil, buserr.Validation("source", "unknown source "+source)
	}
	if schema == nil {
		schema = registered
	}
	m, err := normalizeData(data)
	if err != nil {
		return nil, &buserr.ValidationError{Field: "data", Reason: "must be a JSON object", Err: err}
	}
	if err := schema.Validate(m); err != nil {
		return nil, asValidation(err)
	}
	ev := &Event{
		ID:        e.newID(),
		Type:      eventType,
		Timestamp: e.now().UTC().Format(TimestampLayout),
		Source:    source,
		Data:      m,
		Version:   e.reg.Version(),
	}
	sig, err := e.signer.Sign(ev)
	if err != nil {
		return nil, &buserr.ValidationError{Field: "data", Reason: "not serializable", Err: err}
	}
	ev.Signature = sig
	return ev, nil
}

// Sign returns a signed copy of ev.
func (e *Envelope) Sign(ev *Event) (*Event, error) {
	c := ev.Clone()
	sig, err := e.signer.Sign(c)
	if err != nil {
		return nil, err
	}
	c.Signature = sig
	return c, nil
}

// VerifySignature reports whether ev carries a valid signature.
func (e *Envelope) VerifySignature(ev *Event) bool {
	return e.signer.Verify(ev)
}

// wire mirrors Event with a raw payload so the object check happens before
// number normalization.
type wire struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
	Version   string          `json:"version"`
	Signature string          `json:"signature"`
}

// ParseEvent decodes and authenticates raw. It returns nil for anything that
// should be dropped without retry; the error explains why.
func (e *Envelope) ParseEvent(raw []byte) (*Event, error) {
	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &buserr.ValidationError{Reason: "malformed JSON", Err: err}
	}
	if _, err := uuid.Parse(w.ID); err != nil {
		return nil, &buserr.ValidationError{Field: "id", Reason: "must be a UUID", Err: err}
	}
	schema, ok := e.reg.Lookup(w.Type)
	if !ok {
		return nil, buserr.Validation("type", "unknown event type "+w.Type)
	}
	if !e.reg.SourceAllowed(w.Source) {
		return nil, buserr.Validation("source", "unknown source "+w.Source)
	}
	if _, err := time.Parse(time.RFC3339Nano, w.Timestamp); err != nil {
		return nil, &buserr.ValidationError{Field: "timestamp", Reason: "must be ISO-8601", Err: err}
	}
	if w.Signature == "" {
		return nil, buserr.Validation("signature", "required")
	}
	if len(w.Data) == 0 {
		return nil, buserr.Validation("data", "required")
	}
	data, err := decodeObject(w.Data)
	if err != nil {
		return nil, &buserr.ValidationError{Field: "data", Reason: "must be a JSON object", Err: err}
	}
	// A missing version means the default, and the signature covers it.
	if w.Version == "" {
		w.Version = DefaultVersion
	}
	ev := &Event{
		ID:        w.ID,
		Type:      w.Type,
		Timestamp: w.Timestamp,
		Source:    w.Source,
		Data:      data,
		Version:   w.Version,
		Signature: w.Signature,
	}
	if !e.signer.Verify(ev) {
		return nil, &buserr.SignatureError{EventID: ev.ID}
	}
	if err := schema.Validate(data); err != nil {
		return nil, asValidation(err)
	}
	return ev, nil
}

func asValidation(err error) error {
	if _, ok := err.(*buserr.ValidationError); ok {
		return err
	}
	return &buserr.ValidationError{Field: "data", Reason: err.Error(), Err: err}
}
