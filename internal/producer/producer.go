// Package producer publishes signed events onto stream topics.
package producer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/backoff"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/buserr"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/envelope"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/metrics"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/transport"
	"github.com/tlgselvi/desewebv5-gitops-sub006/pkg/log"
)

// EnvPrefix names the variables that override the retry policy
// (EVENT_BUS_PUBLISH_BACKOFF_TYPE, ..._MAX_ATTEMPTS).
const EnvPrefix = "EVENT_BUS_PUBLISH"

var tracer = otel.Tracer("eventbus-producer")

// Producer builds events with an Envelope and appends them to a Transport.
type Producer struct {
	tr      transport.Transport
	env     *envelope.Envelope
	policy  backoff.Policy
	logger  log.Logger
	metrics *metrics.Metrics
}

// Option customizes a Producer.
type Option func(*Producer)

// WithPolicy replaces the append retry policy.
func WithPolicy(p backoff.Policy) Option { return func(pr *Producer) { pr.policy = p } }

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option { return func(pr *Producer) { pr.logger = l } }

// WithMetrics records publish counters on m.
func WithMetrics(m *metrics.Metrics) Option { return func(pr *Producer) { pr.metrics = m } }

// New returns a Producer. The default policy is backoff.Default overlaid
// with EVENT_BUS_PUBLISH_* variables.
func New(tr transport.Transport, env *envelope.Envelope, opts ...Option) *Producer {
	pol := backoff.Default()
	backoff.ApplyEnv(&pol, EnvPrefix)
	p := &Producer{tr: tr, env: env, policy: pol}
	for _, o := range opts {
		o(p)
	}
	if p.logger == nil {
		p.logger = log.NewLogger(log.WithOutput(log.NullOutput{}))
	}
	p.logger = p.logger.With(log.Component("producer"))
	return p
}

// Publish creates a signed event and appends it to topic. Validation errors
// are returned without touching the transport; transient append failures
// are retried per the policy.
func (p *Producer) Publish(ctx context.Context, topic, eventType, source string, data any, schema envelope.Schema) (string, *envelope.Event, error) {
	ev, err := p.env.CreateEvent(eventType, source, data, schema)
	if err != nil {
		p.metrics.IncPublishFailure(topic, "validation")
		return "", nil, err
	}
	id, err := p.PublishEvent(ctx, topic, ev)
	if err != nil {
		return "", nil, err
	}
	return id, ev, nil
}

// PublishEvent appends an already signed event.
func (p *Producer) PublishEvent(ctx context.Context, topic string, ev *envelope.Event) (string, error) {
	ctx, span := tracer.Start(ctx, "eventbus.publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", topic),
		attribute.String("event.type", ev.Type),
		attribute.String("event.id", ev.ID),
	)

	if topic == "" {
		err := buserr.Validation("topic", "required")
		p.metrics.IncPublishFailure(topic, "validation")
		return "", err
	}
	raw, err := ev.Marshal()
	if err != nil {
		p.metrics.IncPublishFailure(topic, "validation")
		return "", &buserr.ValidationError{Field: "data", Reason: "not serializable", Err: err}
	}

	var entryID string
	start := time.Now()
	err = backoff.Retry(ctx, p.policy, isUnavailable,
		func(attempt uint32, err error, wait time.Duration) {
			p.metrics.IncPublishRetry(topic)
			p.logger.Warn("append failed, retrying",
				log.Topic(topic), log.EventID(ev.ID),
				log.Int("attempt", int(attempt)), log.Dur("wait", wait), log.Err(err))
		},
		func(ctx context.Context) error {
			var aerr error
			entryID, aerr = p.tr.Append(ctx, topic, raw)
			return aerr
		})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		p.metrics.IncPublishFailure(topic, failureReason(err))
		p.logger.Error("publish failed", log.Topic(topic), log.EventID(ev.ID), log.Err(err))
		return "", fmt.Errorf("publish %s to %s: %w", ev.Type, topic, err)
	}

	span.SetAttributes(attribute.String("messaging.message.id", entryID))
	p.metrics.IncPublished(topic, ev.Type)
	p.logger.Debug("event published",
		log.Topic(topic), log.EventID(ev.ID), log.EntryID(entryID),
		log.Str("type", ev.Type), log.Dur("took", time.Since(start)))
	return entryID, nil
}

func isUnavailable(err error) bool {
	return errors.Is(err, buserr.ErrTransportUnavailable)
}

func failureReason(err error) string {
	switch {
	case buserr.IsPermanent(err):
		return "validation"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case isUnavailable(err):
		return "unavailable"
	default:
		return "error"
	}
}
