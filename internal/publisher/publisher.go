package publisher

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/metrics"
	"github.com/Checker-Finance/copytrader/pkg/model"
)

const (
	EventTypeExecuted = "copytrade.executed"
	EventTypeFailed   = "copytrade.failed"
	eventVersion      = "1.0.0"
)

// msgPublisher is the part of nats.JetStreamContext we use.
type msgPublisher interface {
	PublishMsg(msg *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher emits canonical outcome events over NATS JetStream.
type Publisher struct {
	nc      *nats.Conn
	js      msgPublisher
	subject string
	service string
	logger  *zap.Logger
}

// New creates a Publisher on nc's JetStream context.
func New(nc *nats.Conn, subject, service string, logger *zap.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return newPublisher(nc, js, subject, service, logger), nil
}

func newPublisher(nc *nats.Conn, js msgPublisher, subject, service string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, js: js, subject: subject, service: service, logger: logger}
}

// PublishEnvelope serializes and publishes a canonical event envelope.
// An empty subject uses the publisher's default.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	if subject == "" {
		subject = p.subject
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			// JetStream dedup window drops re-published outcomes for the same attempt.
			nats.MsgIdHdr: []string{env.ID.String()},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg, nats.Context(ctx))
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)
	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	p.logger.Debug("publisher.publish_success",
		zap.String("subject", subject),
		zap.String("event_type", env.EventType))
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// PublishOutcome emits the terminal result of one job attempt. The job id is
// the correlation id; the envelope id is derived from job id, attempt and
// status so redelivered outcomes share an id.
func (p *Publisher) PublishOutcome(ctx context.Context, o model.ExecutionOutcome) error {
	eventType := EventTypeExecuted
	if o.Status != model.OutcomeExecuted {
		eventType = EventTypeFailed
	}

	payload, err := json.Marshal(o)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	env := &model.Envelope{
		ID:            OutcomeEventID(o),
		CorrelationID: o.JobID,
		Topic:         p.subject,
		EventType:     eventType,
		Version:       eventVersion,
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	}
	return p.PublishEnvelope(ctx, p.subject, env)
}

// OutcomeEventID is a name-based UUID for (job, attempt, status).
func OutcomeEventID(o model.ExecutionOutcome) uuid.UUID {
	name := o.Status + ":" + strconv.Itoa(o.Attempt)
	return uuid.NewSHA1(o.JobID, []byte(name))
}

// HealthCheck reports whether the NATS connection is usable.
func (p *Publisher) HealthCheck(context.Context) error {
	if p.nc == nil || !p.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
