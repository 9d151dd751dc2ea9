package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/copytrader/pkg/model"
)

type mockJetStream struct {
	published []*nats.Msg
	fail      bool
}

func (m *mockJetStream) PublishMsg(msg *nats.Msg, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if m.fail {
		return nil, errors.New("mock publish error")
	}
	m.published = append(m.published, msg)
	return &nats.PubAck{Stream: "mock-stream"}, nil
}

func sampleOutcome(status string) model.ExecutionOutcome {
	return model.ExecutionOutcome{
		JobID:          uuid.New(),
		SubscriptionID: "sub-1",
		AccountName:    "acct",
		Direction:      model.DirectionBuy,
		TokenAddress:   "0xtoken",
		Network:        "base",
		Status:         status,
		Attempt:        1,
		ExecutedAt:     time.Now().UTC(),
	}
}

func TestPublishOutcome_Executed(t *testing.T) {
	js := &mockJetStream{}
	p := newPublisher(nil, js, "evt.copytrade.execution.v1", "copytrader", nil)

	o := sampleOutcome(model.OutcomeExecuted)
	require.NoError(t, p.PublishOutcome(context.Background(), o))
	require.Len(t, js.published, 1)

	msg := js.published[0]
	assert.Equal(t, "evt.copytrade.execution.v1", msg.Subject)
	assert.Equal(t, EventTypeExecuted, msg.Header.Get("event_type"))
	assert.Equal(t, o.JobID.String(), msg.Header.Get("correlation_id"))
	assert.Equal(t, "copytrader", msg.Header.Get("service"))

	var env model.Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, o.JobID, env.CorrelationID)
	assert.Equal(t, env.ID.String(), msg.Header.Get(nats.MsgIdHdr))

	var got model.ExecutionOutcome
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, "sub-1", got.SubscriptionID)
}

func TestPublishOutcome_FailedEventType(t *testing.T) {
	js := &mockJetStream{}
	p := newPublisher(nil, js, "evt.x", "copytrader", nil)

	require.NoError(t, p.PublishOutcome(context.Background(), sampleOutcome(model.OutcomeFailed)))
	assert.Equal(t, EventTypeFailed, js.published[0].Header.Get("event_type"))
}

func TestPublishOutcome_Error(t *testing.T) {
	js := &mockJetStream{fail: true}
	p := newPublisher(nil, js, "evt.x", "copytrader", nil)

	assert.Error(t, p.PublishOutcome(context.Background(), sampleOutcome(model.OutcomeExecuted)))
}

func TestOutcomeEventID_Stable(t *testing.T) {
	o := sampleOutcome(model.OutcomeExecuted)
	assert.Equal(t, OutcomeEventID(o), OutcomeEventID(o))

	o2 := o
	o2.Attempt = 2
	assert.NotEqual(t, OutcomeEventID(o), OutcomeEventID(o2))
}

func TestPublishEnvelope_DefaultSubject(t *testing.T) {
	js := &mockJetStream{}
	p := newPublisher(nil, js, "evt.default", "copytrader", nil)

	env := &model.Envelope{ID: uuid.New(), EventType: "test.event", Payload: json.RawMessage(`{}`)}
	require.NoError(t, p.PublishEnvelope(context.Background(), "", env))
	assert.Equal(t, "evt.default", js.published[0].Subject)
}

func TestHealthCheck_NoConnection(t *testing.T) {
	p := newPublisher(nil, &mockJetStream{}, "evt.x", "copytrader", nil)
	assert.Error(t, p.HealthCheck(context.Background()))
	p.Close()
}
