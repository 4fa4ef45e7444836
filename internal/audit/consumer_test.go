package audit_test

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/vehicle-rentals/internal/audit"
	"github.com/robertarktes/vehicle-rentals/internal/domain"
	"github.com/robertarktes/vehicle-rentals/internal/observability"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stored struct {
	id, action string
	ev         domain.BookingEvent
}

type memorySink struct {
	logs []stored
	err  error
}

func (m *memorySink) LogBookingEvent(ctx context.Context, messageID, action string, ev domain.BookingEvent) error {
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, stored{id: messageID, action: action, ev: ev})
	return nil
}

type recordingAck struct {
	acked, nacked, requeued bool
}

func (r *recordingAck) Ack(tag uint64, multiple bool) error {
	r.acked = true
	return nil
}

func (r *recordingAck) Nack(tag uint64, multiple, requeue bool) error {
	r.nacked, r.requeued = true, requeue
	return nil
}

func (r *recordingAck) Reject(tag uint64, requeue bool) error {
	return r.Nack(tag, false, requeue)
}

func newConsumer(sink audit.Sink) *audit.Consumer {
	logger, _ := test.NewNullLogger()
	return audit.NewConsumer(sink, observability.NewLogrusLogger(logger))
}

func TestHandle_StoresEvent(t *testing.T) {
	sink := &memorySink{}
	c := newConsumer(sink)

	err := c.Handle(context.Background(), amqp.Delivery{
		MessageId:  "m-1",
		RoutingKey: "booking.activated",
		Body:       []byte(`{"booking_id":7,"vehicle_id":3,"renter_id":2,"from":"APPROVED","to":"ACTIVE","at":"2026-03-01T10:00:00Z"}`),
	})
	require.NoError(t, err)
	require.Len(t, sink.logs, 1)
	assert.Equal(t, "m-1", sink.logs[0].id)
	assert.Equal(t, "booking.activated", sink.logs[0].action)
	assert.Equal(t, int64(7), sink.logs[0].ev.BookingID)
	assert.Equal(t, domain.BookingActive, sink.logs[0].ev.To)
}

func TestHandle_Malformed(t *testing.T) {
	c := newConsumer(&memorySink{})

	for _, body := range []string{`not json`, `{"booking_id":0,"to":"ACTIVE"}`, `{"booking_id":1,"to":"LOST"}`} {
		err := c.Handle(context.Background(), amqp.Delivery{Body: []byte(body)})
		assert.ErrorIs(t, err, audit.ErrMalformed, body)
		assert.True(t, errors.Is(err, audit.ErrMalformed), body)
	}
}

func TestRun_AcksAndNacks(t *testing.T) {
	sink := &memorySink{}
	c := newConsumer(sink)
	deliveries := make(chan amqp.Delivery, 2)

	good, bad := &recordingAck{}, &recordingAck{}
	deliveries <- amqp.Delivery{Acknowledger: good, MessageId: "m-1", RoutingKey: "booking.created", Body: []byte(`{"booking_id":1,"to":"PENDING"}`)}
	deliveries <- amqp.Delivery{Acknowledger: bad, Body: []byte(`{`)}
	close(deliveries)

	err := c.Run(context.Background(), deliveries)
	assert.Error(t, err)
	assert.True(t, good.acked)
	assert.True(t, bad.nacked)
	assert.False(t, bad.requeued)
}

func TestRun_RequeuesSinkFailures(t *testing.T) {
	c := newConsumer(&memorySink{err: errors.New("mongo unavailable")})
	deliveries := make(chan amqp.Delivery, 1)
	ack := &recordingAck{}
	deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte(`{"booking_id":1,"to":"CANCELLED"}`)}
	close(deliveries)

	_ = c.Run(context.Background(), deliveries)
	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued)
}
