package intake

import (
	"context"
	"errors"
	"testing"

	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/jordanlanch/leadrouting/pkg/logger"
	"github.com/jordanlanch/leadrouting/pkg/metrics"
	"github.com/jordanlanch/leadrouting/pkg/queue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ackRecorder struct {
	acked, nacked, rejected int
	requeue                 bool
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error {
	a.acked++
	return nil
}

func (a *ackRecorder) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	a.rejected++
	a.requeue = requeue
	return nil
}

type routeCall struct {
	tenantID, leadID int64
	priority         int
}

type fakeRouter struct {
	calls []routeCall
	err   error
}

func (f *fakeRouter) RouteLead(ctx context.Context, tenantID, leadID int64, priorityScore int) (*queue.Entry, bool, error) {
	f.calls = append(f.calls, routeCall{tenantID, leadID, priorityScore})
	if f.err != nil {
		return nil, false, f.err
	}
	return &queue.Entry{TenantID: tenantID, LeadID: leadID, Status: queue.StatusPending}, true, nil
}

func delivery(body string) (amqp.Delivery, *ackRecorder) {
	rec := &ackRecorder{}
	return amqp.Delivery{Acknowledger: rec, DeliveryTag: 1, Body: []byte(body)}, rec
}

func TestConsumer_Handle(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		routerErr   error
		wantAck     int
		wantNack    int
		wantReject  int
		wantRouted  int
		wantRequeue bool
	}{
		{
			name:       "Success - New lead is enqueued",
			body:       `{"type":"lead.created","tenant_id":3,"lead_id":42,"priority_score":80}`,
			wantAck:    1,
			wantRouted: 1,
		},
		{
			name:       "Success - Deal stage change goes through the queue",
			body:       `{"type":"deal.stage_changed","tenant_id":3,"lead_id":42}`,
			wantAck:    1,
			wantRouted: 1,
		},
		{
			name:       "Error - Malformed JSON is dead-lettered",
			body:       `{"type":`,
			wantReject: 1,
		},
		{
			name:       "Error - Missing tenant is dead-lettered",
			body:       `{"type":"lead.created","lead_id":42}`,
			wantReject: 1,
		},
		{
			name:       "Error - Unknown event type is dead-lettered",
			body:       `{"type":"lead.exploded","tenant_id":3,"lead_id":42}`,
			wantReject: 1,
		},
		{
			name:        "Error - Database failure is requeued",
			body:        `{"type":"lead.created","tenant_id":3,"lead_id":42}`,
			routerErr:   errors.New("connection refused"),
			wantNack:    1,
			wantRouted:  1,
			wantRequeue: true,
		},
		{
			name:       "Error - Validation failure from the router is dead-lettered",
			body:       `{"type":"lead.created","tenant_id":3,"lead_id":42}`,
			routerErr:  domain.NewValidationError("lead id must be positive"),
			wantReject: 1,
			wantRouted: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := &fakeRouter{err: tt.routerErr}
			c := NewConsumer(nil, "leads.routing.intake", router, nil, logger.Nop())
			d, rec := delivery(tt.body)

			c.Handle(context.Background(), d)

			assert.Equal(t, tt.wantAck, rec.acked)
			assert.Equal(t, tt.wantNack, rec.nacked)
			assert.Equal(t, tt.wantReject, rec.rejected)
			assert.Equal(t, tt.wantRequeue, rec.requeue)
			assert.Len(t, router.calls, tt.wantRouted)
		})
	}
}

func TestConsumer_PassesEventFields(t *testing.T) {
	router := &fakeRouter{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	c := NewConsumer(nil, "leads.routing.intake", router, m, logger.Nop())

	d, _ := delivery(`{"type":"lead.unassigned","tenant_id":9,"lead_id":77,"priority_score":15}`)
	c.Handle(context.Background(), d)
	bad, _ := delivery(`not json`)
	c.Handle(context.Background(), bad)

	require.Len(t, router.calls, 1)
	assert.Equal(t, routeCall{tenantID: 9, leadID: 77, priority: 15}, router.calls[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntakeMessages.WithLabelValues("acked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntakeMessages.WithLabelValues("rejected")))
}

func TestDeadLetterQueue(t *testing.T) {
	assert.Equal(t, "leads.routing.intake.dead_letter", DeadLetterQueue("leads.routing.intake"))
}
