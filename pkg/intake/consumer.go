package intake

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/jordanlanch/leadrouting/pkg/domain"
	"github.com/jordanlanch/leadrouting/pkg/logger"
	"github.com/jordanlanch/leadrouting/pkg/metrics"
	"github.com/jordanlanch/leadrouting/pkg/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Event types accepted on the intake queue. Automation triggers such as deal
// stage changes are routed exactly like new leads.
const (
	EventLeadCreated      = "lead.created"
	EventLeadUnassigned   = "lead.unassigned"
	EventDealStageChanged = "deal.stage_changed"
)

// Event asks for a lead to be routed.
type Event struct {
	Type          string `json:"type" validate:"required,oneof=lead.created lead.unassigned deal.stage_changed"`
	TenantID      int64  `json:"tenant_id" validate:"required,gt=0"`
	LeadID        int64  `json:"lead_id" validate:"required,gt=0"`
	PriorityScore int    `json:"priority_score" validate:"gte=0"`
}

// Router enqueues a lead for assignment.
type Router interface {
	RouteLead(ctx context.Context, tenantID, leadID int64, priorityScore int) (*queue.Entry, bool, error)
}

// Consumer turns intake messages into routeLead calls.
type Consumer struct {
	ch       *amqp.Channel
	queue    string
	router   Router
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewConsumer creates a consumer. ch may be nil when only Handle is used.
func NewConsumer(ch *amqp.Channel, queueName string, router Router, m *metrics.Metrics, log logger.Logger) *Consumer {
	if log == nil {
		log = logger.Nop()
	}
	return &Consumer{
		ch:       ch,
		queue:    queueName,
		router:   router,
		validate: validator.New(),
		metrics:  m,
		log:      log.With("queue", queueName),
	}
}

// DeadLetterQueue is where rejected intake messages end up.
func DeadLetterQueue(queueName string) string { return queueName + ".dead_letter" }

// SetupTopology declares the intake queue and its dead-letter exchange. Idempotent.
func (c *Consumer) SetupTopology() error {
	dlx := c.queue + ".dlx"
	if err := c.ch.ExchangeDeclare(dlx, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}
	if _, err := c.ch.QueueDeclare(DeadLetterQueue(c.queue), true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}
	if err := c.ch.QueueBind(DeadLetterQueue(c.queue), "", dlx, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}
	_, err := c.ch.QueueDeclare(c.queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": dlx,
	})
	if err != nil {
		return fmt.Errorf("failed to declare intake queue: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context, prefetch int) error {
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}
	deliveries, err := c.ch.Consume(
		c.queue,
		"",    // consumer
		false, // auto-ack is false. We ack after enqueueing.
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", c.queue, err)
	}

	c.log.Info("intake consumer started")
	for {
		select {
		case <-ctx.Done():
			c.log.Info("intake consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("intake channel closed")
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery. Malformed events are rejected to the
// dead-letter queue; failures worth retrying are requeued.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.reject(d, "malformed JSON", err)
		return
	}
	if err := c.validate.Struct(event); err != nil {
		c.reject(d, "invalid event", err)
		return
	}

	l := c.log.With("tenant_id", event.TenantID, "lead_id", event.LeadID, "event", event.Type)

	_, created, err := c.router.RouteLead(ctx, event.TenantID, event.LeadID, event.PriorityScore)
	if err != nil {
		if domain.IsValidation(err) {
			c.reject(d, "event rejected", err)
			return
		}
		l.Error("failed to route lead, requeueing", "error", err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			l.Error("failed to nack delivery", "error", nackErr)
		}
		c.record("requeued")
		return
	}

	if err := d.Ack(false); err != nil {
		l.Error("failed to ack delivery", "error", err)
		return
	}
	l.Debug("lead routed from intake", "created", created)
	c.record("acked")
}

func (c *Consumer) reject(d amqp.Delivery, reason string, err error) {
	c.log.Warn("rejecting intake message", "reason", reason, "error", err, "delivery_tag", d.DeliveryTag)
	if rejErr := d.Reject(false); rejErr != nil {
		c.log.Error("failed to reject delivery", "error", rejErr)
	}
	c.record("rejected")
}

func (c *Consumer) record(result string) {
	if c.metrics != nil {
		c.metrics.RecordIntake(result)
	}
}
