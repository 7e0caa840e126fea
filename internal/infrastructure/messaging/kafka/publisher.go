package kafka

import (
	"context"
	"strings"

	"github.com/turtacn/karin-compliance/internal/config"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/types/common"
)

const riskEventPrefix = "karin.risk."

// MessagePublisher is the part of Producer the adapters need.
type MessagePublisher interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
	PublishBatch(ctx context.Context, msgs []*common.ProducerMessage) (*common.BatchPublishResult, error)
}

// EventPublisher wraps domain events in envelopes.  Risk events go to the
// risk topic, everything else to the case topic keyed by case ID.
type EventPublisher struct {
	producer MessagePublisher
	topics   config.KafkaTopics
	logger   logging.Logger
}

// NewEventPublisher returns a publisher over producer.
func NewEventPublisher(producer MessagePublisher, topics config.KafkaTopics, log logging.Logger) *EventPublisher {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &EventPublisher{producer: producer, topics: topics, logger: log.Named("event_publisher")}
}

// PublishEvent sends ev once.
func (p *EventPublisher) PublishEvent(ctx context.Context, ev common.DomainEvent) error {
	env, err := NewEventEnvelope(ev.EventType(), ev.AggregateID(), ev)
	if err != nil {
		return err
	}
	env.EventID = ev.EventID()
	env.Timestamp = ev.OccurredAt()

	msg, err := env.ToMessage(p.TopicFor(ev.EventType()))
	if err != nil {
		return err
	}
	if err := p.producer.Publish(ctx, msg); err != nil {
		p.logger.Warn("Failed to publish event",
			logging.String("event_type", ev.EventType()),
			logging.CaseID(ev.AggregateID()),
			logging.Err(err))
		return err
	}
	return nil
}

// TopicFor routes an event type to its topic.
func (p *EventPublisher) TopicFor(eventType string) string {
	if strings.HasPrefix(eventType, riskEventPrefix) {
		return p.topics.RiskEvents
	}
	return p.topics.CaseEvents
}
