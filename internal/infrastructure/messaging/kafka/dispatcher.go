package kafka

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/turtacn/karin-compliance/internal/application/lifecycle"
	domain "github.com/turtacn/karin-compliance/internal/domain/lifecycle"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
	"github.com/turtacn/karin-compliance/pkg/types/common"
)

const EventNotificationSend = "karin.notification.send"

// NotificationPayload is one deadline notice for one recipient.
type NotificationPayload struct {
	NotificationID string               `json:"notification_id"`
	RecipientID    string               `json:"recipient_id"`
	Channel        string               `json:"channel"`
	Priority       string               `json:"priority"`
	Alert          domain.DeadlineAlert `json:"alert"`
}

// NotificationDispatcher writes one message per recipient to the
// notifications topic, keyed by recipient.  Delivery here means accepted by
// the broker.
type NotificationDispatcher struct {
	producer MessagePublisher
	topic    string
	channel  string
	logger   logging.Logger
}

var _ lifecycle.NotificationDispatcher = (*NotificationDispatcher)(nil)

// NewNotificationDispatcher returns a dispatcher writing to topic.
func NewNotificationDispatcher(producer MessagePublisher, topic string, log logging.Logger) *NotificationDispatcher {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &NotificationDispatcher{
		producer: producer,
		topic:    topic,
		channel:  "in_app",
		logger:   log.Named("notification_dispatcher"),
	}
}

// Send publishes the alert to every recipient.  It returns an error only
// when no recipient was reached.
func (d *NotificationDispatcher) Send(ctx context.Context, recipients []string, alert domain.DeadlineAlert) (lifecycle.DispatchResult, error) {
	var result lifecycle.DispatchResult
	if len(recipients) == 0 {
		return result, errors.Validation("no recipients").WithDetail(alert.CaseID)
	}

	msgs := make([]*common.ProducerMessage, 0, len(recipients))
	for _, r := range recipients {
		msg, err := d.message(r, alert)
		if err != nil {
			return result, err
		}
		msgs = append(msgs, msg)
	}

	batch, err := d.producer.PublishBatch(ctx, msgs)
	if err != nil {
		return result, errors.Wrap(err, errors.ErrCodeExternalUnavailable, "notification publish failed").WithDetail(alert.CaseID)
	}

	failed := make(map[int]string, len(batch.Errors))
	for _, be := range batch.Errors {
		if be.Index < 0 {
			for i := range recipients {
				failed[i] = be.Error.Error()
			}
			break
		}
		failed[be.Index] = be.Error.Error()
	}
	for i, r := range recipients {
		if reason, ok := failed[i]; ok {
			result.Failed = append(result.Failed, lifecycle.RecipientFailure{Recipient: r, Error: reason})
			continue
		}
		result.Delivered = append(result.Delivered, r)
	}

	if len(result.Delivered) == 0 {
		d.logger.Warn("Notification not delivered to any recipient",
			logging.CaseID(alert.CaseID),
			logging.Int("recipients", len(recipients)))
		return result, errors.ExternalUnavailable("notification delivery failed for every recipient").WithDetail(alert.CaseID)
	}
	if len(result.Failed) > 0 {
		d.logger.Warn("Notification partially delivered",
			logging.CaseID(alert.CaseID),
			logging.Int("delivered", len(result.Delivered)),
			logging.Int("failed", len(result.Failed)))
	}
	return result, nil
}

func (d *NotificationDispatcher) message(recipient string, alert domain.DeadlineAlert) (*common.ProducerMessage, error) {
	payload := NotificationPayload{
		NotificationID: uuid.New().String(),
		RecipientID:    recipient,
		Channel:        d.channel,
		Priority:       priorityFor(alert.Level),
		Alert:          alert,
	}
	env, err := NewEventEnvelope(EventNotificationSend, alert.CaseID, payload)
	if err != nil {
		return nil, err
	}
	if !alert.GeneratedAt.IsZero() {
		env.Timestamp = alert.GeneratedAt.UTC()
	}
	msg, err := env.ToMessage(d.topic)
	if err != nil {
		return nil, err
	}
	msg.Key = []byte(recipient)
	return msg, nil
}

func priorityFor(level domain.AlertLevel) string {
	switch level {
	case domain.AlertOverdue:
		return "critical"
	case domain.AlertUrgent:
		return "high"
	default:
		return "normal"
	}
}

// DecodeNotification reads a notification back from its envelope.
func DecodeNotification(value []byte) (*NotificationPayload, error) {
	var env EventEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	var p NotificationPayload
	if err := env.DecodePayload(&p); err != nil {
		return nil, err
	}
	return &p, nil
}
