package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/karin-compliance/internal/config"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
	"github.com/turtacn/karin-compliance/pkg/types/common"
)

const (
	SourceService = "karin-compliance"
	SchemaVersion = "v1"

	HeaderEventType     = "event_type"
	HeaderSourceService = "source_service"
	HeaderSchemaVersion = "schema_version"
	HeaderOriginalTopic = "original_topic"
	HeaderErrorMessage  = "error_message"
)

// EventEnvelope wraps every event published by the engine.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	AggregateID   string            `json:"aggregate_id,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEventEnvelope marshals payload into a fresh envelope.
func NewEventEnvelope(eventType, aggregateID string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Source:        SourceService,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		AggregateID:   aggregateID,
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the payload into target.  An empty payload is
// not an error.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal payload").WithDetail(e.EventType)
	}
	return nil
}

// ToMessage serializes the envelope keyed by its aggregate, so that events
// of one case stay ordered on one partition.
func (e *EventEnvelope) ToMessage(topic string) (*common.ProducerMessage, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	msg := &common.ProducerMessage{
		Topic: topic,
		Value: val,
		Headers: map[string]string{
			HeaderEventType:     e.EventType,
			HeaderSourceService: e.Source,
			HeaderSchemaVersion: e.SchemaVersion,
		},
		Timestamp: e.Timestamp,
	}
	if e.AggregateID != "" {
		msg.Key = []byte(e.AggregateID)
	}
	return msg, nil
}

// MessageToEventEnvelope decodes an inbound message.
func MessageToEventEnvelope(msg *common.ConsumerMessage) (*EventEnvelope, error) {
	if len(msg.Value) == 0 {
		return nil, errors.Validation("empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	return &env, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Topic administration
// ─────────────────────────────────────────────────────────────────────────────

// TopicSpec describes a topic to create.
type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	Retention         time.Duration
}

// DefaultTopics lists the engine's topics with their retention.
func DefaultTopics(t config.KafkaTopics, replication int) []TopicSpec {
	if replication <= 0 {
		replication = 1
	}
	day := 24 * time.Hour
	return []TopicSpec{
		{Name: t.CaseEvents, NumPartitions: 6, ReplicationFactor: replication, Retention: 30 * day},
		{Name: t.Notifications, NumPartitions: 6, ReplicationFactor: replication, Retention: 3 * day},
		{Name: t.RiskEvents, NumPartitions: 3, ReplicationFactor: replication, Retention: 90 * day},
		{Name: t.DeadLetter, NumPartitions: 3, ReplicationFactor: replication, Retention: 30 * day},
	}
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates and lists topics through one broker connection.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

// NewTopicManager dials the first broker.
func NewTopicManager(brokers []string, log logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.Validation("kafka brokers are required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMessagingError, "failed to dial kafka").WithDetail(brokers[0])
	}
	return NewTopicManagerWithConn(conn, log), nil
}

// NewTopicManagerWithConn wraps an existing connection.
func NewTopicManagerWithConn(conn ConnInterface, log logging.Logger) *TopicManager {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &TopicManager{conn: conn, logger: log}
}

// CreateTopic creates spec unless it already exists.
func (m *TopicManager) CreateTopic(ctx context.Context, spec TopicSpec) error {
	if spec.Name == "" {
		return errors.Validation("topic name is required")
	}
	if spec.NumPartitions <= 0 || spec.ReplicationFactor <= 0 {
		return errors.Validation("partitions and replication factor must be positive").WithDetail(spec.Name)
	}
	kCfg := kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     spec.NumPartitions,
		ReplicationFactor: spec.ReplicationFactor,
	}
	if spec.Retention > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{
			ConfigName:  "retention.ms",
			ConfigValue: strconv.FormatInt(spec.Retention.Milliseconds(), 10),
		})
	}

	if err := m.conn.CreateTopics(kCfg); err != nil {
		if exists, _ := m.TopicExists(ctx, spec.Name); exists {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeMessagingError, "failed to create topic").WithDetail(spec.Name)
	}
	m.logger.Info("Topic created", logging.String("topic", spec.Name))
	return nil
}

// TopicExists reports whether name has partitions.
func (m *TopicManager) TopicExists(_ context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		return false, nil
	}
	return len(partitions) > 0, nil
}

// ListTopics returns every topic name the broker knows.
func (m *TopicManager) ListTopics(_ context.Context) ([]string, error) {
	partitions, err := m.conn.ReadPartitions()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMessagingError, "failed to list topics")
	}
	seen := make(map[string]bool)
	var topics []string
	for _, p := range partitions {
		if !seen[p.Topic] {
			seen[p.Topic] = true
			topics = append(topics, p.Topic)
		}
	}
	return topics, nil
}

// EnsureTopics creates every spec in order and stops at the first failure.
func (m *TopicManager) EnsureTopics(ctx context.Context, specs []TopicSpec) error {
	for _, spec := range specs {
		if err := m.CreateTopic(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the broker connection.
func (m *TopicManager) Close() error {
	return m.conn.Close()
}
