package kafka

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/karin-compliance/internal/config"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/pkg/errors"
	"github.com/turtacn/karin-compliance/pkg/types/common"
)

var ErrAlreadyRunning = errors.New(errors.ErrCodeConflict, "consumer already running")

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg *common.ConsumerMessage) error

// RetryPolicy bounds handler retries before a message is dead-lettered.
type RetryPolicy struct {
	MaxRetries      int
	Backoff         time.Duration
	MaxBackoff      time.Duration
	DeadLetterTopic string
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.Backoff == 0 {
		r.Backoff = time.Second
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = 30 * time.Second
	}
	return r
}

// ConsumerMetrics holds consumer counters.
type ConsumerMetrics struct {
	MessagesConsumed     atomic.Int64
	MessagesProcessed    atomic.Int64
	MessagesFailed       atomic.Int64
	MessagesRetried      atomic.Int64
	MessagesDeadLettered atomic.Int64
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.ReaderStats
}

// Consumer fetches from a consumer group and dispatches by topic.  Offsets
// are committed after handling, including for dead-lettered messages.
type Consumer struct {
	reader     ReaderInterface
	groupID    string
	retry      RetryPolicy
	deadLetter MessagePublisher
	logger     logging.Logger
	sleep      func(ctx context.Context, d time.Duration) error

	mu       sync.RWMutex
	handlers map[string]Handler

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	metrics *ConsumerMetrics
}

// NewConsumer reads topics as cfg.GroupID.  deadLetter may be nil, in which
// case exhausted messages are logged and dropped.
func NewConsumer(cfg config.KafkaConfig, topics []string, deadLetter MessagePublisher, log logging.Logger) (*Consumer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.GroupID == "" {
		return nil, errors.Validation("kafka group_id is required")
	}
	if len(topics) == 0 {
		return nil, errors.Validation("at least one topic is required")
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true, ClientID: cfg.ClientID}
	if cfg.TLSEnabled {
		dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.SASLEnabled {
		mech, err := saslMechanism(cfg)
		if err != nil {
			return nil, err
		}
		dialer.SASLMechanism = mech
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        time.Second,
		StartOffset:    kafka.FirstOffset,
		SessionTimeout: 30 * time.Second,
		Dialer:         dialer,
	})
	retry := RetryPolicy{DeadLetterTopic: cfg.Topics.DeadLetter}
	return NewConsumerWithReader(reader, cfg.GroupID, retry, deadLetter, log), nil
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r ReaderInterface, groupID string, retry RetryPolicy, deadLetter MessagePublisher, log logging.Logger) *Consumer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Consumer{
		reader:     r,
		groupID:    groupID,
		retry:      retry.withDefaults(),
		deadLetter: deadLetter,
		logger:     log.Named("kafka_consumer"),
		sleep:      sleepCtx,
		handlers:   make(map[string]Handler),
		metrics:    &ConsumerMetrics{},
	}
}

// Subscribe registers handler for topic, replacing any earlier one.
func (c *Consumer) Subscribe(topic string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	c.logger.Info("Subscribed to topic", logging.String("topic", topic))
}

// Start runs the fetch loop in the background until ctx ends or Close.
func (c *Consumer) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.consumeLoop(ctx)
	c.logger.Info("Kafka consumer started", logging.String("group", c.groupID))
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Fetch failed", logging.Err(err))
			if c.sleep(ctx, time.Second) != nil {
				return
			}
			continue
		}
		c.metrics.MessagesConsumed.Add(1)

		msg := fromKafkaMessage(m)
		c.mu.RLock()
		handler, ok := c.handlers[m.Topic]
		c.mu.RUnlock()

		switch {
		case !ok:
			c.logger.Warn("No handler for topic", logging.String("topic", m.Topic))
		case c.processMessage(ctx, msg, handler):
			c.metrics.MessagesProcessed.Add(1)
		default:
			c.metrics.MessagesFailed.Add(1)
		}
		if ctx.Err() != nil {
			return
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("Commit failed", logging.String("topic", m.Topic), logging.Int64("offset", m.Offset), logging.Err(err))
		}
	}
}

// processMessage reports whether handler eventually succeeded.  Exhausted
// messages go to the dead letter topic when one is configured.
func (c *Consumer) processMessage(ctx context.Context, msg *common.ConsumerMessage, handler Handler) bool {
	err := handler(ctx, msg)
	if err == nil {
		return true
	}
	backoff := c.retry.Backoff
	for i := 0; i < c.retry.MaxRetries; i++ {
		c.metrics.MessagesRetried.Add(1)
		if c.sleep(ctx, backoff) != nil {
			return false
		}
		if err = handler(ctx, msg); err == nil {
			return true
		}
		backoff *= 2
		if backoff > c.retry.MaxBackoff {
			backoff = c.retry.MaxBackoff
		}
	}

	c.logger.Error("Message processing failed after retries",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Err(err))
	if c.deadLetter == nil || c.retry.DeadLetterTopic == "" {
		return false
	}

	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderOriginalTopic] = msg.Topic
	headers[HeaderErrorMessage] = err.Error()
	dl := &common.ProducerMessage{
		Topic:   c.retry.DeadLetterTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if dlErr := c.deadLetter.Publish(ctx, dl); dlErr != nil {
		c.logger.Error("Failed to dead-letter message", logging.Err(dlErr))
		return false
	}
	c.metrics.MessagesDeadLettered.Add(1)
	return false
}

// Metrics returns a snapshot of the counters.
func (c *Consumer) Metrics() map[string]int64 {
	return map[string]int64{
		"consumed":      c.metrics.MessagesConsumed.Load(),
		"processed":     c.metrics.MessagesProcessed.Load(),
		"failed":        c.metrics.MessagesFailed.Load(),
		"retried":       c.metrics.MessagesRetried.Load(),
		"dead_lettered": c.metrics.MessagesDeadLettered.Load(),
	}
}

// Close stops the loop and closes the reader.  It is idempotent.
func (c *Consumer) Close() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	err := c.reader.Close()
	c.logger.Info("Kafka consumer closed", logging.Int64("consumed", c.metrics.MessagesConsumed.Load()))
	return err
}

func fromKafkaMessage(m kafka.Message) *common.ConsumerMessage {
	msg := &common.ConsumerMessage{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Time,
		Headers:   make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
