package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	// DefaultKafkaGroupID is the consumer group used when none is configured.
	DefaultKafkaGroupID = "harrier"

	kafkaPollMs       = 100
	kafkaCommitEvery  = 20
	kafkaFlushMs      = 5000
	kafkaMetadataMs   = 2000
	kafkaCloseTimeout = 5 * time.Second
)

// KafkaBus implements EventBus using Kafka.
// Each Subscribe opens its own consumer in the configured group, so several
// Harrier replicas share the partitions of a topic.
type KafkaBus struct {
	mu            sync.Mutex
	producer      *kafka.Producer
	subscriptions map[string]*kafkaSubscription
	config        domain.EventBusConfig
	closed        bool
	done          chan struct{}
}

type kafkaSubscription struct {
	id       string
	topic    string
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	stopped  chan struct{}
	bus      *KafkaBus
}

// NewKafkaBus creates a Kafka producer and prepares the bus for consumers.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	if cfg.KafkaBrokers == "" {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.KafkaGroupID == "" {
		cfg.KafkaGroupID = DefaultKafkaGroupID
	}

	producer, err := kafka.NewProducer(producerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	b := &KafkaBus{
		producer:      producer,
		subscriptions: make(map[string]*kafkaSubscription),
		config:        cfg,
		done:          make(chan struct{}),
	}
	go b.drainEvents()

	slog.Info("Kafka producer created", "brokers", cfg.KafkaBrokers)
	return b, nil
}

func producerConfig(cfg domain.EventBusConfig) *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers": cfg.KafkaBrokers,
		"client.id":         "harrier",
		"acks":              "all",
	}
}

func consumerConfig(cfg domain.EventBusConfig) *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers":  cfg.KafkaBrokers,
		"group.id":           cfg.KafkaGroupID,
		"auto.offset.reset":  "smallest",
		"enable.auto.commit": false,
	}
}

// drainEvents logs producer-level errors that are not tied to a delivery.
func (b *KafkaBus) drainEvents() {
	for {
		select {
		case <-b.done:
			return
		case ev, ok := <-b.producer.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					slog.Error("kafka delivery failed", "error", e.TopicPartition.Error)
				}
			case kafka.Error:
				slog.Error("kafka producer error", "code", e.Code(), "error", e)
			}
		}
	}
}

// Publish produces a message and waits for its delivery report.
func (b *KafkaBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	msg := newMessage(topic, payload)
	data, err := encode(msg)
	if err != nil {
		return err
	}

	delivery := make(chan kafka.Event, 1)
	err = b.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(msg.ID),
		Value:          data,
	}, delivery)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case ev := <-delivery:
		if m, ok := ev.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe starts a consumer for the topic and polls it in the background.
func (b *KafkaBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" || handler == nil {
		return nil, fmt.Errorf("topic and handler are required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	consumer, err := kafka.NewConsumer(consumerConfig(b.config))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		id:       uuid.New().String(),
		topic:    topic,
		consumer: consumer,
		cancel:   cancel,
		stopped:  make(chan struct{}),
		bus:      b,
	}
	go sub.poll(subCtx, handler)

	b.subscriptions[sub.id] = sub
	return sub, nil
}

// poll runs the consumer loop and commits offsets every kafkaCommitEvery
// messages and on shutdown.
func (s *kafkaSubscription) poll(ctx context.Context, handler domain.MessageHandler) {
	defer close(s.stopped)

	pending := 0
	commit := func() {
		if pending == 0 {
			return
		}
		if _, err := s.consumer.Commit(); err != nil {
			slog.Warn("kafka commit failed", "topic", s.topic, "error", err)
		}
		pending = 0
	}

	for {
		select {
		case <-ctx.Done():
			commit()
			if err := s.consumer.Close(); err != nil {
				slog.Warn("kafka consumer close failed", "topic", s.topic, "error", err)
			}
			return
		default:
		}

		switch e := s.consumer.Poll(kafkaPollMs).(type) {
		case *kafka.Message:
			msg, err := decode(e.Value)
			if err != nil {
				slog.Error("failed to unmarshal kafka message",
					"topic", s.topic,
					"offset", e.TopicPartition.Offset.String(),
					"error", err,
				)
			} else if err := handler(ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", s.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
			pending++
			if pending >= kafkaCommitEvery {
				commit()
			}
		case kafka.PartitionEOF:
			commit()
		case kafka.Error:
			slog.Error("kafka consumer error", "topic", s.topic, "code", e.Code(), "error", e)
		}
	}
}

// Ping fetches cluster metadata through the producer.
func (b *KafkaBus) Ping(ctx context.Context) error {
	timeout := kafkaMetadataMs
	if deadline, ok := ctx.Deadline(); ok {
		if ms := int(time.Until(deadline).Milliseconds()); ms > 0 && ms < timeout {
			timeout = ms
		}
	}
	if _, err := b.producer.GetMetadata(nil, false, timeout); err != nil {
		return fmt.Errorf("kafka unreachable: %w", err)
	}
	return nil
}

// Close stops every consumer, flushes pending deliveries and closes the producer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subscriptions
	b.subscriptions = make(map[string]*kafkaSubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	if left := b.producer.Flush(kafkaFlushMs); left > 0 {
		slog.Warn("kafka messages left undelivered", "count", left)
	}
	close(b.done)
	b.producer.Close()
	return nil
}

func (s *kafkaSubscription) stop() {
	s.cancel()
	select {
	case <-s.stopped:
	case <-time.After(kafkaCloseTimeout):
		slog.Warn("kafka consumer did not stop in time", "topic", s.topic)
	}
}

// Unsubscribe stops the consumer loop.
func (s *kafkaSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	s.stop()
	return nil
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}
