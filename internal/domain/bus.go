package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community), NATS or Kafka (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel", "nats" or "kafka"
	Type string `json:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl"`
	NATSToken         string `json:"-"`
	NATSMaxReconnects int    `json:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait"` // seconds

	// Kafka settings (Pro tier)
	KafkaBrokers string `json:"kafkaBrokers"`
	KafkaGroupID string `json:"kafkaGroupId"`
}

// Standard topic names for the assessment pipeline.
const (
	TopicTransactionReceived = "harrier.transaction.received"
	TopicAssessmentCompleted = "harrier.assessment.completed"
	TopicAssessmentFailed    = "harrier.assessment.failed"
	TopicAlert               = "harrier.alert"
)

// TransactionEnvelope is the payload on TopicTransactionReceived.
type TransactionEnvelope struct {
	RequestID   string             `json:"requestId"`
	Transaction *TransactionRecord `json:"transaction"`
}

// AssessmentEvent is the payload on TopicAssessmentCompleted, TopicAlert
// and TopicAssessmentFailed. Failed events carry Error and no assessment.
type AssessmentEvent struct {
	RequestID  string           `json:"requestId"`
	TxID       string           `json:"txId,omitempty"`
	Account    string           `json:"account,omitempty"`
	Assessment *FraudAssessment `json:"assessment,omitempty"`
	Alerted    bool             `json:"alerted"`
	Error      string           `json:"error,omitempty"`
}
