package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (single node) or NATS.
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
type MessageHandler func(ctx context.Context, msg *Event) error

// Event is an envelope carried by the bus.
type Event struct {
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
	// Type is the bus type: "channel" or "nats"
	Type string

	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
	NATSQueueGroup    string
}

// Topic names.
const (
	TopicMessagePosted = "kestrel.chat.message"
	TopicLeadDetected  = "kestrel.lead.detected"
	TopicRuleChanged   = "kestrel.rule.changed"
)

// MessagePostedEvent is published after a chat message is stored.
type MessagePostedEvent struct {
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId"`
	Sender    Sender `json:"sender"`
	TraceID   string `json:"traceId,omitempty"`
}

// LeadDetectedEvent is published when a session first scores as a lead.
type LeadDetectedEvent struct {
	SessionID    string  `json:"sessionId"`
	AgentID      string  `json:"agentId,omitempty"`
	CustomerName string  `json:"customerName"`
	Score        float64 `json:"score"`
	DetectedAt   int64   `json:"detectedAt"`
}

// RuleChangedEvent is published after any rule mutation.
type RuleChangedEvent struct {
	RuleID string `json:"ruleId"`
	Action string `json:"action"` // created, updated, toggled, deleted
}
