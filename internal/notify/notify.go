// Package notify delivers account lifecycle notices. Delivery is best
// effort: callers log failures and carry on.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"carekeeper/pkg/domain"
	"carekeeper/pkg/requestcontext"
)

// Notifier sends a templated notice to a user.
type Notifier interface {
	Notify(ctx context.Context, userID domain.UserID, template string) error
}

// LogNotifier writes notices to the log. Used when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, userID domain.UserID, template string) error {
	n.logger.InfoContext(ctx, "notification queued",
		"user_id", userID,
		"template", template,
	)
	return nil
}

// Producer is the subset of *kgo.Client the Kafka notifier needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Message is the payload published for the delivery service.
type Message struct {
	UserID    domain.UserID `json:"user_id"`
	Template  string        `json:"template"`
	RequestID string        `json:"request_id,omitempty"`
}

// KafkaNotifier publishes notices to a topic consumed by the delivery
// service, keyed by user so one user's notices stay in order.
type KafkaNotifier struct {
	producer Producer
	topic    string
}

func NewKafkaNotifier(producer Producer, topic string) (*KafkaNotifier, error) {
	if producer == nil {
		return nil, fmt.Errorf("kafka producer is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("notification topic is required")
	}
	return &KafkaNotifier{producer: producer, topic: topic}, nil
}

func (n *KafkaNotifier) Notify(ctx context.Context, userID domain.UserID, template string) error {
	payload, err := json.Marshal(Message{UserID: userID, Template: template, RequestID: requestcontext.RequestID(ctx)})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	rec := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(userID.String()),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "template", Value: []byte(template)},
		},
	}
	if err := n.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
