// Package export streams a closed time window of the audit trail to a Kafka
// topic for archival. It is the only code path that reads the trail in bulk.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"carekeeper/pkg/platform/audit"
)

const defaultPageSize = 500

// Source pages through the trail by sequence.
type Source interface {
	Range(ctx context.Context, from, to time.Time, afterSeq int64, limit int) ([]audit.Record, error)
}

// Producer is the subset of *kgo.Client the exporter needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Exporter copies audit records to a topic, keyed by resource so that all
// records for one resource land on one partition in sequence order.
type Exporter struct {
	source   Source
	producer Producer
	topic    string
	pageSize int
	logger   *slog.Logger
	metrics  *audit.Metrics
}

type Option func(*Exporter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) { e.logger = logger }
}

func WithMetrics(m *audit.Metrics) Option {
	return func(e *Exporter) { e.metrics = m }
}

func WithPageSize(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

func New(source Source, producer Producer, topic string, opts ...Option) (*Exporter, error) {
	if source == nil {
		return nil, fmt.Errorf("audit source is required")
	}
	if producer == nil {
		return nil, fmt.Errorf("kafka producer is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("export topic is required")
	}
	e := &Exporter{
		source:   source,
		producer: producer,
		topic:    topic,
		pageSize: defaultPageSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Report summarizes one export run.
type Report struct {
	Exported     int
	LastSequence int64
}

// Export produces every record with from <= Timestamp < to. A failed page
// aborts the run; Report tells the caller how far it got, and re-running
// the same window is safe because consumers dedupe on record ID.
func (e *Exporter) Export(ctx context.Context, from, to time.Time) (Report, error) {
	if !from.Before(to) {
		return Report{}, fmt.Errorf("export window is empty: from %s is not before to %s", from, to)
	}
	var report Report
	for {
		page, err := e.source.Range(ctx, from, to, report.LastSequence, e.pageSize)
		if err != nil {
			return report, fmt.Errorf("read audit page after sequence %d: %w", report.LastSequence, err)
		}
		if len(page) == 0 {
			break
		}

		batch := make([]*kgo.Record, 0, len(page))
		for _, r := range page {
			kr, err := e.toKafka(r)
			if err != nil {
				return report, err
			}
			batch = append(batch, kr)
		}
		if err := e.producer.ProduceSync(ctx, batch...).FirstErr(); err != nil {
			return report, fmt.Errorf("produce audit page after sequence %d: %w", report.LastSequence, err)
		}

		report.Exported += len(page)
		report.LastSequence = page[len(page)-1].Sequence
		e.metrics.AddExported(len(page))

		if len(page) < e.pageSize {
			break
		}
	}
	e.logger.InfoContext(ctx, "audit export complete",
		"from", from,
		"to", to,
		"exported", report.Exported,
		"last_sequence", report.LastSequence,
	)
	return report, nil
}

type payload struct {
	ID           string          `json:"id"`
	Sequence     int64           `json:"sequence"`
	ActorID      string          `json:"actor_id,omitempty"`
	ActorRole    string          `json:"actor_role"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   string          `json:"resource_id,omitempty"`
	OwnerID      string          `json:"owner_id,omitempty"`
	Decision     string          `json:"decision"`
	Reason       string          `json:"reason,omitempty"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Origin       audit.Origin    `json:"origin"`
	RequestID    string          `json:"request_id,omitempty"`
}

func (e *Exporter) toKafka(r audit.Record) (*kgo.Record, error) {
	p := payload{
		ID:           r.ID.String(),
		Sequence:     r.Sequence,
		ActorRole:    string(r.ActorRole),
		Action:       string(r.Action),
		ResourceType: string(r.ResourceType),
		ResourceID:   string(r.ResourceID),
		Decision:     string(r.Decision),
		Reason:       r.Reason,
		Before:       r.Before,
		After:        r.After,
		Timestamp:    r.Timestamp,
		Origin:       r.Origin,
		RequestID:    r.RequestID,
	}
	if !r.ActorID.IsNil() {
		p.ActorID = r.ActorID.String()
	}
	if !r.OwnerID.IsNil() {
		p.OwnerID = r.OwnerID.String()
	}
	value, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal audit record %s: %w", p.ID, err)
	}
	return &kgo.Record{
		Topic:     e.topic,
		Key:       []byte(string(r.ResourceType) + "/" + string(r.ResourceID)),
		Value:     value,
		Timestamp: r.Timestamp,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(r.Action)},
		},
	}, nil
}
