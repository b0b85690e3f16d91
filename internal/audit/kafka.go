package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/platform/metrics"
)

// KafkaSink mirrors audit entries to a Kafka topic for downstream consumers
// (retention, SIEM, analytics). Publishing is asynchronous and best-effort:
// the ledger write to the record store remains the source of truth.
type KafkaSink struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewKafkaSink connects to the given brokers and ensures the topic exists.
func NewKafkaSink(ctx context.Context, brokers []string, topic string, logger *slog.Logger, m *metrics.Metrics) (*KafkaSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.ProduceRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopic(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}

	return &KafkaSink{client: client, topic: topic, logger: logger, metrics: m}, nil
}

// ensureTopic creates the audit topic when missing so first boot does not
// depend on broker auto-creation being enabled.
func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	details, err := adm.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("list kafka topics: %w", err)
	}
	if details.Has(topic) {
		return nil
	}
	if _, err := adm.CreateTopic(ctx, 1, 1, nil, topic); err != nil {
		return fmt.Errorf("create kafka topic %s: %w", topic, err)
	}
	return nil
}

type sinkPayload struct {
	ID        string         `json:"id"`
	StreamID  string         `json:"stream,omitempty"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Signature string         `json:"signature,omitempty"`
	Actor     string         `json:"actor"`
	Meta      map[string]any `json:"meta,omitempty"`
	Created   string         `json:"created"`
}

// Publish enqueues the entry for async delivery. Delivery failures are logged
// and counted, never surfaced to the audited action.
func (s *KafkaSink) Publish(ctx context.Context, entry domain.AuditEntry) {
	payload, err := json.Marshal(sinkPayload{
		ID:        entry.ID,
		StreamID:  entry.StreamID,
		Type:      entry.Type,
		Message:   entry.Message,
		Signature: entry.Signature,
		Actor:     entry.Actor,
		Meta:      entry.Meta,
		Created:   entry.Created.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.metrics.IncAuditSinkFailure()
		s.logger.WarnContext(ctx, "audit sink encode failed", "entry_id", entry.ID, "error", err)
		return
	}

	rec := &kgo.Record{Topic: s.topic, Key: []byte(entry.StreamID), Value: payload}
	s.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		if err != nil {
			s.metrics.IncAuditSinkFailure()
			s.logger.Warn("audit sink publish failed", "entry_id", entry.ID, "error", err)
		}
	})
}

// Close flushes outstanding records and releases the client.
func (s *KafkaSink) Close(ctx context.Context) error {
	defer s.client.Close()
	return s.client.Flush(ctx)
}
