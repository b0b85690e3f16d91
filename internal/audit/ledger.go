// Package audit writes and reads the append-only trail of actions taken on
// streams. Appends degrade gracefully across record-shape variants and are
// best-effort from the caller's point of view: a failed audit write never
// fails the action it is logging.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/platform/metrics"
	"github.com/nightmare634/voidstream/internal/record"
)

// Sink mirrors appended entries to an external system (e.g. Kafka).
// Publish is fire-and-forget; failures stay inside the sink.
type Sink interface {
	Publish(ctx context.Context, entry domain.AuditEntry)
}

// Ledger is the audit trail writer/reader.
type Ledger struct {
	records    record.Store
	strategies []EncodingStrategy
	sink       Sink
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithStrategies overrides the encoding strategy order. Mostly for tests.
func WithStrategies(strategies ...EncodingStrategy) Option {
	return func(l *Ledger) { l.strategies = strategies }
}

// WithSink attaches an async mirror for appended entries.
func WithSink(sink Sink) Option {
	return func(l *Ledger) { l.sink = sink }
}

// WithMetrics attaches drop counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// New creates a Ledger over the given record store.
func New(records record.Store, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		records:    records,
		strategies: DefaultStrategies(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append persists an entry, trying each encoding strategy in order and
// keeping the first success. It returns an error only when every strategy
// fails; most callers should use TryAppend instead.
func (l *Ledger) Append(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	var lastErr error
	for _, strategy := range l.strategies {
		rec, err := l.records.Create(ctx, record.CollectionAuditLogs, strategy.Encode(entry))
		if err != nil {
			lastErr = err
			continue
		}
		stored := fromRecord(rec)
		if l.sink != nil {
			l.sink.Publish(ctx, stored)
		}
		return stored, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no encoding strategies configured")
	}
	return domain.AuditEntry{}, fmt.Errorf("audit append failed after %d strategies: %w", len(l.strategies), lastErr)
}

// TryAppend is the best-effort form used on action paths. Failures are
// swallowed after a log line and a metric so the audited action still
// succeeds, but operators can see the trail degrading.
func (l *Ledger) TryAppend(ctx context.Context, entry domain.AuditEntry) {
	if _, err := l.Append(ctx, entry); err != nil {
		l.metrics.IncAuditAppendDropped()
		l.logger.WarnContext(ctx, "audit entry dropped",
			"stream_id", entry.StreamID,
			"type", entry.Type,
			"error", err,
		)
	}
}

// Filter narrows List results.
type Filter struct {
	StreamID string
}

// List returns audit entries newest-first, optionally scoped to one stream.
func (l *Ledger) List(ctx context.Context, filter Filter) ([]domain.AuditEntry, error) {
	var predicate string
	if filter.StreamID != "" {
		predicate = fmt.Sprintf("stream = %q", filter.StreamID)
	}
	recs, err := l.records.List(ctx, record.CollectionAuditLogs, predicate)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	out := make([]domain.AuditEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out, nil
}

func fromRecord(rec record.Record) domain.AuditEntry {
	f := rec.Fields
	entry := domain.AuditEntry{
		ID:        rec.ID,
		StreamID:  asString(f["stream"]),
		Type:      asString(f["type"]),
		Message:   asString(f["message"]),
		Signature: asString(f["signature"]),
		Actor:     asString(f["actor"]),
		Created:   rec.Created,
	}
	if meta, ok := f["meta"].(map[string]any); ok {
		entry.Meta = meta
	}
	return entry
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
