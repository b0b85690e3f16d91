// Package action implements the stream state machine: one validated action
// applied to one stream, with an immutable audit entry written as a
// best-effort side effect.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nightmare634/voidstream/internal/audit"
	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/platform/metrics"
	"github.com/nightmare634/voidstream/internal/record"
	"github.com/nightmare634/voidstream/internal/stream"
	dErrors "github.com/nightmare634/voidstream/pkg/domain-errors"
	"github.com/nightmare634/voidstream/pkg/platform/sentinel"
)

// Action tags accepted by the executor.
const (
	ActionPause          = "pause"
	ActionResume         = "resume"
	ActionCancel         = "cancel"
	ActionTimelineUpdate = "timeline_update"
	ActionWithdraw       = "withdraw"
)

// withdrawRetries bounds the optimistic read-modify-write loop on the
// withdrawn counter.
const withdrawRetries = 3

// Request is one action invocation. Payload carries the action-specific
// parameters as an opaque map so approvals can store it untyped; the executor
// extracts what each action needs.
type Request struct {
	StreamID  string
	Action    string
	Actor     string
	Payload   map[string]any
	Signature string // external-ledger transaction signature, withdraw only
	Meta      map[string]any
}

// Executor validates and applies actions. It is role-agnostic: authorization
// (payer vs receiver) is enforced by the callers that front it.
type Executor struct {
	records record.Store
	ledger  *audit.Ledger
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures the Executor.
type Option func(*Executor)

// WithMetrics attaches execution counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an Executor.
func New(records record.Store, ledger *audit.Ledger, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		records: records,
		ledger:  ledger,
		logger:  logger,
		tracer:  otel.Tracer("voidstream/action"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute loads the stream, applies exactly one transition, writes a
// best-effort audit entry and returns the resulting stream.
func (e *Executor) Execute(ctx context.Context, req Request) (domain.Stream, error) {
	ctx, span := e.tracer.Start(ctx, "action.Execute",
		trace.WithAttributes(
			attribute.String("stream.id", req.StreamID),
			attribute.String("action", req.Action),
		))
	defer span.End()

	updated, message, err := e.execute(ctx, req)
	if err != nil {
		e.metrics.IncActionExecuted(req.Action, "error")
		span.RecordError(err)
		return domain.Stream{}, err
	}
	e.metrics.IncActionExecuted(req.Action, "ok")

	meta := map[string]any{"action": req.Action}
	if req.Payload != nil {
		meta["payload"] = req.Payload
	}
	for k, v := range req.Meta {
		meta[k] = v
	}
	e.ledger.TryAppend(ctx, domain.AuditEntry{
		StreamID:  req.StreamID,
		Type:      req.Action,
		Message:   message,
		Signature: req.Signature,
		Actor:     req.Actor,
		Meta:      meta,
	})

	return updated, nil
}

func (e *Executor) execute(ctx context.Context, req Request) (domain.Stream, string, error) {
	if req.StreamID == "" {
		return domain.Stream{}, "", dErrors.New(dErrors.CodeValidation, "missing streamId")
	}
	if req.Action == "" {
		return domain.Stream{}, "", dErrors.New(dErrors.CodeValidation, "missing action")
	}
	if req.Actor == "" {
		return domain.Stream{}, "", dErrors.New(dErrors.CodeValidation, "missing actor")
	}
	switch req.Action {
	case ActionPause, ActionResume, ActionCancel, ActionTimelineUpdate, ActionWithdraw:
	default:
		return domain.Stream{}, "", dErrors.Newf(dErrors.CodeValidation, "unknown action %q", req.Action)
	}

	rec, err := e.records.Get(ctx, record.CollectionStreams, req.StreamID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.Stream{}, "", dErrors.New(dErrors.CodeNotFound, "stream not found")
		}
		return domain.Stream{}, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load stream")
	}
	current := stream.FromRecord(rec)

	switch req.Action {
	case ActionPause:
		return e.pause(ctx, current)
	case ActionResume:
		return e.resume(ctx, current)
	case ActionCancel:
		return e.cancel(ctx, current)
	case ActionTimelineUpdate:
		return e.timelineUpdate(ctx, current, req.Payload)
	default:
		return e.withdraw(ctx, current, req.Payload)
	}
}

func (e *Executor) pause(ctx context.Context, s domain.Stream) (domain.Stream, string, error) {
	if s.Status == domain.StreamPaused {
		// Idempotent no-op.
		return s, "Stream already paused.", nil
	}
	if s.Status != domain.StreamLive {
		return domain.Stream{}, "", dErrors.Newf(dErrors.CodeConflict, "cannot pause a %s stream", s.Status)
	}
	updated, err := e.safeUpdate(ctx, s.ID, record.Fields{
		"status":   string(domain.StreamPaused),
		"pausedAt": e.now().UTC().Format(time.RFC3339),
	})
	return updated, "Stream paused.", err
}

func (e *Executor) resume(ctx context.Context, s domain.Stream) (domain.Stream, string, error) {
	if s.Status != domain.StreamPaused {
		return domain.Stream{}, "", dErrors.Newf(dErrors.CodeConflict, "cannot resume a %s stream", s.Status)
	}
	updated, err := e.safeUpdate(ctx, s.ID, record.Fields{
		"status":   string(domain.StreamLive),
		"pausedAt": nil,
	})
	return updated, "Stream resumed.", err
}

func (e *Executor) cancel(ctx context.Context, s domain.Stream) (domain.Stream, string, error) {
	if s.Status != domain.StreamLive && s.Status != domain.StreamPaused {
		return domain.Stream{}, "", dErrors.Newf(dErrors.CodeConflict, "cannot cancel a %s stream", s.Status)
	}
	updated, err := e.safeUpdate(ctx, s.ID, record.Fields{
		"status": string(domain.StreamCancelled),
	})
	return updated, "Stream cancelled.", err
}

func (e *Executor) timelineUpdate(ctx context.Context, s domain.Stream, payload map[string]any) (domain.Stream, string, error) {
	if s.Status.Terminal() {
		return domain.Stream{}, "", dErrors.Newf(dErrors.CodeConflict, "cannot update timeline of a %s stream", s.Status)
	}

	patch := record.Fields{}
	if rate, ok := payloadInt(payload, "ratePerSec"); ok {
		if rate < 1 {
			return domain.Stream{}, "", dErrors.New(dErrors.CodeValidation, "ratePerSec must be at least 1")
		}
		patch["ratePerSec"] = rate
	}
	if start, ok := payloadTime(payload, "startAt"); ok {
		patch["startAt"] = start.UTC().Format(time.RFC3339)
	}
	if end, ok := payloadTime(payload, "endAt"); ok {
		patch["endAt"] = end.UTC().Format(time.RFC3339)
	}
	if len(patch) == 0 {
		return domain.Stream{}, "", dErrors.New(dErrors.CodeValidation, "timeline_update requires at least one of ratePerSec, startAt, endAt")
	}

	updated, err := e.safeUpdate(ctx, s.ID, patch)
	return updated, "Timeline updated.", err
}

// withdraw bookkeeps a running withdrawn total. The external settlement
// transaction is the source of truth for whether value actually moved; the
// executor never moves funds. The counter update is an optimistic
// read-modify-write so concurrent withdrawals cannot lose increments.
func (e *Executor) withdraw(ctx context.Context, s domain.Stream, payload map[string]any) (domain.Stream, string, error) {
	amount, ok := payloadInt(payload, "amount")
	if !ok || amount <= 0 {
		return domain.Stream{}, "", dErrors.New(dErrors.CodeValidation, "invalid amount")
	}

	current := s
	for attempt := 0; attempt < withdrawRetries; attempt++ {
		next := saturatingAdd(current.TotalWithdrawn, amount)
		rec, err := e.records.UpdateIf(ctx, record.CollectionStreams, s.ID,
			record.Fields{"totalWithdrawn": next},
			record.Fields{"totalWithdrawn": current.TotalWithdrawn},
		)
		if err == nil {
			return stream.FromRecord(rec), fmt.Sprintf("Withdraw recorded: %d units.", amount), nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return domain.Stream{}, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to record withdrawal")
		}
		// Lost against a concurrent writer; reload and retry.
		fresh, err := e.records.Get(ctx, record.CollectionStreams, s.ID)
		if err != nil {
			return domain.Stream{}, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to reload stream")
		}
		current = stream.FromRecord(fresh)
	}
	return domain.Stream{}, "", dErrors.New(dErrors.CodeInternal, "withdrawal counter update kept losing; giving up")
}

// safeUpdate applies the full patch, retrying with a status-only patch when
// the store rejects extra fields, before giving up with a hard update error.
func (e *Executor) safeUpdate(ctx context.Context, streamID string, patch record.Fields) (domain.Stream, error) {
	rec, err := e.records.Update(ctx, record.CollectionStreams, streamID, patch)
	if err == nil {
		return stream.FromRecord(rec), nil
	}
	if status, ok := patch["status"]; ok {
		if rec, retryErr := e.records.Update(ctx, record.CollectionStreams, streamID, record.Fields{"status": status}); retryErr == nil {
			e.logger.WarnContext(ctx, "stream update degraded to status-only patch",
				"stream_id", streamID, "error", err)
			return stream.FromRecord(rec), nil
		}
	}
	return domain.Stream{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update stream")
}

func saturatingAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func payloadInt(payload map[string]any, key string) (int64, bool) {
	v, ok := payload[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

func payloadTime(payload map[string]any, key string) (time.Time, bool) {
	s, ok := payload[key].(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
