package action

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightmare634/voidstream/internal/audit"
	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/record"
	"github.com/nightmare634/voidstream/internal/stream"
	dErrors "github.com/nightmare634/voidstream/pkg/domain-errors"
	"github.com/nightmare634/voidstream/pkg/platform/sentinel"
)

type fixture struct {
	store    *record.MemoryStore
	ledger   *audit.Ledger
	executor *Executor
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := record.NewMemoryStore()
	ledger := audit.New(store, slog.Default())
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	executor := New(store, ledger, slog.Default(), WithClock(func() time.Time { return now }))
	return &fixture{store: store, ledger: ledger, executor: executor, now: now}
}

func (f *fixture) createStream(t *testing.T, s domain.Stream) string {
	t.Helper()
	rec, err := f.store.Create(context.Background(), record.CollectionStreams, stream.ToFields(s))
	require.NoError(t, err)
	return rec.ID
}

func liveStream() domain.Stream {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	return domain.Stream{
		PayerWallet: "payer",
		RatePerSec:  1000,
		StartAt:     start,
		EndAt:       start.Add(time.Hour),
		Status:      domain.StreamLive,
	}
}

func TestExecute_ValidationBeforeStoreAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
	}{
		{"missing streamId", Request{Action: ActionPause, Actor: "payer"}},
		{"missing action", Request{StreamID: "s1", Actor: "payer"}},
		{"missing actor", Request{StreamID: "s1", Action: ActionPause}},
		{"unknown action", Request{StreamID: "s1", Action: "detonate", Actor: "payer"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.executor.Execute(ctx, tc.req)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestExecute_StreamNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.executor.Execute(context.Background(), Request{StreamID: "missing", Action: ActionPause, Actor: "payer"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestExecute_PauseResumeCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createStream(t, liveStream())

	paused, err := f.executor.Execute(ctx, Request{StreamID: id, Action: ActionPause, Actor: "payer"})
	require.NoError(t, err)
	assert.Equal(t, domain.StreamPaused, paused.Status)
	assert.Equal(t, f.now, paused.PausedAt.UTC())

	// Pausing again is an idempotent no-op.
	again, err := f.executor.Execute(ctx, Request{StreamID: id, Action: ActionPause, Actor: "payer"})
	require.NoError(t, err)
	assert.Equal(t, domain.StreamPaused, again.Status)

	resumed, err := f.executor.Execute(ctx, Request{StreamID: id, Action: ActionResume, Actor: "payer"})
	require.NoError(t, err)
	assert.Equal(t, domain.StreamLive, resumed.Status)
	assert.True(t, resumed.PausedAt.IsZero(), "resume clears pausedAt")
}

func TestExecute_ResumeRequiresPaused(t *testing.T) {
	f := newFixture(t)
	id := f.createStream(t, liveStream())

	_, err := f.executor.Execute(context.Background(), Request{StreamID: id, Action: ActionResume, Actor: "payer"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestExecute_CancelIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createStream(t, liveStream())

	cancelled, err := f.executor.Execute(ctx, Request{StreamID: id, Action: ActionCancel, Actor: "payer"})
	require.NoError(t, err)
	assert.Equal(t, domain.StreamCancelled, cancelled.Status)

	for _, action := range []string{ActionPause, ActionResume, ActionCancel, ActionTimelineUpdate} {
		_, err := f.executor.Execute(ctx, Request{
			StreamID: id, Action: action, Actor: "payer",
			Payload: map[string]any{"ratePerSec": int64(2)},
		})
		require.Error(t, err, action)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict), action)
	}
}

func TestExecute_TimelineUpdateMergesSubset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := liveStream()
	id := f.createStream(t, s)

	newEnd := s.EndAt.Add(2 * time.Hour)
	updated, err := f.executor.Execute(ctx, Request{
		StreamID: id, Action: ActionTimelineUpdate, Actor: "payer",
		Payload: map[string]any{
			"ratePerSec": int64(2500),
			"endAt":      newEnd.Format(time.RFC3339),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), updated.RatePerSec)
	assert.Equal(t, newEnd, updated.EndAt)
	assert.Equal(t, s.StartAt, updated.StartAt, "unspecified fields keep prior values")

	_, err = f.executor.Execute(ctx, Request{StreamID: id, Action: ActionTimelineUpdate, Actor: "payer"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "empty payload is a caller error")

	_, err = f.executor.Execute(ctx, Request{
		StreamID: id, Action: ActionTimelineUpdate, Actor: "payer",
		Payload: map[string]any{"ratePerSec": int64(0)},
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestExecute_WithdrawAccumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createStream(t, liveStream())

	first, err := f.executor.Execute(ctx, Request{
		StreamID: id, Action: ActionWithdraw, Actor: "receiver",
		Payload:   map[string]any{"amount": int64(300)},
		Signature: "sig-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(300), first.TotalWithdrawn)

	second, err := f.executor.Execute(ctx, Request{
		StreamID: id, Action: ActionWithdraw, Actor: "receiver",
		Payload: map[string]any{"amount": float64(200)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500), second.TotalWithdrawn)

	for _, bad := range []any{int64(0), int64(-5), "lots"} {
		_, err := f.executor.Execute(ctx, Request{
			StreamID: id, Action: ActionWithdraw, Actor: "receiver",
			Payload: map[string]any{"amount": bad},
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	}
}

// conflictOnceStore forces the first conditional update to lose, simulating a
// concurrent writer bumping the counter between read and write.
type conflictOnceStore struct {
	record.Store
	conflicted bool
}

func (s *conflictOnceStore) UpdateIf(ctx context.Context, collection, id string, patch, expect record.Fields) (record.Record, error) {
	if !s.conflicted {
		s.conflicted = true
		// Apply a competing increment, then report the conflict.
		if _, err := s.Store.Update(ctx, collection, id, record.Fields{"totalWithdrawn": int64(1000)}); err != nil {
			return record.Record{}, err
		}
		return record.Record{}, sentinel.ErrConflict
	}
	return s.Store.UpdateIf(ctx, collection, id, patch, expect)
}

func TestExecute_WithdrawRetriesOnConflict(t *testing.T) {
	base := record.NewMemoryStore()
	store := &conflictOnceStore{Store: base}
	ledger := audit.New(base, slog.Default())
	executor := New(store, ledger, slog.Default())

	rec, err := base.Create(context.Background(), record.CollectionStreams, stream.ToFields(liveStream()))
	require.NoError(t, err)

	updated, err := executor.Execute(context.Background(), Request{
		StreamID: rec.ID, Action: ActionWithdraw, Actor: "receiver",
		Payload: map[string]any{"amount": int64(300)},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1300), updated.TotalWithdrawn, "retry rebases on the concurrent writer's total")
}

func TestExecute_WritesAuditEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createStream(t, liveStream())

	_, err := f.executor.Execute(ctx, Request{
		StreamID: id, Action: ActionPause, Actor: "payer",
		Meta: map[string]any{"approvalId": "ap-1"},
	})
	require.NoError(t, err)

	entries, err := f.ledger.List(ctx, audit.Filter{StreamID: id})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActionPause, entries[0].Type)
	assert.Equal(t, "payer", entries[0].Actor)
	assert.Equal(t, "Stream paused.", entries[0].Message)
	assert.Equal(t, "ap-1", entries[0].Meta["approvalId"])
}

// auditRejectingStore fails every audit-log create while letting stream
// updates through.
type auditRejectingStore struct {
	record.Store
}

func (s *auditRejectingStore) Create(ctx context.Context, collection string, fields record.Fields) (record.Record, error) {
	if collection == record.CollectionAuditLogs {
		return record.Record{}, sentinel.ErrUnavailable
	}
	return s.Store.Create(ctx, collection, fields)
}

func TestExecute_AuditFailureDoesNotFailAction(t *testing.T) {
	base := record.NewMemoryStore()
	store := &auditRejectingStore{Store: base}
	ledger := audit.New(store, slog.Default())
	executor := New(store, ledger, slog.Default())

	rec, err := base.Create(context.Background(), record.CollectionStreams, stream.ToFields(liveStream()))
	require.NoError(t, err)

	updated, err := executor.Execute(context.Background(), Request{StreamID: rec.ID, Action: ActionPause, Actor: "payer"})
	require.NoError(t, err)
	assert.Equal(t, domain.StreamPaused, updated.Status)
}

// extraFieldRejectingStore rejects multi-field patches, standing in for a
// backend whose schema lacks the pausedAt column.
type extraFieldRejectingStore struct {
	record.Store
}

func (s *extraFieldRejectingStore) Update(ctx context.Context, collection, id string, patch record.Fields) (record.Record, error) {
	if collection == record.CollectionStreams && len(patch) > 1 {
		return record.Record{}, sentinel.ErrInvalidState
	}
	return s.Store.Update(ctx, collection, id, patch)
}

func TestExecute_UpdateFallsBackToStatusOnlyPatch(t *testing.T) {
	base := record.NewMemoryStore()
	store := &extraFieldRejectingStore{Store: base}
	ledger := audit.New(base, slog.Default())
	executor := New(store, ledger, slog.Default())

	rec, err := base.Create(context.Background(), record.CollectionStreams, stream.ToFields(liveStream()))
	require.NoError(t, err)

	updated, err := executor.Execute(context.Background(), Request{StreamID: rec.ID, Action: ActionPause, Actor: "payer"})
	require.NoError(t, err)
	assert.Equal(t, domain.StreamPaused, updated.Status)
	assert.True(t, updated.PausedAt.IsZero(), "degraded patch only carried status")
}
