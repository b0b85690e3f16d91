package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nightmare634/voidstream/internal/audit"
	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/record"
	dErrors "github.com/nightmare634/voidstream/pkg/domain-errors"
	"github.com/nightmare634/voidstream/pkg/platform/sentinel"
)

// Service covers stream lifecycle outside the action state machine: creation
// once settlement is confirmed, claims, reads with derived accrual/status, and
// the administrative purge. Mutations of a live stream's state go through the
// action executor, never through here.
type Service struct {
	records record.Store
	ledger  *audit.Ledger
	logger  *slog.Logger
	now     func() time.Time
}

// ServiceOption configures the Service.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source, for deterministic tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a stream Service.
func NewService(records record.Store, ledger *audit.Ledger, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{records: records, ledger: ledger, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// View is a stream plus its derived read-side state.
type View struct {
	Stream  domain.Stream
	Status  DisplayStatus
	Accrual Accrual
}

// PublicView is the reduced projection exposed to unauthenticated readers of
// a shared stream link: timeline and accrual only, no wallets or invite data.
type PublicView struct {
	ID         string        `json:"id"`
	RatePerSec int64         `json:"ratePerSec"`
	StartAt    time.Time     `json:"startAt"`
	EndAt      time.Time     `json:"endAt"`
	Status     DisplayStatus `json:"status"`
	Accrual    Accrual       `json:"accrual"`
}

// CreateInput describes a stream whose funding transaction the settlement
// layer has already confirmed.
type CreateInput struct {
	PayerWallet    string
	ReceiverWallet string
	RatePerSec     int64
	StartAt        time.Time
	EndAt          time.Time
	CliffAt        time.Time
	InviteCode     string
	LedgerStreamID string
	VaultAddress   string
}

// Create persists a new live stream after validating its invariants.
func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Stream, error) {
	if in.PayerWallet == "" {
		return domain.Stream{}, dErrors.New(dErrors.CodeValidation, "missing payer wallet")
	}
	if in.RatePerSec < 1 {
		return domain.Stream{}, dErrors.New(dErrors.CodeValidation, "rate must be at least 1 unit per second")
	}
	if in.StartAt.IsZero() || in.EndAt.IsZero() || !in.EndAt.After(in.StartAt) {
		return domain.Stream{}, dErrors.New(dErrors.CodeValidation, "end time must be after start time")
	}

	rec, err := s.records.Create(ctx, record.CollectionStreams, ToFields(domain.Stream{
		PayerWallet:    in.PayerWallet,
		ReceiverWallet: in.ReceiverWallet,
		RatePerSec:     in.RatePerSec,
		StartAt:        in.StartAt,
		EndAt:          in.EndAt,
		CliffAt:        in.CliffAt,
		Status:         domain.StreamLive,
		InviteCode:     in.InviteCode,
		LedgerStreamID: in.LedgerStreamID,
		VaultAddress:   in.VaultAddress,
	}))
	if err != nil {
		return domain.Stream{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create stream")
	}
	created := FromRecord(rec)

	s.ledger.TryAppend(ctx, domain.AuditEntry{
		StreamID: created.ID,
		Type:     "create",
		Message:  "Stream created.",
		Actor:    in.PayerWallet,
		Meta:     map[string]any{"ledgerStreamId": in.LedgerStreamID},
	})
	return created, nil
}

// Get loads one stream with derived state.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	stream, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.view(stream), nil
}

// GetPublic loads the reduced projection of one stream.
func (s *Service) GetPublic(ctx context.Context, id string) (PublicView, error) {
	stream, err := s.load(ctx, id)
	if err != nil {
		return PublicView{}, err
	}
	v := s.view(stream)
	return PublicView{
		ID:         stream.ID,
		RatePerSec: stream.RatePerSec,
		StartAt:    stream.StartAt,
		EndAt:      stream.EndAt,
		Status:     v.Status,
		Accrual:    v.Accrual,
	}, nil
}

// List returns all streams newest-first with derived state.
func (s *Service) List(ctx context.Context) ([]View, error) {
	recs, err := s.records.List(ctx, record.CollectionStreams, "")
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list streams")
	}
	out := make([]View, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.view(FromRecord(rec)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream.Created.After(out[j].Stream.Created) })
	return out, nil
}

// Claim attaches a receiver wallet to an unclaimed stream. The invite code
// gates who may claim; re-claiming by the same wallet is idempotent, claiming
// a stream owned by another receiver conflicts.
func (s *Service) Claim(ctx context.Context, streamID, claimant, inviteCode, signature string) (domain.Stream, error) {
	if streamID == "" {
		return domain.Stream{}, dErrors.New(dErrors.CodeValidation, "missing streamId")
	}
	if claimant == "" {
		return domain.Stream{}, dErrors.New(dErrors.CodeValidation, "missing claimant")
	}

	stream, err := s.load(ctx, streamID)
	if err != nil {
		return domain.Stream{}, err
	}

	if stream.Claimed() {
		if stream.ReceiverWallet == claimant {
			return stream, nil
		}
		return domain.Stream{}, dErrors.New(dErrors.CodeConflict, "stream already claimed")
	}
	if stream.InviteCode == "" || stream.InviteCode != inviteCode {
		return domain.Stream{}, dErrors.New(dErrors.CodeForbidden, "invalid invite code")
	}

	// First writer wins: the guard on the empty receiver field makes a
	// racing second claimant conflict instead of overwriting.
	rec, err := s.records.UpdateIf(ctx, record.CollectionStreams, streamID,
		record.Fields{fieldReceiver: claimant},
		record.Fields{fieldReceiver: ""},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return domain.Stream{}, dErrors.New(dErrors.CodeConflict, "stream already claimed")
		}
		return domain.Stream{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim stream")
	}
	claimed := FromRecord(rec)

	s.ledger.TryAppend(ctx, domain.AuditEntry{
		StreamID:  streamID,
		Type:      "claim",
		Message:   "Stream claimed by receiver.",
		Signature: signature,
		Actor:     claimant,
	})
	return claimed, nil
}

// Purge is the administrative hard delete: it removes the stream and cascades
// a best-effort delete of its audit entries. Nothing else ever hard-deletes
// a stream.
func (s *Service) Purge(ctx context.Context, streamID string) error {
	if streamID == "" {
		return dErrors.New(dErrors.CodeValidation, "missing streamId")
	}
	if err := s.records.Delete(ctx, record.CollectionStreams, streamID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "stream not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete stream")
	}

	entries, err := s.records.List(ctx, record.CollectionAuditLogs, fmt.Sprintf("stream = %q", streamID))
	if err != nil {
		s.logger.WarnContext(ctx, "purge could not list audit entries", "stream_id", streamID, "error", err)
		return nil
	}
	for _, entry := range entries {
		if err := s.records.Delete(ctx, record.CollectionAuditLogs, entry.ID); err != nil {
			s.logger.WarnContext(ctx, "purge skipped audit entry", "entry_id", entry.ID, "error", err)
		}
	}
	return nil
}

// Projection returns the forward accrual series used by the payer dashboard.
func (s *Service) Projection(ctx context.Context, streamID string, months int) ([]int64, error) {
	st, err := s.load(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if months <= 0 {
		months = 12
	}
	return ProjectAccrual(st, months, s.now()), nil
}

func (s *Service) load(ctx context.Context, id string) (domain.Stream, error) {
	rec, err := s.records.Get(ctx, record.CollectionStreams, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domain.Stream{}, dErrors.New(dErrors.CodeNotFound, "stream not found")
		}
		return domain.Stream{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load stream")
	}
	return FromRecord(rec), nil
}

func (s *Service) view(stream domain.Stream) View {
	now := s.now()
	return View{
		Stream:  stream,
		Status:  Classify(stream, now),
		Accrual: ComputeAccrual(stream, now),
	}
}
