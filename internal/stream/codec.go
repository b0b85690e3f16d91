package stream

import (
	"time"

	"github.com/nightmare634/voidstream/internal/domain"
	"github.com/nightmare634/voidstream/internal/record"
)

// Record field names for the streams collection. Timestamps are stored as
// RFC3339 strings so the schemaless store stays human-inspectable.
const (
	fieldPayer          = "payer"
	fieldReceiver       = "receiver"
	fieldRatePerSec     = "ratePerSec"
	fieldStartAt        = "startAt"
	fieldEndAt          = "endAt"
	fieldCliffAt        = "cliffAt"
	fieldStatus         = "status"
	fieldPausedAt       = "pausedAt"
	fieldTotalWithdrawn = "totalWithdrawn"
	fieldInviteCode     = "inviteCode"
	fieldLedgerStreamID = "ledgerStreamId"
	fieldVaultAddress   = "vaultAddress"
)

// FromRecord decodes a stream from its stored representation. Unknown or
// malformed fields decode to zero values; the read side treats those as
// degenerate rather than failing.
func FromRecord(rec record.Record) domain.Stream {
	f := rec.Fields
	return domain.Stream{
		ID:             rec.ID,
		PayerWallet:    str(f[fieldPayer]),
		ReceiverWallet: str(f[fieldReceiver]),
		RatePerSec:     integer(f[fieldRatePerSec]),
		StartAt:        timestamp(f[fieldStartAt]),
		EndAt:          timestamp(f[fieldEndAt]),
		CliffAt:        timestamp(f[fieldCliffAt]),
		Status:         domain.StreamStatus(str(f[fieldStatus])),
		PausedAt:       timestamp(f[fieldPausedAt]),
		TotalWithdrawn: integer(f[fieldTotalWithdrawn]),
		InviteCode:     str(f[fieldInviteCode]),
		LedgerStreamID: str(f[fieldLedgerStreamID]),
		VaultAddress:   str(f[fieldVaultAddress]),
		Created:        rec.Created,
	}
}

// ToFields encodes a stream's mutable state for creation.
func ToFields(s domain.Stream) record.Fields {
	f := record.Fields{
		fieldPayer:          s.PayerWallet,
		fieldRatePerSec:     s.RatePerSec,
		fieldStartAt:        s.StartAt.UTC().Format(time.RFC3339),
		fieldEndAt:          s.EndAt.UTC().Format(time.RFC3339),
		fieldStatus:         string(s.Status),
		fieldTotalWithdrawn: s.TotalWithdrawn,
	}
	if s.ReceiverWallet != "" {
		f[fieldReceiver] = s.ReceiverWallet
	}
	if !s.CliffAt.IsZero() {
		f[fieldCliffAt] = s.CliffAt.UTC().Format(time.RFC3339)
	}
	if s.InviteCode != "" {
		f[fieldInviteCode] = s.InviteCode
	}
	if s.LedgerStreamID != "" {
		f[fieldLedgerStreamID] = s.LedgerStreamID
	}
	if s.VaultAddress != "" {
		f[fieldVaultAddress] = s.VaultAddress
	}
	return f
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func integer(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func timestamp(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
