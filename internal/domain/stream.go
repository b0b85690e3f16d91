package domain

import "time"

// StreamStatus is the persisted state of a stream. Display states derived
// from time (completed, cliff) live in internal/stream and are never written
// back to the store.
type StreamStatus string

const (
	StreamLive      StreamStatus = "live"
	StreamPaused    StreamStatus = "paused"
	StreamCancelled StreamStatus = "cancelled"
	StreamDone      StreamStatus = "done"
)

// Terminal reports whether no further mutation is permitted except audit appends.
func (s StreamStatus) Terminal() bool {
	return s == StreamCancelled || s == StreamDone
}

// Stream is a rate-based, time-bounded payment commitment between a payer and
// a receiver. Amounts are integer base units (lamport-scale); rates are units
// per second. Mutation goes exclusively through the action executor.
type Stream struct {
	ID             string       `json:"id"`
	PayerWallet    string       `json:"payerWallet"`
	ReceiverWallet string       `json:"receiverWallet,omitempty"` // empty until claimed
	RatePerSec     int64        `json:"ratePerSec"`               // units per second, >= 1
	StartAt        time.Time    `json:"startAt"`
	EndAt          time.Time    `json:"endAt"`            // invariant: EndAt > StartAt
	CliffAt        time.Time    `json:"cliffAt,omitzero"` // zero means "defaults to StartAt"
	Status         StreamStatus `json:"status"`
	PausedAt       time.Time    `json:"pausedAt,omitzero"` // set while Status == paused; accrual freezes here
	TotalWithdrawn int64        `json:"totalWithdrawn"`    // monotonic non-decreasing
	InviteCode     string       `json:"-"`                 // gate for receiver claim of an unclaimed stream

	// External ledger references. The settlement layer is the source of truth
	// for value movement; these are bookkeeping pointers only.
	LedgerStreamID string `json:"ledgerStreamId,omitempty"`
	VaultAddress   string `json:"vaultAddress,omitempty"`

	Created time.Time `json:"created"`
}

// Claimed reports whether a receiver wallet has been attached.
func (s Stream) Claimed() bool { return s.ReceiverWallet != "" }
