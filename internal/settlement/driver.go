// Package settlement is the chain-agnostic port for finalizing value
// transfer out of a stream vault. Callers treat the returned signature as the
// source of truth for whether value moved; nothing here is re-verified
// on-chain.
package settlement

import (
	"context"
	"time"
)

// Request describes one withdrawal to finalize.
type Request struct {
	StreamID       string
	LedgerStreamID string
	VaultAddress   string
	Recipient      string
	Amount         int64
}

// Receipt is returned once the transfer is broadcast and confirmed.
type Receipt struct {
	Signature  string
	DriverType string
	SettledAt  time.Time
}

// ConfirmationStatus reports how far a broadcast transfer has progressed.
type ConfirmationStatus string

const (
	StatusPending   ConfirmationStatus = "pending"
	StatusConfirmed ConfirmationStatus = "confirmed"
	StatusFailed    ConfirmationStatus = "failed"
)

// Driver executes withdrawals against one ledger backend. The HTTP layer and
// the action path talk only to this interface, never to a chain client
// directly.
type Driver interface {
	// Withdraw broadcasts the transfer and blocks until it is accepted by
	// the ledger or the context expires.
	Withdraw(ctx context.Context, req Request) (*Receipt, error)

	// Confirm reports the confirmation status of a previously broadcast
	// signature.
	Confirm(ctx context.Context, signature string) (ConfirmationStatus, error)

	// Capabilities returns the operational constraints of this driver.
	Capabilities() DriverCapabilities
}

// DriverCapabilities describes the operational constraints of a Driver.
type DriverCapabilities struct {
	// MaxWithdrawal bounds a single transfer; zero means unbounded.
	MaxWithdrawal  int64
	SettlementType string
}
