package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	dErrors "github.com/nightmare634/voidstream/pkg/domain-errors"
)

// StubDriver simulates ledger transfers for development and tests. It applies
// the same validation a real driver would, then fabricates a signature.
type StubDriver struct {
	logger  *slog.Logger
	latency time.Duration
	now     func() time.Time

	mu     sync.Mutex
	issued map[string]struct{}
}

// StubOption configures a StubDriver.
type StubOption func(*StubDriver)

// WithLatency simulates broadcast-and-confirm delay.
func WithLatency(d time.Duration) StubOption {
	return func(s *StubDriver) { s.latency = d }
}

// WithStubClock overrides the receipt timestamp source.
func WithStubClock(now func() time.Time) StubOption {
	return func(s *StubDriver) { s.now = now }
}

func NewStubDriver(logger *slog.Logger, opts ...StubOption) *StubDriver {
	if logger == nil {
		logger = slog.Default()
	}
	s := &StubDriver{logger: logger, now: time.Now, issued: make(map[string]struct{})}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StubDriver) Withdraw(ctx context.Context, req Request) (*Receipt, error) {
	if req.Amount < 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "withdrawal amount must be positive")
	}
	if req.VaultAddress == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "missing vault address")
	}
	if req.Recipient == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "missing recipient")
	}

	if s.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.latency):
		}
	}

	receipt := &Receipt{
		Signature:  fmt.Sprintf("sim_%s_%d", req.StreamID, s.now().UnixNano()),
		DriverType: s.Capabilities().SettlementType,
		SettledAt:  s.now(),
	}
	s.mu.Lock()
	s.issued[receipt.Signature] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("simulated withdrawal settled",
		"stream_id", req.StreamID,
		"vault", req.VaultAddress,
		"amount", req.Amount,
		"signature", receipt.Signature,
	)
	return receipt, nil
}

// Confirm treats every signature this driver issued as already final; the
// simulated broadcast in Withdraw confirms synchronously.
func (s *StubDriver) Confirm(_ context.Context, signature string) (ConfirmationStatus, error) {
	if signature == "" {
		return "", dErrors.New(dErrors.CodeValidation, "missing signature")
	}
	s.mu.Lock()
	_, known := s.issued[signature]
	s.mu.Unlock()
	if !known {
		return StatusFailed, nil
	}
	return StatusConfirmed, nil
}

func (s *StubDriver) Capabilities() DriverCapabilities {
	return DriverCapabilities{SettlementType: "SIMULATED"}
}

var _ Driver = (*StubDriver)(nil)
